// Package mqtt publishes telemetry to an IoT hub over MQTT.
//
// This package manages:
//   - The device identity: hub host derived from the raw broker URL,
//     device id, SAS token and the composed connection string
//   - Connection to the hub with auto-reconnect
//   - Confirmed publishing to devices/{device_id}/messages/events/
//   - Session reset when the network comes back after an outage
//
// # Identity
//
//	id := mqtt.Identity{Host: "hub.azure-devices.net", DeviceID: "press-1234", SharedAccessSignature: sas}
//	id.ConnectionString() // HostName=hub.azure-devices.net;DeviceId=press-1234;SharedAccessSignature=...
//	id.MachineCode()      // "1234"
//
// # Security Considerations
//
//   - TLS is on by default (port 8883)
//   - The SAS token is the MQTT password; pass it through MAAGENT_MQTT_SAS
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if client == nil {
//	    return err
//	}
//	defer client.Close()
//
//	engine := transmit.New(queue, client, transmitCfg)
package mqtt
