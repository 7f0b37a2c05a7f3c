// Package influxdb provides the InfluxDB transport for the agent.
//
// It wraps the official influxdb-client-go v2 library and implements the
// transmission engine's publisher interface, so a deployment can store
// samples directly in a time-series database instead of sending them to the
// cloud broker.
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:         "http://localhost:8086",
//	    Token:       "your-token",
//	    Org:         "plant",
//	    Bucket:      "machines",
//	    Measurement: "metrics",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    log.Warn("influxdb offline at startup", "error", err)
//	}
//	defer client.Close()
//
//	go client.Monitor(ctx, 5*time.Second)
//	err = client.Publish(ctx, transmit.FormatMessage("press-01", sample))
//
// # Delivery
//
// Writes use the blocking write API. Publish returns only after the server
// has accepted the point, which keeps delivery at-least-once: the engine
// pops a sample from the queue only after a nil error.
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
