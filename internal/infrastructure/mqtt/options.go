package mqtt

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for a connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout bounds a publish when the caller's context has no deadline.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// brokerAddress returns scheme://host:port for the hub.
// The port comes from the raw broker URL when it carries one.
func brokerAddress(cfg config.MQTTConfig, id Identity) string {
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	port := cfg.Port
	if raw := strings.TrimRight(cfg.BrokerURL, "/"); cfg.ConnectionString == "" && raw != "" {
		if i := strings.LastIndex(raw, ":"); i >= 0 {
			if p, err := strconv.Atoi(raw[i+1:]); err == nil {
				port = p
			}
		}
	}
	return fmt.Sprintf("%s://%s:%d", scheme, id.Host, port)
}

// buildClientOptions creates paho MQTT options for the device identity.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID set to the device id
//   - Hub username and SAS token as password
//   - Auto-reconnect with exponential backoff
//   - TLS configuration (if enabled)
//   - Clean session mode
func buildClientOptions(cfg config.MQTTConfig, id Identity) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerAddress(cfg, id))
	opts.SetClientID(id.DeviceID)
	opts.SetUsername(id.Username(cfg.APIVersion))
	if id.SharedAccessSignature != "" {
		opts.SetPassword(id.SharedAccessSignature)
	}

	// The hub keeps no session for telemetry-only devices.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if cfg.Reconnect.InitialDelay > 0 {
		opts.SetConnectRetryInterval(cfg.Reconnect.InitialDelay)
	}
	if cfg.Reconnect.MaxDelay > 0 {
		opts.SetMaxReconnectInterval(cfg.Reconnect.MaxDelay)
	}

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: id.Host,
		})
	}

	return opts
}
