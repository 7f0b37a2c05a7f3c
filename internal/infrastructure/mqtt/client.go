package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang as the telemetry publisher for one device
// on an IoT hub.
//
// It provides connection management, confirmed publishing to the device
// events topic, and a Reset used by the transmission engine when the
// network comes back after an outage.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   pahomqtt.Client
	options  *pahomqtt.ClientOptions
	cfg      config.MQTTConfig
	identity Identity
	topic    string
	qos      byte

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger for connection logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// New builds a Client for cfg without connecting.
//
// Returns:
//   - *Client: Client ready for Connect
//   - error: ErrInvalidIdentity or ErrInvalidQoS when cfg is unusable
func New(cfg config.MQTTConfig) (*Client, error) {
	id, err := IdentityFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}

	opts := buildClientOptions(cfg, id)
	c := &Client{
		cfg:      cfg,
		options:  opts,
		identity: id,
		topic:    id.Topic(cfg.Topic),
		qos:      byte(cfg.QoS),
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	c.client = pahomqtt.NewClient(opts)
	return c, nil
}

// Connect builds a Client and connects it to the hub.
//
// The connection keeps retrying in the background after a failure, so a
// returned error with a non-nil Client means "not connected yet", not
// "give up". Callers that must start offline use the client anyway.
//
// Parameters:
//   - ctx: Bounds the wait for the first connection
//   - cfg: MQTT configuration from the agent YAML file
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return c, c.connect(ctx)
}

// connect starts a connection and waits for it up to ctx or the connect timeout.
func (c *Client) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect callback runs asynchronously; set the state here so
	// IsConnected is true as soon as Connect returns.
	c.setConnected(true)
	return nil
}

// Reset drops the current session and connects again. The transmission
// engine calls it when the link has been healthy for the recovery delay.
func (c *Client) Reset(ctx context.Context) error {
	if logger := c.getLogger(); logger != nil {
		logger.Info("resetting MQTT session", "device_id", c.identity.DeviceID)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return c.connect(ctx)
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.setConnected(true)
	if logger := c.getLogger(); logger != nil {
		logger.Info("MQTT connected", "host", c.identity.Host, "device_id", c.identity.DeviceID)
	}

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.setConnected(false)
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// Close disconnects from the broker, waiting briefly for in-flight publishes.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports whether the client is connected.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// Identity returns the device identity the client connects with.
func (c *Client) Identity() Identity {
	return c.identity
}

// Topic returns the telemetry topic messages are published to.
func (c *Client) Topic() string {
	return c.topic
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for connection events.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}
