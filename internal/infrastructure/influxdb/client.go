package influxdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/config"
)

// Default timeouts for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

// Client publishes agent metrics messages to InfluxDB.
//
// It is the alternative transport to MQTT: every message is written with
// the blocking write API, so a nil error from Publish means the server
// stored the point and the sample may leave the queue.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	cfg      config.InfluxDBConfig

	// connected tracks the result of the last ping or write.
	connected bool
	mu        sync.RWMutex
}

// Connect creates the client and verifies the server with a ping.
//
// A failed ping still returns a usable client together with the error, so
// the agent can start offline and let Monitor mark it healthy later.
//
// Parameters:
//   - ctx: Bounds the initial ping
//   - cfg: InfluxDB configuration from the agent YAML file
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().SetPrecision(time.Millisecond),
	)

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		cfg:      cfg,
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := c.ping(pingCtx); err != nil {
		return c, err
	}
	return c, nil
}

// ping checks the server and records the result.
func (c *Client) ping(ctx context.Context) error {
	healthy, err := c.client.Ping(ctx)
	switch {
	case err != nil:
		c.setConnected(false)
		return fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	case !healthy:
		c.setConnected(false)
		return fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}
	c.setConnected(true)
	return nil
}

// Reset pings the server again. The transmission engine calls it when the
// network has been healthy for the recovery delay.
func (c *Client) Reset(ctx context.Context) error {
	return c.ping(ctx)
}

// Monitor pings the server every interval until ctx is cancelled, keeping
// IsConnected current while nothing is being written.
func (c *Client) Monitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
			_ = c.ping(pctx)
			cancel()
		}
	}
}

// Close shuts down the underlying client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	c.setConnected(false)
	c.client.Close()
	return nil
}

// HealthCheck verifies the InfluxDB connection with an active ping.
func (c *Client) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	return c.ping(checkCtx)
}

// IsConnected returns the result of the last ping or write.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}
