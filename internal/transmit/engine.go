package transmit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

const component = "transmit"

// Default timings.
const (
	DefaultSendPeriod     = time.Second
	DefaultRecoveryDelay  = time.Second
	DefaultPublishTimeout = 5 * time.Second
	DefaultPollInterval   = 10 * time.Millisecond
)

// Publisher delivers one message to the collector. A nil error means the
// transport confirmed delivery.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// Resetter is implemented by publishers that can drop and rebuild their
// session. It is called when the connection becomes fully healthy.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Queue is the consumer side of the memory queue.
// *buffer.Queue satisfies it.
type Queue interface {
	Peek() (telemetry.Sample, error)
	Pop() (telemetry.Sample, error)
	Len() int
	Wait(ctx context.Context) error
}

// DeliveryObserver is told about every confirmed delivery.
type DeliveryObserver interface {
	Delivered(s telemetry.Sample, payload []byte)
}

// ConnectionFunc reports whether the network link is up.
type ConnectionFunc func() bool

// Config holds the engine settings.
type Config struct {
	AssetName      string
	SendPeriod     time.Duration
	RecoveryDelay  time.Duration
	PublishTimeout time.Duration

	// Blocking makes Run wait for queued data instead of polling.
	Blocking bool

	// PollInterval is the pause between ticks in Run.
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.SendPeriod <= 0 {
		c.SendPeriod = DefaultSendPeriod
	}
	if c.RecoveryDelay < 0 {
		c.RecoveryDelay = DefaultRecoveryDelay
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = DefaultPublishTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
}

// Outcome is what a single Tick did.
type Outcome int

// Tick outcomes.
const (
	// RateLimited means the send period had not elapsed.
	RateLimited Outcome = iota
	// Empty means there was nothing to send.
	Empty
	// Withheld means a sample was ready but the connection is not FullyOK.
	Withheld
	// Sent means a sample was delivered and popped.
	Sent
	// Failed means the publish failed and the sample stays queued.
	Failed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case RateLimited:
		return "rate_limited"
	case Empty:
		return "empty"
	case Withheld:
		return "withheld"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	State     string    `json:"state"`
	Sent      uint64    `json:"sent"`
	Failed    uint64    `json:"failed"`
	Withheld  uint64    `json:"withheld"`
	Resets    uint64    `json:"resets"`
	LastError string    `json:"last_error,omitempty"`
	LastSent  time.Time `json:"last_sent,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver registers a DeliveryObserver.
func WithObserver(o DeliveryObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// WithTimestamp sets the source of the sample clock used to stamp error
// events, typically Scheduler.LastTimestamp.
func WithTimestamp(ts func() int64) Option {
	return func(e *Engine) { e.ts = ts }
}

// Engine moves samples from the queue to the publisher.
//
// Tick, Run, SendNow and SendRaw serialise on an internal mutex, so the
// recovery state always sees readings in order.
type Engine struct {
	cfg      Config
	queue    Queue
	pub      Publisher
	observer DeliveryObserver
	now      func() time.Time
	ts       func() int64

	mu         sync.Mutex
	recovery   recovery
	lastAction time.Time
	acted      bool
	lastErr    string
	lastSent   time.Time

	state    atomic.Int32
	sent     atomic.Uint64
	failed   atomic.Uint64
	withheld atomic.Uint64
	resets   atomic.Uint64

	sink   telemetry.Sink
	logger telemetry.Logger
}

// New creates an Engine draining q into pub. The engine starts Disconnected.
func New(q Queue, pub Publisher, cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		cfg:    cfg,
		queue:  q,
		pub:    pub,
		now:    time.Now,
		ts:     func() int64 { return 0 },
		sink:   telemetry.Discard,
		logger: telemetry.NopLogger{},
	}
	e.recovery = recovery{state: Disconnected, delay: cfg.RecoveryDelay}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetSink sets where errors are reported.
func (e *Engine) SetSink(sink telemetry.Sink) {
	if sink != nil {
		e.sink = sink
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger telemetry.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Tick runs one transmission step with the current connection reading.
//
// The reading always feeds the recovery state. Then, if SendPeriod has
// elapsed since the last action, the oldest sample is peeked, formatted
// and published when the state is FullyOK. It is popped only on success.
func (e *Engine) Tick(ctx context.Context, connectionOK bool) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	e.observe(ctx, connectionOK, now)

	if e.acted && now.Sub(e.lastAction) < e.cfg.SendPeriod {
		return RateLimited
	}
	e.lastAction = now
	e.acted = true

	s, err := e.queue.Peek()
	if err != nil {
		return Empty
	}
	payload := FormatMessage(e.cfg.AssetName, s)

	if e.recovery.state != FullyOK {
		e.withheld.Add(1)
		return Withheld
	}

	if err := e.publish(ctx, payload); err != nil {
		e.fail(fmt.Errorf("%w: %s: %w", telemetry.ErrDeliveryFailed, s.Name, err), s.Timestamp)
		return Failed
	}

	if _, err := e.queue.Pop(); err != nil {
		e.logger.Warn("delivered sample already gone from queue", "name", s.Name, "error", err)
	}
	e.sent.Add(1)
	e.lastSent = now
	if e.observer != nil {
		e.observer.Delivered(s, payload)
	}
	e.logger.Debug("message sent", "payload", string(payload))
	if e.queue.Len() != 0 {
		e.logger.Debug("last message was buffered", "waiting", e.queue.Len())
	}
	return Sent
}

// SendNow publishes a single value immediately, bypassing the queue and
// the send period. The recovery gate still applies.
func (e *Engine) SendNow(ctx context.Context, name string, value int, ts int64, connectionOK bool) error {
	return e.SendRaw(ctx, []byte(FormatValue(e.cfg.AssetName, telemetry.TruncateName(name), value, ts)), connectionOK)
}

// SendRaw publishes payload as is, bypassing the queue and the send
// period. The recovery gate still applies.
func (e *Engine) SendRaw(ctx context.Context, payload []byte, connectionOK bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.observe(ctx, connectionOK, e.now())
	if e.recovery.state != FullyOK {
		e.withheld.Add(1)
		return fmt.Errorf("%w: connection %s", telemetry.ErrDeliveryFailed, e.recovery.state)
	}
	if err := e.publish(ctx, payload); err != nil {
		err = fmt.Errorf("%w: %w", telemetry.ErrDeliveryFailed, err)
		e.fail(err, e.ts())
		return err
	}
	e.sent.Add(1)
	e.lastSent = e.now()
	return nil
}

// Run ticks until ctx is cancelled, reading the link state from status.
//
// In blocking mode Run sleeps until the queue holds data before each tick;
// the send period and recovery gate still apply. Otherwise it ticks every
// PollInterval.
func (e *Engine) Run(ctx context.Context, status ConnectionFunc) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	e.logger.Info("transmission engine started",
		"send_period", e.cfg.SendPeriod,
		"recovery_delay", e.cfg.RecoveryDelay,
		"blocking", e.cfg.Blocking,
	)

	for {
		if e.cfg.Blocking {
			if err := e.queue.Wait(ctx); err != nil {
				return nil
			}
		}

		e.Tick(ctx, status())

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// State returns the current recovery state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	lastErr, lastSent := e.lastErr, e.lastSent
	e.mu.Unlock()
	return Stats{
		State:     e.State().String(),
		Sent:      e.sent.Load(),
		Failed:    e.failed.Load(),
		Withheld:  e.withheld.Load(),
		Resets:    e.resets.Load(),
		LastError: lastErr,
		LastSent:  lastSent,
	}
}

// observe feeds the recovery state and resets the transport on entering
// FullyOK. Caller holds e.mu.
func (e *Engine) observe(ctx context.Context, ok bool, now time.Time) {
	prev := e.recovery.state
	entered := e.recovery.observe(ok, now)
	e.state.Store(int32(e.recovery.state))

	if prev != e.recovery.state {
		e.logger.Info("connection state changed", "from", prev.String(), "to", e.recovery.state.String())
	}
	if !entered {
		return
	}

	rs, canReset := e.pub.(Resetter)
	if !canReset {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, e.cfg.PublishTimeout)
	defer cancel()
	e.resets.Add(1)
	if err := rs.Reset(rctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("transport reset failed", "error", err)
		e.lastErr = err.Error()
	}
}

func (e *Engine) publish(ctx context.Context, payload []byte) error {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.PublishTimeout)
	defer cancel()
	return e.pub.Publish(pctx, payload)
}

// fail records a failed delivery. Caller holds e.mu.
func (e *Engine) fail(err error, ts int64) {
	e.failed.Add(1)
	e.lastErr = err.Error()
	e.sink.Report(telemetry.NewEvent(component, err, ts))
	e.logger.Warn("sending the message failed, check connection status",
		"error", err,
		"waiting", e.queue.Len(),
	)
}
