package agent

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/buffer"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/config"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/scheduler"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/transmit"
)

const defaultTickInterval = 100 * time.Millisecond

// Stats is a snapshot of the whole pipeline.
type Stats struct {
	AssetName    string                              `json:"asset_name"`
	Scheduler    SchedulerStats                      `json:"scheduler"`
	Buffer       buffer.Stats                        `json:"buffer"`
	BufferInfo   string                              `json:"buffer_info"`
	Transmit     transmit.Stats                      `json:"transmit"`
	Errors       map[string]telemetry.ComponentStats `json:"errors"`
	ErrorsByKind map[telemetry.Kind]uint64           `json:"errors_by_kind"`
}

// SchedulerStats summarises the scheduler.
type SchedulerStats struct {
	Variables     int    `json:"variables"`
	Capacity      int    `json:"capacity"`
	Ticks         uint64 `json:"ticks"`
	Emitted       uint64 `json:"emitted"`
	LastTimestamp int64  `json:"last_timestamp"`
}

type options struct {
	logger   telemetry.Logger
	sinks    []telemetry.Sink
	observer transmit.DeliveryObserver
	now      func() time.Time
}

// Option configures an Agent.
type Option func(*options)

// WithLogger sets the logger shared by every stage.
func WithLogger(l telemetry.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSink adds an error sink. Every stage reports to all sinks.
func WithSink(s telemetry.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithObserver is told about every confirmed delivery.
func WithObserver(obs transmit.DeliveryObserver) Option {
	return func(o *options) { o.observer = obs }
}

// WithClock replaces the wall clock used for timestamps and periods.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Agent is the telemetry pipeline facade.
type Agent struct {
	assetName    string
	tickInterval time.Duration

	sched   *scheduler.Scheduler
	tier    *buffer.Tier
	engine  *transmit.Engine
	counter *telemetry.Counter
	logger  telemetry.Logger
	now     func() time.Time

	// buffering is set while more than one sample waits in memory.
	buffering atomic.Bool
}

// New builds the pipeline from cfg. pub receives formatted messages.
func New(cfg *config.Config, pub transmit.Publisher, opts ...Option) *Agent {
	o := options{logger: telemetry.NopLogger{}, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	counter := telemetry.NewCounter()
	sink := telemetry.MultiSink(append([]telemetry.Sink{counter}, o.sinks...))

	tier := buffer.NewTier(buffer.Config{
		QueueCapacity:   cfg.Buffer.QueueCapacity,
		OverflowEnabled: cfg.Buffer.Overflow.Enabled,
		OverflowPath:    cfg.Buffer.Overflow.Path,
		RecreateOnDrain: cfg.Buffer.Overflow.RecreateOnDrain,
		SyncWrites:      cfg.Buffer.Overflow.SyncWrites,
	})
	tier.SetSink(sink)
	tier.SetLogger(o.logger)

	sched := scheduler.New(tier,
		scheduler.WithCapacity(cfg.Scheduler.MaxVariables),
		scheduler.WithClock(o.now),
	)
	sched.SetSink(sink)
	sched.SetLogger(o.logger)

	engineOpts := []transmit.Option{transmit.WithClock(o.now)}
	if o.observer != nil {
		engineOpts = append(engineOpts, transmit.WithObserver(o.observer))
	}
	engine := transmit.New(tier.Queue(), pub, transmit.Config{
		AssetName:      cfg.Agent.AssetName,
		SendPeriod:     cfg.Transmit.SendPeriod,
		RecoveryDelay:  cfg.Transmit.RecoveryDelay,
		PublishTimeout: cfg.Transmit.PublishTimeout,
		Blocking:       cfg.Transmit.Blocking,
		PollInterval:   cfg.Transmit.PollInterval,
	}, engineOpts...)
	engine.SetSink(sink)
	engine.SetLogger(o.logger)

	tick := cfg.Scheduler.TickInterval
	if tick <= 0 {
		tick = defaultTickInterval
	}

	return &Agent{
		assetName:    cfg.Agent.AssetName,
		tickInterval: tick,
		sched:        sched,
		tier:         tier,
		engine:       engine,
		counter:      counter,
		logger:       o.logger,
		now:          o.now,
	}
}

// RegisterVar adds a monitored variable. maxPeriod may be
// scheduler.NoMaxPeriod.
func (a *Agent) RegisterVar(name string, read scheduler.ReadFunc, minPeriod time.Duration, threshold int, maxPeriod time.Duration) (scheduler.ID, error) {
	return a.sched.Register(scheduler.Variable{
		Name:      name,
		Read:      read,
		MinPeriod: minPeriod,
		Threshold: threshold,
		MaxPeriod: maxPeriod,
	})
}

// ModifyRegisteredVar replaces the variable with the given id.
func (a *Agent) ModifyRegisteredVar(id scheduler.ID, name string, read scheduler.ReadFunc, minPeriod time.Duration, threshold int, maxPeriod time.Duration) error {
	return a.sched.Modify(id, scheduler.Variable{
		Name:      name,
		Read:      read,
		MinPeriod: minPeriod,
		Threshold: threshold,
		MaxPeriod: maxPeriod,
	})
}

// Lookup returns the id of the variable called name.
func (a *Agent) Lookup(name string) (scheduler.ID, bool) {
	return a.sched.Lookup(name)
}

// SchedulerTick drains the overflow store and samples every due variable,
// stamping samples with ts (epoch seconds). It returns how many samples
// were emitted.
func (a *Agent) SchedulerTick(ts int64) int {
	n := a.sched.Tick(ts)

	waiting := a.tier.Queue().Len() > 1
	if waiting && !a.buffering.Swap(true) {
		a.logger.Warn("buffering to RAM", "buffer", a.tier.Info())
	} else if !waiting && a.buffering.Swap(false) {
		a.logger.Info("buffer caught up", "buffer", a.tier.Info())
	}
	return n
}

// TransmissionTick runs one engine step.
func (a *Agent) TransmissionTick(ctx context.Context, connectionOK bool) transmit.Outcome {
	return a.engine.Tick(ctx, connectionOK)
}

// SendNow sends one value immediately, bypassing the queue.
func (a *Agent) SendNow(ctx context.Context, name string, value int, connectionOK bool) error {
	return a.engine.SendNow(ctx, name, value, a.now().Unix(), connectionOK)
}

// SendRaw publishes payload as is, bypassing the queue.
func (a *Agent) SendRaw(ctx context.Context, payload []byte, connectionOK bool) error {
	return a.engine.SendRaw(ctx, payload, connectionOK)
}

// BufferInfo returns the "[n/cap]" buffer summary.
func (a *Agent) BufferInfo() string {
	return a.tier.Info()
}

// Variables returns a snapshot of the registered variables.
func (a *Agent) Variables() []scheduler.Info {
	return a.sched.Variables()
}

// State returns the transmission state.
func (a *Agent) State() transmit.State {
	return a.engine.State()
}

// Stats returns a snapshot of every stage.
func (a *Agent) Stats() Stats {
	return Stats{
		AssetName: a.assetName,
		Scheduler: SchedulerStats{
			Variables:     a.sched.Len(),
			Capacity:      a.sched.Capacity(),
			Ticks:         a.sched.Ticks(),
			Emitted:       a.sched.Emitted(),
			LastTimestamp: a.sched.LastTimestamp(),
		},
		Buffer:       a.tier.Stats(),
		BufferInfo:   a.tier.Info(),
		Transmit:     a.engine.Stats(),
		Errors:       a.counter.Components(),
		ErrorsByKind: a.counter.ByKind(),
	}
}

// Run starts the producer and consumer loops and blocks until ctx is
// cancelled or a loop fails. status reports whether the network is up.
func (a *Agent) Run(ctx context.Context, status transmit.ConnectionFunc) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(a.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.SchedulerTick(a.now().Unix())
			}
		}
	})

	g.Go(func() error {
		if err := a.engine.Run(ctx, status); err != nil {
			return fmt.Errorf("transmission loop: %w", err)
		}
		return nil
	})

	a.logger.Info("agent running",
		"asset", a.assetName,
		"variables", a.sched.Len(),
		"tick_interval", a.tickInterval.String(),
	)
	return g.Wait()
}

// Close releases the overflow file.
func (a *Agent) Close() error {
	return a.tier.Close()
}
