package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

const component = "scheduler"

// DefaultCapacity is the registry size used when none is configured.
const DefaultCapacity = 32

// NoMaxPeriod disables the max-period liveness rule.
const NoMaxPeriod time.Duration = -1

// ID identifies a registered variable. IDs are assigned in registration
// order starting at 0 and stay valid for the life of the Scheduler.
type ID int

// ReadFunc returns the current value of a monitored variable.
// It is called from the producer goroutine and must not block.
type ReadFunc func() int

// Variable describes a monitored value and its sampling policy.
type Variable struct {
	Name      string
	Read      ReadFunc
	MinPeriod time.Duration
	Threshold int
	MaxPeriod time.Duration // NoMaxPeriod for unbounded
}

// Validate checks the variable definition.
func (v Variable) Validate() error {
	switch {
	case v.Name == "":
		return fmt.Errorf("%w: name is required", telemetry.ErrInvalidVariable)
	case !telemetry.ValidName(v.Name):
		return fmt.Errorf("%w: %q: name must not contain commas or line breaks", telemetry.ErrInvalidVariable, v.Name)
	case v.Read == nil:
		return fmt.Errorf("%w: %s: read function is required", telemetry.ErrInvalidVariable, v.Name)
	case v.MinPeriod < 0:
		return fmt.Errorf("%w: %s: min period must be >= 0", telemetry.ErrInvalidVariable, v.Name)
	case v.Threshold < 0:
		return fmt.Errorf("%w: %s: threshold must be >= 0", telemetry.ErrInvalidVariable, v.Name)
	case v.MaxPeriod < NoMaxPeriod:
		return fmt.Errorf("%w: %s: max period must be >= 0 or NoMaxPeriod", telemetry.ErrInvalidVariable, v.Name)
	}
	return nil
}

// Buffer is the tier samples are handed to.
// *buffer.Tier satisfies it.
type Buffer interface {
	Push(telemetry.Sample) error
	Drain() int
}

// Info is a read-only view of a registered variable.
type Info struct {
	ID          ID            `json:"id"`
	Name        string        `json:"name"`
	MinPeriod   time.Duration `json:"min_period"`
	Threshold   int           `json:"threshold"`
	MaxPeriod   time.Duration `json:"max_period"`
	LastValue   int           `json:"last_value"`
	LastSampled time.Time     `json:"last_sampled,omitempty"`
	Samples     uint64        `json:"samples"`
}

type entry struct {
	Variable
	lastValue  int
	lastSample time.Duration // since the scheduler origin
	sampledAt  time.Time
	samples    uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the monotonic time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithCapacity sets the registry size. Defaults to DefaultCapacity.
func WithCapacity(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// Scheduler holds the variable registry and runs the sampling decision.
//
// Register and Modify may be called from any goroutine; Tick belongs to
// the producer goroutine.
type Scheduler struct {
	mu        sync.Mutex
	vars      []*entry
	capacity  int
	coldStart bool

	buf    Buffer
	now    func() time.Time
	origin time.Time

	lastTS  atomic.Int64
	emitted atomic.Uint64
	ticks   atomic.Uint64

	sink   telemetry.Sink
	logger telemetry.Logger
}

// New creates a Scheduler feeding buf. The first Tick samples every
// registered variable regardless of policy.
func New(buf Buffer, opts ...Option) *Scheduler {
	s := &Scheduler{
		capacity:  DefaultCapacity,
		coldStart: true,
		buf:       buf,
		now:       time.Now,
		sink:      telemetry.Discard,
		logger:    telemetry.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.origin = s.now()
	return s
}

// SetSink sets where errors are reported.
func (s *Scheduler) SetSink(sink telemetry.Sink) {
	if sink != nil {
		s.sink = sink
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger telemetry.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Register adds v to the registry and returns its ID.
// Returns telemetry.ErrRegistryFull when the registry is at capacity.
func (s *Scheduler) Register(v Variable) (ID, error) {
	if err := v.Validate(); err != nil {
		s.report(err)
		return -1, err
	}

	s.mu.Lock()
	if len(s.vars) >= s.capacity {
		s.mu.Unlock()
		err := fmt.Errorf("%w: %s: capacity %d", telemetry.ErrRegistryFull, v.Name, s.capacity)
		s.report(err)
		return -1, err
	}
	id := ID(len(s.vars))
	s.vars = append(s.vars, &entry{Variable: v})
	s.mu.Unlock()

	s.logger.Info("variable registered",
		"id", int(id),
		"name", v.Name,
		"min_period", v.MinPeriod,
		"threshold", v.Threshold,
		"max_period", v.MaxPeriod,
	)
	return id, nil
}

// Modify replaces the definition registered at id. The variable's last
// value and last sample time are cleared, as for a fresh registration.
// Returns telemetry.ErrVariableNotFound for an unknown id.
func (s *Scheduler) Modify(id ID, v Variable) error {
	if err := v.Validate(); err != nil {
		s.report(err)
		return err
	}

	s.mu.Lock()
	if id < 0 || int(id) >= len(s.vars) {
		s.mu.Unlock()
		err := fmt.Errorf("%w: id %d", telemetry.ErrVariableNotFound, id)
		s.report(err)
		return err
	}
	s.vars[id] = &entry{Variable: v, samples: s.vars[id].samples}
	s.mu.Unlock()

	s.logger.Info("variable modified", "id", int(id), "name", v.Name)
	return nil
}

// Lookup returns the ID of the first variable registered under name.
func (s *Scheduler) Lookup(name string) (ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.vars {
		if e.Name == name {
			return ID(i), true
		}
	}
	return -1, false
}

// Tick drains the overflow backlog into memory, then samples every
// variable whose policy is due. ts is the epoch-seconds timestamp stamped
// on the samples. Returns the number of samples emitted.
func (s *Scheduler) Tick(ts int64) int {
	s.buf.Drain()

	wall := s.now()
	now := wall.Sub(s.origin)

	s.mu.Lock()
	cold := s.coldStart
	emitted := 0
	for i, e := range s.vars {
		cur := e.Read()
		if !cold && !due(e, cur, now) {
			continue
		}

		sample := telemetry.NewSample(e.Name, i, cur, ts)
		if err := s.buf.Push(sample); err != nil {
			s.logger.Debug("sample not buffered", "name", sample.Name, "error", err)
		}

		// Updated even when the push failed, so a full buffer does not
		// cause a resample on every tick.
		e.lastValue = cur
		e.lastSample = now
		e.sampledAt = wall
		e.samples++
		emitted++
	}
	s.coldStart = false
	s.mu.Unlock()

	s.lastTS.Store(ts)
	s.ticks.Add(1)
	s.emitted.Add(uint64(emitted))
	return emitted
}

// due evaluates the update predicate for e with current value cur.
func due(e *entry, cur int, now time.Duration) bool {
	elapsed := now - e.lastSample
	change := int64(cur) - int64(e.lastValue)
	if change < 0 {
		change = -change
	}
	byPeriodAndChange := elapsed >= e.MinPeriod && change > int64(e.Threshold)
	byMaxPeriod := e.MaxPeriod != NoMaxPeriod && elapsed > e.MaxPeriod
	return byPeriodAndChange || byMaxPeriod
}

// Len returns the number of registered variables.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.vars)
}

// Capacity returns the registry size.
func (s *Scheduler) Capacity() int { return s.capacity }

// LastTimestamp returns the ts passed to the most recent Tick.
func (s *Scheduler) LastTimestamp() int64 { return s.lastTS.Load() }

// Emitted returns the total number of samples produced.
func (s *Scheduler) Emitted() uint64 { return s.emitted.Load() }

// Ticks returns how many times Tick ran.
func (s *Scheduler) Ticks() uint64 { return s.ticks.Load() }

// Variables returns a snapshot of the registry in ID order.
func (s *Scheduler) Variables() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, len(s.vars))
	for i, e := range s.vars {
		out[i] = Info{
			ID:          ID(i),
			Name:        e.Name,
			MinPeriod:   e.MinPeriod,
			Threshold:   e.Threshold,
			MaxPeriod:   e.MaxPeriod,
			LastValue:   e.lastValue,
			LastSampled: e.sampledAt,
			Samples:     e.samples,
		}
	}
	return out
}

func (s *Scheduler) report(err error) {
	s.sink.Report(telemetry.NewEvent(component, err, s.lastTS.Load()))
}
