package telemetry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used across the pipeline.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger is a Logger that does nothing.
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

// Event is a structured error notification.
type Event struct {
	Component string    `json:"component"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	Timestamp int64     `json:"timestamp"` // sample clock (epoch seconds), 0 if unknown
	At        time.Time `json:"at"`
}

// NewEvent builds an Event from err, classifying it with KindOf.
func NewEvent(component string, err error, timestamp int64) Event {
	ev := Event{
		Component: component,
		Kind:      KindOf(err),
		Timestamp: timestamp,
		At:        time.Now(),
	}
	if err != nil {
		ev.Message = err.Error()
	}
	return ev
}

// Sink receives error events. Report must not block.
type Sink interface {
	Report(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

// Report calls f(ev).
func (f SinkFunc) Report(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

// Report forwards ev to every non-nil sink.
func (m MultiSink) Report(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Report(ev)
		}
	}
}

// LogSink writes events to a Logger at error level.
type LogSink struct {
	Logger Logger
}

// Report logs ev.
func (s LogSink) Report(ev Event) {
	s.Logger.Error("pipeline error",
		"component", ev.Component,
		"kind", string(ev.Kind),
		"error", ev.Message,
		"ts", ev.Timestamp,
	)
}

// ChannelSink forwards events to a buffered channel. When the channel is
// full the event is dropped and counted.
type ChannelSink struct {
	ch      chan Event
	dropped atomic.Uint64
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	if size < 1 {
		size = 1
	}
	return &ChannelSink{ch: make(chan Event, size)}
}

// Report enqueues ev without blocking.
func (s *ChannelSink) Report(ev Event) {
	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the channel.
func (s *ChannelSink) Events() <-chan Event { return s.ch }

// Dropped returns how many events did not fit in the channel.
func (s *ChannelSink) Dropped() uint64 { return s.dropped.Load() }

// ComponentStats is the error summary for one component.
type ComponentStats struct {
	Errors      uint64 `json:"errors"`
	LastMessage string `json:"last_message,omitempty"`
}

// Counter keeps per-kind totals and a per-component error count with the
// last message seen.
type Counter struct {
	mu         sync.Mutex
	byKind     map[Kind]uint64
	components map[string]ComponentStats
}

// NewCounter creates an empty Counter.
func NewCounter() *Counter {
	return &Counter{
		byKind:     make(map[Kind]uint64),
		components: make(map[string]ComponentStats),
	}
}

// Report counts ev.
func (c *Counter) Report(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKind[ev.Kind]++
	cs := c.components[ev.Component]
	cs.Errors++
	cs.LastMessage = ev.Message
	c.components[ev.Component] = cs
}

// Count returns the total for kind.
func (c *Counter) Count(kind Kind) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byKind[kind]
}

// ByKind returns a copy of the per-kind totals.
func (c *Counter) ByKind() map[Kind]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[Kind]uint64, len(c.byKind))
	for k, v := range c.byKind {
		out[k] = v
	}
	return out
}

// Components returns a copy of the per-component summaries.
func (c *Counter) Components() map[string]ComponentStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]ComponentStats, len(c.components))
	for k, v := range c.components {
		out[k] = v
	}
	return out
}
