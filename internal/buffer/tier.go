package buffer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

const component = "buffer"

// Config holds the settings of a Tier.
type Config struct {
	// QueueCapacity is the number of samples the memory queue holds.
	QueueCapacity int

	// OverflowEnabled routes samples to the overflow file when the queue is full.
	OverflowEnabled bool

	// OverflowPath is the CSV file used by the overflow store.
	OverflowPath string

	// RecreateOnDrain recreates the overflow file once a drain empties it,
	// bounding disk use by the largest backlog.
	RecreateOnDrain bool

	// SyncWrites fsyncs every overflow append.
	SyncWrites bool
}

// Stats is a snapshot of the tier counters.
type Stats struct {
	QueueLen      int    `json:"queue_len"`
	QueueCap      int    `json:"queue_cap"`
	OverflowSize  int    `json:"overflow_size"`
	OverflowBytes int64  `json:"overflow_bytes"`
	Queued        uint64 `json:"queued"`
	Overflowed    uint64 `json:"overflowed"`
	Drained       uint64 `json:"drained"`
	Lost          uint64 `json:"lost"`
	StorageErrors uint64 `json:"storage_errors"`
}

// Tier applies the push and drain policies over a Queue and an optional
// OverflowStore.
//
// Push, Drain and Reset belong to the producer goroutine. Queue() is handed
// to the consumer. Stats and Info may be called from anywhere.
type Tier struct {
	queue           *Queue
	store           *OverflowStore // nil when overflow is disabled
	recreateOnDrain bool

	// Mirrors of store state for readers on other goroutines.
	overflowSize  atomic.Int64
	overflowBytes atomic.Int64

	queued        atomic.Uint64
	overflowed    atomic.Uint64
	drained       atomic.Uint64
	lost          atomic.Uint64
	storageErrors atomic.Uint64

	sink   telemetry.Sink
	logger telemetry.Logger
}

// NewTier creates a tier from cfg. The overflow file is created on first
// overflow, not here.
func NewTier(cfg Config) *Tier {
	t := &Tier{
		queue:           NewQueue(cfg.QueueCapacity),
		recreateOnDrain: cfg.RecreateOnDrain,
		sink:            telemetry.Discard,
		logger:          telemetry.NopLogger{},
	}
	if cfg.OverflowEnabled {
		t.store = NewOverflowStore(cfg.OverflowPath, cfg.SyncWrites)
	}
	return t
}

// SetSink sets where errors are reported.
func (t *Tier) SetSink(sink telemetry.Sink) {
	if sink != nil {
		t.sink = sink
	}
}

// SetLogger sets the logger for the tier.
func (t *Tier) SetLogger(logger telemetry.Logger) {
	if logger != nil {
		t.logger = logger
	}
}

// Queue returns the memory queue consumed by the transmission engine.
func (t *Tier) Queue() *Queue { return t.queue }

// OverflowEnabled reports whether an overflow store is configured.
func (t *Tier) OverflowEnabled() bool { return t.store != nil }

// Push hands s to the tier.
//
// Policy, in order:
//  1. a non-empty overflow store takes the sample so it queues behind the
//     backlog; if that append fails the store is recreated and the
//     sample falls through
//  2. the memory queue takes it if a slot is free
//  3. with overflow enabled, the store is recreated and takes it
//  4. otherwise the sample is lost
//
// A non-nil error wrapping telemetry.ErrBufferFull means the sample is lost.
func (t *Tier) Push(s telemetry.Sample) error {
	if t.store != nil && t.store.Size() > 0 {
		err := t.store.Push(s)
		if err == nil {
			t.overflowed.Add(1)
			t.syncStoreStats()
			return nil
		}
		t.reportStorage(err, s.Timestamp)
		if err := t.store.Reset(""); err != nil {
			t.reportStorage(err, s.Timestamp)
		}
		t.logger.Warn("overflow store recreated after write failure, backlog abandoned",
			"path", t.store.Path())
		t.syncStoreStats()
	}

	if err := t.queue.Push(s); err == nil {
		t.queued.Add(1)
		if n := t.queue.Len(); n > 1 {
			t.logger.Debug("buffering in memory", "queue", t.queue.Info())
		}
		return nil
	}

	if t.store == nil {
		return t.lose(s, fmt.Errorf("%w: %s queue full, overflow disabled", telemetry.ErrBufferFull, t.queue.Info()))
	}

	if err := t.store.Reset(""); err != nil {
		t.reportStorage(err, s.Timestamp)
		t.syncStoreStats()
		return t.lose(s, fmt.Errorf("%w: %w", telemetry.ErrBufferFull, err))
	}
	if err := t.store.Push(s); err != nil {
		t.reportStorage(err, s.Timestamp)
		t.syncStoreStats()
		return t.lose(s, fmt.Errorf("%w: %w", telemetry.ErrBufferFull, err))
	}
	t.overflowed.Add(1)
	t.syncStoreStats()
	t.logger.Info("memory queue full, overflow started", "path", t.store.Path())
	return nil
}

// Drain moves backlog from the overflow store into the memory queue, at
// most min(free slots, backlog) records. It stops at the first storage
// error. Returns the number of records moved.
func (t *Tier) Drain() int {
	if t.store == nil || t.store.Size() == 0 {
		return 0
	}

	n := min(t.queue.Free(), t.store.Size())
	moved := 0
	for i := 0; i < n; i++ {
		s, err := t.store.Pop(true)
		if err != nil {
			if !errors.Is(err, ErrOverflowEmpty) {
				t.reportStorage(err, 0)
			}
			break
		}
		if err := t.queue.Push(s); err != nil {
			// The consumer only removes samples, so free slots cannot
			// shrink under us.
			t.lose(s, fmt.Errorf("%w: drain into %s", telemetry.ErrBufferFull, t.queue.Info()))
			break
		}
		moved++
	}
	t.drained.Add(uint64(moved))

	if t.store.Size() == 0 && t.recreateOnDrain {
		if err := t.store.Reset(""); err != nil {
			t.reportStorage(err, 0)
		} else {
			t.logger.Debug("overflow drained, file recreated", "path", t.store.Path())
		}
	}
	t.syncStoreStats()
	return moved
}

// ResetOverflow recreates the overflow file, optionally at a new path.
func (t *Tier) ResetOverflow(newPath string) error {
	if t.store == nil {
		return nil
	}
	err := t.store.Reset(newPath)
	t.syncStoreStats()
	return err
}

// Close releases the overflow file handle.
func (t *Tier) Close() error {
	if t.store == nil {
		return nil
	}
	return t.store.Close()
}

// Stats returns a snapshot of the tier counters.
func (t *Tier) Stats() Stats {
	return Stats{
		QueueLen:      t.queue.Len(),
		QueueCap:      t.queue.Cap(),
		OverflowSize:  int(t.overflowSize.Load()),
		OverflowBytes: t.overflowBytes.Load(),
		Queued:        t.queued.Load(),
		Overflowed:    t.overflowed.Load(),
		Drained:       t.drained.Load(),
		Lost:          t.lost.Load(),
		StorageErrors: t.storageErrors.Load(),
	}
}

// Info returns "[n/cap]" followed by the overflow backlog when enabled.
func (t *Tier) Info() string {
	if t.store == nil {
		return t.queue.Info()
	}
	return fmt.Sprintf("%s overflow=%d", t.queue.Info(), t.overflowSize.Load())
}

func (t *Tier) lose(s telemetry.Sample, err error) error {
	t.lost.Add(1)
	t.sink.Report(telemetry.NewEvent(component, err, s.Timestamp))
	t.logger.Warn("sample lost", "name", s.Name, "ts", s.Timestamp, "error", err)
	return err
}

func (t *Tier) reportStorage(err error, ts int64) {
	t.storageErrors.Add(1)
	t.sink.Report(telemetry.NewEvent(component, err, ts))
}

func (t *Tier) syncStoreStats() {
	t.overflowSize.Store(int64(t.store.Size()))
	t.overflowBytes.Store(t.store.Bytes())
}
