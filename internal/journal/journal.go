package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

const (
	defaultQueueSize     = 256
	defaultPruneInterval = time.Hour
	defaultLimit         = 50
	maxLimit             = 500
)

// Session describes the running agent.
type Session struct {
	ID        string    `json:"id"`
	AssetName string    `json:"asset_name"`
	DeviceID  string    `json:"device_id,omitempty"`
	Version   string    `json:"version,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Delivery is one confirmed sample.
type Delivery struct {
	ID          int64     `json:"id"`
	SessionID   string    `json:"session_id"`
	Variable    string    `json:"variable"`
	Value       int       `json:"value"`
	Timestamp   int64     `json:"timestamp"`
	Payload     string    `json:"payload"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// EventRecord is one stored pipeline event.
type EventRecord struct {
	ID        int64  `json:"id"`
	SessionID string `json:"session_id"`
	telemetry.Event
}

// Filter selects journal rows. Zero fields match everything.
type Filter struct {
	Variable string    // deliveries only
	Kind     string    // events only
	Since    time.Time // rows at or after this instant
	Limit    int       // default 50, max 500
	Offset   int
}

func (f *Filter) clamp() {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// entry is a queued write: exactly one of the fields is set.
type entry struct {
	delivery *Delivery
	event    *telemetry.Event
}

// Journal writes deliveries and pipeline events to SQLite.
type Journal struct {
	db        *sql.DB
	session   Session
	retention time.Duration
	logger    telemetry.Logger

	entries chan entry
	dropped atomic.Uint64
	written atomic.Uint64
}

// Option configures a Journal.
type Option func(*Journal)

// WithRetention prunes rows older than d while Run is active. Zero keeps
// everything.
func WithRetention(d time.Duration) Option {
	return func(j *Journal) { j.retention = d }
}

// WithQueueSize sets how many entries may wait for the writer.
func WithQueueSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.entries = make(chan entry, n)
		}
	}
}

// New opens a session row and returns a journal writing to db. The
// schema must already be migrated.
func New(ctx context.Context, db *sql.DB, s Session, opts ...Option) (*Journal, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now().UTC()
	}

	j := &Journal{
		db:      db,
		session: s,
		logger:  telemetry.NopLogger{},
		entries: make(chan entry, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(j)
	}

	_, err := db.ExecContext(ctx,
		`INSERT INTO sessions (id, asset_name, device_id, version, started_at) VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.AssetName, s.DeviceID, s.Version, s.StartedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}
	return j, nil
}

// SetLogger sets the logger used for write failures.
func (j *Journal) SetLogger(l telemetry.Logger) {
	if l != nil {
		j.logger = l
	}
}

// Session returns the current session.
func (j *Journal) Session() Session {
	return j.session
}

// Delivered enqueues a confirmed delivery. It never blocks.
func (j *Journal) Delivered(s telemetry.Sample, payload []byte) {
	j.enqueue(entry{delivery: &Delivery{
		SessionID:   j.session.ID,
		Variable:    s.Name,
		Value:       s.Value,
		Timestamp:   s.Timestamp,
		Payload:     string(payload),
		DeliveredAt: time.Now().UTC(),
	}})
}

// Report enqueues a pipeline event. It never blocks.
func (j *Journal) Report(ev telemetry.Event) {
	j.enqueue(entry{event: &ev})
}

func (j *Journal) enqueue(e entry) {
	select {
	case j.entries <- e:
	default:
		j.dropped.Add(1)
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (j *Journal) Dropped() uint64 { return j.dropped.Load() }

// Written returns how many entries have been stored.
func (j *Journal) Written() uint64 { return j.written.Load() }

// Run writes queued entries until ctx is cancelled, then stores whatever
// is still queued and returns. It also prunes old rows when a retention
// is configured.
func (j *Journal) Run(ctx context.Context) error {
	var prune <-chan time.Time
	if j.retention > 0 {
		ticker := time.NewTicker(defaultPruneInterval)
		defer ticker.Stop()
		prune = ticker.C
	}

	// Writes already dequeued finish even if ctx is cancelled meanwhile.
	wctx := context.WithoutCancel(ctx)
	for {
		select {
		case e := <-j.entries:
			j.write(wctx, e)
		case <-prune:
			if _, err := j.Prune(wctx, time.Now().Add(-j.retention)); err != nil {
				j.logger.Warn("journal prune failed", "error", err)
			}
		case <-ctx.Done():
			j.flush()
			return nil
		}
	}
}

// flush drains the queue with a short fresh context.
func (j *Journal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case e := <-j.entries:
			j.write(ctx, e)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, e entry) {
	var err error
	switch {
	case e.delivery != nil:
		err = j.RecordDelivery(ctx, *e.delivery)
	case e.event != nil:
		err = j.RecordEvent(ctx, *e.event)
	}
	if err != nil {
		j.logger.Warn("journal write failed", "error", err)
		return
	}
	j.written.Add(1)
}

// RecordDelivery stores d synchronously.
func (j *Journal) RecordDelivery(ctx context.Context, d Delivery) error {
	if d.SessionID == "" {
		d.SessionID = j.session.ID
	}
	if d.DeliveredAt.IsZero() {
		d.DeliveredAt = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO deliveries (session_id, variable, value, sample_ts, payload, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.SessionID, d.Variable, d.Value, d.Timestamp, d.Payload, d.DeliveredAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting delivery: %w", err)
	}
	return nil
}

// RecordEvent stores ev synchronously.
func (j *Journal) RecordEvent(ctx context.Context, ev telemetry.Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO pipeline_events (session_id, component, kind, message, sample_ts, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		j.session.ID, ev.Component, string(ev.Kind), ev.Message, ev.Timestamp, ev.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting pipeline event: %w", err)
	}
	return nil
}

// Deliveries returns confirmed deliveries, newest first.
func (j *Journal) Deliveries(ctx context.Context, f Filter) ([]Delivery, error) {
	f.clamp()

	var conds []string
	var args []any
	if f.Variable != "" {
		conds = append(conds, "variable = ?")
		args = append(args, f.Variable)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "delivered_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	args = append(args, f.Limit, f.Offset)

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, variable, value, sample_ts, payload, delivered_at
		 FROM deliveries `+where(conds)+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	out := []Delivery{}
	for rows.Next() {
		var d Delivery
		var at int64
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Variable, &d.Value, &d.Timestamp, &d.Payload, &at); err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		d.DeliveredAt = time.UnixMilli(at).UTC()
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating deliveries: %w", err)
	}
	return out, nil
}

// Events returns stored pipeline events, newest first.
func (j *Journal) Events(ctx context.Context, f Filter) ([]EventRecord, error) {
	f.clamp()

	var conds []string
	var args []any
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, f.Kind)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "occurred_at >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	args = append(args, f.Limit, f.Offset)

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, session_id, component, kind, message, sample_ts, occurred_at
		 FROM pipeline_events `+where(conds)+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pipeline events: %w", err)
	}
	defer rows.Close()

	out := []EventRecord{}
	for rows.Next() {
		var r EventRecord
		var kind string
		var at int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Component, &kind, &r.Message, &r.Timestamp, &at); err != nil {
			return nil, fmt.Errorf("scanning pipeline event: %w", err)
		}
		r.Kind = telemetry.Kind(kind)
		r.At = time.UnixMilli(at).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pipeline events: %w", err)
	}
	return out, nil
}

// Prune deletes deliveries and events recorded before cutoff and returns
// how many rows went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	ms := cutoff.UnixMilli()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting prune: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var total int64
	for _, q := range []string{
		"DELETE FROM deliveries WHERE delivered_at < ?",
		"DELETE FROM pipeline_events WHERE occurred_at < ?",
	} {
		res, err := tx.ExecContext(ctx, q, ms)
		if err != nil {
			return 0, fmt.Errorf("pruning journal: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing prune: %w", err)
	}
	return total, nil
}

// where builds a WHERE clause from parameterised conditions.
func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}
