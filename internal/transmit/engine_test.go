package transmit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/buffer"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) set(ms int64) {
	c.t = time.Unix(1700000000, 0).Add(time.Duration(ms) * time.Millisecond)
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []string
	failNext int
	resets   int
}

func (p *fakePublisher) Publish(_ context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errors.New("broker said no")
	}
	p.messages = append(p.messages, string(payload))
	return nil
}

func (p *fakePublisher) Reset(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func newEngine(t *testing.T, cfg Config) (*Engine, *buffer.Queue, *fakePublisher, *fakeClock) {
	t.Helper()
	q := buffer.NewQueue(8)
	pub := &fakePublisher{}
	clk := &fakeClock{}
	clk.set(0)
	return New(q, pub, cfg, WithClock(clk.now)), q, pub, clk
}

func TestFormatMessage(t *testing.T) {
	got := string(FormatMessage("press-01", telemetry.NewSample("temp", 0, 215, 1700000000)))
	want := `{"metrics": {"assetName": "press-01","temp": 215,"temp_timestamp": 1700000000000}}`
	if got != want {
		t.Errorf("FormatMessage() =\n%s\nwant\n%s", got, want)
	}

	got = FormatValue("a", "neg", -7, 5)
	want = `{"metrics": {"assetName": "a","neg": -7,"neg_timestamp": 5000}}`
	if got != want {
		t.Errorf("FormatValue() = %s, want %s", got, want)
	}
}

func TestRecoveryHysteresis(t *testing.T) {
	e, q, pub, clk := newEngine(t, Config{AssetName: "m", SendPeriod: 100 * time.Millisecond, RecoveryDelay: time.Second})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = q.Push(telemetry.NewSample("v", 0, i, 1))
	}

	if got := e.State(); got != Disconnected {
		t.Fatalf("initial State() = %v, want disconnected", got)
	}

	for ms := int64(0); ms < 1000; ms += 100 {
		clk.set(ms)
		if got := e.Tick(ctx, true); got != Withheld {
			t.Fatalf("Tick at %dms = %v, want withheld", ms, got)
		}
	}
	if pub.count() != 0 {
		t.Fatalf("sent %d messages inside the recovery window", pub.count())
	}

	clk.set(1000)
	if got := e.Tick(ctx, true); got != Sent {
		t.Fatalf("Tick at 1000ms = %v, want sent", got)
	}
	if e.State() != FullyOK || pub.resets != 1 {
		t.Errorf("State() = %v resets = %d, want fully_ok and 1 reset", e.State(), pub.resets)
	}

	clk.set(1100)
	if got := e.Tick(ctx, true); got != Sent {
		t.Errorf("Tick at 1100ms = %v, want sent", got)
	}

	// Drop and come back: the window starts over.
	clk.set(1200)
	if got := e.Tick(ctx, false); got != Withheld {
		t.Errorf("Tick while down = %v, want withheld", got)
	}
	clk.set(1300)
	if got := e.Tick(ctx, true); got != Withheld || e.State() != Recovering {
		t.Errorf("Tick after reconnect = %v state %v, want withheld recovering", got, e.State())
	}
	clk.set(2300)
	if got := e.Tick(ctx, true); got != Sent || pub.resets != 2 {
		t.Errorf("Tick after second window = %v resets %d, want sent and 2 resets", got, pub.resets)
	}
}

func TestRateLimit(t *testing.T) {
	e, q, pub, clk := newEngine(t, Config{AssetName: "m", SendPeriod: time.Second, RecoveryDelay: 0})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = q.Push(telemetry.NewSample("v", 0, i, 1))
	}

	e.Tick(ctx, true) // Disconnected -> Recovering
	clk.set(1000)
	if got := e.Tick(ctx, true); got != Sent {
		t.Fatalf("Tick() = %v, want sent", got)
	}
	clk.set(1999)
	if got := e.Tick(ctx, true); got != RateLimited {
		t.Errorf("Tick before period = %v, want rate_limited", got)
	}
	clk.set(2000)
	if got := e.Tick(ctx, true); got != Sent {
		t.Errorf("Tick at period = %v, want sent", got)
	}
	if pub.count() != 2 {
		t.Errorf("sent %d, want 2", pub.count())
	}
}

func TestAtLeastOnceDelivery(t *testing.T) {
	counter := telemetry.NewCounter()
	e, q, pub, clk := newEngine(t, Config{AssetName: "m", SendPeriod: time.Second, RecoveryDelay: 0})
	e.SetSink(counter)
	ctx := context.Background()

	_ = q.Push(telemetry.NewSample("a", 0, 1, 10))
	_ = q.Push(telemetry.NewSample("b", 1, 2, 11))
	pub.failNext = 2

	e.Tick(ctx, true)
	for i, ms := range []int64{1000, 2000} {
		clk.set(ms)
		if got := e.Tick(ctx, true); got != Failed {
			t.Fatalf("attempt %d = %v, want failed", i, got)
		}
		head, _ := q.Peek()
		if q.Len() != 2 || head.Name != "a" {
			t.Fatalf("after failure queue len %d head %q, want 2 and a", q.Len(), head.Name)
		}
	}

	clk.set(3000)
	if got := e.Tick(ctx, true); got != Sent {
		t.Fatalf("retry = %v, want sent", got)
	}
	head, _ := q.Peek()
	if q.Len() != 1 || head.Name != "b" {
		t.Errorf("after success queue len %d head %q, want 1 and b", q.Len(), head.Name)
	}

	st := e.Stats()
	if st.Sent != 1 || st.Failed != 2 {
		t.Errorf("Stats() = %+v, want 1 sent 2 failed", st)
	}
	if counter.Count(telemetry.KindDeliveryFailed) != 2 {
		t.Errorf("delivery_failed events = %d, want 2", counter.Count(telemetry.KindDeliveryFailed))
	}
}

func TestEmptyQueue(t *testing.T) {
	e, _, _, _ := newEngine(t, Config{})
	if got := e.Tick(context.Background(), true); got != Empty {
		t.Errorf("Tick() = %v, want empty", got)
	}
}

func TestSendNowHonoursRecoveryGate(t *testing.T) {
	e, _, pub, clk := newEngine(t, Config{AssetName: "m", RecoveryDelay: time.Second})
	ctx := context.Background()

	err := e.SendNow(ctx, "manual", 5, 100, true)
	if !errors.Is(err, telemetry.ErrDeliveryFailed) {
		t.Fatalf("SendNow() inside window error = %v, want ErrDeliveryFailed", err)
	}
	clk.set(1000)
	if err := e.SendNow(ctx, "manual", 5, 100, true); err != nil {
		t.Fatalf("SendNow() error = %v", err)
	}
	want := `{"metrics": {"assetName": "m","manual": 5,"manual_timestamp": 100000}}`
	if pub.messages[0] != want {
		t.Errorf("payload = %s, want %s", pub.messages[0], want)
	}
}

type recorder struct{ names []string }

func (r *recorder) Delivered(s telemetry.Sample, _ []byte) { r.names = append(r.names, s.Name) }

func TestRunBlocking(t *testing.T) {
	q := buffer.NewQueue(8)
	pub := &fakePublisher{}
	rec := &recorder{}
	e := New(q, pub, Config{
		AssetName:     "m",
		SendPeriod:    time.Millisecond,
		RecoveryDelay: 0,
		PollInterval:  time.Millisecond,
		Blocking:      true,
	}, WithObserver(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, func() bool { return true }) }()

	for i := 0; i < 3; i++ {
		_ = q.Push(telemetry.NewSample("v", 0, i, 1))
	}

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if pub.count() != 3 {
		t.Fatalf("sent %d, want 3", pub.count())
	}
	if len(rec.names) != 3 {
		t.Errorf("observer saw %d deliveries, want 3", len(rec.names))
	}
}
