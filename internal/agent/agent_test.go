package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/config"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/scheduler"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/transmit"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu       sync.Mutex
	payloads []string
}

func (p *recordingPublisher) Publish(_ context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, string(payload))
	return nil
}

func (p *recordingPublisher) sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.payloads...)
}

type recordingObserver struct {
	mu      sync.Mutex
	samples []telemetry.Sample
}

func (o *recordingObserver) Delivered(s telemetry.Sample, _ []byte) {
	o.mu.Lock()
	o.samples = append(o.samples, s)
	o.mu.Unlock()
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Agent.AssetName = "press-01"
	cfg.Buffer.Overflow.Enabled = false
	return cfg
}

func constant(v int) scheduler.ReadFunc {
	return func() int { return v }
}

func TestPipeline_EndToEnd(t *testing.T) {
	clock := newFakeClock()
	pub := &recordingPublisher{}
	obs := &recordingObserver{}
	a := New(testConfig(), pub, WithClock(clock.Now), WithObserver(obs))
	defer a.Close()

	if _, err := a.RegisterVar("temp", constant(215), time.Second, 0, scheduler.NoMaxPeriod); err != nil {
		t.Fatalf("RegisterVar() error = %v", err)
	}

	if n := a.SchedulerTick(1700000000); n != 1 {
		t.Fatalf("SchedulerTick() emitted %d, want 1 on cold start", n)
	}
	if got := a.BufferInfo(); got != "[1/64]" {
		t.Errorf("BufferInfo() = %q, want %q", got, "[1/64]")
	}

	ctx := context.Background()
	if got := a.TransmissionTick(ctx, true); got != transmit.Withheld {
		t.Errorf("first TransmissionTick() = %v, want Withheld while recovering", got)
	}

	clock.Advance(time.Second)
	if got := a.TransmissionTick(ctx, true); got != transmit.Sent {
		t.Fatalf("TransmissionTick() after recovery delay = %v, want Sent", got)
	}

	want := `{"metrics": {"assetName": "press-01","temp": 215,"temp_timestamp": 1700000000000}}`
	sent := pub.sent()
	if len(sent) != 1 || sent[0] != want {
		t.Errorf("published = %v, want [%s]", sent, want)
	}
	if len(obs.samples) != 1 || obs.samples[0].Name != "temp" {
		t.Errorf("observer saw %+v, want one temp sample", obs.samples)
	}
	if a.State() != transmit.FullyOK {
		t.Errorf("State() = %v, want FullyOK", a.State())
	}

	st := a.Stats()
	if st.Transmit.Sent != 1 || st.Buffer.QueueLen != 0 || st.Scheduler.Emitted != 1 {
		t.Errorf("Stats() = %+v, want sent=1 queue=0 emitted=1", st)
	}
}

func TestRegisterVar_RegistryFull(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.MaxVariables = 2
	a := New(cfg, &recordingPublisher{})
	defer a.Close()

	for _, name := range []string{"a", "b"} {
		if _, err := a.RegisterVar(name, constant(0), 0, 0, scheduler.NoMaxPeriod); err != nil {
			t.Fatalf("RegisterVar(%s) error = %v", name, err)
		}
	}
	_, err := a.RegisterVar("c", constant(0), 0, 0, scheduler.NoMaxPeriod)
	if !errors.Is(err, telemetry.ErrRegistryFull) {
		t.Fatalf("RegisterVar() error = %v, want ErrRegistryFull", err)
	}
	if got := a.Stats().ErrorsByKind[telemetry.KindRegistryFull]; got != 1 {
		t.Errorf("registry_full count = %d, want 1", got)
	}
}

func TestModifyRegisteredVar(t *testing.T) {
	clock := newFakeClock()
	a := New(testConfig(), &recordingPublisher{}, WithClock(clock.Now))
	defer a.Close()

	id, err := a.RegisterVar("speed", constant(10), time.Hour, 100, scheduler.NoMaxPeriod)
	if err != nil {
		t.Fatal(err)
	}
	a.SchedulerTick(1)

	if err := a.ModifyRegisteredVar(id, "speed", constant(10), 0, 0, time.Second); err != nil {
		t.Fatalf("ModifyRegisteredVar() error = %v", err)
	}
	clock.Advance(2 * time.Second)
	if n := a.SchedulerTick(3); n != 1 {
		t.Errorf("SchedulerTick() after modify emitted %d, want 1 from max period", n)
	}

	if err := a.ModifyRegisteredVar(99, "x", constant(0), 0, 0, 0); !errors.Is(err, telemetry.ErrVariableNotFound) {
		t.Errorf("ModifyRegisteredVar(99) error = %v, want ErrVariableNotFound", err)
	}

	if got, ok := a.Lookup("speed"); !ok || got != id {
		t.Errorf("Lookup(speed) = %v, %v, want %v, true", got, ok, id)
	}
}

func TestSendNow_BypassesQueue(t *testing.T) {
	clock := newFakeClock()
	pub := &recordingPublisher{}
	a := New(testConfig(), pub, WithClock(clock.Now))
	defer a.Close()

	if err := a.SendNow(context.Background(), "door", 1, false); !errors.Is(err, telemetry.ErrDeliveryFailed) {
		t.Errorf("SendNow() while disconnected error = %v, want ErrDeliveryFailed", err)
	}

	a.TransmissionTick(context.Background(), true)
	clock.Advance(time.Second)
	a.TransmissionTick(context.Background(), true)

	if err := a.SendNow(context.Background(), "door", 1, true); err != nil {
		t.Fatalf("SendNow() error = %v", err)
	}
	sent := pub.sent()
	if len(sent) != 1 {
		t.Fatalf("published %d messages, want 1", len(sent))
	}
	if a.Stats().Buffer.Queued != 0 {
		t.Error("SendNow() should not touch the queue")
	}
}

func TestRun_DeliversSamples(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.TickInterval = 5 * time.Millisecond
	cfg.Transmit.SendPeriod = 5 * time.Millisecond
	cfg.Transmit.RecoveryDelay = 10 * time.Millisecond
	cfg.Transmit.PollInterval = 5 * time.Millisecond

	pub := &recordingPublisher{}
	a := New(cfg, pub)
	defer a.Close()

	if _, err := a.RegisterVar("temp", constant(1), 0, 0, scheduler.NoMaxPeriod); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, func() bool { return true }) }()

	for len(pub.sent()) == 0 && ctx.Err() == nil {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(pub.sent()) == 0 {
		t.Fatal("Run() delivered nothing before the deadline")
	}
}
