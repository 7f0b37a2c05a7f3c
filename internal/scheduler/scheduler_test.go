package scheduler

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.set(0)
	return c
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) set(ms int64) {
	c.t = time.Unix(0, 0).Add(time.Duration(ms) * time.Millisecond)
}

type fakeBuffer struct {
	pushed []telemetry.Sample
	drains int
	err    error
}

func (b *fakeBuffer) Drain() int { b.drains++; return 0 }

func (b *fakeBuffer) Push(s telemetry.Sample) error {
	b.pushed = append(b.pushed, s)
	return b.err
}

func newScheduler(t *testing.T) (*Scheduler, *fakeBuffer, *fakeClock) {
	t.Helper()
	buf := &fakeBuffer{}
	clk := newFakeClock()
	return New(buf, WithClock(clk.now)), buf, clk
}

func TestThresholdAndPeriodLaw(t *testing.T) {
	tests := []struct {
		name     string
		atMs     int64
		value    int
		wantEmit bool
	}{
		{"change below threshold after period", 1200, 3, false},
		{"change above threshold after period", 1200, 6, true},
		{"change above threshold before period", 800, 6, false},
		{"change equal to threshold", 1200, 5, false},
		{"change at exact period", 1000, 6, true},
		{"negative change above threshold", 1200, -6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, buf, clk := newScheduler(t)
			value := 0
			_, err := s.Register(Variable{
				Name:      "v",
				Read:      func() int { return value },
				MinPeriod: time.Second,
				Threshold: 5,
				MaxPeriod: NoMaxPeriod,
			})
			if err != nil {
				t.Fatalf("Register() error = %v", err)
			}

			s.Tick(0) // cold start
			buf.pushed = nil

			clk.set(tt.atMs)
			value = tt.value
			got := s.Tick(1) == 1
			if got != tt.wantEmit {
				t.Errorf("emitted = %v, want %v", got, tt.wantEmit)
			}
		})
	}
}

func TestMaxPeriodLiveness(t *testing.T) {
	s, buf, clk := newScheduler(t)
	_, _ = s.Register(Variable{
		Name:      "alive",
		Read:      func() int { return 42 },
		MinPeriod: 0,
		Threshold: 10,
		MaxPeriod: 30 * time.Second,
	})
	s.Tick(0)
	buf.pushed = nil

	clk.set(30000)
	if n := s.Tick(30); n != 0 {
		t.Errorf("Tick at exactly max period emitted %d, want 0", n)
	}
	clk.set(30001)
	if n := s.Tick(30); n != 1 {
		t.Errorf("Tick after max period emitted %d, want 1", n)
	}
	if len(buf.pushed) != 1 || buf.pushed[0].Value != 42 {
		t.Errorf("pushed = %+v, want one sample with value 42", buf.pushed)
	}
}

func TestColdStartEmitsEveryVariableOnce(t *testing.T) {
	s, buf, _ := newScheduler(t)
	for i := 0; i < 5; i++ {
		_, err := s.Register(Variable{
			Name:      fmt.Sprintf("var%d", i),
			Read:      func() int { return 0 },
			MinPeriod: time.Hour,
			Threshold: 1000,
			MaxPeriod: NoMaxPeriod,
		})
		if err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	if n := s.Tick(1700000000); n != 5 {
		t.Fatalf("first Tick emitted %d, want 5", n)
	}
	for i, smp := range buf.pushed {
		if smp.VariableID != i || smp.Timestamp != 1700000000 {
			t.Errorf("sample %d = %+v", i, smp)
		}
	}
	if n := s.Tick(1700000001); n != 0 {
		t.Errorf("second Tick emitted %d, want 0", n)
	}
	if buf.drains != 2 {
		t.Errorf("Drain called %d times, want 2", buf.drains)
	}
}

func TestRegistryFull(t *testing.T) {
	buf := &fakeBuffer{}
	counter := telemetry.NewCounter()
	s := New(buf, WithCapacity(2))
	s.SetSink(counter)

	read := func() int { return 0 }
	for i := 0; i < 2; i++ {
		id, err := s.Register(Variable{Name: "v", Read: read, MaxPeriod: NoMaxPeriod})
		if err != nil || id != ID(i) {
			t.Fatalf("Register() = %d, %v, want %d", id, err, i)
		}
	}
	_, err := s.Register(Variable{Name: "v", Read: read, MaxPeriod: NoMaxPeriod})
	if !errors.Is(err, telemetry.ErrRegistryFull) {
		t.Errorf("Register() error = %v, want ErrRegistryFull", err)
	}
	if counter.Count(telemetry.KindRegistryFull) != 1 {
		t.Error("registry_full not reported")
	}
}

func TestModify(t *testing.T) {
	s, buf, clk := newScheduler(t)
	id, _ := s.Register(Variable{Name: "old", Read: func() int { return 1 }, MinPeriod: time.Hour, MaxPeriod: NoMaxPeriod})
	s.Tick(0)
	buf.pushed = nil

	err := s.Modify(id, Variable{Name: "new", Read: func() int { return 1 }, MinPeriod: 0, MaxPeriod: NoMaxPeriod})
	if err != nil {
		t.Fatalf("Modify() error = %v", err)
	}

	// lastValue was reset to 0, so value 1 is a change above threshold 0.
	clk.set(10)
	if n := s.Tick(1); n != 1 {
		t.Fatalf("Tick after Modify emitted %d, want 1", n)
	}
	if buf.pushed[0].Name != "new" {
		t.Errorf("sample name = %q, want new", buf.pushed[0].Name)
	}

	if err := s.Modify(7, Variable{Name: "x", Read: func() int { return 0 }}); !errors.Is(err, telemetry.ErrVariableNotFound) {
		t.Errorf("Modify(unknown) error = %v, want ErrVariableNotFound", err)
	}
}

func TestValidate(t *testing.T) {
	read := func() int { return 0 }
	tests := []struct {
		name string
		v    Variable
		ok   bool
	}{
		{"valid", Variable{Name: "a", Read: read, MaxPeriod: NoMaxPeriod}, true},
		{"zero max period", Variable{Name: "a", Read: read}, true},
		{"no name", Variable{Read: read}, false},
		{"comma in name", Variable{Name: "press,a", Read: read}, false},
		{"newline in name", Variable{Name: "press\na", Read: read}, false},
		{"carriage return in name", Variable{Name: "press\ra", Read: read}, false},
		{"no read", Variable{Name: "a"}, false},
		{"negative min", Variable{Name: "a", Read: read, MinPeriod: -1}, false},
		{"negative threshold", Variable{Name: "a", Read: read, Threshold: -1}, false},
		{"max below sentinel", Variable{Name: "a", Read: read, MaxPeriod: -2}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.v.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
			if err != nil && !errors.Is(err, telemetry.ErrInvalidVariable) {
				t.Errorf("Validate() error = %v, want ErrInvalidVariable", err)
			}
		})
	}
}

func TestFailedPushStillUpdatesLastSample(t *testing.T) {
	s, buf, clk := newScheduler(t)
	buf.err = telemetry.ErrBufferFull
	value := 0
	_, _ = s.Register(Variable{Name: "v", Read: func() int { return value }, MinPeriod: time.Second, MaxPeriod: NoMaxPeriod})

	s.Tick(0)
	value = 100
	clk.set(500)
	if n := s.Tick(0); n != 0 {
		t.Errorf("Tick inside min period after failed push emitted %d, want 0", n)
	}
	vars := s.Variables()
	if vars[0].LastValue != 0 || vars[0].Samples != 1 {
		t.Errorf("Variables()[0] = %+v, want last value 0 and 1 sample", vars[0])
	}
}

func TestNameTruncatedAndLookup(t *testing.T) {
	s, buf, _ := newScheduler(t)
	_, _ = s.Register(Variable{Name: "a_very_long_variable_name", Read: func() int { return 3 }, MaxPeriod: NoMaxPeriod})
	s.Tick(5)

	if got := buf.pushed[0].Name; got != "a_very_long_var" {
		t.Errorf("sample name = %q, want a_very_long_var", got)
	}
	if id, ok := s.Lookup("a_very_long_variable_name"); !ok || id != 0 {
		t.Errorf("Lookup() = %d, %v", id, ok)
	}
	if s.LastTimestamp() != 5 {
		t.Errorf("LastTimestamp() = %d, want 5", s.LastTimestamp())
	}
}
