package telemetry

import (
	"errors"
	"fmt"
	"testing"
	"unicode/utf8"
)

func TestNewSampleTruncatesName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"temp", "temp"},
		{"exactly15chars_", "exactly15chars_"},
		{"temperature_sensor_long", "temperature_sen"},
		{"", ""},
		{"temperatura_mmão", "temperatura_mm"},
		{"abcdefghijkl🔥x", "abcdefghijkl"},
		{"宽宽宽宽宽宽", "宽宽宽宽宽"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSample(tt.name, 1, 10, 100)
			if s.Name != tt.want {
				t.Errorf("Name = %q, want %q", s.Name, tt.want)
			}
			if !utf8.ValidString(s.Name) {
				t.Errorf("Name %q is not valid UTF-8", s.Name)
			}
		})
	}
}

func TestEncodeDecodeLine(t *testing.T) {
	s := NewSample("pressure", 2, -42, 1700000123)
	line := EncodeLine(s)
	if line != "pressure,-42,1700000123" {
		t.Fatalf("EncodeLine() = %q", line)
	}

	got, err := DecodeLine(line + "\r\n")
	if err != nil {
		t.Fatalf("DecodeLine() error = %v", err)
	}
	if got.Name != s.Name || got.Value != s.Value || got.Timestamp != s.Timestamp {
		t.Errorf("DecodeLine() = %+v, want %+v", got, s)
	}
}

func TestParseRecordMalformed(t *testing.T) {
	for _, line := range []string{"", "a,b", "a,b,c,d"} {
		if _, err := ParseRecord(line); !errors.Is(err, ErrMalformedRecord) {
			t.Errorf("ParseRecord(%q) error = %v, want ErrMalformedRecord", line, err)
		}
	}
	if _, err := DecodeLine("x,notanint,1"); !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("DecodeLine() error = %v, want ErrMalformedRecord", err)
	}
}

func TestIsHeader(t *testing.T) {
	if !IsHeader("VarName,Value,TimeStamp\r") {
		t.Error("IsHeader() = false for header with CR")
	}
	if IsHeader("a,1,2") {
		t.Error("IsHeader() = true for data line")
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{fmt.Errorf("%w: slot 33", ErrRegistryFull), KindRegistryFull},
		{fmt.Errorf("push: %w", ErrBufferFull), KindBufferFull},
		{fmt.Errorf("%w: disk gone", ErrStorageIO), KindStorageIO},
		{ErrDeliveryFailed, KindDeliveryFailed},
		{errors.New("boom"), KindOther},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	c.Report(NewEvent("buffer", ErrBufferFull, 1))
	c.Report(NewEvent("buffer", fmt.Errorf("%w: write", ErrStorageIO), 2))
	c.Report(NewEvent("transmit", ErrDeliveryFailed, 3))

	if got := c.Count(KindBufferFull); got != 1 {
		t.Errorf("Count(buffer_full) = %d, want 1", got)
	}
	comps := c.Components()
	if comps["buffer"].Errors != 2 {
		t.Errorf("buffer errors = %d, want 2", comps["buffer"].Errors)
	}
	if comps["buffer"].LastMessage != "telemetry: overflow storage i/o error: write" {
		t.Errorf("buffer last message = %q", comps["buffer"].LastMessage)
	}
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	s := NewChannelSink(1)
	s.Report(Event{Component: "a"})
	s.Report(Event{Component: "b"})

	if got := s.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	ev := <-s.Events()
	if ev.Component != "a" {
		t.Errorf("first event component = %q, want a", ev.Component)
	}
}

func TestMultiSink(t *testing.T) {
	var n int
	count := SinkFunc(func(Event) { n++ })
	MultiSink{count, nil, count}.Report(Event{})
	if n != 2 {
		t.Errorf("sinks called %d times, want 2", n)
	}
}
