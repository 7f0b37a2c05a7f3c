package buffer

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/telemetry"
)

func TestOverflowRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sdbuffer.csv")
	o := NewOverflowStore(path, false)
	if err := o.Reset(""); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	defer o.Close()

	in := []telemetry.Sample{
		telemetry.NewSample("temperature_sensor_1", 0, 215, 1700000000),
		telemetry.NewSample("pressure", 1, -3, 1700000001),
		telemetry.NewSample("x", 2, 0, 1700000002),
	}
	for _, s := range in {
		if err := o.Push(s); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	if o.Size() != 3 {
		t.Fatalf("Size() = %d, want 3", o.Size())
	}

	peeked, err := o.Peek()
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if peeked.Name != "temperature_sen" || o.Size() != 3 {
		t.Errorf("Peek() = %+v size %d, want first record and size 3", peeked, o.Size())
	}

	for i, want := range in {
		got, err := o.Pop(true)
		if err != nil {
			t.Fatalf("Pop() #%d error = %v", i, err)
		}
		if got.Name != want.Name || got.Value != want.Value || got.Timestamp != want.Timestamp {
			t.Errorf("Pop() #%d = %+v, want %+v", i, got, want)
		}
	}
	if _, err := o.Pop(true); !errors.Is(err, ErrOverflowEmpty) {
		t.Errorf("Pop() on empty store error = %v, want ErrOverflowEmpty", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "VarName,Value,TimeStamp\ntemperature_sen,215,1700000000\npressure,-3,1700000001\nx,0,1700000002\n"
	if string(data) != want {
		t.Errorf("file content =\n%s\nwant\n%s", data, want)
	}
}

func TestOverflowResetAbandonsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buf.csv")
	o := NewOverflowStore(path, true)
	if err := o.Reset(""); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	defer o.Close()
	_ = o.Push(sample(1))
	_ = o.Push(sample(2))

	if err := o.Reset(""); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if o.Size() != 0 {
		t.Errorf("Size() after reset = %d, want 0", o.Size())
	}
	if o.Bytes() != int64(len(telemetry.CSVHeader)+1) {
		t.Errorf("Bytes() after reset = %d, want header only", o.Bytes())
	}

	_ = o.Push(sample(9))
	got, err := o.Pop(true)
	if err != nil || got.Value != 9 {
		t.Errorf("Pop() after reset = %+v, %v, want value 9", got, err)
	}
}

func TestOverflowResetNewPath(t *testing.T) {
	dir := t.TempDir()
	o := NewOverflowStore(filepath.Join(dir, "a.csv"), false)
	defer o.Close()
	if err := o.Reset(filepath.Join(dir, "nested", "b.csv")); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !strings.HasSuffix(o.Path(), "b.csv") {
		t.Errorf("Path() = %q, want b.csv", o.Path())
	}
	if _, err := os.Stat(o.Path()); err != nil {
		t.Errorf("Stat() error = %v", err)
	}
}

func TestOverflowPushWithoutFile(t *testing.T) {
	o := NewOverflowStore(filepath.Join(t.TempDir(), "never.csv"), false)
	err := o.Push(sample(1))
	if !errors.Is(err, telemetry.ErrStorageIO) || !errors.Is(err, ErrOverflowClosed) {
		t.Errorf("Push() error = %v, want ErrStorageIO wrapping ErrOverflowClosed", err)
	}
	if o.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after failed push", o.Size())
	}
}

func TestOverflowCorruptLineIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buf.csv")
	o := NewOverflowStore(path, false)
	if err := o.Reset(""); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	defer o.Close()

	_ = o.Push(telemetry.Sample{Name: "bad,name", Value: 1, Timestamp: 2})
	_ = o.Push(sample(5))

	if _, err := o.Pop(true); !errors.Is(err, telemetry.ErrStorageIO) {
		t.Fatalf("Pop() of corrupt line error = %v, want ErrStorageIO", err)
	}
	got, err := o.Pop(true)
	if err != nil || got.Value != 5 {
		t.Errorf("Pop() after corrupt line = %+v, %v, want value 5", got, err)
	}
}
