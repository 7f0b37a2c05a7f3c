package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/config"
	"github.com/xaviarmengol/ESP32-Machine-Advisor/internal/infrastructure/influxdb"
)

// fakeServer mimics the two InfluxDB endpoints the client uses.
type fakeServer struct {
	mu        sync.Mutex
	writes    []string
	failWrite bool
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v2/write", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.failWrite {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"code":"internal error","message":"disk full"}`))
			return
		}
		f.writes = append(f.writes, string(body))
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (f *fakeServer) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, w := range f.writes {
		for _, l := range strings.Split(strings.TrimSpace(w), "\n") {
			if l != "" {
				out = append(out, l)
			}
		}
	}
	return out
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		URL:         url,
		Token:       "test-token",
		Org:         "plant",
		Bucket:      "machines",
		Measurement: "metrics",
	}
}

func TestDecodeMessage(t *testing.T) {
	payload := []byte(`{"metrics": {"assetName": "press-01","temp": 215,"temp_timestamp": 1700000000000}}`)

	metrics, err := influxdb.DecodeMessage(payload)
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	if len(metrics) != 1 {
		t.Fatalf("len(metrics) = %d, want 1", len(metrics))
	}
	m := metrics[0]
	if m.Asset != "press-01" {
		t.Errorf("Asset = %q, want %q", m.Asset, "press-01")
	}
	if m.Name != "temp" {
		t.Errorf("Name = %q, want %q", m.Name, "temp")
	}
	if m.Value != 215 {
		t.Errorf("Value = %d, want 215", m.Value)
	}
	if !m.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Timestamp = %v, want %v", m.Timestamp, time.Unix(1700000000, 0))
	}
}

func TestDecodeMessage_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `metrics`},
		{"no variables", `{"metrics": {"assetName": "press-01"}}`},
		{"non-integer value", `{"metrics": {"assetName": "a","v": "x"}}`},
		{"bad timestamp", `{"metrics": {"assetName": "a","v": 1,"v_timestamp": "soon"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := influxdb.DecodeMessage([]byte(tt.payload))
			if !errors.Is(err, influxdb.ErrInvalidMessage) {
				t.Errorf("DecodeMessage() error = %v, want ErrInvalidMessage", err)
			}
		})
	}
}

func TestConnect_FakeServer(t *testing.T) {
	srv := &fakeServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	client, err := influxdb.Connect(context.Background(), testConfig(ts.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	client, err := influxdb.Connect(context.Background(), testConfig("http://127.0.0.1:1"))
	if err == nil {
		t.Fatal("Connect() should fail for an unreachable server")
	}
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if client == nil {
		t.Fatal("Connect() should return a client even when offline")
	}
	defer client.Close()
	if client.IsConnected() {
		t.Error("IsConnected() = true for an unreachable server")
	}
}

func TestPublish_WritesPoint(t *testing.T) {
	srv := &fakeServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	client, err := influxdb.Connect(context.Background(), testConfig(ts.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	payload := []byte(`{"metrics": {"assetName": "press-01","temp": 215,"temp_timestamp": 1700000000000}}`)
	if err := client.Publish(context.Background(), payload); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	lines := srv.lines()
	if len(lines) != 1 {
		t.Fatalf("server received %d lines, want 1: %v", len(lines), lines)
	}
	for _, want := range []string{"metrics,asset=press-01", "temp=215i", "1700000000000"} {
		if !strings.Contains(lines[0], want) {
			t.Errorf("line %q does not contain %q", lines[0], want)
		}
	}
}

func TestPublish_ServerError(t *testing.T) {
	srv := &fakeServer{failWrite: true}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	client, err := influxdb.Connect(context.Background(), testConfig(ts.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	payload := []byte(`{"metrics": {"assetName": "press-01","temp": 215,"temp_timestamp": 1700000000000}}`)
	err = client.Publish(context.Background(), payload)
	if !errors.Is(err, influxdb.ErrWriteFailed) {
		t.Fatalf("Publish() error = %v, want ErrWriteFailed", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after a failed write")
	}
}

func TestPublish_InvalidPayload(t *testing.T) {
	srv := &fakeServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	client, _ := influxdb.Connect(context.Background(), testConfig(ts.URL))
	defer client.Close()

	err := client.Publish(context.Background(), []byte("raw text"))
	if !errors.Is(err, influxdb.ErrInvalidMessage) {
		t.Errorf("Publish() error = %v, want ErrInvalidMessage", err)
	}
	if n := len(srv.lines()); n != 0 {
		t.Errorf("server received %d lines, want 0", n)
	}
}

// skipIfNoInfluxDB skips the test unless a real InfluxDB is configured.
func skipIfNoInfluxDB(t *testing.T) config.InfluxDBConfig {
	t.Helper()
	url := os.Getenv("MAAGENT_TEST_INFLUXDB_URL")
	if url == "" {
		t.Skip("MAAGENT_TEST_INFLUXDB_URL not set, skipping integration test")
	}
	cfg := testConfig(url)
	cfg.Token = os.Getenv("MAAGENT_TEST_INFLUXDB_TOKEN")
	return cfg
}

func TestPublish_RealServer(t *testing.T) {
	cfg := skipIfNoInfluxDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := influxdb.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	payload := []byte(`{"metrics": {"assetName": "it-asset","it_var": 1,"it_var_timestamp": 1700000000000}}`)
	if err := client.Publish(ctx, payload); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}
