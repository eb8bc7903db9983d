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

	"github.com/nerrad567/percy-supervisor/internal/infrastructure/config"
	"github.com/nerrad567/percy-supervisor/internal/infrastructure/influxdb"
)

// testConfig returns a configuration for a local dev InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "percy-dev-token",
		Org:           "ci",
		Bucket:        "percy",
		BatchSize:     10,
		FlushInterval: 1,
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := influxdb.Connect(testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

// fakeInflux answers pings and records line protocol writes.
type fakeInflux struct {
	*httptest.Server

	mu     sync.Mutex
	writes []string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.writes = append(f.writes, string(body))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

// waitForWrite returns the accumulated writes once one contains want.
func (f *fakeInflux) waitForWrite(t *testing.T, want string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		all := strings.Join(f.writes, "\n")
		f.mu.Unlock()
		if strings.Contains(all, want) {
			return all
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no write containing %q within 5s", want)
	return ""
}

func fakeConfig(url string) config.InfluxDBConfig {
	cfg := testConfig()
	cfg.URL = url
	return cfg
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_FakeServer(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(fakeConfig(srv.URL))
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

func TestConnect_DefaultBatchSettings(t *testing.T) {
	srv := newFakeInflux(t)
	cfg := fakeConfig(srv.URL)
	cfg.BatchSize = -5
	cfg.FlushInterval = 0

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect() with default batch settings")
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteLifecycle(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(fakeConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteLifecycle(influxdb.Lifecycle{
		Event:       "healthy",
		SessionID:   "s-1",
		SessionType: "automate",
		BuildID:     123,
		Duration:    1500 * time.Millisecond,
	})
	client.Flush()

	got := srv.waitForWrite(t, "percy_lifecycle,")
	for _, want := range []string{"event=healthy", "session_type=automate", `session_id="s-1"`, "build_id=123i", "duration_ms=1500i"} {
		if !strings.Contains(got, want) {
			t.Errorf("line protocol = %q, missing %q", got, want)
		}
	}
}

func TestWriteSessionUp(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(fakeConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WriteSessionUp("s-2", true)
	client.Flush()

	got := srv.waitForWrite(t, "percy_session ")
	if !strings.Contains(got, "up=1i") {
		t.Errorf("line protocol = %q, want up=1i", got)
	}
}

func TestWrite_NotConnected(t *testing.T) {
	client := &influxdb.Client{}

	// Must not panic without a write API.
	client.WriteLifecycle(influxdb.Lifecycle{Event: "stopped"})
	client.WriteSessionUp("s", false)
	client.Flush()

	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestClose(t *testing.T) {
	srv := newFakeInflux(t)

	client, err := influxdb.Connect(fakeConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}

	// Writes after Close are dropped.
	client.WriteLifecycle(influxdb.Lifecycle{Event: "stopped"})
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

// =============================================================================
// Integration Tests
// =============================================================================

func TestHealthCheck_RealServer(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
