package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/percy-supervisor/internal/infrastructure/config"
	"github.com/nerrad567/percy-supervisor/internal/infrastructure/influxdb"
	"github.com/nerrad567/percy-supervisor/internal/percy"
)

// cliScript is a stand-in Percy CLI. exec:start records its pid and then
// runs the given body; exec:stop kills the recorded pid.
const cliScript = `#!/bin/sh
case "$1" in
  exec:start|app:exec:start)
    echo $$ > %[1]s/pid
    %[2]s
    ;;
  exec:stop)
    echo stop >> %[1]s/stops
    if [ -f %[1]s/pid ]; then kill "$(cat %[1]s/pid)" 2>/dev/null; fi
    exit 0
    ;;
esac
`

type harness struct {
	dir     string
	healthy atomic.Int32
}

// newHarness writes a fake CLI and config file and points PERCY_SUPERVISOR_CONFIG at it.
func newHarness(t *testing.T, startBody string, tokenStatus int) *harness {
	t.Helper()
	h := &harness{dir: t.TempDir()}

	cli := filepath.Join(h.dir, "percy")
	if err := os.WriteFile(cli, []byte(fmt.Sprintf(cliScript, h.dir, startBody)), 0755); err != nil { //nolint:gosec // test executable
		t.Fatalf("writing fake cli: %v", err)
	}

	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(tokenStatus)
		_, _ = w.Write([]byte(`{"token":"t1","success":true}`))
	}))
	t.Cleanup(tokens.Close)

	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if _, err := os.Stat(filepath.Join(h.dir, "pid")); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		h.healthy.Add(1)
		_, _ = w.Write([]byte(`{"success":true,"build":{"id":"77"}}`))
	}))
	t.Cleanup(health.Close)

	configContent := fmt.Sprintf(`
percy:
  binary: %q
  server_address: %q
  token_url: %q
  log_file: %q
  temp_dir: %q
  poll_interval: 20ms
  stop_timeout: 2s

browserstack:
  username: ci-user
  access_key: ci-key

logging:
  level: debug
  format: text
  output: discard

mqtt:
  enabled: false

influxdb:
  enabled: false
`, cli, health.URL, tokens.URL, filepath.Join(h.dir, "logs", "percy.log"), h.dir)

	configPath := filepath.Join(h.dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("PERCY_SUPERVISOR_CONFIG", configPath)
	t.Setenv("PERCY_SERVER_ADDRESS", "")
	t.Setenv("BROWSERSTACK_USERNAME", "")
	t.Setenv("BROWSERSTACK_ACCESS_KEY", "")
	t.Setenv("PERCY_SUPERVISOR_BINARY", "")

	return h
}

func (h *harness) stops() int {
	data, err := os.ReadFile(filepath.Join(h.dir, "stops"))
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "stop")
}

// runAsync runs run(ctx) in a goroutine and returns its result channel.
func runAsync(ctx context.Context) <-chan error {
	result := make(chan error, 1)
	go func() { result <- run(ctx, "") }()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return within 15s")
		return nil
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("PERCY_SUPERVISOR_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, ""); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_TokenFailure(t *testing.T) {
	h := newHarness(t, "exec sleep 30", http.StatusUnauthorized)

	err := waitResult(t, runAsync(context.Background()))
	if !errors.Is(err, errStartFailed) {
		t.Fatalf("run() error = %v, want errStartFailed", err)
	}
	if _, statErr := os.Stat(filepath.Join(h.dir, "pid")); statErr == nil {
		t.Error("CLI was started despite token failure")
	}
}

func TestRun_StopsOnShutdown(t *testing.T) {
	h := newHarness(t, "exec sleep 30", http.StatusOK)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	result := runAsync(ctx)

	deadline := time.Now().Add(10 * time.Second)
	for h.healthy.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if h.healthy.Load() == 0 {
		t.Fatal("CLI never became healthy")
	}
	// Let Start return before requesting shutdown.
	time.Sleep(200 * time.Millisecond)
	cancel()

	if err := waitResult(t, result); err != nil {
		t.Fatalf("run() error = %v, want nil", err)
	}
	if h.stops() != 1 {
		t.Errorf("exec:stop invocations = %d, want 1", h.stops())
	}
}

func TestRun_UnexpectedExit(t *testing.T) {
	h := newHarness(t, "sleep 1; exit 3", http.StatusOK)

	err := waitResult(t, runAsync(context.Background()))
	if !errors.Is(err, errUnexpectedExit) {
		t.Fatalf("run() error = %v, want errUnexpectedExit", err)
	}
	if h.stops() != 1 {
		t.Errorf("exec:stop invocations = %d, want 1", h.stops())
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("PERCY_SUPERVISOR_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("PERCY_SUPERVISOR_CONFIG", "/etc/percy/config.yaml")
	if got := getConfigPath(); got != "/etc/percy/config.yaml" {
		t.Errorf("getConfigPath() = %q, want %q", got, "/etc/percy/config.yaml")
	}
}

func TestPercyConfig(t *testing.T) {
	cfg := &config.Config{
		Percy: config.PercyConfig{
			Binary:        "/usr/local/bin/percy",
			App:           "bs://app",
			ProjectName:   "checkout",
			CaptureMode:   "auto",
			Enabled:       true,
			ServerAddress: "http://127.0.0.1:9999",
			TokenURL:      "https://token.example",
			LogFile:       "logs/percy.log",
			TempDir:       "/tmp/percy",
			PollInterval:  2 * time.Second,
			StopTimeout:   3 * time.Second,
			Options:       map[string]any{"version": 2},
		},
		BrowserStack: config.BrowserStackConfig{Username: "u", AccessKey: "k"},
	}

	got := percyConfig(cfg)

	if got.Binary != cfg.Percy.Binary || got.App != cfg.Percy.App || got.ProjectName != cfg.Percy.ProjectName {
		t.Errorf("percyConfig() = %+v, identity fields not copied", got)
	}
	if got.Username != "u" || got.AccessKey != "k" {
		t.Errorf("credentials = %q/%q, want u/k", got.Username, got.AccessKey)
	}
	if got.ServerAddress != "http://127.0.0.1:9999" || got.PollInterval != 2*time.Second || got.StopTimeout != 3*time.Second {
		t.Errorf("percyConfig() = %+v, timing fields not copied", got)
	}
	if got.Options["version"] != 2 {
		t.Errorf("Options = %v, want version 2", got.Options)
	}
	if sessionType(cfg) != "app" {
		t.Errorf("sessionType() = %q, want app", sessionType(cfg))
	}
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "percy-supervisor dev") {
		t.Errorf("version output = %q, want percy-supervisor dev prefix", out.String())
	}
}

func TestHealthcheckCmd(t *testing.T) {
	h := newHarness(t, "exec sleep 30", http.StatusOK)
	configPath := os.Getenv("PERCY_SUPERVISOR_CONFIG")

	check := func() (string, error) {
		var out bytes.Buffer
		root := newRootCmd()
		root.SetOut(&out)
		root.SetArgs([]string{"healthcheck", "--config", configPath})
		err := root.ExecuteContext(context.Background())
		return out.String(), err
	}

	if _, err := check(); !errors.Is(err, percy.ErrUnhealthy) {
		t.Errorf("healthcheck before start error = %v, want ErrUnhealthy", err)
	}

	// The fake health server reports healthy once a pid file exists.
	if err := os.WriteFile(filepath.Join(h.dir, "pid"), []byte("1"), 0600); err != nil {
		t.Fatal(err)
	}
	out, err := check()
	if err != nil {
		t.Fatalf("healthcheck error = %v", err)
	}
	if !strings.Contains(out, "build 77") {
		t.Errorf("healthcheck output = %q, want build 77", out)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("PERCY_SUPERVISOR_CONFIG", "/from/env.yaml")

	if got := resolveConfigPath("/from/flag.yaml"); got != "/from/flag.yaml" {
		t.Errorf("resolveConfigPath(flag) = %q, want flag value", got)
	}
	if got := resolveConfigPath(""); got != "/from/env.yaml" {
		t.Errorf("resolveConfigPath(\"\") = %q, want env value", got)
	}
}

func TestHealthcheckCmd_WithoutCredentialsAndInflux(t *testing.T) {
	t.Setenv("PERCY_SERVER_ADDRESS", "")
	t.Setenv("BROWSERSTACK_USERNAME", "")
	t.Setenv("BROWSERSTACK_ACCESS_KEY", "")
	t.Setenv("PERCY_SUPERVISOR_INFLUXDB_TOKEN", "")

	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"build":{"id":5}}`))
	}))
	t.Cleanup(health.Close)

	var pings atomic.Int32
	influx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ping" {
			pings.Add(1)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(influx.Close)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`
percy:
  server_address: %q
influxdb:
  enabled: true
  url: %q
  token: dev
  org: ci
  bucket: percy
`, health.URL, influx.URL)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"healthcheck", "-c", configPath})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("healthcheck error = %v, output %q", err, out.String())
	}

	for _, want := range []string{"percy: healthy (build 5)", "influxdb: healthy"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output = %q, missing %q", out.String(), want)
		}
	}
	// Connect pings once and HealthCheck pings again.
	if got := pings.Load(); got < 2 {
		t.Errorf("influx pings = %d, want >= 2", got)
	}
}

func TestCheckHealth_InfluxDown(t *testing.T) {
	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"build":{"id":5}}`))
	}))
	t.Cleanup(health.Close)

	cfg := &config.Config{
		Percy: config.PercyConfig{ServerAddress: health.URL},
		InfluxDB: config.InfluxDBConfig{
			Enabled: true,
			URL:     "http://127.0.0.1:1",
			Org:     "ci",
			Bucket:  "percy",
		},
	}

	var out bytes.Buffer
	err := checkHealth(context.Background(), cfg, &out)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("checkHealth() error = %v, want ErrConnectionFailed", err)
	}
	if !strings.Contains(out.String(), "percy: healthy") || !strings.Contains(out.String(), "influxdb: unhealthy") {
		t.Errorf("output = %q, want healthy percy and unhealthy influxdb", out.String())
	}
}
