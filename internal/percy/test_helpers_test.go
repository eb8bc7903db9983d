package percy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	testUsername  = "ci-user"
	testAccessKey = "ci-key"
)

// fakeCLI is a shell script standing in for the Percy CLI.
//
// On [app:]exec:start it records its arguments, token and pid in dir, prints
// a line, then runs startBody. On exec:stop it kills the recorded pid and
// exits with stopCode.
type fakeCLI struct {
	dir  string
	path string
}

func newFakeCLI(t *testing.T, startBody string, stopCode int) *fakeCLI {
	t.Helper()
	dir := t.TempDir()
	script := fmt.Sprintf(`#!/bin/sh
case "$1" in
  exec:start|app:exec:start)
    echo "$*" > %[1]s/args
    echo "$PERCY_TOKEN" > %[1]s/token
    echo $$ > %[1]s/pid
    echo "percy cli started"
    %[2]s
    ;;
  exec:stop)
    echo stop >> %[1]s/stops
    if [ -f %[1]s/pid ]; then kill "$(cat %[1]s/pid)" 2>/dev/null; fi
    exit %[3]d
    ;;
esac
`, dir, startBody, stopCode)

	path := filepath.Join(dir, "percy")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil { //nolint:gosec // test executable
		t.Fatalf("writing fake cli: %v", err)
	}
	return &fakeCLI{dir: dir, path: path}
}

// read returns the trimmed content of a file the fake CLI wrote, or "" if absent.
func (f *fakeCLI) read(name string) string {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// started reports whether the fake CLI has reached its start body.
func (f *fakeCLI) started() bool {
	_, err := os.Stat(filepath.Join(f.dir, "pid"))
	return err == nil
}

// tokenServer is a fake BrowserStack project-token endpoint.
type tokenServer struct {
	*httptest.Server

	status   int
	response tokenResponse

	mu      sync.Mutex
	queries []string
}

func newTokenServer(t *testing.T, status int, response tokenResponse) *tokenServer {
	t.Helper()
	ts := &tokenServer{status: status, response: response}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.mu.Lock()
		ts.queries = append(ts.queries, r.URL.RawQuery)
		ts.mu.Unlock()

		user, pass, ok := r.BasicAuth()
		if !ok || user != testUsername || pass != testAccessKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(ts.status)
		_ = json.NewEncoder(w).Encode(ts.response)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) lastQuery() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.queries) == 0 {
		return ""
	}
	return ts.queries[len(ts.queries)-1]
}

// newHealthServer serves /percy/healthcheck with build id once ready returns true.
func newHealthServer(t *testing.T, buildID string, ready func() bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != healthcheckPath || !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"success":true,"build":{"id":%q,"number":1}}`, buildID)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// testConfig returns a Config pointing at the given servers with fast timings.
func testConfig(t *testing.T, cli *fakeCLI, tokenURL, serverAddress string) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		Username:      testUsername,
		AccessKey:     testAccessKey,
		TokenURL:      tokenURL,
		ServerAddress: serverAddress,
		LogFile:       filepath.Join(dir, "logs", "percy.log"),
		TempDir:       dir,
		PollInterval:  20 * time.Millisecond,
		StopTimeout:   2 * time.Second,
		TokenTimeout:  5 * time.Second,
		HealthTimeout: time.Second,
	}
	if cli != nil {
		cfg.Binary = cli.path
	}
	return cfg
}

// newTestPercy builds a facade and makes sure any CLI it starts is stopped.
func newTestPercy(t *testing.T, cfg Config) *Percy {
	t.Helper()
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		p.mu.RLock()
		proc := p.proc
		p.mu.RUnlock()
		if proc != nil {
			_ = proc.Stop()
		}
	})
	return p
}

// startWithin runs Start and fails the test if it does not return in time.
func startWithin(t *testing.T, p *Percy, ctx context.Context, timeout time.Duration) bool {
	t.Helper()
	result := make(chan bool, 1)
	go func() { result <- p.Start(ctx) }()

	select {
	case ok := <-result:
		return ok
	case <-time.After(timeout):
		t.Fatalf("Start() did not return within %v", timeout)
		return false
	}
}

// recordingNotifier collects events in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recordingNotifier) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func containsEvent(types []EventType, want EventType) bool {
	for _, got := range types {
		if got == want {
			return true
		}
	}
	return false
}
