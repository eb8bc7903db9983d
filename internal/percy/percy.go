package percy

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/percy-supervisor/internal/infrastructure/config"
	"github.com/nerrad567/percy-supervisor/internal/process"
)

// CLI subcommands.
const (
	cmdStart    = "exec:start"
	cmdAppStart = "app:exec:start"
	cmdStop     = "exec:stop"
)

// tokenEnvVar carries the project token into the CLI's environment.
const tokenEnvVar = "PERCY_TOKEN"

// serverAddressEnvVar overrides the local server address when
// Config.ServerAddress is empty. It is read once, by New.
const serverAddressEnvVar = "PERCY_SERVER_ADDRESS"

// Config holds the configuration for a Percy session.
type Config struct {
	// Binary is the CLI path used by the default LocalBinary provider.
	// Empty means "percy" on PATH.
	Binary string

	// App is the app-under-test identifier; non-empty makes this an app session.
	App string

	ProjectName string
	CaptureMode string

	// Enabled reports whether the user explicitly enabled Percy.
	Enabled bool

	// BrowserStack account credentials for the token request.
	Username  string
	AccessKey string

	ServerAddress string
	TokenURL      string
	LogFile       string
	TempDir       string

	PollInterval  time.Duration
	StopTimeout   time.Duration
	TokenTimeout  time.Duration
	HealthTimeout time.Duration

	// Options is written to percy.json; nil means no config file.
	Options map[string]any
}

// applyDefaults fills zero values from the environment and the package defaults.
func (c *Config) applyDefaults() {
	if c.ServerAddress == "" {
		c.ServerAddress = os.Getenv(serverAddressEnvVar)
	}
	if c.ServerAddress == "" {
		c.ServerAddress = config.DefaultServerAddress
	}
	if c.TokenURL == "" {
		c.TokenURL = config.DefaultTokenURL
	}
	if c.LogFile == "" {
		c.LogFile = config.DefaultLogFile
	}
	if c.PollInterval <= 0 {
		c.PollInterval = config.DefaultPollInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = config.DefaultStopTimeout
	}
	if c.TokenTimeout <= 0 {
		c.TokenTimeout = config.DefaultTokenTimeout
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = config.DefaultHealthTimeout
	}
}

// Validate checks that the session can talk to the vendor API.
func (c Config) Validate() error {
	var errs []string
	if c.Username == "" {
		errs = append(errs, "username is required")
	}
	if c.AccessKey == "" {
		errs = append(errs, "access key is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// targetsApp reports whether the session runs against a mobile app.
func (c Config) targetsApp() bool {
	return c.App != ""
}

// Logger defines the logging interface for the Percy facade.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Session is a point-in-time copy of the facade's state.
type Session struct {
	SessionID   string `json:"session_id"`
	Running     bool   `json:"running"`
	BuildID     int64  `json:"build_id,omitempty"`
	HasBuildID  bool   `json:"has_build_id"`
	CaptureMode string `json:"capture_mode,omitempty"`
	AutoEnabled bool   `json:"auto_enabled"`
	Enabled     bool   `json:"enabled"`
}

// Percy supervises one Percy CLI process.
//
// At most one CLI process is live per Percy value. Start and Stop are meant
// to be driven by a single caller; state accessors are safe from any goroutine.
type Percy struct {
	config     Config
	logger     Logger
	httpClient *http.Client
	binaries   BinaryProvider
	notifier   Notifier
	sessionID  string

	binaryMu   sync.Mutex
	binaryPath string

	mu          sync.RWMutex
	proc        *process.Manager
	running     bool
	buildID     int64
	hasBuildID  bool
	captureMode string
	autoEnabled bool
	enabled     bool
}

// New creates a Percy facade. No network or process activity happens until Start.
func New(cfg Config) (*Percy, error) {
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Percy{
		config:     cfg,
		logger:     noopLogger{},
		httpClient: &http.Client{},
		binaries:   LocalBinary{Path: cfg.Binary},
		sessionID:  uuid.NewString(),
		enabled:    cfg.Enabled,
	}, nil
}

// SetLogger sets the logger for the facade and the processes it spawns.
func (p *Percy) SetLogger(logger Logger) {
	p.logger = logger
}

// SetBinaryProvider replaces the default LocalBinary provider.
func (p *Percy) SetBinaryProvider(provider BinaryProvider) {
	p.binaries = provider
}

// SetHTTPClient replaces the client used for the token and health requests.
func (p *Percy) SetHTTPClient(client *http.Client) {
	p.httpClient = client
}

// SetNotifier sets the receiver of lifecycle events.
func (p *Percy) SetNotifier(notifier Notifier) {
	p.notifier = notifier
}

// Start brings the Percy CLI up and blocks until its server is healthy.
//
// It returns true only if the health check succeeds before the CLI exits.
// It returns false, without spawning anything, when the binary cannot be
// resolved or no token can be fetched. ctx bounds the start-up work; the
// CLI itself keeps running after ctx is cancelled until Stop.
func (p *Percy) Start(ctx context.Context) bool {
	if p.IsRunning() {
		p.logger.Warn("percy is already running")
		return false
	}

	startedAt := time.Now()

	binary, err := p.resolveBinary(ctx)
	if err != nil {
		p.logger.Error("percy unable to resolve binary", "error", err)
		p.emit(ctx, Event{Type: EventStartFailed, Error: err.Error()})
		return false
	}

	token, err := p.fetchToken(ctx)
	if err != nil {
		p.logger.Error("percy unable to fetch project token", "error", err)
		p.emit(ctx, Event{Type: EventTokenFailed, Error: err.Error()})
		return false
	}
	p.emit(ctx, Event{
		Type:        EventTokenFetched,
		CaptureMode: p.CaptureMode(),
		Duration:    time.Since(startedAt),
	})

	configPath, hasConfig := p.writeConfig()
	args := p.startArgs(configPath, hasConfig)

	var proc *process.Manager
	proc = process.NewManager(process.Config{
		Name:            "percy",
		Binary:          binary,
		Args:            args,
		Env:             []string{tokenEnvVar + "=" + token},
		OutputFile:      p.config.LogFile,
		GracefulTimeout: p.config.StopTimeout,
		// OnStart runs before the exit monitor exists, so the flag can
		// never be set after the exit handler has cleared it.
		OnStart: func() {
			p.mu.Lock()
			p.proc = proc
			p.running = true
			p.mu.Unlock()
		},
		OnExit: func(exitErr error) {
			p.handleExit(proc, exitErr)
		},
	})
	proc.SetLogger(p.logger)

	p.logger.Info("starting percy", "binary", binary, "args", args, "log_file", p.config.LogFile)

	if err := proc.Start(context.WithoutCancel(ctx)); err != nil {
		p.logger.Error("percy unable to start", "error", err)
		p.emit(ctx, Event{Type: EventStartFailed, Error: err.Error()})
		return false
	}
	p.emit(ctx, Event{Type: EventProcessStarted})

	if !p.awaitHealthy(ctx, proc.Done()) {
		p.emit(ctx, Event{
			Type:     EventStartFailed,
			Duration: time.Since(startedAt),
			Error:    "percy did not become healthy",
		})
		return false
	}

	buildID, _ := p.BuildID()
	p.logger.Info("percy is ready", "build_id", buildID, "pid", proc.PID())
	p.emit(ctx, Event{
		Type:        EventHealthy,
		BuildID:     buildID,
		CaptureMode: p.CaptureMode(),
		Duration:    time.Since(startedAt),
	})

	return true
}

// startArgs returns the CLI arguments for starting the server.
func (p *Percy) startArgs(configPath string, hasConfig bool) []string {
	args := []string{cmdStart}
	if p.config.targetsApp() {
		args[0] = cmdAppStart
	}
	if hasConfig {
		args = append(args, "-c", configPath)
	}
	return args
}

// handleExit clears the running flag when the CLI process exits.
func (p *Percy) handleExit(proc *process.Manager, exitErr error) {
	p.mu.Lock()
	if p.proc == proc {
		p.running = false
	}
	p.mu.Unlock()

	exitCode := proc.ExitCode()
	if exitErr != nil {
		p.logger.Warn("percy process exited", "exit_code", exitCode, "error", exitErr)
	} else {
		p.logger.Info("percy process exited", "exit_code", exitCode)
	}

	event := Event{Type: EventProcessExited, ExitCode: exitCode}
	if exitErr != nil {
		event.Error = exitErr.Error()
	}
	p.emit(context.Background(), event)
}

// Healthcheck performs one request against the local health endpoint.
// On success it records the reported build id. Failures are logged at
// debug level and reported as false.
func (p *Percy) Healthcheck(ctx context.Context) bool {
	buildID, err := p.checkHealth(ctx)
	if err != nil {
		p.logger.Debug("percy healthcheck failed", "error", err)
		return false
	}

	p.mu.Lock()
	p.buildID = buildID
	p.hasBuildID = true
	p.mu.Unlock()

	return true
}

// Stop runs "percy exec:stop" and returns its exit code.
//
// The running flag is cleared whatever the outcome. If the supervised CLI
// has not exited within StopTimeout after the stop command, it is signalled
// directly so that no process is left behind. The returned error is non-nil
// only when the stop command could not be run.
func (p *Percy) Stop(ctx context.Context) (int, error) {
	stoppedAt := time.Now()

	exitCode, err := p.runStop(ctx)

	p.mu.Lock()
	p.running = false
	proc := p.proc
	p.mu.Unlock()

	if proc != nil {
		p.reap(proc)
	}

	event := Event{Type: EventStopped, ExitCode: exitCode, Duration: time.Since(stoppedAt)}
	if err != nil {
		p.logger.Error("percy unable to stop", "error", err)
		event.Error = err.Error()
	} else {
		p.logger.Info("percy stopped", "exit_code", exitCode)
	}
	p.emit(ctx, event)

	return exitCode, err
}

// runStop executes the CLI's stop subcommand.
func (p *Percy) runStop(ctx context.Context) (int, error) {
	binary, err := p.resolveBinary(ctx)
	if err != nil {
		return -1, err
	}

	return process.Run(ctx, process.Config{
		Name:       "percy-stop",
		Binary:     binary,
		Args:       []string{cmdStop},
		OutputFile: p.config.LogFile,
	})
}

// reap waits for the supervised CLI to exit and kills it if it lingers.
func (p *Percy) reap(proc *process.Manager) {
	if !proc.IsRunning() {
		return
	}

	select {
	case <-proc.Done():
		return
	case <-time.After(p.config.StopTimeout):
	}

	p.logger.Warn("percy still running after exec:stop, terminating", "pid", proc.PID())
	if err := proc.Stop(); err != nil {
		p.logger.Error("percy process could not be terminated", "error", err)
	}
}

// IsRunning reports whether the CLI process is running.
func (p *Percy) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// BuildID returns the build id from the last successful health check.
func (p *Percy) BuildID() (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.buildID, p.hasBuildID
}

// CaptureMode returns the capture mode reported by the vendor.
func (p *Percy) CaptureMode() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.captureMode
}

// AutoEnabled reports whether the vendor enabled Percy without an explicit opt-in.
func (p *Percy) AutoEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoEnabled
}

// SessionID returns the identifier attached to this facade's events.
func (p *Percy) SessionID() string {
	return p.sessionID
}

// Session returns a snapshot of the session state.
func (p *Percy) Session() Session {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return Session{
		SessionID:   p.sessionID,
		Running:     p.running,
		BuildID:     p.buildID,
		HasBuildID:  p.hasBuildID,
		CaptureMode: p.captureMode,
		AutoEnabled: p.autoEnabled,
		Enabled:     p.enabled,
	}
}
