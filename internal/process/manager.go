package process

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusFailed  Status = "failed"
)

const defaultGracefulTimeout = 10 * time.Second

// Config describes one supervised command.
type Config struct {
	// Name identifies the process in log lines.
	Name string

	Binary string
	Args   []string

	// Env entries (KEY=value) are appended to the parent environment.
	// nil inherits the parent environment unchanged.
	Env []string

	// WorkDir defaults to the parent's working directory.
	WorkDir string

	// OutputFile receives stdout and stderr in append mode; its directory
	// is created on demand. Empty forwards output lines to the logger at
	// debug level.
	OutputFile string

	// GracefulTimeout is the SIGTERM to SIGKILL grace period used by Stop.
	GracefulTimeout time.Duration

	// OnStart runs once the process has been spawned, before any exit can
	// be observed.
	OnStart func()

	// OnExit runs exactly once per run with the error from exec.Cmd.Wait,
	// before Done is closed.
	OnExit func(err error)
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager runs a single subprocess at a time.
//
// Each run gets a fresh Done channel. A monitor goroutine is the only
// writer of the exit state: it records the outcome, calls OnExit and then
// closes Done.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	exitCode      int
	stopRequested bool
	done          chan struct{}
}

// NewManager creates a manager for cfg. Nothing is started.
func NewManager(cfg Config) *Manager {
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	return &Manager{
		config:   cfg,
		logger:   noopLogger{},
		status:   StatusStopped,
		exitCode: -1,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start spawns the process and returns once it is running.
//
// Cancelling ctx kills the process. A spawn failure leaves the manager in
// StatusFailed with Done already closed.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.config.Name)
	}
	m.stopRequested = false
	m.exitCode = -1
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("starting process", "name", m.config.Name, "binary", m.config.Binary, "args", m.config.Args)

	cmd := buildCommand(ctx, m.config)
	setProcessGroup(cmd)

	out, err := m.attachOutput(cmd)
	if err == nil {
		err = cmd.Start()
		if err != nil {
			out.close()
			err = fmt.Errorf("starting %s: %w", m.config.Name, err)
		}
	}
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		close(m.done)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.mu.Unlock()

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)
	if m.config.OnStart != nil {
		m.config.OnStart()
	}

	go m.monitor(cmd, out)
	return nil
}

// monitor reaps cmd and publishes its outcome. Piped output is drained
// before Wait, which closes the pipes.
func (m *Manager) monitor(cmd *exec.Cmd, out *output) {
	out.drain()
	err := cmd.Wait()
	if closeErr := out.close(); closeErr != nil {
		m.logger.Warn("closing process output file", "name", m.config.Name, "error", closeErr)
	}

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	m.mu.Lock()
	requested := m.stopRequested
	m.exitCode = code
	m.status = StatusExited
	if requested {
		m.status = StatusStopped
	}
	done := m.done
	m.mu.Unlock()

	if requested {
		m.logger.Info("process stopped as requested", "name", m.config.Name)
	} else {
		m.logger.Warn("process exited", "name", m.config.Name, "exit_code", code, "error", err)
	}

	if m.config.OnExit != nil {
		m.config.OnExit(err)
	}
	close(done)
}

// Done returns a channel closed when the current run ends (or failed to
// start). It is nil before the first Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Stop terminates the process group: SIGTERM, then SIGKILL once
// GracefulTimeout has passed. It returns after Done is closed. Stopping a
// process that is not running is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status != StatusRunning || m.cmd == nil || m.cmd.Process == nil {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	pid := m.cmd.Process.Pid
	done := m.done
	m.mu.Unlock()

	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)
	return m.terminate(pid, done)
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// ExitCode returns the exit code of the last run, or -1 while running,
// before the first run, or after death by signal.
func (m *Manager) ExitCode() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exitCode
}

// PID returns the process ID, or 0 if never started.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cmd == nil || m.cmd.Process == nil {
		return 0
	}
	return m.cmd.Process.Pid
}
