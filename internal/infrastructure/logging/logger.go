package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/percy-supervisor/internal/infrastructure/config"
)

// serviceName is attached to every log entry.
const serviceName = "percy-supervisor"

// Logger is the supervisor's structured logger.
//
// It satisfies the Debug/Info/Warn/Error interfaces of the process, percy
// and mqtt packages, so one Logger is handed to every component.
type Logger struct {
	*slog.Logger
}

// New builds the logger described by the logging section, tagged with the
// build version.
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWithWriter(cfg, version, outputWriter(cfg.Output))
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	}))}
}

// outputWriter maps logging.output to a writer. CI runners usually want
// stdout; "discard" silences the supervisor entirely.
func outputWriter(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr
	case "discard", "none":
		return io.Discard
	default:
		return os.Stdout
	}
}

// parseLevel maps logging.level to a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a Logger that adds args to every entry, e.g. the session id:
//
//	sessionLog := log.With("session_id", session.SessionID())
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger used until the config file has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
