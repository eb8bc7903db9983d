package percy

import (
	"context"
	"time"
)

// EventType identifies a lifecycle transition of a Percy session.
type EventType string

const (
	EventTokenFetched   EventType = "token_fetched"
	EventTokenFailed    EventType = "token_failed"
	EventProcessStarted EventType = "process_started"
	EventProcessExited  EventType = "process_exited"
	EventHealthy        EventType = "healthy"
	EventStartFailed    EventType = "start_failed"
	EventStopped        EventType = "stopped"
)

// Event describes one lifecycle transition.
// SessionID and Timestamp are filled in by the facade.
type Event struct {
	Type        EventType     `json:"type"`
	SessionID   string        `json:"session_id"`
	BuildID     int64         `json:"build_id,omitempty"`
	CaptureMode string        `json:"capture_mode,omitempty"`
	Duration    time.Duration `json:"duration_ns,omitempty"`
	ExitCode    int           `json:"exit_code"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Notifier receives lifecycle events.
//
// Notify is called synchronously from Start, Stop and the process exit
// handler; implementations should not block for long. Errors are logged
// and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// emit stamps the event and hands it to the notifier, if one is set.
func (p *Percy) emit(ctx context.Context, event Event) {
	if p.notifier == nil {
		return
	}

	event.SessionID = p.sessionID
	event.Timestamp = time.Now().UTC()

	if err := p.notifier.Notify(ctx, event); err != nil {
		p.logger.Warn("percy event not delivered", "event", event.Type, "error", err)
	}
}
