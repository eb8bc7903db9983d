package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/percy-supervisor/internal/infrastructure/influxdb"
	"github.com/nerrad567/percy-supervisor/internal/infrastructure/logging"
	"github.com/nerrad567/percy-supervisor/internal/infrastructure/mqtt"
	"github.com/nerrad567/percy-supervisor/internal/percy"
)

// eventPublisher is the part of the MQTT client the forwarder needs.
type eventPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// metricsWriter is the part of the InfluxDB client the forwarder needs.
type metricsWriter interface {
	WriteLifecycle(l influxdb.Lifecycle)
	WriteSessionUp(sessionID string, running bool)
}

// eventForwarder implements percy.Notifier. It fans lifecycle events out to
// MQTT and InfluxDB (either may be nil) and signals when the CLI exits.
type eventForwarder struct {
	snapshot    func() percy.Session
	sessionType string

	publisher eventPublisher
	metrics   metricsWriter
	log       *logging.Logger

	exitOnce sync.Once
	exitCh   chan struct{}
}

func newEventForwarder(snapshot func() percy.Session, sessionType string) *eventForwarder {
	return &eventForwarder{
		snapshot:    snapshot,
		sessionType: sessionType,
		exitCh:      make(chan struct{}),
	}
}

// exited is closed once the supervised CLI process has exited.
func (f *eventForwarder) exited() <-chan struct{} {
	return f.exitCh
}

// Notify implements percy.Notifier.
func (f *eventForwarder) Notify(_ context.Context, event percy.Event) error {
	if event.Type == percy.EventProcessExited {
		f.exitOnce.Do(func() { close(f.exitCh) })
	}

	if f.log != nil {
		f.log.Debug("percy lifecycle event", "event", event.Type, "exit_code", event.ExitCode)
	}

	session := f.snapshot()

	if f.metrics != nil {
		f.metrics.WriteLifecycle(influxdb.Lifecycle{
			Event:       string(event.Type),
			SessionID:   event.SessionID,
			SessionType: f.sessionType,
			CaptureMode: event.CaptureMode,
			BuildID:     event.BuildID,
			Duration:    event.Duration,
			ExitCode:    event.ExitCode,
			Failed:      isFailure(event),
			Timestamp:   event.Timestamp,
		})
		f.metrics.WriteSessionUp(event.SessionID, session.Running)
	}

	if f.publisher == nil {
		return nil
	}

	topics := mqtt.Topics{}
	var errs []error
	if err := f.publisher.PublishJSON(topics.SessionEvent(event.SessionID, string(event.Type)), event, false); err != nil {
		errs = append(errs, err)
	}
	if err := f.publisher.PublishJSON(topics.SessionState(event.SessionID), session, true); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// isFailure reports whether an event marks a failed transition.
func isFailure(event percy.Event) bool {
	switch event.Type {
	case percy.EventTokenFailed, percy.EventStartFailed:
		return true
	case percy.EventProcessExited, percy.EventStopped:
		return event.ExitCode != 0 || event.Error != ""
	default:
		return false
	}
}

// commandStop is the only remote command the supervisor accepts.
const commandStop = "stop"

// commandHandler returns the MQTT handler for the supervisor's command topic.
func commandHandler(log *logging.Logger, requestStop func()) mqtt.MessageHandler {
	return func(topic string, payload []byte) error {
		command := strings.ToLower(strings.TrimSpace(string(payload)))
		if command != commandStop {
			return fmt.Errorf("unknown command %q on %s", command, topic)
		}
		log.Info("stop requested over MQTT", "topic", topic)
		requestStop()
		return nil
	}
}
