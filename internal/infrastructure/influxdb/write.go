package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementLifecycle = "percy_lifecycle"
	measurementSession   = "percy_session"
)

// Lifecycle is one session transition to be recorded.
//
// Low-cardinality values (event, session type, capture mode) become tags;
// the session id and numeric values are fields.
type Lifecycle struct {
	Event       string
	SessionID   string
	SessionType string
	CaptureMode string
	BuildID     int64
	Duration    time.Duration
	ExitCode    int
	Failed      bool
	Timestamp   time.Time
}

// WriteLifecycle records a session lifecycle event.
// It is a no-op when the client is not connected.
func (c *Client) WriteLifecycle(l Lifecycle) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(lifecyclePoint(l))
}

// lifecyclePoint builds the point for l. A zero Timestamp means now.
func lifecyclePoint(l Lifecycle) *write.Point {
	ts := l.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	tags := map[string]string{"event": l.Event}
	if l.SessionType != "" {
		tags["session_type"] = l.SessionType
	}
	if l.CaptureMode != "" {
		tags["capture_mode"] = l.CaptureMode
	}

	fields := map[string]interface{}{
		"session_id": l.SessionID,
		"exit_code":  l.ExitCode,
		"failed":     l.Failed,
	}
	if l.Duration > 0 {
		fields["duration_ms"] = l.Duration.Milliseconds()
	}
	if l.BuildID != 0 {
		fields["build_id"] = l.BuildID
	}

	return write.NewPoint(measurementLifecycle, tags, fields, ts)
}

// WriteSessionUp records whether the supervised CLI is running, for uptime panels.
func (c *Client) WriteSessionUp(sessionID string, running bool) {
	if !c.IsConnected() {
		return
	}

	up := 0
	if running {
		up = 1
	}

	c.writeAPI.WritePoint(write.NewPoint(
		measurementSession,
		map[string]string{},
		map[string]interface{}{
			"session_id": sessionID,
			"up":         up,
		},
		time.Now(),
	))
}
