package mqtt

import "fmt"

// TopicPrefix is the root of every topic the supervisor publishes or listens on.
const TopicPrefix = "percy-supervisor"

// Topics provides builders for supervisor MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.SessionEvent("3f2b...", "healthy")
//	// Returns: "percy-supervisor/session/3f2b.../event/healthy"
type Topics struct{}

// SupervisorStatus returns the retained online/offline topic for one supervisor.
// The broker publishes the Last Will here if the supervisor drops off.
//
// Example: percy-supervisor/ci-runner-7/status
func (Topics) SupervisorStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefix, clientID)
}

// SupervisorCommand returns the topic on which a supervisor accepts remote commands.
//
// Example: percy-supervisor/ci-runner-7/command
func (Topics) SupervisorCommand(clientID string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefix, clientID)
}

// SessionState returns the retained state topic for a Percy session.
//
// Example: percy-supervisor/session/3f2b.../state
func (Topics) SessionState(sessionID string) string {
	return fmt.Sprintf("%s/session/%s/state", TopicPrefix, sessionID)
}

// SessionEvent returns the topic for one lifecycle event of a session.
//
// Example: percy-supervisor/session/3f2b.../event/process_exited
func (Topics) SessionEvent(sessionID, eventType string) string {
	return fmt.Sprintf("%s/session/%s/event/%s", TopicPrefix, sessionID, eventType)
}
