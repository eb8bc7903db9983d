// Package mqtt connects the supervisor to an MQTT broker.
//
// The broker is an optional event bus: the supervisor publishes Percy
// session lifecycle events and a retained session state so that CI
// dashboards and other runners can follow a session without polling.
//
// This package manages:
//   - Connection with auto-reconnect and exponential backoff
//   - Publishing with QoS guarantees
//   - A remote command subscription, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
//	percy-supervisor/{client_id}/status                 retained online/offline (LWT)
//	percy-supervisor/{client_id}/command                inbound commands ("stop")
//	percy-supervisor/session/{session_id}/state         retained session snapshot
//	percy-supervisor/session/{session_id}/event/{type}  lifecycle events
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.SessionEvent(sessionID, "healthy")
//	err = client.PublishJSON(topic, event, false)
package mqtt
