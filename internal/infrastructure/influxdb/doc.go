// Package influxdb records Percy supervisor metrics in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every session
// lifecycle event becomes a point in the percy_lifecycle measurement, so
// start-up latency, token failures and CLI exit codes can be charted
// across CI runs. A percy_session point tracks whether the CLI is up.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteLifecycle(influxdb.Lifecycle{
//	    Event:     "healthy",
//	    SessionID: sessionID,
//	    Duration:  time.Since(start),
//	})
//
// Writes are non-blocking and batched (batch_size, flush_interval).
// Asynchronous write errors are delivered to the SetOnError callback.
package influxdb
