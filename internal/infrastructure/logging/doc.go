// Package logging provides structured logging for the Percy supervisor.
//
// This package wraps Go's standard log/slog package so every component
// (process manager, Percy facade, MQTT and InfluxDB clients) logs through
// one handler with the same default fields.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("percy started", "pid", pid)
//	logger.Error("percy unable to fetch project token", "error", err)
//
// # Security
//
// Never log the Percy token or the BrowserStack access key.
// Log a length instead:
//
//	logger.Debug("percy token fetched", "token_length", len(token))
package logging
