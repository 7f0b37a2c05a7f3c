// Package logging provides structured logging for the telemetry agent.
//
// This package wraps Go's standard log/slog package so every component
// logs through the same handler with the same default fields.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//   - A telemetry.Sink adapter for pipeline error events
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
//	logger := logging.New(cfg.Logging, version)
//	tier.SetLogger(logger.Component("buffer"))
//	tier.SetSink(logger.Sink())
//
// # Security
//
// Never log the SAS token, InfluxDB token or the history session cookie.
package logging
