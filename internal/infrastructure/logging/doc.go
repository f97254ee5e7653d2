// Package logging provides structured logging for the harness.
//
// This package wraps Go's standard log/slog package so the CLI, relay and
// transport share one output format and one set of default fields.
//
// # Configuration
//
// Logging is configured via the LoggingConfig in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("database opened", "path", cfg.Database.Path)
//	logger.Error("finalize failed", "error", err)
//
// Never log broker passwords or InfluxDB tokens.
package logging
