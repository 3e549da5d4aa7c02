// Package logging provides structured logging for accessd.
//
// It wraps the standard log/slog package so every component logs with the
// same handler, level and default fields (service, version).
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	dispatchLog := logger.Component("dispatch")
//	dispatchLog.Info("worker pool started", "workers", 16)
//
// Never log secrets, JWTs, or whitelist card numbers in full.
package logging
