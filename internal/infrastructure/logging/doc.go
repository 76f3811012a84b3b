// Package logging provides structured logging for the hub.
//
// It wraps log/slog with JSON output for production, text output for
// development, level filtering and the default fields service and version.
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
//	states.SetLogger(logger.Component("state"))
//	logger.Info("listening", "addr", addr)
//
// Never log access tokens, client secrets or passwords.
package logging
