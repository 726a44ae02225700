// Package logging provides structured logging for homely-sync.
//
// It wraps log/slog so every record carries the service name and build
// version, and so a single *Logger satisfies the narrow Logger interfaces
// the domain packages declare.
//
// Configuration (config.yaml):
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("supervisor").Warn("reconnect failed", "attempt", 12)
//
// Never log access tokens or passwords.
package logging
