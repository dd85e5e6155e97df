// Package observability provides structured logging and metrics for the
// PromptCraft service.
//
// This package implements:
//   - zap logger construction from configuration (level, json or console)
//   - a rotating JSON-lines sink for security events (lumberjack)
//   - a Prometheus registry with security event, alert and HTTP metrics
package observability
