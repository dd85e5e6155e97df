package security

import (
	"github.com/promptcraft/promptcraft-hybrid/models"
)

// Convenience methods for logging common events

// RecordLoginFailure logs a failed authentication attempt
func (s *SecurityLogger) RecordLoginFailure(userID, ipAddress, userAgent, reason string) error {
	event := models.NewSecurityEvent(models.EventTypeLoginFailure, "").
		WithUser(userID).
		WithRequest(ipAddress, userAgent, "").
		WithSource("auth").
		WithMessage("authentication failed").
		WithRiskScore(20).
		WithDetails(map[string]interface{}{"reason": reason})

	return s.LogEvent(event)
}

// RecordLoginSuccess logs a successful authentication
func (s *SecurityLogger) RecordLoginSuccess(userID, ipAddress, userAgent, sessionID string) error {
	event := models.NewSecurityEvent(models.EventTypeLoginSuccess, "").
		WithUser(userID).
		WithRequest(ipAddress, userAgent, sessionID).
		WithSource("auth").
		WithMessage("authentication succeeded")

	return s.LogEvent(event)
}

// RecordPermissionDenied logs an authenticated request rejected for lack of a role
func (s *SecurityLogger) RecordPermissionDenied(userID, ipAddress, resource, requiredRole string) error {
	event := models.NewSecurityEvent(models.EventTypePermissionDenied, "").
		WithUser(userID).
		WithRequest(ipAddress, "", "").
		WithSource("authz").
		WithMessage("permission denied").
		WithRiskScore(40).
		WithDetails(map[string]interface{}{
			"resource":      resource,
			"required_role": requiredRole,
		})

	return s.LogEvent(event)
}

// RecordRateLimitExceeded logs a client exceeding its request allowance
func (s *SecurityLogger) RecordRateLimitExceeded(userID, ipAddress, endpoint string, limit int) error {
	event := models.NewSecurityEvent(models.EventTypeRateLimitExceeded, "").
		WithUser(userID).
		WithRequest(ipAddress, "", "").
		WithSource("ratelimit").
		WithMessage("rate limit exceeded").
		WithRiskScore(30).
		WithDetails(map[string]interface{}{
			"endpoint": endpoint,
			"limit":    limit,
		})

	return s.LogEvent(event)
}

// RecordConfigChanged logs an operator action that changed stored state or settings
func (s *SecurityLogger) RecordConfigChanged(actor, ipAddress, message string, details map[string]interface{}) error {
	event := models.NewSecurityEvent(models.EventTypeConfigChanged, "").
		WithUser(actor).
		WithRequest(ipAddress, "", "").
		WithSource("admin").
		WithMessage(message).
		WithDetails(details)

	return s.LogEvent(event)
}
