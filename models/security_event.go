package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType represents the kind of security-relevant occurrence being recorded
type EventType string

const (
	EventTypeLoginSuccess        EventType = "login_success"
	EventTypeLoginFailure        EventType = "login_failure"
	EventTypeLogout              EventType = "logout"
	EventTypeSessionExpired      EventType = "session_expired"
	EventTypeBruteForceAttempt   EventType = "brute_force_attempt"
	EventTypeRateLimitExceeded   EventType = "rate_limit_exceeded"
	EventTypeSuspiciousActivity  EventType = "suspicious_activity"
	EventTypeAccountLockout      EventType = "account_lockout"
	EventTypeAccountUnlock       EventType = "account_unlock"
	EventTypePermissionDenied    EventType = "permission_denied"
	EventTypeServiceTokenCreated EventType = "service_token_created"
	EventTypeServiceTokenUsed    EventType = "service_token_used"
	EventTypeServiceTokenRevoked EventType = "service_token_revoked"
	EventTypeConfigChanged       EventType = "config_changed"
)

// defaultSeverities maps every known event type to the severity it is
// recorded with when the caller does not choose one.
var defaultSeverities = map[EventType]Severity{
	EventTypeLoginSuccess:        SeverityInfo,
	EventTypeLoginFailure:        SeverityWarning,
	EventTypeLogout:              SeverityInfo,
	EventTypeSessionExpired:      SeverityInfo,
	EventTypeBruteForceAttempt:   SeverityCritical,
	EventTypeRateLimitExceeded:   SeverityWarning,
	EventTypeSuspiciousActivity:  SeverityCritical,
	EventTypeAccountLockout:      SeverityCritical,
	EventTypeAccountUnlock:       SeverityInfo,
	EventTypePermissionDenied:    SeverityWarning,
	EventTypeServiceTokenCreated: SeverityInfo,
	EventTypeServiceTokenUsed:    SeverityInfo,
	EventTypeServiceTokenRevoked: SeverityWarning,
	EventTypeConfigChanged:       SeverityInfo,
}

// AllEventTypes returns every known event type in a stable order
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeLoginSuccess,
		EventTypeLoginFailure,
		EventTypeLogout,
		EventTypeSessionExpired,
		EventTypeBruteForceAttempt,
		EventTypeRateLimitExceeded,
		EventTypeSuspiciousActivity,
		EventTypeAccountLockout,
		EventTypeAccountUnlock,
		EventTypePermissionDenied,
		EventTypeServiceTokenCreated,
		EventTypeServiceTokenUsed,
		EventTypeServiceTokenRevoked,
		EventTypeConfigChanged,
	}
}

// IsValid reports whether t is a known event type
func (t EventType) IsValid() bool {
	_, ok := defaultSeverities[t]
	return ok
}

// DefaultSeverity returns the severity normally associated with the event type
func (t EventType) DefaultSeverity() Severity {
	if s, ok := defaultSeverities[t]; ok {
		return s
	}
	return SeverityInfo
}

// Severity is the operator-facing importance of a security event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: info < warning < critical. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

// IsValid reports whether s is a known severity
func (s Severity) IsValid() bool {
	return s.Rank() > 0
}

// AtLeast reports whether s is as severe as min
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// ParseSeverity parses a severity name case-insensitively
func ParseSeverity(value string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(value)))
	if !s.IsValid() {
		return "", fmt.Errorf("unknown severity: %q", value)
	}
	return s, nil
}

// SeveritiesAtLeast returns all severities ranked at or above min
func SeveritiesAtLeast(min Severity) []Severity {
	var out []Severity
	for _, s := range []Severity{SeverityInfo, SeverityWarning, SeverityCritical} {
		if s.AtLeast(min) {
			out = append(out, s)
		}
	}
	return out
}

// SecurityEvent is a structured record of an authentication or
// security-relevant occurrence.
type SecurityEvent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	EventType EventType       `json:"event_type" db:"event_type"`
	Severity  Severity        `json:"severity" db:"severity"`
	UserID    string          `json:"user_id,omitempty" db:"user_id"`
	IPAddress string          `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string          `json:"user_agent,omitempty" db:"user_agent"`
	SessionID string          `json:"session_id,omitempty" db:"session_id"`
	Source    string          `json:"source" db:"source"` // component that reported the event
	Message   string          `json:"message,omitempty" db:"message"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"` // JSON object
	RiskScore int             `json:"risk_score" db:"risk_score"`     // 0-100
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the SecurityEvent model
func (SecurityEvent) TableName() string {
	return "security_events"
}

// NewSecurityEvent creates a new SecurityEvent. An empty severity falls back
// to the event type's default.
func NewSecurityEvent(eventType EventType, severity Severity) *SecurityEvent {
	if severity == "" {
		severity = eventType.DefaultSeverity()
	}
	return &SecurityEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Severity:  severity,
		Source:    "api",
		Timestamp: time.Now().UTC(),
	}
}

// WithUser sets the acting user
func (e *SecurityEvent) WithUser(userID string) *SecurityEvent {
	e.UserID = userID
	return e
}

// WithRequest sets request metadata
func (e *SecurityEvent) WithRequest(ipAddress, userAgent, sessionID string) *SecurityEvent {
	e.IPAddress = ipAddress
	e.UserAgent = userAgent
	e.SessionID = sessionID
	return e
}

// WithSource sets the reporting component
func (e *SecurityEvent) WithSource(source string) *SecurityEvent {
	e.Source = source
	return e
}

// WithMessage sets the human readable message
func (e *SecurityEvent) WithMessage(message string) *SecurityEvent {
	e.Message = message
	return e
}

// WithRiskScore sets the risk score, clamped to 0..100
func (e *SecurityEvent) WithRiskScore(score int) *SecurityEvent {
	e.RiskScore = ClampScore(score)
	return e
}

// WithDetails sets the details
func (e *SecurityEvent) WithDetails(details interface{}) *SecurityEvent {
	if data, err := json.Marshal(details); err == nil {
		e.Details = data
	}
	return e
}

// DetailsMap decodes Details into a map. Empty details yield an empty map.
func (e *SecurityEvent) DetailsMap() (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if len(e.Details) == 0 || string(e.Details) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(e.Details, &out); err != nil {
		return nil, fmt.Errorf("details are not a JSON object: %w", err)
	}
	return out, nil
}

// Validate checks the event for internal consistency
func (e *SecurityEvent) Validate() error {
	if !e.EventType.IsValid() {
		return fmt.Errorf("unknown event type: %q", e.EventType)
	}
	if !e.Severity.IsValid() {
		return fmt.Errorf("unknown severity: %q", e.Severity)
	}
	if e.RiskScore < 0 || e.RiskScore > 100 {
		return fmt.Errorf("risk score must be between 0 and 100, got %d", e.RiskScore)
	}
	if len(e.Details) > 0 {
		if _, err := e.DetailsMap(); err != nil {
			return err
		}
	}
	return nil
}

// ClampScore bounds a score to 0..100
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
