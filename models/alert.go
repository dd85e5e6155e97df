package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AlertPriority orders alerts for operator attention
type AlertPriority string

const (
	AlertPriorityLow      AlertPriority = "low"
	AlertPriorityMedium   AlertPriority = "medium"
	AlertPriorityHigh     AlertPriority = "high"
	AlertPriorityCritical AlertPriority = "critical"
)

// IsValid reports whether p is a known priority
func (p AlertPriority) IsValid() bool {
	switch p {
	case AlertPriorityLow, AlertPriorityMedium, AlertPriorityHigh, AlertPriorityCritical:
		return true
	}
	return false
}

// ParseAlertPriority parses a priority name case-insensitively
func ParseAlertPriority(value string) (AlertPriority, error) {
	p := AlertPriority(strings.ToLower(strings.TrimSpace(value)))
	if !p.IsValid() {
		return "", fmt.Errorf("unknown alert priority: %q", value)
	}
	return p, nil
}

// Alert is raised when an alert rule's threshold is crossed
type Alert struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	RuleName       string        `json:"rule_name" db:"rule_name"`
	Priority       AlertPriority `json:"priority" db:"priority"`
	Title          string        `json:"title" db:"title"`
	Message        string        `json:"message" db:"message"`
	EventType      EventType     `json:"event_type" db:"event_type"` // type of the event that tripped the rule
	GroupKey       string        `json:"group_key,omitempty" db:"group_key"`
	EventCount     int           `json:"event_count" db:"event_count"`
	FirstSeen      time.Time     `json:"first_seen" db:"first_seen"`
	LastSeen       time.Time     `json:"last_seen" db:"last_seen"`
	TriggeredAt    time.Time     `json:"triggered_at" db:"triggered_at"`
	Acknowledged   bool          `json:"acknowledged" db:"acknowledged"`
	AcknowledgedBy *string       `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
}

// TableName returns the table name for the Alert model
func (Alert) TableName() string {
	return "security_alerts"
}

// NewAlert creates a new unacknowledged alert
func NewAlert(ruleName string, priority AlertPriority, title, message string) *Alert {
	now := time.Now().UTC()
	return &Alert{
		ID:          uuid.New(),
		RuleName:    ruleName,
		Priority:    priority,
		Title:       title,
		Message:     message,
		FirstSeen:   now,
		LastSeen:    now,
		TriggeredAt: now,
	}
}

// Acknowledge marks the alert as handled by user at t
func (a *Alert) Acknowledge(user string, t time.Time) {
	a.Acknowledged = true
	a.AcknowledgedBy = &user
	a.AcknowledgedAt = &t
}
