package alerting

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/services"
	"github.com/promptcraft/promptcraft-hybrid/utils"
	"gopkg.in/yaml.v3"
)

// GroupBy selects the key alert windows are counted under
type GroupBy string

const (
	GroupByNone GroupBy = "none"
	GroupByIP   GroupBy = "ip"
	GroupByUser GroupBy = "user"
)

// Rule raises an alert when Threshold matching events arrive within Window
// for the same group key. A fired key stays quiet for Cooldown.
type Rule struct {
	Name        string               `yaml:"name" json:"name" validate:"required,max=100"`
	Description string               `yaml:"description,omitempty" json:"description,omitempty"`
	EventTypes  []models.EventType   `yaml:"event_types,omitempty" json:"event_types,omitempty"`
	MinSeverity models.Severity      `yaml:"min_severity,omitempty" json:"min_severity,omitempty" validate:"omitempty,oneof=info warning critical"`
	Threshold   int                  `yaml:"threshold" json:"threshold" validate:"min=1"`
	Window      time.Duration        `yaml:"window" json:"window" validate:"gt=0"`
	Cooldown    time.Duration        `yaml:"cooldown,omitempty" json:"cooldown,omitempty" validate:"gte=0"`
	GroupBy     GroupBy              `yaml:"group_by,omitempty" json:"group_by,omitempty" validate:"omitempty,oneof=none ip user"`
	Priority    models.AlertPriority `yaml:"priority" json:"priority" validate:"required,oneof=low medium high critical"`
	Enabled     *bool                `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether the rule takes part in evaluation
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Validate checks the rule definition
func (r Rule) Validate() error {
	if err := utils.ValidateStruct(r); err != nil {
		return services.NewDomainError(services.ErrorTypeValidation, fmt.Sprintf("rule %q is invalid", r.Name), err).
			WithDetail("fields", utils.GetValidationFields(err))
	}
	for _, t := range r.EventTypes {
		if !t.IsValid() {
			return services.NewDomainError(services.ErrorTypeValidation,
				fmt.Sprintf("rule %q references unknown event type %q", r.Name, t), services.ErrInvalidAlertRule)
		}
	}
	return nil
}

// Matches reports whether an event counts towards the rule
func (r Rule) Matches(event *models.SecurityEvent) bool {
	if !r.IsEnabled() {
		return false
	}
	if r.MinSeverity != "" && !event.Severity.AtLeast(r.MinSeverity) {
		return false
	}
	if len(r.EventTypes) == 0 {
		return true
	}
	for _, t := range r.EventTypes {
		if t == event.EventType {
			return true
		}
	}
	return false
}

// GroupKey returns the key the event is counted under for this rule
func (r Rule) GroupKey(event *models.SecurityEvent) string {
	switch r.GroupBy {
	case GroupByIP:
		return event.IPAddress
	case GroupByUser:
		return event.UserID
	default:
		return ""
	}
}

// DefaultRules returns the built-in rule set. Rules with a zero cooldown
// pick up the configured default cooldown.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "critical_event",
			Description: "Any critical security event",
			MinSeverity: models.SeverityCritical,
			Threshold:   1,
			Window:      time.Minute,
			GroupBy:     GroupByNone,
			Priority:    models.AlertPriorityHigh,
		},
		{
			Name:        "brute_force_detected",
			Description: "Brute force attempt detected from an address",
			EventTypes:  []models.EventType{models.EventTypeBruteForceAttempt},
			Threshold:   1,
			Window:      5 * time.Minute,
			GroupBy:     GroupByIP,
			Priority:    models.AlertPriorityCritical,
		},
		{
			Name:        "repeated_login_failures",
			Description: "Many failed logins for one account",
			EventTypes:  []models.EventType{models.EventTypeLoginFailure},
			Threshold:   10,
			Window:      15 * time.Minute,
			GroupBy:     GroupByUser,
			Priority:    models.AlertPriorityMedium,
		},
		{
			Name:        "permission_denied_spike",
			Description: "Repeated authorization failures for one account",
			EventTypes:  []models.EventType{models.EventTypePermissionDenied},
			Threshold:   5,
			Window:      10 * time.Minute,
			GroupBy:     GroupByUser,
			Priority:    models.AlertPriorityMedium,
		},
		{
			Name:        "rate_limit_abuse",
			Description: "Sustained rate limiting of one address",
			EventTypes:  []models.EventType{models.EventTypeRateLimitExceeded},
			Threshold:   20,
			Window:      5 * time.Minute,
			GroupBy:     GroupByIP,
			Priority:    models.AlertPriorityLow,
		},
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// ParseRules decodes a YAML rule document and validates every rule
func ParseRules(data []byte) ([]Rule, error) {
	var doc ruleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, services.WrapValidation("failed to parse alert rules", err)
	}

	seen := make(map[string]bool, len(doc.Rules))
	for _, r := range doc.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, services.NewDomainError(services.ErrorTypeValidation,
				fmt.Sprintf("duplicate alert rule %q", r.Name), services.ErrInvalidAlertRule)
		}
		seen[r.Name] = true
	}
	return doc.Rules, nil
}

// LoadRules reads and parses a rule file
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read alert rules %s: %w", path, err)
	}
	return ParseRules(data)
}
