package models

import "time"

// IPCount is an IP address with the number of events attributed to it
type IPCount struct {
	IPAddress string `json:"ip_address"`
	Count     int    `json:"count"`
}

// TimelinePoint is the minimal projection of an event used for trend bucketing
type TimelinePoint struct {
	Timestamp time.Time
	Severity  Severity
}

// TrendBucket aggregates events over one hour
type TrendBucket struct {
	Hour     time.Time `json:"hour"`
	Total    int       `json:"total"`
	Info     int       `json:"info"`
	Warning  int       `json:"warning"`
	Critical int       `json:"critical"`
}

// SecurityDashboard is the aggregated operator view over a time window
type SecurityDashboard struct {
	GeneratedAt      time.Time         `json:"generated_at"`
	WindowHours      int               `json:"window_hours"`
	TotalEvents      int               `json:"total_events"`
	EventsBySeverity map[Severity]int  `json:"events_by_severity"`
	EventsByType     map[EventType]int `json:"events_by_type"`
	SuccessfulLogins int               `json:"successful_logins"`
	FailedLogins     int               `json:"failed_logins"`
	LoginFailureRate float64           `json:"login_failure_rate"`
	ActiveAlerts     int               `json:"active_alerts"`
	CriticalAlerts   int               `json:"critical_alerts"`
	LockedAccounts   int               `json:"locked_accounts"`
	TopSourceIPs     []IPCount         `json:"top_source_ips"`
	HourlyTrend      []TrendBucket     `json:"hourly_trend"`
	SecurityScore    int               `json:"security_score"`
}

// RiskProfile summarises recent security behaviour for one user
type RiskProfile struct {
	UserID         string     `json:"user_id"`
	FailedAttempts int        `json:"failed_attempts"`
	DistinctIPs    []string   `json:"distinct_ips"`
	Locked         bool       `json:"locked"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	RiskScore      int        `json:"risk_score"`
	RiskLevel      string     `json:"risk_level"`
	LastFailure    *time.Time `json:"last_failure,omitempty"`
}

// SuspiciousIP describes an address with repeated failures
type SuspiciousIP struct {
	IPAddress      string    `json:"ip_address"`
	FailedAttempts int       `json:"failed_attempts"`
	DistinctUsers  int       `json:"distinct_users"`
	Flagged        bool      `json:"flagged"`
	LastSeen       time.Time `json:"last_seen"`
}

// LockedAccount is a user currently locked out
type LockedAccount struct {
	UserID      string    `json:"user_id"`
	LockedUntil time.Time `json:"locked_until"`
}

// SuspiciousActivityReport lists current suspicious sources and lockouts
type SuspiciousActivityReport struct {
	GeneratedAt    time.Time       `json:"generated_at"`
	SuspiciousIPs  []SuspiciousIP  `json:"suspicious_ips"`
	LockedAccounts []LockedAccount `json:"locked_accounts"`
}

// RiskLevel maps a 0..100 score to a coarse label
func RiskLevel(score int) string {
	switch {
	case score >= 75:
		return "critical"
	case score >= 50:
		return "high"
	case score >= 25:
		return "medium"
	default:
		return "low"
	}
}
