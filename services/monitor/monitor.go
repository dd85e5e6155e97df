// Package monitor detects suspicious authentication patterns over sliding
// windows of recent login events, and tracks temporary account lockouts.
package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/promptcraft/promptcraft-hybrid/config"
	"github.com/promptcraft/promptcraft-hybrid/internal/observability"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/services"
	"go.uber.org/zap"
)

// Reasons recorded in the details of derived suspicious_activity events
const (
	ReasonAccountEnumeration = "account_enumeration"
	ReasonMultipleSourceIPs  = "multiple_source_ips"
)

// Risk scores attached to derived events
const (
	bruteForceRisk  = 90
	enumerationRisk = 85
	lockoutRisk     = 80
	multiIPRisk     = 60
)

// Config holds detection thresholds
type Config struct {
	FailedLoginThreshold int
	Window               time.Duration
	LockoutDuration      time.Duration
	EnumerationThreshold int
	MultiIPThreshold     int
}

// ConfigFrom maps monitoring settings to detector thresholds
func ConfigFrom(cfg config.MonitoringConfig) Config {
	return Config{
		FailedLoginThreshold: cfg.FailedLoginThreshold,
		Window:               cfg.FailedLoginWindow,
		LockoutDuration:      cfg.LockoutDuration,
		EnumerationThreshold: cfg.EnumerationThreshold,
		MultiIPThreshold:     cfg.MultiIPThreshold,
	}
}

type attempt struct {
	at time.Time
	// the other side of the pair: user for per-IP lists, IP for per-user lists
	peer string
}

// Monitor keeps per-IP and per-user windows of login attempts
type Monitor struct {
	cfg     Config
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu           sync.Mutex
	ipFailures   map[string][]attempt
	userFailures map[string][]attempt
	userLogins   map[string][]attempt
	bruteForce   map[string]bool
	enumeration  map[string]bool
	multiIP      map[string]bool
	locked       map[string]time.Time
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a new Monitor
func NewMonitor(cfg Config, metrics *observability.Metrics, logger *zap.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:          cfg,
		metrics:      metrics,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		ipFailures:   make(map[string][]attempt),
		userFailures: make(map[string][]attempt),
		userLogins:   make(map[string][]attempt),
		bruteForce:   make(map[string]bool),
		enumeration:  make(map[string]bool),
		multiIP:      make(map[string]bool),
		locked:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Observe records a login event and returns the events it implies.
// Other event types are ignored.
func (m *Monitor) Observe(event *models.SecurityEvent) []*models.SecurityEvent {
	m.mu.Lock()
	defer func() {
		n := len(m.locked)
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.SetLockedAccounts(n)
		}
	}()

	now := m.now()
	m.prune(now)

	switch event.EventType {
	case models.EventTypeLoginFailure:
		return m.observeFailure(event, now)
	case models.EventTypeLoginSuccess:
		return m.observeSuccess(event, now)
	default:
		return nil
	}
}

func (m *Monitor) observeFailure(event *models.SecurityEvent, now time.Time) []*models.SecurityEvent {
	var derived []*models.SecurityEvent
	ip, user := event.IPAddress, event.UserID

	if ip != "" {
		m.ipFailures[ip] = append(m.ipFailures[ip], attempt{at: now, peer: user})
		failures := m.ipFailures[ip]

		if len(failures) >= m.cfg.FailedLoginThreshold && !m.bruteForce[ip] {
			m.bruteForce[ip] = true
			derived = append(derived, m.derive(models.EventTypeBruteForceAttempt, event, bruteForceRisk,
				"repeated authentication failures from one address",
				map[string]interface{}{
					"failed_attempts": len(failures),
					"threshold":       m.cfg.FailedLoginThreshold,
					"window_seconds":  int(m.cfg.Window.Seconds()),
				}))
		}

		users := distinctPeers(failures)
		if m.cfg.EnumerationThreshold > 0 && len(users) >= m.cfg.EnumerationThreshold && !m.enumeration[ip] {
			m.enumeration[ip] = true
			derived = append(derived, m.derive(models.EventTypeSuspiciousActivity, event, enumerationRisk,
				"failed logins for many accounts from one address",
				map[string]interface{}{
					"reason":         ReasonAccountEnumeration,
					"distinct_users": len(users),
					"threshold":      m.cfg.EnumerationThreshold,
				}))
		}
	}

	if user != "" {
		m.userFailures[user] = append(m.userFailures[user], attempt{at: now, peer: ip})
		failures := m.userFailures[user]

		if len(failures) >= m.cfg.FailedLoginThreshold && !m.isLockedAt(user, now) {
			until := now.Add(m.cfg.LockoutDuration)
			m.locked[user] = until
			m.logger.Warn("account locked",
				zap.String("user_id", user),
				zap.Time("locked_until", until))
			derived = append(derived, m.derive(models.EventTypeAccountLockout, event, lockoutRisk,
				"account locked after repeated authentication failures",
				map[string]interface{}{
					"failed_attempts": len(failures),
					"locked_until":    until.Format(time.RFC3339),
					"lockout_seconds": int(m.cfg.LockoutDuration.Seconds()),
				}))
		}
	}

	return derived
}

func (m *Monitor) observeSuccess(event *models.SecurityEvent, now time.Time) []*models.SecurityEvent {
	user := event.UserID
	if user == "" {
		return nil
	}

	m.userLogins[user] = append(m.userLogins[user], attempt{at: now, peer: event.IPAddress})
	ips := distinctPeers(m.userLogins[user])

	if m.cfg.MultiIPThreshold > 0 && len(ips) >= m.cfg.MultiIPThreshold && !m.multiIP[user] {
		m.multiIP[user] = true
		return []*models.SecurityEvent{
			m.derive(models.EventTypeSuspiciousActivity, event, multiIPRisk,
				"successful logins from many addresses",
				map[string]interface{}{
					"reason":       ReasonMultipleSourceIPs,
					"distinct_ips": ips,
					"threshold":    m.cfg.MultiIPThreshold,
				}),
		}
	}
	return nil
}

func (m *Monitor) derive(eventType models.EventType, cause *models.SecurityEvent, risk int, message string, details map[string]interface{}) *models.SecurityEvent {
	details["trigger_event_id"] = cause.ID.String()
	e := models.NewSecurityEvent(eventType, "").
		WithUser(cause.UserID).
		WithRequest(cause.IPAddress, cause.UserAgent, cause.SessionID).
		WithSource("monitor").
		WithMessage(message).
		WithRiskScore(risk).
		WithDetails(details)
	e.Timestamp = m.now()
	return e
}

// prune drops attempts outside the window and expired lockouts.
// Flags clear once their key has no attempts left.
func (m *Monitor) prune(now time.Time) {
	cutoff := now.Add(-m.cfg.Window)

	for ip, list := range m.ipFailures {
		if list = trim(list, cutoff); len(list) == 0 {
			delete(m.ipFailures, ip)
			delete(m.bruteForce, ip)
			delete(m.enumeration, ip)
		} else {
			m.ipFailures[ip] = list
		}
	}
	for user, list := range m.userFailures {
		if list = trim(list, cutoff); len(list) == 0 {
			delete(m.userFailures, user)
		} else {
			m.userFailures[user] = list
		}
	}
	for user, list := range m.userLogins {
		if list = trim(list, cutoff); len(list) == 0 {
			delete(m.userLogins, user)
			delete(m.multiIP, user)
		} else {
			m.userLogins[user] = list
		}
	}
	for user, until := range m.locked {
		if !now.Before(until) {
			delete(m.locked, user)
		}
	}
}

// trim keeps attempts at or after cutoff; lists are in time order
func trim(list []attempt, cutoff time.Time) []attempt {
	i := sort.Search(len(list), func(i int) bool { return !list[i].at.Before(cutoff) })
	return list[i:]
}

func distinctPeers(list []attempt) []string {
	seen := make(map[string]struct{}, len(list))
	var out []string
	for _, a := range list {
		if a.peer == "" {
			continue
		}
		if _, ok := seen[a.peer]; ok {
			continue
		}
		seen[a.peer] = struct{}{}
		out = append(out, a.peer)
	}
	sort.Strings(out)
	return out
}

func (m *Monitor) isLockedAt(user string, now time.Time) bool {
	until, ok := m.locked[user]
	return ok && now.Before(until)
}

// IsLocked reports whether the user is currently locked out
func (m *Monitor) IsLocked(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isLockedAt(userID, m.now())
}

// Unlock lifts a lockout early and clears the user's failure window.
// The returned account_unlock event is for the caller to log.
func (m *Monitor) Unlock(userID, actor string) (*models.SecurityEvent, error) {
	m.mu.Lock()
	now := m.now()
	if !m.isLockedAt(userID, now) {
		m.mu.Unlock()
		return nil, services.ErrAccountNotLocked
	}
	delete(m.locked, userID)
	delete(m.userFailures, userID)
	n := len(m.locked)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetLockedAccounts(n)
	}
	m.logger.Info("account unlocked", zap.String("user_id", userID), zap.String("actor", actor))

	event := models.NewSecurityEvent(models.EventTypeAccountUnlock, "").
		WithUser(userID).
		WithSource("admin").
		WithMessage("account unlocked by operator").
		WithDetails(map[string]interface{}{"unlocked_by": actor})
	event.Timestamp = now
	return event, nil
}

// LockedAccounts lists current lockouts ordered by user
func (m *Monitor) LockedAccounts() []models.LockedAccount {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	out := make([]models.LockedAccount, 0, len(m.locked))
	for user, until := range m.locked {
		if now.Before(until) {
			out = append(out, models.LockedAccount{UserID: user, LockedUntil: until})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// RiskProfile summarises the user's recent authentication behaviour
func (m *Monitor) RiskProfile(userID string) models.RiskProfile {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.prune(now)

	failures := m.userFailures[userID]
	ips := distinctPeers(append(append([]attempt(nil), failures...), m.userLogins[userID]...))

	profile := models.RiskProfile{
		UserID:         userID,
		FailedAttempts: len(failures),
		DistinctIPs:    ips,
	}
	if profile.DistinctIPs == nil {
		profile.DistinctIPs = []string{}
	}
	if len(failures) > 0 {
		last := failures[len(failures)-1].at
		profile.LastFailure = &last
	}
	if until, ok := m.locked[userID]; ok && now.Before(until) {
		profile.Locked = true
		profile.LockedUntil = &until
	}

	profile.RiskScore = RiskScore(profile.FailedAttempts, profile.Locked, len(ips))
	profile.RiskLevel = models.RiskLevel(profile.RiskScore)
	return profile
}

// RiskScore is 10 per failure, 40 when locked and 5 per additional source address, capped at 100
func RiskScore(failures int, locked bool, distinctIPs int) int {
	score := 10 * failures
	if locked {
		score += 40
	}
	if distinctIPs > 1 {
		score += 5 * (distinctIPs - 1)
	}
	return models.ClampScore(score)
}

// SuspiciousIPs lists addresses with failures in the window, most failures first
func (m *Monitor) SuspiciousIPs(limit int) []models.SuspiciousIP {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prune(m.now())

	out := make([]models.SuspiciousIP, 0, len(m.ipFailures))
	for ip, list := range m.ipFailures {
		out = append(out, models.SuspiciousIP{
			IPAddress:      ip,
			FailedAttempts: len(list),
			DistinctUsers:  len(distinctPeers(list)),
			Flagged:        m.bruteForce[ip] || m.enumeration[ip],
			LastSeen:       list[len(list)-1].at,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FailedAttempts != out[j].FailedAttempts {
			return out[i].FailedAttempts > out[j].FailedAttempts
		}
		return out[i].IPAddress < out[j].IPAddress
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Report combines suspicious addresses and current lockouts
func (m *Monitor) Report(limit int) models.SuspiciousActivityReport {
	return models.SuspiciousActivityReport{
		GeneratedAt:    m.now(),
		SuspiciousIPs:  m.SuspiciousIPs(limit),
		LockedAccounts: m.LockedAccounts(),
	}
}
