package monitor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/promptcraft/promptcraft-hybrid/internal/observability"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func testConfig() Config {
	return Config{
		FailedLoginThreshold: 3,
		Window:               5 * time.Minute,
		LockoutDuration:      30 * time.Minute,
		EnumerationThreshold: 3,
		MultiIPThreshold:     3,
	}
}

func newTestMonitor(clock *fakeClock) (*Monitor, *observability.Metrics) {
	metrics := observability.NewMetrics()
	return NewMonitor(testConfig(), metrics, zap.NewNop(), WithClock(clock.Now)), metrics
}

func failure(user, ip string) *models.SecurityEvent {
	return models.NewSecurityEvent(models.EventTypeLoginFailure, "").WithUser(user).WithRequest(ip, "", "")
}

func success(user, ip string) *models.SecurityEvent {
	return models.NewSecurityEvent(models.EventTypeLoginSuccess, "").WithUser(user).WithRequest(ip, "", "")
}

func types(events []*models.SecurityEvent) []models.EventType {
	out := make([]models.EventType, len(events))
	for i, e := range events {
		out[i] = e.EventType
	}
	return out
}

func TestMonitor_BruteForceAndLockout(t *testing.T) {
	clock := newClock()
	m, metrics := newTestMonitor(clock)

	assert.Empty(t, m.Observe(failure("alice", "10.0.0.1")))
	assert.Empty(t, m.Observe(failure("alice", "10.0.0.1")))

	derived := m.Observe(failure("alice", "10.0.0.1"))
	require.Equal(t, []models.EventType{models.EventTypeBruteForceAttempt, models.EventTypeAccountLockout}, types(derived))
	for _, e := range derived {
		assert.Equal(t, models.SeverityCritical, e.Severity)
		assert.Equal(t, "monitor", e.Source)
		assert.Equal(t, "10.0.0.1", e.IPAddress)
		require.NoError(t, e.Validate())
	}

	assert.True(t, m.IsLocked("alice"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LockedAccounts))

	// Reported once per address while its window is open
	assert.Empty(t, m.Observe(failure("alice", "10.0.0.1")))

	// Lock expires after the lockout duration
	clock.Advance(31 * time.Minute)
	assert.False(t, m.IsLocked("alice"))
	assert.Empty(t, m.LockedAccounts())
}

func TestMonitor_WindowSlides(t *testing.T) {
	clock := newClock()
	m, _ := newTestMonitor(clock)

	m.Observe(failure("bob", "10.0.0.2"))
	m.Observe(failure("bob", "10.0.0.2"))
	clock.Advance(6 * time.Minute)

	assert.Empty(t, m.Observe(failure("bob", "10.0.0.2")), "old failures fell out of the window")
	assert.False(t, m.IsLocked("bob"))
	assert.Equal(t, 1, m.RiskProfile("bob").FailedAttempts)
}

func TestMonitor_BruteForceRearmsAfterWindowClears(t *testing.T) {
	clock := newClock()
	m, _ := newTestMonitor(clock)

	for i := 0; i < 3; i++ {
		m.Observe(failure("", "10.0.0.9"))
	}
	clock.Advance(10 * time.Minute)

	var derived []*models.SecurityEvent
	for i := 0; i < 3; i++ {
		derived = append(derived, m.Observe(failure("", "10.0.0.9"))...)
	}
	assert.Equal(t, []models.EventType{models.EventTypeBruteForceAttempt}, types(derived))
}

func TestMonitor_AccountEnumeration(t *testing.T) {
	clock := newClock()
	cfg := testConfig()
	cfg.FailedLoginThreshold = 10
	m := NewMonitor(cfg, nil, zap.NewNop(), WithClock(clock.Now))

	assert.Empty(t, m.Observe(failure("u1", "10.0.0.5")))
	assert.Empty(t, m.Observe(failure("u2", "10.0.0.5")))
	derived := m.Observe(failure("u3", "10.0.0.5"))

	require.Len(t, derived, 1)
	assert.Equal(t, models.EventTypeSuspiciousActivity, derived[0].EventType)
	details, err := derived[0].DetailsMap()
	require.NoError(t, err)
	assert.Equal(t, ReasonAccountEnumeration, details["reason"])
	assert.Equal(t, float64(3), details["distinct_users"])

	assert.Empty(t, m.Observe(failure("u4", "10.0.0.5")), "reported once")
}

func TestMonitor_MultipleSourceIPs(t *testing.T) {
	clock := newClock()
	m, _ := newTestMonitor(clock)

	assert.Empty(t, m.Observe(success("carol", "10.0.0.1")))
	assert.Empty(t, m.Observe(success("carol", "10.0.0.1")))
	assert.Empty(t, m.Observe(success("carol", "10.0.0.2")))
	derived := m.Observe(success("carol", "10.0.0.3"))

	require.Len(t, derived, 1)
	details, err := derived[0].DetailsMap()
	require.NoError(t, err)
	assert.Equal(t, ReasonMultipleSourceIPs, details["reason"])
	assert.Equal(t, models.SeverityCritical, derived[0].Severity)
}

func TestMonitor_IgnoresOtherEvents(t *testing.T) {
	m, _ := newTestMonitor(newClock())

	assert.Empty(t, m.Observe(models.NewSecurityEvent(models.EventTypeBruteForceAttempt, "").WithRequest("10.0.0.1", "", "")))
	assert.Empty(t, m.SuspiciousIPs(10))
}

func TestMonitor_Unlock(t *testing.T) {
	clock := newClock()
	m, metrics := newTestMonitor(clock)

	_, err := m.Unlock("dave", "admin")
	assert.ErrorIs(t, err, services.ErrAccountNotLocked)

	for i := 0; i < 3; i++ {
		m.Observe(failure("dave", "10.0.0.7"))
	}
	require.True(t, m.IsLocked("dave"))

	event, err := m.Unlock("dave", "admin")
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeAccountUnlock, event.EventType)
	assert.Equal(t, "dave", event.UserID)
	assert.False(t, m.IsLocked("dave"))
	assert.Equal(t, 0, m.RiskProfile("dave").FailedAttempts)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.LockedAccounts))
}

func TestMonitor_RiskProfile(t *testing.T) {
	clock := newClock()
	m, _ := newTestMonitor(clock)

	m.Observe(failure("erin", "10.0.0.1"))
	m.Observe(failure("erin", "10.0.0.2"))
	m.Observe(failure("erin", "10.0.0.3"))

	profile := m.RiskProfile("erin")
	assert.Equal(t, 3, profile.FailedAttempts)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, profile.DistinctIPs)
	assert.True(t, profile.Locked)
	require.NotNil(t, profile.LockedUntil)
	require.NotNil(t, profile.LastFailure)
	// 3*10 + 40 + 5*2
	assert.Equal(t, 80, profile.RiskScore)
	assert.Equal(t, "critical", profile.RiskLevel)

	empty := m.RiskProfile("nobody")
	assert.Equal(t, 0, empty.RiskScore)
	assert.Equal(t, "low", empty.RiskLevel)
	assert.Empty(t, empty.DistinctIPs)
}

func TestMonitor_SuspiciousIPs(t *testing.T) {
	clock := newClock()
	m, _ := newTestMonitor(clock)

	m.Observe(failure("a", "10.0.0.2"))
	m.Observe(failure("a", "10.0.0.1"))
	m.Observe(failure("b", "10.0.0.1"))
	m.Observe(failure("c", "10.0.0.1"))

	ips := m.SuspiciousIPs(10)
	require.Len(t, ips, 2)
	assert.Equal(t, "10.0.0.1", ips[0].IPAddress)
	assert.Equal(t, 3, ips[0].FailedAttempts)
	assert.Equal(t, 3, ips[0].DistinctUsers)
	assert.True(t, ips[0].Flagged)
	assert.False(t, ips[1].Flagged)

	assert.Len(t, m.SuspiciousIPs(1), 1)

	report := m.Report(5)
	assert.Equal(t, clock.Now(), report.GeneratedAt)
	assert.Len(t, report.SuspiciousIPs, 2)
}

func TestRiskScore(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		locked   bool
		ips      int
		want     int
	}{
		{"clean", 0, false, 0, 0},
		{"single address", 2, false, 1, 20},
		{"locked", 5, true, 1, 90},
		{"capped", 20, true, 10, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RiskScore(tt.failures, tt.locked, tt.ips))
		})
	}
}

func TestRiskScore_Bounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		failures := rapid.IntRange(0, 1000).Draw(t, "failures")
		locked := rapid.Bool().Draw(t, "locked")
		ips := rapid.IntRange(0, 1000).Draw(t, "ips")

		score := RiskScore(failures, locked, ips)
		if score < 0 || score > 100 {
			t.Fatalf("score %d out of range", score)
		}
		if RiskScore(failures+1, locked, ips) < score {
			t.Fatalf("score decreased with more failures")
		}
	})
}
