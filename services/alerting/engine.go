// Package alerting turns streams of security events into alerts using
// windowed threshold rules, and fans raised alerts out to notifiers.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/promptcraft/promptcraft-hybrid/internal/observability"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/repositories"
	"github.com/promptcraft/promptcraft-hybrid/services"
	"go.uber.org/zap"
)

// Config holds engine settings
type Config struct {
	DefaultCooldown time.Duration
	NotifyTimeout   time.Duration
}

type windowKey struct {
	rule  string
	group string
}

// Engine evaluates rules against events and manages alert state
type Engine struct {
	repo      repositories.AlertRepository
	notifiers []Notifier
	metrics   *observability.Metrics
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time

	mu        sync.Mutex
	rules     []Rule
	windows   map[windowKey][]time.Time
	cooldowns map[windowKey]time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithNotifiers adds alert notifiers
func WithNotifiers(notifiers ...Notifier) Option {
	return func(e *Engine) { e.notifiers = append(e.notifiers, notifiers...) }
}

// NewEngine creates an engine with the given rules
func NewEngine(repo repositories.AlertRepository, rules []Rule, metrics *observability.Metrics, logger *zap.Logger, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	e := &Engine{
		repo:      repo,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		windows:   make(map[windowKey][]time.Time),
		cooldowns: make(map[windowKey]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.SetRules(rules); err != nil {
		return nil, err
	}
	return e, nil
}

// Rules returns a copy of the active rule set
func (e *Engine) Rules() []Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Rule(nil), e.rules...)
}

// SetRules validates and installs a new rule set. Window and cooldown state
// is kept for rules that survive by name.
func (e *Engine) SetRules(rules []Rule) error {
	names := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if names[r.Name] {
			return services.NewDomainError(services.ErrorTypeValidation,
				fmt.Sprintf("duplicate alert rule %q", r.Name), services.ErrInvalidAlertRule)
		}
		names[r.Name] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]Rule(nil), rules...)
	for k := range e.windows {
		if !names[k.rule] {
			delete(e.windows, k)
		}
	}
	for k := range e.cooldowns {
		if !names[k.rule] {
			delete(e.cooldowns, k)
		}
	}
	e.logger.Info("alert rules installed", zap.Int("rule_count", len(rules)))
	return nil
}

// Reload replaces the rule set from a YAML file
func (e *Engine) Reload(path string) error {
	rules, err := LoadRules(path)
	if err != nil {
		return err
	}
	return e.SetRules(rules)
}

// Evaluate counts the event against every matching rule and raises an alert
// for each rule whose threshold is reached outside its cooldown. Alerts are
// persisted and dispatched; notifier failures are logged only.
func (e *Engine) Evaluate(ctx context.Context, event *models.SecurityEvent) ([]*models.Alert, error) {
	raised := e.collect(event)
	if len(raised) == 0 {
		return nil, nil
	}

	var errs []error
	stored := make([]*models.Alert, 0, len(raised))
	for _, alert := range raised {
		if err := e.repo.Insert(ctx, alert); err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", alert.RuleName, err))
			continue
		}
		stored = append(stored, alert)
		e.metrics.RecordAlert(alert)
		e.logger.Info("alert raised",
			zap.String("alert_id", alert.ID.String()),
			zap.String("rule", alert.RuleName),
			zap.String("priority", string(alert.Priority)))
		e.dispatch(ctx, alert)
	}

	if len(errs) > 0 {
		return stored, services.WrapInternal("failed to persist alerts", errors.Join(errs...))
	}
	return stored, nil
}

// collect updates rule windows under the lock and returns the alerts to raise
func (e *Engine) collect(event *models.SecurityEvent) []*models.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var raised []*models.Alert
	for _, rule := range e.rules {
		if !rule.Matches(event) {
			continue
		}
		key := windowKey{rule: rule.Name, group: rule.GroupKey(event)}

		cutoff := now.Add(-rule.Window)
		hits := e.windows[key]
		i := sort.Search(len(hits), func(i int) bool { return !hits[i].Before(cutoff) })
		hits = append(hits[i:], now)
		e.windows[key] = hits

		if len(hits) < rule.Threshold {
			continue
		}
		if until, ok := e.cooldowns[key]; ok && now.Before(until) {
			continue
		}

		raised = append(raised, e.newAlert(rule, key.group, event, hits, now))
		delete(e.windows, key)
		if cooldown := e.cooldownFor(rule); cooldown > 0 {
			e.cooldowns[key] = now.Add(cooldown)
		}
	}

	for k, until := range e.cooldowns {
		if !now.Before(until) {
			delete(e.cooldowns, k)
		}
	}
	return raised
}

func (e *Engine) cooldownFor(rule Rule) time.Duration {
	if rule.Cooldown > 0 {
		return rule.Cooldown
	}
	return e.cfg.DefaultCooldown
}

func (e *Engine) newAlert(rule Rule, group string, event *models.SecurityEvent, hits []time.Time, now time.Time) *models.Alert {
	title := fmt.Sprintf("%s triggered", rule.Name)
	if group != "" {
		title = fmt.Sprintf("%s triggered for %s", rule.Name, group)
	}
	message := fmt.Sprintf("%d matching event(s) within %s; last event %s (%s)",
		len(hits), rule.Window, event.EventType, event.Severity)
	if rule.Description != "" {
		message = rule.Description + ": " + message
	}

	alert := models.NewAlert(rule.Name, rule.Priority, title, message)
	alert.EventType = event.EventType
	alert.GroupKey = group
	alert.EventCount = len(hits)
	alert.FirstSeen = hits[0]
	alert.LastSeen = now
	alert.TriggeredAt = now
	return alert
}

func (e *Engine) dispatch(ctx context.Context, alert *models.Alert) {
	for _, n := range e.notifiers {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.NotifyTimeout)
		err := n.Notify(nctx, alert)
		cancel()
		if err != nil {
			e.metrics.RecordNotificationFailure(n.Name())
			e.logger.Error("alert notification failed",
				zap.String("notifier", n.Name()),
				zap.String("alert_id", alert.ID.String()),
				zap.Error(err))
		}
	}
}

// List returns stored alerts matching the filter
func (e *Engine) List(ctx context.Context, filter repositories.AlertFilter) ([]*models.Alert, error) {
	alerts, err := e.repo.List(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to list alerts", err)
	}
	return alerts, nil
}

// Get returns one stored alert
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	alert, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrAlertNotFound, "failed to load alert")
	}
	return alert, nil
}

// Acknowledge marks an alert handled by user. Acknowledging twice is a conflict.
func (e *Engine) Acknowledge(ctx context.Context, id uuid.UUID, user string) (*models.Alert, error) {
	if user == "" {
		return nil, services.WrapValidation("acknowledging user is required", services.ErrInvalidInput)
	}
	if err := e.repo.Acknowledge(ctx, id, user, e.now()); err != nil {
		return nil, services.FromRepository(err, services.ErrAlertNotFound, "failed to acknowledge alert")
	}
	e.logger.Info("alert acknowledged", zap.String("alert_id", id.String()), zap.String("user", user))
	return e.Get(ctx, id)
}
