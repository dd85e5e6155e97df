// Package retention deletes stored security data past its retention period.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/promptcraft/promptcraft-hybrid/repositories"
	"github.com/promptcraft/promptcraft-hybrid/services"
	"go.uber.org/zap"
)

// Recorder records the operator action performed by a purge
type Recorder interface {
	RecordConfigChanged(actor, ipAddress, message string, details map[string]interface{}) error
}

// Result reports what a purge removed
type Result struct {
	Cutoff        time.Time `json:"cutoff"`
	EventsDeleted int64     `json:"events_deleted"`
	AlertsDeleted int64     `json:"alerts_deleted"`
}

// Service purges old events and acknowledged alerts
type Service struct {
	txMgr         repositories.TransactionManager
	events        repositories.SecurityEventRepository
	alerts        repositories.AlertRepository
	recorder      Recorder
	defaultMaxAge time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewService creates a retention service. retentionDays is used when a purge
// does not request its own age.
func NewService(txMgr repositories.TransactionManager, repos *repositories.Repositories, recorder Recorder, retentionDays int, logger *zap.Logger) *Service {
	return &Service{
		txMgr:         txMgr,
		events:        repos.SecurityEvents,
		alerts:        repos.Alerts,
		recorder:      recorder,
		defaultMaxAge: days(retentionDays),
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// Actor identifies who requested a purge
type Actor struct {
	UserID    string
	IPAddress string
}

// Purge deletes events and acknowledged alerts older than olderThanDays in
// one transaction. Zero uses the configured retention.
func (s *Service) Purge(ctx context.Context, olderThanDays int, actor Actor) (*Result, error) {
	if olderThanDays < 0 {
		return nil, services.WrapValidation("older_than_days must not be negative", services.ErrInvalidInput)
	}
	maxAge := s.defaultMaxAge
	if olderThanDays > 0 {
		maxAge = days(olderThanDays)
	}
	cutoff := s.now().Add(-maxAge)

	result, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, _ repositories.Transaction) (*Result, error) {
		events, err := s.events.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			return nil, services.WrapInternal("failed to delete old security events", err)
		}
		alerts, err := s.alerts.DeleteAcknowledgedOlderThan(ctx, cutoff)
		if err != nil {
			return nil, services.WrapInternal("failed to delete old alerts", err)
		}
		return &Result{Cutoff: cutoff, EventsDeleted: events, AlertsDeleted: alerts}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("security data purged",
		zap.Time("cutoff", cutoff),
		zap.Int64("events_deleted", result.EventsDeleted),
		zap.Int64("alerts_deleted", result.AlertsDeleted),
		zap.String("actor", actor.UserID))

	if s.recorder != nil {
		details := map[string]interface{}{
			"action":         "retention_purge",
			"cutoff":         cutoff.Format(time.RFC3339),
			"events_deleted": result.EventsDeleted,
			"alerts_deleted": result.AlertsDeleted,
		}
		message := fmt.Sprintf("purged %d events and %d alerts older than %s",
			result.EventsDeleted, result.AlertsDeleted, cutoff.Format(time.RFC3339))
		if err := s.recorder.RecordConfigChanged(actor.UserID, actor.IPAddress, message, details); err != nil {
			s.logger.Warn("failed to record purge event", zap.Error(err))
		}
	}
	return result, nil
}
