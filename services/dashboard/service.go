// Package dashboard builds the operator views over stored security events
// and alerts.
package dashboard

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/repositories"
	"github.com/promptcraft/promptcraft-hybrid/services"
	"go.uber.org/zap"
)

const (
	// MaxWindowHours bounds the dashboard window to 30 days
	MaxWindowHours = 720
	topSourceIPs   = 10
)

// ExportFormat selects the export encoding
type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// ParseExportFormat parses an export format; empty defaults to JSON
func ParseExportFormat(value string) (ExportFormat, error) {
	switch ExportFormat(value) {
	case "", ExportJSON:
		return ExportJSON, nil
	case ExportCSV:
		return ExportCSV, nil
	}
	return "", services.WrapValidation(fmt.Sprintf("unsupported export format %q", value), services.ErrInvalidFilter)
}

// ContentType returns the HTTP content type for the format
func (f ExportFormat) ContentType() string {
	if f == ExportCSV {
		return "text/csv"
	}
	return "application/json"
}

// LockoutSource reports accounts currently locked out
type LockoutSource interface {
	LockedAccounts() []models.LockedAccount
}

// Service aggregates events and alerts into dashboard views
type Service struct {
	events  repositories.SecurityEventRepository
	alerts  repositories.AlertRepository
	lockout LockoutSource
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a dashboard service
func NewService(events repositories.SecurityEventRepository, alerts repositories.AlertRepository, lockout LockoutSource, logger *zap.Logger) *Service {
	return &Service{
		events:  events,
		alerts:  alerts,
		lockout: lockout,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dashboard returns the aggregated view over the last hours
func (s *Service) Dashboard(ctx context.Context, hours int) (*models.SecurityDashboard, error) {
	if hours < 1 || hours > MaxWindowHours {
		return nil, services.WrapValidation(
			fmt.Sprintf("hours must be between 1 and %d", MaxWindowHours), services.ErrInvalidFilter)
	}

	now := s.now()
	since := now.Add(-time.Duration(hours) * time.Hour)

	bySeverity, err := s.events.CountBySeverity(ctx, since)
	if err != nil {
		return nil, services.WrapInternal("failed to count events by severity", err)
	}
	byType, err := s.events.CountByType(ctx, since)
	if err != nil {
		return nil, services.WrapInternal("failed to count events by type", err)
	}
	topIPs, err := s.events.TopSourceIPs(ctx, since, topSourceIPs)
	if err != nil {
		return nil, services.WrapInternal("failed to load top source addresses", err)
	}
	timeline, err := s.events.Timeline(ctx, since)
	if err != nil {
		return nil, services.WrapInternal("failed to load event timeline", err)
	}
	active, critical, err := s.alerts.CountActive(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to count active alerts", err)
	}

	total := 0
	for _, n := range bySeverity {
		total += n
	}
	successes := byType[models.EventTypeLoginSuccess]
	failures := byType[models.EventTypeLoginFailure]
	failureRate := 0.0
	if attempts := successes + failures; attempts > 0 {
		failureRate = float64(failures) / float64(attempts)
	}

	locked := 0
	if s.lockout != nil {
		locked = len(s.lockout.LockedAccounts())
	}
	if topIPs == nil {
		topIPs = []models.IPCount{}
	}

	return &models.SecurityDashboard{
		GeneratedAt:      now,
		WindowHours:      hours,
		TotalEvents:      total,
		EventsBySeverity: bySeverity,
		EventsByType:     byType,
		SuccessfulLogins: successes,
		FailedLogins:     failures,
		LoginFailureRate: failureRate,
		ActiveAlerts:     active,
		CriticalAlerts:   critical,
		LockedAccounts:   locked,
		TopSourceIPs:     topIPs,
		HourlyTrend:      HourlyTrend(timeline, since, now),
		SecurityScore:    SecurityScore(bySeverity[models.SeverityCritical], bySeverity[models.SeverityWarning], active),
	}, nil
}

// SecurityScore is 100 minus penalties for critical and warning events and
// open alerts, clamped to 0..100
func SecurityScore(critical, warning, activeAlerts int) int {
	return models.ClampScore(100 - 10*critical - 2*warning - 5*activeAlerts)
}

// HourlyTrend buckets points into one entry per hour from since to now.
// Every hour in the range is present, empty hours included.
func HourlyTrend(points []models.TimelinePoint, since, now time.Time) []models.TrendBucket {
	start := since.UTC().Truncate(time.Hour)
	end := now.UTC().Truncate(time.Hour)

	buckets := make([]models.TrendBucket, 0, int(end.Sub(start)/time.Hour)+1)
	for h := start; !h.After(end); h = h.Add(time.Hour) {
		buckets = append(buckets, models.TrendBucket{Hour: h})
	}

	for _, p := range points {
		idx := int(p.Timestamp.UTC().Truncate(time.Hour).Sub(start) / time.Hour)
		if idx < 0 || idx >= len(buckets) {
			continue
		}
		b := &buckets[idx]
		b.Total++
		switch p.Severity {
		case models.SeverityInfo:
			b.Info++
		case models.SeverityWarning:
			b.Warning++
		case models.SeverityCritical:
			b.Critical++
		}
	}
	return buckets
}

// SearchResult is one page of events plus the unpaginated total
type SearchResult struct {
	Events []*models.SecurityEvent `json:"events"`
	Total  int                     `json:"total"`
	Limit  int                     `json:"limit"`
	Offset int                     `json:"offset"`
}

// Search returns events matching the filter
func (s *Service) Search(ctx context.Context, filter repositories.EventFilter) (*SearchResult, error) {
	if err := checkFilter(filter); err != nil {
		return nil, err
	}
	filter = filter.Normalize()

	events, err := s.events.Search(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to search security events", err)
	}
	total, err := s.events.Count(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to count security events", err)
	}
	if events == nil {
		events = []*models.SecurityEvent{}
	}
	return &SearchResult{Events: events, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// Get returns one stored event
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, services.FromRepository(err, services.ErrEventNotFound, "failed to load security event")
	}
	return event, nil
}

var csvHeader = []string{
	"id", "timestamp", "event_type", "severity", "user_id", "ip_address",
	"user_agent", "session_id", "source", "message", "risk_score", "details",
}

// Export writes events matching the filter to w
func (s *Service) Export(ctx context.Context, w io.Writer, format ExportFormat, filter repositories.EventFilter) (int, error) {
	if err := checkFilter(filter); err != nil {
		return 0, err
	}
	filter = filter.Normalize()

	events, err := s.events.Search(ctx, filter)
	if err != nil {
		return 0, services.WrapInternal("failed to load events for export", err)
	}

	switch format {
	case ExportCSV:
		err = writeCSV(w, events)
	default:
		if events == nil {
			events = []*models.SecurityEvent{}
		}
		err = json.NewEncoder(w).Encode(events)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}

	s.logger.Info("security events exported",
		zap.String("format", string(format)),
		zap.Int("count", len(events)))
	return len(events), nil
}

func writeCSV(w io.Writer, events []*models.SecurityEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range events {
		record := []string{
			e.ID.String(),
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.EventType),
			string(e.Severity),
			e.UserID,
			e.IPAddress,
			e.UserAgent,
			e.SessionID,
			e.Source,
			e.Message,
			strconv.Itoa(e.RiskScore),
			string(e.Details),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func checkFilter(filter repositories.EventFilter) error {
	for _, t := range filter.Types {
		if !t.IsValid() {
			return services.WrapValidation(fmt.Sprintf("unknown event type %q", t), services.ErrInvalidFilter)
		}
	}
	for _, sev := range filter.Severities {
		if !sev.IsValid() {
			return services.WrapValidation(fmt.Sprintf("unknown severity %q", sev), services.ErrInvalidFilter)
		}
	}
	if filter.Start != nil && filter.End != nil && filter.End.Before(*filter.Start) {
		return services.WrapValidation("end must not be before start", services.ErrInvalidFilter)
	}
	return nil
}
