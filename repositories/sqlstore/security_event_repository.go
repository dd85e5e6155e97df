package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/repositories"
	"go.uber.org/zap"
)

const securityEventColumns = `id, event_type, severity, user_id, ip_address, user_agent,
	session_id, source, message, details, risk_score, timestamp`

// SecurityEventRepository implements repositories.SecurityEventRepository
type SecurityEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewSecurityEventRepository creates a new security event repository
func NewSecurityEventRepository(db *DB, logger *zap.Logger) repositories.SecurityEventRepository {
	return &SecurityEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new security event
func (r *SecurityEventRepository) Insert(ctx context.Context, event *models.SecurityEvent) error {
	query := `
		INSERT INTO security_events (` + securityEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		event.ID,
		string(event.EventType),
		string(event.Severity),
		event.UserID,
		event.IPAddress,
		event.UserAgent,
		event.SessionID,
		event.Source,
		event.Message,
		detailsValue(event.Details),
		event.RiskScore,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}

	r.logger.Debug("security event inserted",
		zap.String("id", event.ID.String()),
		zap.String("event_type", string(event.EventType)))
	return nil
}

// GetByID retrieves a security event by ID
func (r *SecurityEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error) {
	query := `SELECT ` + securityEventColumns + ` FROM security_events WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	event, err := scanSecurityEvent(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("security event %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get security event: %w", err)
	}
	return event, nil
}

// Search returns events matching the filter, newest first
func (r *SecurityEventRepository) Search(ctx context.Context, filter repositories.EventFilter) ([]*models.SecurityEvent, error) {
	filter = filter.Normalize()
	where, args := buildEventWhere(filter)

	query := fmt.Sprintf(`SELECT %s FROM security_events%s ORDER BY timestamp DESC, id DESC LIMIT $%d OFFSET $%d`,
		securityEventColumns, where, len(args)+1, len(args)+2)
	args = append(args, filter.Limit, filter.Offset)

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		event, err := scanSecurityEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}
	return events, nil
}

// Count returns the number of events matching the filter, ignoring pagination
func (r *SecurityEventRepository) Count(ctx context.Context, filter repositories.EventFilter) (int, error) {
	where, args := buildEventWhere(filter)
	query := `SELECT COUNT(*) FROM security_events` + where

	var n int
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count security events: %w", err)
	}
	return n, nil
}

// CountByType counts events per type since the given time
func (r *SecurityEventRepository) CountByType(ctx context.Context, since time.Time) (map[models.EventType]int, error) {
	query := `
		SELECT event_type, COUNT(*)
		FROM security_events
		WHERE timestamp >= $1
		GROUP BY event_type
	`
	counts := make(map[models.EventType]int)
	err := r.queryCounts(ctx, query, []interface{}{since.UTC()}, func(key string, n int) {
		counts[models.EventType(key)] = n
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// CountBySeverity counts events per severity since the given time
func (r *SecurityEventRepository) CountBySeverity(ctx context.Context, since time.Time) (map[models.Severity]int, error) {
	query := `
		SELECT severity, COUNT(*)
		FROM security_events
		WHERE timestamp >= $1
		GROUP BY severity
	`
	counts := make(map[models.Severity]int)
	err := r.queryCounts(ctx, query, []interface{}{since.UTC()}, func(key string, n int) {
		counts[models.Severity(key)] = n
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// TopSourceIPs returns the addresses with the most events since the given time
func (r *SecurityEventRepository) TopSourceIPs(ctx context.Context, since time.Time, limit int) ([]models.IPCount, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT ip_address, COUNT(*) AS event_count
		FROM security_events
		WHERE timestamp >= $1 AND ip_address <> ''
		GROUP BY ip_address
		ORDER BY event_count DESC, ip_address ASC
		LIMIT $2
	`
	top := make([]models.IPCount, 0, limit)
	err := r.queryCounts(ctx, query, []interface{}{since.UTC(), limit}, func(key string, n int) {
		top = append(top, models.IPCount{IPAddress: key, Count: n})
	})
	if err != nil {
		return nil, err
	}
	return top, nil
}

// Timeline returns the timestamp and severity of every event since the given time
func (r *SecurityEventRepository) Timeline(ctx context.Context, since time.Time) ([]models.TimelinePoint, error) {
	query := `
		SELECT timestamp, severity
		FROM security_events
		WHERE timestamp >= $1
		ORDER BY timestamp ASC
	`
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query event timeline: %w", err)
	}
	defer rows.Close()

	points := make([]models.TimelinePoint, 0)
	for rows.Next() {
		var p models.TimelinePoint
		var severity string
		if err := rows.Scan(&p.Timestamp, &severity); err != nil {
			return nil, fmt.Errorf("failed to scan timeline row: %w", err)
		}
		p.Severity = models.Severity(severity)
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timeline rows: %w", err)
	}
	return points, nil
}

// DeleteOlderThan removes events with a timestamp before cutoff
func (r *SecurityEventRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, `DELETE FROM security_events WHERE timestamp < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete security events: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}
	return n, nil
}

// queryCounts runs a two column (key, count) query
func (r *SecurityEventRepository) queryCounts(ctx context.Context, query string, args []interface{}, add func(key string, n int)) error {
	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to query security event counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan security event count: %w", err)
		}
		add(key, n)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating security event counts: %w", err)
	}
	return nil
}

// buildEventWhere renders the filter as a WHERE clause with numbered placeholders
func buildEventWhere(filter repositories.EventFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(filter.Types) > 0 {
		ph := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			ph[i] = next(string(t))
		}
		conds = append(conds, "event_type IN ("+strings.Join(ph, ", ")+")")
	}
	if len(filter.Severities) > 0 {
		ph := make([]string, len(filter.Severities))
		for i, s := range filter.Severities {
			ph[i] = next(string(s))
		}
		conds = append(conds, "severity IN ("+strings.Join(ph, ", ")+")")
	}
	if filter.UserID != "" {
		conds = append(conds, "user_id = "+next(filter.UserID))
	}
	if filter.IPAddress != "" {
		conds = append(conds, "ip_address = "+next(filter.IPAddress))
	}
	if filter.Start != nil {
		conds = append(conds, "timestamp >= "+next(filter.Start.UTC()))
	}
	if filter.End != nil {
		conds = append(conds, "timestamp <= "+next(filter.End.UTC()))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSecurityEvent(row rowScanner) (*models.SecurityEvent, error) {
	event := &models.SecurityEvent{}
	var eventType, severity string
	var details sql.NullString

	err := row.Scan(
		&event.ID,
		&eventType,
		&severity,
		&event.UserID,
		&event.IPAddress,
		&event.UserAgent,
		&event.SessionID,
		&event.Source,
		&event.Message,
		&details,
		&event.RiskScore,
		&event.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	event.EventType = models.EventType(eventType)
	event.Severity = models.Severity(severity)
	if details.Valid && details.String != "" {
		event.Details = json.RawMessage(details.String)
	}
	event.Timestamp = event.Timestamp.UTC()
	return event, nil
}

// detailsValue stores empty details as NULL and everything else as JSON text
func detailsValue(details json.RawMessage) interface{} {
	if len(details) == 0 {
		return nil
	}
	return string(details)
}
