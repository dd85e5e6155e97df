package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/repositories"
	"go.uber.org/zap"
)

const alertColumns = `id, rule_name, priority, title, message, event_type, group_key,
	event_count, first_seen, last_seen, triggered_at, acknowledged, acknowledged_by, acknowledged_at`

// AlertRepository implements repositories.AlertRepository
type AlertRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *DB, logger *zap.Logger) repositories.AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new alert
func (r *AlertRepository) Insert(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO security_alerts (` + alertColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	var ackAt interface{}
	if alert.AcknowledgedAt != nil {
		ackAt = alert.AcknowledgedAt.UTC()
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		alert.ID,
		alert.RuleName,
		string(alert.Priority),
		alert.Title,
		alert.Message,
		string(alert.EventType),
		alert.GroupKey,
		alert.EventCount,
		alert.FirstSeen.UTC(),
		alert.LastSeen.UTC(),
		alert.TriggeredAt.UTC(),
		alert.Acknowledged,
		alert.AcknowledgedBy,
		ackAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	r.logger.Debug("alert inserted",
		zap.String("id", alert.ID.String()),
		zap.String("rule", alert.RuleName))
	return nil
}

// GetByID retrieves an alert by ID
func (r *AlertRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM security_alerts WHERE id = $1`

	executor := GetExecutor(ctx, r.db)
	alert, err := scanAlert(executor.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("alert %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// List returns alerts matching the filter, newest first
func (r *AlertRepository) List(ctx context.Context, filter repositories.AlertFilter) ([]*models.Alert, error) {
	var conds []string
	var args []interface{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Acknowledged != nil {
		conds = append(conds, "acknowledged = "+next(*filter.Acknowledged))
	}
	if filter.Priority != "" {
		conds = append(conds, "priority = "+next(string(filter.Priority)))
	}
	if filter.RuleName != "" {
		conds = append(conds, "rule_name = "+next(filter.RuleName))
	}
	if filter.Since != nil {
		conds = append(conds, "triggered_at >= "+next(filter.Since.UTC()))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = repositories.DefaultLimit
	}
	if limit > repositories.MaxLimit {
		limit = repositories.MaxLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + alertColumns + ` FROM security_alerts`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY triggered_at DESC, id DESC LIMIT %s OFFSET %s", next(limit), next(offset))

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]*models.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rows: %w", err)
	}
	return alerts, nil
}

// Acknowledge marks an unacknowledged alert as handled
func (r *AlertRepository) Acknowledge(ctx context.Context, id uuid.UUID, by string, at time.Time) error {
	query := `
		UPDATE security_alerts
		SET acknowledged = TRUE, acknowledged_by = $1, acknowledged_at = $2
		WHERE id = $3 AND acknowledged = FALSE
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, by, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read acknowledged row count: %w", err)
	}
	if n > 0 {
		return nil
	}

	// Nothing updated: either the alert does not exist or it was already handled
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("alert %s: %w", id, repositories.ErrAlreadyAcknowledged)
}

// CountActive counts unacknowledged alerts, total and critical
func (r *AlertRepository) CountActive(ctx context.Context) (int, int, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN priority = 'critical' THEN 1 ELSE 0 END), 0)
		FROM security_alerts
		WHERE acknowledged = FALSE
	`
	var total, critical int
	executor := GetExecutor(ctx, r.db)
	if err := executor.QueryRowContext(ctx, query).Scan(&total, &critical); err != nil {
		return 0, 0, fmt.Errorf("failed to count active alerts: %w", err)
	}
	return total, critical, nil
}

// DeleteAcknowledgedOlderThan removes acknowledged alerts triggered before cutoff
func (r *AlertRepository) DeleteAcknowledgedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx,
		`DELETE FROM security_alerts WHERE acknowledged = TRUE AND triggered_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete alerts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted row count: %w", err)
	}
	return n, nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var priority, eventType string
	var ackBy sql.NullString
	var ackAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.RuleName,
		&priority,
		&alert.Title,
		&alert.Message,
		&eventType,
		&alert.GroupKey,
		&alert.EventCount,
		&alert.FirstSeen,
		&alert.LastSeen,
		&alert.TriggeredAt,
		&alert.Acknowledged,
		&ackBy,
		&ackAt,
	)
	if err != nil {
		return nil, err
	}

	alert.Priority = models.AlertPriority(priority)
	alert.EventType = models.EventType(eventType)
	if ackBy.Valid {
		by := ackBy.String
		alert.AcknowledgedBy = &by
	}
	if ackAt.Valid {
		at := ackAt.Time.UTC()
		alert.AcknowledgedAt = &at
	}
	return alert, nil
}
