package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/promptcraft/promptcraft-hybrid/models"
)

// Pagination bounds for event queries
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// The context passed to fn carries the transaction, so repositories
	// called with it run on the transaction.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// EventFilter selects security events. Zero values mean "no constraint".
type EventFilter struct {
	Types      []models.EventType
	Severities []models.Severity
	UserID     string
	IPAddress  string
	Start      *time.Time
	End        *time.Time
	Limit      int
	Offset     int
}

// Normalize applies the default and maximum page size
func (f EventFilter) Normalize() EventFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// SecurityEventRepository handles security event persistence
type SecurityEventRepository interface {
	// Insert inserts a new security event
	Insert(ctx context.Context, event *models.SecurityEvent) error

	// GetByID retrieves a security event by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error)

	// Search returns events matching the filter, newest first
	Search(ctx context.Context, filter EventFilter) ([]*models.SecurityEvent, error)

	// Count returns the number of events matching the filter, ignoring pagination
	Count(ctx context.Context, filter EventFilter) (int, error)

	// CountByType counts events per type since the given time
	CountByType(ctx context.Context, since time.Time) (map[models.EventType]int, error)

	// CountBySeverity counts events per severity since the given time
	CountBySeverity(ctx context.Context, since time.Time) (map[models.Severity]int, error)

	// TopSourceIPs returns the addresses with the most events since the given time
	TopSourceIPs(ctx context.Context, since time.Time, limit int) ([]models.IPCount, error)

	// Timeline returns the timestamp and severity of every event since the given time
	Timeline(ctx context.Context, since time.Time) ([]models.TimelinePoint, error)

	// DeleteOlderThan removes events with a timestamp before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AlertFilter selects alerts
type AlertFilter struct {
	Acknowledged *bool
	Priority     models.AlertPriority
	RuleName     string
	Since        *time.Time
	Limit        int
	Offset       int
}

// AlertRepository handles alert persistence
type AlertRepository interface {
	// Insert inserts a new alert
	Insert(ctx context.Context, alert *models.Alert) error

	// GetByID retrieves an alert by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.Alert, error)

	// List returns alerts matching the filter, newest first
	List(ctx context.Context, filter AlertFilter) ([]*models.Alert, error)

	// Acknowledge marks an unacknowledged alert as handled.
	// Returns ErrAlreadyAcknowledged when it was already acknowledged.
	Acknowledge(ctx context.Context, id uuid.UUID, by string, at time.Time) error

	// CountActive counts unacknowledged alerts, total and critical
	CountActive(ctx context.Context) (total int, critical int, err error)

	// DeleteAcknowledgedOlderThan removes acknowledged alerts triggered before cutoff
	DeleteAcknowledgedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Repositories groups all repository interfaces
type Repositories struct {
	SecurityEvents SecurityEventRepository
	Alerts         AlertRepository
}
