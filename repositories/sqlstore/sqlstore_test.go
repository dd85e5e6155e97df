package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/promptcraft/promptcraft-hybrid/config"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return Wrap(sqlDB, config.DriverPostgres, zap.NewNop()), mock
}

func newSQLiteDB(t *testing.T) *DB {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "promptcraft.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
	db, err := NewDB(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema(context.Background()))
	return db
}

func TestSecurityEventRepository_Insert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSecurityEventRepository(db, zap.NewNop())

	event := models.NewSecurityEvent(models.EventTypeLoginFailure, "").
		WithUser("alice").
		WithRequest("10.0.0.1", "curl/8", "s-1").
		WithDetails(map[string]string{"reason": "bad_password"})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO security_events")).
		WithArgs(event.ID, "login_failure", "warning", "alice", "10.0.0.1", "curl/8", "s-1", "api", "",
			`{"reason":"bad_password"}`, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Insert(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSecurityEventRepository_InsertError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSecurityEventRepository(db, zap.NewNop())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO security_events")).
		WillReturnError(errors.New("connection reset"))

	err := repo.Insert(context.Background(), models.NewSecurityEvent(models.EventTypeLogout, ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert security event")
}

func TestSecurityEventRepository_GetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSecurityEventRepository(db, zap.NewNop())
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM security_events WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestSecurityEventRepository_SearchBuildsFilter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSecurityEventRepository(db, zap.NewNop())
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	columns := []string{"id", "event_type", "severity", "user_id", "ip_address", "user_agent",
		"session_id", "source", "message", "details", "risk_score", "timestamp"}
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE event_type IN ($1, $2) AND severity IN ($3) AND user_id = $4 AND timestamp >= $5 ORDER BY timestamp DESC, id DESC LIMIT $6 OFFSET $7")).
		WithArgs("login_failure", "account_lockout", "critical", "bob", start, repositories.MaxLimit, 0).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			id.String(), "account_lockout", "critical", "bob", "10.0.0.2", "", "", "monitor", "locked",
			nil, 40, start.Add(time.Minute)))

	events, err := repo.Search(context.Background(), repositories.EventFilter{
		Types:      []models.EventType{models.EventTypeLoginFailure, models.EventTypeAccountLockout},
		Severities: []models.Severity{models.SeverityCritical},
		UserID:     "bob",
		Start:      &start,
		Limit:      5000,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.Equal(t, models.EventTypeAccountLockout, events[0].EventType)
	assert.Nil(t, events[0].Details)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAlertRepository_Acknowledge(t *testing.T) {
	ackQuery := regexp.QuoteMeta("UPDATE security_alerts")
	getQuery := regexp.QuoteMeta("FROM security_alerts WHERE id = $1")
	columns := []string{"id", "rule_name", "priority", "title", "message", "event_type", "group_key",
		"event_count", "first_seen", "last_seen", "triggered_at", "acknowledged", "acknowledged_by", "acknowledged_at"}
	now := time.Now().UTC()

	t.Run("updates unacknowledged alert", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAlertRepository(db, zap.NewNop())
		id := uuid.New()

		mock.ExpectExec(ackQuery).WithArgs("ops", sqlmock.AnyArg(), id).WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, repo.Acknowledge(context.Background(), id, "ops", now))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already acknowledged", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAlertRepository(db, zap.NewNop())
		id := uuid.New()

		mock.ExpectExec(ackQuery).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(getQuery).WithArgs(id).WillReturnRows(sqlmock.NewRows(columns).AddRow(
			id.String(), "critical_event", "critical", "t", "m", "account_lockout", "", 1,
			now, now, now, true, "ops", now))

		err := repo.Acknowledge(context.Background(), id, "ops", now)
		assert.ErrorIs(t, err, repositories.ErrAlreadyAcknowledged)
	})

	t.Run("missing alert", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAlertRepository(db, zap.NewNop())
		id := uuid.New()

		mock.ExpectExec(ackQuery).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(getQuery).WithArgs(id).WillReturnRows(sqlmock.NewRows(columns))

		err := repo.Acknowledge(context.Background(), id, "ops", now)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestTransactionManager_InTransaction(t *testing.T) {
	t.Run("commits and routes queries through the transaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		repo := NewSecurityEventRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM security_events")).WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectCommit()

		var deleted int64
		err := tm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			var err error
			deleted, err = repo.DeleteOlderThan(ctx, time.Now())
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, int64(3), deleted)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := tm.InTransaction(context.Background(), func(ctx context.Context, tx repositories.Transaction) error {
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDB_HealthCheck(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestSchemaFor(t *testing.T) {
	_, err := schemaFor("mysql")
	assert.Error(t, err)

	_, _, err = driverDSN(config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)

	name, dsn, err := driverDSN(config.DatabaseConfig{Driver: config.DriverSQLite, SQLitePath: "x.db"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite", name)
	assert.Contains(t, dsn, "x.db?")
	assert.Contains(t, dsn, "_time_format=sqlite")
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newSQLiteDB(t)
	// running InitSchema twice must be harmless
	require.NoError(t, db.InitSchema(ctx))

	factory := NewRepositoryFactoryFromDB(db, zap.NewNop())
	repos := factory.NewRepositories()
	events := repos.SecurityEvents
	alerts := repos.Alerts

	base := time.Now().UTC().Add(-2 * time.Hour).Truncate(time.Second)
	var inserted []*models.SecurityEvent
	for i, seed := range []struct {
		typ models.EventType
		ip  string
	}{
		{models.EventTypeLoginFailure, "10.0.0.1"},
		{models.EventTypeLoginFailure, "10.0.0.1"},
		{models.EventTypeLoginSuccess, "10.0.0.2"},
		{models.EventTypeAccountLockout, "10.0.0.1"},
	} {
		e := models.NewSecurityEvent(seed.typ, "").WithUser("alice").WithRequest(seed.ip, "ua", "")
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if i == 0 {
			e.WithDetails(map[string]interface{}{"attempt": 1})
		}
		require.NoError(t, events.Insert(ctx, e))
		inserted = append(inserted, e)
	}

	got, err := events.GetByID(ctx, inserted[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeLoginFailure, got.EventType)
	assert.True(t, inserted[0].Timestamp.Equal(got.Timestamp))
	assert.JSONEq(t, `{"attempt":1}`, string(got.Details))

	list, err := events.Search(ctx, repositories.EventFilter{Types: []models.EventType{models.EventTypeLoginFailure}})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, inserted[1].ID, list[0].ID, "newest first")

	n, err := events.Count(ctx, repositories.EventFilter{IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	byType, err := events.CountByType(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, byType[models.EventTypeLoginFailure])

	bySeverity, err := events.CountBySeverity(ctx, base.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, bySeverity[models.SeverityCritical])
	assert.Equal(t, 2, bySeverity[models.SeverityWarning])

	top, err := events.TopSourceIPs(ctx, base.Add(-time.Minute), 5)
	require.NoError(t, err)
	require.NotEmpty(t, top)
	assert.Equal(t, models.IPCount{IPAddress: "10.0.0.1", Count: 3}, top[0])

	timeline, err := events.Timeline(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Len(t, timeline, 2)

	alert := models.NewAlert("critical_event", models.AlertPriorityCritical, "Critical event", "lockout")
	alert.EventType = models.EventTypeAccountLockout
	alert.EventCount = 1
	require.NoError(t, alerts.Insert(ctx, alert))

	total, critical, err := alerts.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, critical)

	require.NoError(t, alerts.Acknowledge(ctx, alert.ID, "ops", time.Now()))
	assert.ErrorIs(t, alerts.Acknowledge(ctx, alert.ID, "ops", time.Now()), repositories.ErrAlreadyAcknowledged)

	acked := true
	ackList, err := alerts.List(ctx, repositories.AlertFilter{Acknowledged: &acked})
	require.NoError(t, err)
	require.Len(t, ackList, 1)
	require.NotNil(t, ackList[0].AcknowledgedBy)
	assert.Equal(t, "ops", *ackList[0].AcknowledgedBy)

	tm := factory.GetTransactionManager()
	err = tm.InTransaction(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		deleted, err := events.DeleteOlderThan(ctx, base.Add(90*time.Second))
		if err != nil {
			return err
		}
		assert.Equal(t, int64(2), deleted)
		deletedAlerts, err := alerts.DeleteAcknowledgedOlderThan(ctx, time.Now().Add(time.Hour))
		assert.Equal(t, int64(1), deletedAlerts)
		return err
	})
	require.NoError(t, err)

	remaining, err := events.Count(ctx, repositories.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)
}
