package retention

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/promptcraft/promptcraft-hybrid/config"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/repositories/sqlstore"
	"github.com/promptcraft/promptcraft-hybrid/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) RecordConfigChanged(actor, ipAddress, message string, details map[string]interface{}) error {
	return m.Called(actor, ipAddress, message, details).Error(0)
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, db *sqlstore.DB, recorder Recorder) *Service {
	t.Helper()
	factory := sqlstore.NewRepositoryFactoryFromDB(db, zap.NewNop())
	svc := NewService(factory.GetTransactionManager(), factory.NewRepositories(), recorder, 30, zap.NewNop())
	svc.now = func() time.Time { return now }
	return svc
}

func TestService_PurgeSQLite(t *testing.T) {
	db, err := sqlstore.NewDB(config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "retention.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema(context.Background()))

	ctx := context.Background()
	factory := sqlstore.NewRepositoryFactoryFromDB(db, zap.NewNop())
	repos := factory.NewRepositories()

	old := models.NewSecurityEvent(models.EventTypeLoginFailure, "")
	old.Timestamp = now.Add(-40 * 24 * time.Hour)
	recent := models.NewSecurityEvent(models.EventTypeLoginFailure, "")
	recent.Timestamp = now.Add(-time.Hour)
	require.NoError(t, repos.SecurityEvents.Insert(ctx, old))
	require.NoError(t, repos.SecurityEvents.Insert(ctx, recent))

	oldAcked := models.NewAlert("r", models.AlertPriorityLow, "t", "m")
	oldAcked.TriggeredAt = now.Add(-40 * 24 * time.Hour)
	oldAcked.Acknowledge("ops", now.Add(-39*24*time.Hour))
	oldOpen := models.NewAlert("r", models.AlertPriorityLow, "t", "m")
	oldOpen.TriggeredAt = now.Add(-40 * 24 * time.Hour)
	require.NoError(t, repos.Alerts.Insert(ctx, oldAcked))
	require.NoError(t, repos.Alerts.Insert(ctx, oldOpen))

	recorder := new(MockRecorder)
	recorder.On("RecordConfigChanged", "admin", "10.0.0.1", mock.AnythingOfType("string"), mock.Anything).Return(nil)
	svc := newService(t, db, recorder)

	result, err := svc.Purge(ctx, 0, Actor{UserID: "admin", IPAddress: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, now.Add(-30*24*time.Hour), result.Cutoff)
	assert.Equal(t, int64(1), result.EventsDeleted)
	assert.Equal(t, int64(1), result.AlertsDeleted, "unacknowledged alerts are kept")

	_, err = repos.SecurityEvents.GetByID(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = repos.Alerts.GetByID(ctx, oldOpen.ID)
	assert.NoError(t, err)

	recorder.AssertExpectations(t)
	details := recorder.Calls[0].Arguments.Get(3).(map[string]interface{})
	assert.Equal(t, "retention_purge", details["action"])
}

func TestService_PurgeRollsBackOnFailure(t *testing.T) {
	sqlDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db := sqlstore.Wrap(sqlDB, config.DriverPostgres, zap.NewNop())

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec(regexp.QuoteMeta("DELETE FROM security_events")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	sqlMock.ExpectExec(regexp.QuoteMeta("DELETE FROM security_alerts")).
		WillReturnError(errors.New("lock timeout"))
	sqlMock.ExpectRollback()

	recorder := new(MockRecorder)
	svc := newService(t, db, recorder)

	_, err = svc.Purge(context.Background(), 7, Actor{UserID: "admin"})
	require.Error(t, err)
	assert.True(t, services.IsInternalError(err))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
	recorder.AssertNotCalled(t, "RecordConfigChanged", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_PurgeRequestedAge(t *testing.T) {
	sqlDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	db := sqlstore.Wrap(sqlDB, config.DriverPostgres, zap.NewNop())
	cutoff := now.Add(-7 * 24 * time.Hour)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec(regexp.QuoteMeta("DELETE FROM security_events")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 2))
	sqlMock.ExpectExec(regexp.QuoteMeta("DELETE FROM security_alerts")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 0))
	sqlMock.ExpectCommit()

	svc := newService(t, db, nil)
	result, err := svc.Purge(context.Background(), 7, Actor{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.EventsDeleted)
	assert.NoError(t, sqlMock.ExpectationsWereMet())

	_, err = svc.Purge(context.Background(), -1, Actor{})
	assert.True(t, services.IsValidationError(err))
}
