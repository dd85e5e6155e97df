package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/promptcraft/promptcraft-hybrid/config"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppName:     "promptcraft-hybrid",
		Version:     "test",
		Environment: config.EnvDev,
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ShutdownTimeout: 5 * time.Second,
			RequestTimeout:  10 * time.Second,
			CORSOrigins:     []string{"http://localhost:*"},
		},
		Database: config.DatabaseConfig{
			Driver:       config.DriverSQLite,
			SQLitePath:   filepath.Join(t.TempDir(), "promptcraft.db"),
			MaxOpenConns: 1,
		},
		Security: config.SecurityConfig{
			JWTSecret: "0123456789abcdef0123456789abcdef",
			JWTLeeway: time.Second,
			AdminRole: "admin",
		},
		Monitoring: config.MonitoringConfig{
			EventBufferSize:       100,
			WorkerCount:           2,
			FailedLoginThreshold:  3,
			FailedLoginWindow:     time.Minute,
			LockoutDuration:       time.Minute,
			EnumerationThreshold:  3,
			MultiIPThreshold:      3,
			RetentionDays:         30,
			DashboardDefaultHours: 24,
		},
		Alerting: config.AlertingConfig{
			Enabled:         true,
			DefaultCooldown: time.Minute,
			WebhookTimeout:  time.Second,
		},
		Observability: config.ObservabilityConfig{
			LogLevel:  "debug",
			LogFormat: "console",
		},
	}
}

func TestNewDependencies(t *testing.T) {
	t.Run("successful initialization with all components", func(t *testing.T) {
		ctx := context.Background()
		deps, err := NewDependencies(ctx, testConfig(t), nil, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NotNil(t, deps)

		// Infrastructure
		assert.NotNil(t, deps.DB)
		assert.NotNil(t, deps.Metrics)
		assert.NotNil(t, deps.Repos.SecurityEvents)
		assert.NotNil(t, deps.Repos.Alerts)
		assert.NotNil(t, deps.TxManager)

		// Security pipeline
		assert.NotNil(t, deps.Monitor)
		assert.NotNil(t, deps.AlertEngine)
		assert.NotEmpty(t, deps.AlertEngine.Rules())
		assert.NotNil(t, deps.Stream)
		assert.NotNil(t, deps.SecurityLogger)
		assert.NotNil(t, deps.Tokens)
		assert.NotNil(t, deps.HealthHandler)
		assert.NotNil(t, deps.SecurityHandler)

		assert.NoError(t, deps.Close(ctx))
	})

	t.Run("unsupported driver", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Database.Driver = "mysql"

		deps, err := NewDependencies(context.Background(), cfg, nil, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Nil(t, deps)
	})

	t.Run("missing rule file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Alerting.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")

		deps, err := NewDependencies(context.Background(), cfg, nil, zaptest.NewLogger(t))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "alert rules")
		assert.Nil(t, deps)
	})

	t.Run("rules loaded from file", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Alerting.RulesFile = filepath.Join(t.TempDir(), "rules.yaml")
		require.NoError(t, os.WriteFile(cfg.Alerting.RulesFile, []byte(`
rules:
  - name: any-denial
    event_types: [permission_denied]
    threshold: 1
    window: 1m
    priority: high
`), 0o600))

		deps, err := NewDependencies(context.Background(), cfg, nil, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(context.Background())

		rules := deps.AlertEngine.Rules()
		require.Len(t, rules, 1)
		assert.Equal(t, "any-denial", rules[0].Name)
	})

	t.Run("no JWT secret rejects every token", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Security.JWTSecret = ""

		deps, err := NewDependencies(context.Background(), cfg, nil, zaptest.NewLogger(t))
		require.NoError(t, err)
		defer deps.Close(context.Background())

		assert.Nil(t, deps.Tokens)
		assert.NotNil(t, deps.AuthMiddleware)
	})
}

func TestDependencies_StartProcessesEvents(t *testing.T) {
	ctx := context.Background()
	deps, err := NewDependencies(ctx, testConfig(t), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, deps.Start(ctx))

	assert.True(t, deps.SecurityLogger.Running())

	for i := 0; i < 3; i++ {
		require.NoError(t, deps.SecurityLogger.RecordLoginFailure("mallory", "203.0.113.9", "curl/8.0", "bad password"))
	}

	assert.Eventually(t, func() bool {
		return deps.Monitor.IsLocked("mallory")
	}, 5*time.Second, 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		result, err := deps.Dashboard.Search(ctx, repositories.EventFilter{
			UserID: "mallory",
			Types:  []models.EventType{models.EventTypeLoginFailure},
		})
		return err == nil && result.Total == 3
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, deps.Close(ctx))
	assert.False(t, deps.SecurityLogger.Running())
}
