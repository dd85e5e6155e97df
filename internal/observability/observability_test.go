package observability

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/promptcraft/promptcraft-hybrid/config"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ObservabilityConfig
		wantErr bool
	}{
		{name: "json info", cfg: config.ObservabilityConfig{LogLevel: "info", LogFormat: "json"}},
		{name: "console debug", cfg: config.ObservabilityConfig{LogLevel: "DEBUG", LogFormat: "console"}},
		{name: "invalid level", cfg: config.ObservabilityConfig{LogLevel: "loud", LogFormat: "json"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

type bufferSyncer struct {
	bytes.Buffer
}

func (b *bufferSyncer) Sync() error { return nil }

func TestFileEventSink_WritesJSONLine(t *testing.T) {
	buf := &bufferSyncer{}
	sink := newEventSink(buf, nil)

	event := models.NewSecurityEvent(models.EventTypeLoginFailure, "").
		WithUser("alice").
		WithRequest("10.0.0.1", "curl/8", "").
		WithDetails(map[string]string{"reason": "bad_password"})
	sink.Write(event)
	require.NoError(t, sink.Close())

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "security_event", line["message"])
	assert.Equal(t, "login_failure", line["event_type"])
	assert.Equal(t, "warning", line["severity"])
	assert.Equal(t, "alice", line["user_id"])
	assert.Equal(t, map[string]interface{}{"reason": "bad_password"}, line["details"])
}

func TestNewFileEventSink(t *testing.T) {
	t.Run("empty path is a no-op", func(t *testing.T) {
		sink := NewFileEventSink(config.ObservabilityConfig{})
		assert.IsType(t, NopEventSink{}, sink)
		sink.Write(models.NewSecurityEvent(models.EventTypeLogout, ""))
		assert.NoError(t, sink.Close())
	})

	t.Run("rotating file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "security.log")
		sink := NewFileEventSink(config.ObservabilityConfig{SecurityLogFile: path, LogMaxSizeMB: 1})
		sink.Write(models.NewSecurityEvent(models.EventTypeAccountLockout, ""))
		require.NoError(t, sink.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"event_type":"account_lockout"`)
	})
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.RecordEvent(models.NewSecurityEvent(models.EventTypeLoginFailure, ""))
	m.RecordEvent(models.NewSecurityEvent(models.EventTypeLoginFailure, ""))
	m.RecordDropped()
	m.RecordAlert(models.NewAlert("critical_event", models.AlertPriorityCritical, "t", "m"))
	m.ObserveHTTP(http.MethodGet, "/health", http.StatusOK, 15*time.Millisecond)
	m.SetLockedAccounts(3)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.SecurityEventsTotal.WithLabelValues("login_failure", "warning")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SecurityEventsDropped))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AlertsTotal.WithLabelValues("critical_event", "critical")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/health", "200")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.LockedAccounts))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "promptcraft_security_events_total")
	assert.Contains(t, rec.Body.String(), "promptcraft_http_request_duration_seconds")
}

var _ zapcore.WriteSyncer = (*bufferSyncer)(nil)
