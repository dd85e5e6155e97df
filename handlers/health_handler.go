package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/promptcraft/promptcraft-hybrid/config"
	"github.com/promptcraft/promptcraft-hybrid/services/security"
	"github.com/promptcraft/promptcraft-hybrid/utils"
	"go.uber.org/zap"
)

// Health states reported in responses
const (
	StatusHealthy       = "healthy"
	StatusUnhealthy     = "unhealthy"
	StatusNotConfigured = "not_configured"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string            `json:"status"`
	Service     string            `json:"service"`
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Timestamp   string            `json:"timestamp"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the body of GET /api/v1/status
type StatusResponse struct {
	Service        string         `json:"service"`
	Version        string         `json:"version"`
	Environment    string         `json:"environment"`
	Uptime         string         `json:"uptime"`
	SecurityLogger security.Stats `json:"security_logger"`
}

// DatabaseChecker verifies database connectivity
type DatabaseChecker interface {
	HealthCheck(ctx context.Context) error
}

// EventLoggerStatus exposes the security logger state
type EventLoggerStatus interface {
	Running() bool
	GetStats() security.Stats
}

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	cfg           *config.Config
	validationErr error
	db            DatabaseChecker
	events        EventLoggerStatus
	logger        *zap.Logger
	started       time.Time
}

// NewHealthHandler creates a new HealthHandler. validationErr is the result of
// validating cfg at startup; db may be nil when no database is configured.
func NewHealthHandler(cfg *config.Config, validationErr error, db DatabaseChecker, events EventLoggerStatus, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		cfg:           cfg,
		validationErr: validationErr,
		db:            db,
		events:        events,
		logger:        logger,
		started:       time.Now(),
	}
}

func (h *HealthHandler) response(status string, checks map[string]string) HealthResponse {
	return HealthResponse{
		Status:      status,
		Service:     h.cfg.AppName,
		Version:     h.cfg.Version,
		Environment: h.cfg.Environment,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Checks:      checks,
	}
}

// HandleHealth handles GET /health
// Healthy when the configuration validated and the security logger is running
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status, httpStatus := StatusHealthy, http.StatusOK
	if h.validationErr != nil || !h.loggerRunning() {
		status, httpStatus = StatusUnhealthy, http.StatusServiceUnavailable
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: h.response(status, nil)}); err != nil {
		h.logger.Error("failed to write health response", zap.Error(err))
	}
}

// HandleReadiness handles GET /health/ready
// Readiness check - validates that all dependencies are available
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	switch {
	case h.db == nil:
		checks["database"] = StatusNotConfigured
		allHealthy = false
	default:
		if err := h.db.HealthCheck(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			checks["database"] = StatusUnhealthy
			allHealthy = false
		} else {
			checks["database"] = StatusHealthy
		}
	}

	if h.loggerRunning() {
		checks["security_logger"] = StatusHealthy
	} else {
		checks["security_logger"] = StatusUnhealthy
		allHealthy = false
	}

	status := StatusHealthy
	httpStatus := http.StatusOK
	if !allHealthy {
		status = StatusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: h.response(status, checks)}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleConfigHealth handles GET /health/config
func (h *HealthHandler) HandleConfigHealth(w http.ResponseWriter, r *http.Request) {
	status := h.cfg.Status(h.validationErr)

	httpStatus := http.StatusOK
	if !status.Healthy() {
		httpStatus = http.StatusServiceUnavailable
	}

	if err := utils.WriteJSON(w, httpStatus, utils.SuccessResponse{Data: status}); err != nil {
		h.logger.Error("failed to write config status response", zap.Error(err))
	}
}

// HandleStatus handles GET /api/v1/status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Service:     h.cfg.AppName,
		Version:     h.cfg.Version,
		Environment: h.cfg.Environment,
		Uptime:      time.Since(h.started).Round(time.Second).String(),
	}
	if h.events != nil {
		resp.SecurityLogger = h.events.GetStats()
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write status response", zap.Error(err))
	}
}

func (h *HealthHandler) loggerRunning() bool {
	return h.events != nil && h.events.Running()
}
