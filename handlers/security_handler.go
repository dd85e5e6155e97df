package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/promptcraft/promptcraft-hybrid/middleware"
	"github.com/promptcraft/promptcraft-hybrid/models"
	"github.com/promptcraft/promptcraft-hybrid/repositories"
	"github.com/promptcraft/promptcraft-hybrid/services/dashboard"
	"github.com/promptcraft/promptcraft-hybrid/services/retention"
	"github.com/promptcraft/promptcraft-hybrid/utils"
	"go.uber.org/zap"
)

// maxBodyBytes bounds JSON request bodies on the security API
const maxBodyBytes = 64 << 10

// defaultSuspiciousLimit is the number of addresses listed when no limit is given
const defaultSuspiciousLimit = 20

// IngestEventRequest is the body of POST /api/v1/security/events
type IngestEventRequest struct {
	EventType string                 `json:"event_type" validate:"required,event_type"`
	Severity  string                 `json:"severity,omitempty" validate:"omitempty,severity"`
	UserID    string                 `json:"user_id,omitempty" validate:"max=255"`
	IPAddress string                 `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent string                 `json:"user_agent,omitempty" validate:"max=512"`
	SessionID string                 `json:"session_id,omitempty" validate:"max=255"`
	Source    string                 `json:"source,omitempty" validate:"max=100"`
	Message   string                 `json:"message,omitempty" validate:"max=2000"`
	RiskScore int                    `json:"risk_score" validate:"gte=0,lte=100"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// PurgeRequest is the optional body of POST /api/v1/security/retention/purge
type PurgeRequest struct {
	OlderThanDays int `json:"older_than_days" validate:"gte=0"`
}

// UnlockResponse reports a lifted lockout
type UnlockResponse struct {
	UserID     string    `json:"user_id"`
	UnlockedBy string    `json:"unlocked_by"`
	UnlockedAt time.Time `json:"unlocked_at"`
}

// DashboardService serves aggregated and searchable event views
type DashboardService interface {
	Dashboard(ctx context.Context, hours int) (*models.SecurityDashboard, error)
	Search(ctx context.Context, filter repositories.EventFilter) (*dashboard.SearchResult, error)
	Get(ctx context.Context, id uuid.UUID) (*models.SecurityEvent, error)
	Export(ctx context.Context, w io.Writer, format dashboard.ExportFormat, filter repositories.EventFilter) (int, error)
}

// AlertService lists and acknowledges alerts
type AlertService interface {
	List(ctx context.Context, filter repositories.AlertFilter) ([]*models.Alert, error)
	Acknowledge(ctx context.Context, id uuid.UUID, user string) (*models.Alert, error)
}

// EventLogger queues security events for processing
type EventLogger interface {
	LogEvent(event *models.SecurityEvent) error
}

// ActivityMonitor exposes per-user and per-address detection state
type ActivityMonitor interface {
	RiskProfile(userID string) models.RiskProfile
	Unlock(userID, actor string) (*models.SecurityEvent, error)
	Report(limit int) models.SuspiciousActivityReport
}

// RetentionService purges old security data
type RetentionService interface {
	Purge(ctx context.Context, olderThanDays int, actor retention.Actor) (*retention.Result, error)
}

// SecurityServices groups what the security API needs. Stream may be nil.
type SecurityServices struct {
	Dashboard    DashboardService
	Alerts       AlertService
	Events       EventLogger
	Monitor      ActivityMonitor
	Retention    RetentionService
	Stream       http.Handler
	DefaultHours int
}

// SecurityHandler handles the operator-facing security API
type SecurityHandler struct {
	svc    SecurityServices
	logger *zap.Logger
}

// NewSecurityHandler creates a new SecurityHandler
func NewSecurityHandler(svc SecurityServices, logger *zap.Logger) *SecurityHandler {
	if svc.DefaultHours <= 0 {
		svc.DefaultHours = 24
	}
	return &SecurityHandler{svc: svc, logger: logger}
}

// HandleDashboard handles GET /api/v1/security/dashboard
func (h *SecurityHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	hours, err := intQuery(r, "hours", h.svc.DefaultHours)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	result, err := h.svc.Dashboard.Dashboard(r.Context(), hours)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleSearchEvents handles GET /api/v1/security/events
func (h *SecurityHandler) HandleSearchEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	result, err := h.svc.Dashboard.Search(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleGetEvent handles GET /api/v1/security/events/{id}
func (h *SecurityHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ParseUUID(chi.URLParam(r, "id"), "event_id")
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	event, err := h.svc.Dashboard.Get(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, event)
}

// HandleIngestEvent handles POST /api/v1/security/events
func (h *SecurityHandler) HandleIngestEvent(w http.ResponseWriter, r *http.Request) {
	var req IngestEventRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	var severity models.Severity
	if req.Severity != "" {
		severity, _ = models.ParseSeverity(req.Severity)
	}

	event := models.NewSecurityEvent(models.EventType(req.EventType), severity).
		WithUser(req.UserID).
		WithRequest(req.IPAddress, req.UserAgent, req.SessionID).
		WithMessage(req.Message).
		WithRiskScore(req.RiskScore)
	if req.Source != "" {
		event.WithSource(req.Source)
	}
	if req.Details != nil {
		event.WithDetails(req.Details)
	}

	if err := h.svc.Events.LogEvent(event); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Debug("security event accepted",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.EventType)))

	_ = utils.WriteAccepted(w, map[string]string{"id": event.ID.String()}, "event queued")
}

// HandleExportEvents handles GET /api/v1/security/events/export
func (h *SecurityHandler) HandleExportEvents(w http.ResponseWriter, r *http.Request) {
	format, err := dashboard.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	filter, err := parseEventFilter(r)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	var buf bytes.Buffer
	n, err := h.svc.Dashboard.Export(r.Context(), &buf, format, filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	filename := fmt.Sprintf("security-events-%s.%s", time.Now().UTC().Format("20060102T150405Z"), format)
	w.Header().Set("X-Exported-Count", strconv.Itoa(n))
	if err := utils.WriteAttachment(w, format.ContentType(), filename, buf.Bytes()); err != nil {
		h.logger.Warn("failed to write export", zap.Error(err))
	}
}

// HandleStream handles GET /api/v1/security/events/stream
func (h *SecurityHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	if h.svc.Stream == nil {
		_ = utils.WriteServiceUnavailable(w, "Live event stream is disabled")
		return
	}
	h.svc.Stream.ServeHTTP(w, r)
}

// HandleListAlerts handles GET /api/v1/security/alerts
func (h *SecurityHandler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := repositories.AlertFilter{RuleName: q.Get("rule")}

	if v := q.Get("acknowledged"); v != "" {
		ack, err := strconv.ParseBool(v)
		if err != nil {
			_ = utils.WriteBadRequest(w, "acknowledged must be true or false", nil)
			return
		}
		filter.Acknowledged = &ack
	}
	if v := q.Get("priority"); v != "" {
		priority, err := models.ParseAlertPriority(v)
		if err != nil {
			_ = utils.WriteBadRequest(w, err.Error(), nil)
			return
		}
		filter.Priority = priority
	}
	var err error
	if filter.Limit, err = intQuery(r, "limit", repositories.DefaultLimit); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	if filter.Offset, err = intQuery(r, "offset", 0); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	alerts, err := h.svc.Alerts.List(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, alerts)
}

// HandleAcknowledgeAlert handles POST /api/v1/security/alerts/{id}/acknowledge
func (h *SecurityHandler) HandleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ParseUUID(chi.URLParam(r, "id"), "alert_id")
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	alert, err := h.svc.Alerts.Acknowledge(r.Context(), id, middleware.ActorFromContext(r.Context()))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, alert)
}

// HandleRiskProfile handles GET /api/v1/security/users/{id}/risk
func (h *SecurityHandler) HandleRiskProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		_ = utils.WriteBadRequest(w, "user id is required", nil)
		return
	}
	_ = utils.WriteOK(w, h.svc.Monitor.RiskProfile(userID))
}

// HandleUnlockUser handles POST /api/v1/security/users/{id}/unlock
func (h *SecurityHandler) HandleUnlockUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		_ = utils.WriteBadRequest(w, "user id is required", nil)
		return
	}
	actor := middleware.ActorFromContext(r.Context())

	event, err := h.svc.Monitor.Unlock(userID, actor)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	event.WithRequest(middleware.ClientIP(r), r.UserAgent(), "")
	if err := h.svc.Events.LogEvent(event); err != nil {
		h.logger.Warn("failed to log account unlock", zap.String("user_id", userID), zap.Error(err))
	}

	_ = utils.WriteOK(w, UnlockResponse{UserID: userID, UnlockedBy: actor, UnlockedAt: event.Timestamp})
}

// HandleSuspiciousActivity handles GET /api/v1/security/suspicious-activity
func (h *SecurityHandler) HandleSuspiciousActivity(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", defaultSuspiciousLimit)
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}
	_ = utils.WriteOK(w, h.svc.Monitor.Report(limit))
}

// HandlePurge handles POST /api/v1/security/retention/purge
func (h *SecurityHandler) HandlePurge(w http.ResponseWriter, r *http.Request) {
	var req PurgeRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}
	if err := utils.ValidateStruct(&req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	actor := retention.Actor{
		UserID:    middleware.ActorFromContext(r.Context()),
		IPAddress: middleware.ClientIP(r),
	}
	result, err := h.svc.Retention.Purge(r.Context(), req.OlderThanDays, actor)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// decodeJSON reads a size-limited JSON body, rejecting unknown fields.
// With allowEmpty an empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// parseEventFilter maps query parameters onto an EventFilter. Repeated or
// comma separated type and severity values are combined; min_severity expands
// to every severity at or above it.
func parseEventFilter(r *http.Request) (repositories.EventFilter, error) {
	q := r.URL.Query()
	filter := repositories.EventFilter{
		UserID:    q.Get("user_id"),
		IPAddress: q.Get("ip_address"),
	}

	for _, v := range splitValues(q["type"]) {
		filter.Types = append(filter.Types, models.EventType(v))
	}
	for _, v := range splitValues(q["severity"]) {
		severity, err := models.ParseSeverity(v)
		if err != nil {
			return filter, err
		}
		filter.Severities = append(filter.Severities, severity)
	}
	if v := q.Get("min_severity"); v != "" {
		if len(filter.Severities) > 0 {
			return filter, errors.New("severity and min_severity are mutually exclusive")
		}
		minSeverity, err := models.ParseSeverity(v)
		if err != nil {
			return filter, err
		}
		filter.Severities = models.SeveritiesAtLeast(minSeverity)
	}

	var err error
	if filter.Start, err = timeQuery(r, "start"); err != nil {
		return filter, err
	}
	if filter.End, err = timeQuery(r, "end"); err != nil {
		return filter, err
	}
	if filter.Limit, err = intQuery(r, "limit", 0); err != nil {
		return filter, err
	}
	if filter.Offset, err = intQuery(r, "offset", 0); err != nil {
		return filter, err
	}
	return filter, nil
}

func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func timeQuery(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC3339 timestamp", key)
	}
	return &t, nil
}
