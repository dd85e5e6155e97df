package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/promptcraft/promptcraft-hybrid/models"
	"go.uber.org/zap"
)

// Notifier delivers a raised alert to an external channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, alert *models.Alert) error
}

// LogNotifier writes alerts to the service log
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that logs alerts at warn level
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Name implements Notifier
func (n *LogNotifier) Name() string { return "log" }

// Notify implements Notifier
func (n *LogNotifier) Notify(_ context.Context, alert *models.Alert) error {
	n.logger.Warn("security alert raised",
		zap.String("alert_id", alert.ID.String()),
		zap.String("rule", alert.RuleName),
		zap.String("priority", string(alert.Priority)),
		zap.String("group_key", alert.GroupKey),
		zap.Int("event_count", alert.EventCount),
		zap.String("message", alert.Message))
	return nil
}

// WebhookPayload is the JSON body posted to alert webhooks
type WebhookPayload struct {
	Source string        `json:"source"`
	SentAt time.Time     `json:"sent_at"`
	Alert  *models.Alert `json:"alert"`
}

// WebhookNotifier posts alerts as JSON to an HTTP endpoint
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier with the given request timeout
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Name implements Notifier
func (n *WebhookNotifier) Name() string { return "webhook" }

// Notify implements Notifier
func (n *WebhookNotifier) Notify(ctx context.Context, alert *models.Alert) error {
	body, err := json.Marshal(WebhookPayload{
		Source: "promptcraft-hybrid",
		SentAt: time.Now().UTC(),
		Alert:  alert,
	})
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
