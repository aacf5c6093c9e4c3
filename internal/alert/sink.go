package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/retry"
)

// Sink delivers alerts to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, alert *domain.Alert) error
}

// BusSink publishes alerts on the event bus.
type BusSink struct {
	Bus domain.EventBus
}

func (s *BusSink) Name() string { return "bus" }

func (s *BusSink) Deliver(ctx context.Context, a *domain.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return retry.Permanent(err)
	}
	return s.Bus.Publish(ctx, a.TenantID, domain.TopicAlert, payload)
}

// RepositorySink stores alerts for the alert lifecycle endpoints.
type RepositorySink struct {
	Repo domain.Repository
}

func (s *RepositorySink) Name() string { return "repository" }

func (s *RepositorySink) Deliver(ctx context.Context, a *domain.Alert) error {
	return s.Repo.SaveAlert(ctx, a.TenantID, a)
}

// WebhookSink POSTs alerts to an external URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink with its own client timeout.
func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{url: url, client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Name() string { return "webhook" }

type webhookPayload struct {
	Event       string        `json:"event"`
	TriggeredAt time.Time     `json:"triggeredAt"`
	Alert       *domain.Alert `json:"alert"`
}

func (s *WebhookSink) Deliver(ctx context.Context, a *domain.Alert) error {
	body, err := json.Marshal(webhookPayload{Event: "risk_alert", TriggeredAt: a.CreatedAt, Alert: a})
	if err != nil {
		return retry.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Kestrel-Event", "risk_alert")
	req.Header.Set("X-Kestrel-Severity", string(a.Severity))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return retry.Permanent(fmt.Errorf("webhook rejected alert: status %d", resp.StatusCode))
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}
