package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/expenseflow/expenseflow/internal/company"
	jobmetrics "github.com/expenseflow/expenseflow/internal/jobs"
	"github.com/expenseflow/expenseflow/internal/notify"
)

// SettingsStore looks up a tenant's webhook configuration.
type SettingsStore interface {
	GetSettings(ctx context.Context, companyID uuid.UUID) (company.Settings, error)
}

// NotifyDispatcher delivers lifecycle events to tenant webhook endpoints.
// Delivery is at-least-once: a failed POST is retried by asynq, and the
// receiving endpoint must dedupe on (type, expense_id, occurred_at).
type NotifyDispatcher struct {
	settings SettingsStore
	client   *http.Client
	logger   *slog.Logger
	metrics  *jobmetrics.Metrics
}

// NewNotifyDispatcher constructs a dispatcher.
func NewNotifyDispatcher(settings SettingsStore, client *http.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyDispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &NotifyDispatcher{settings: settings, client: client, logger: logger, metrics: metrics}
}

// HandleNotifyEventTask processes notify:event tasks.
func (d *NotifyDispatcher) HandleNotifyEventTask(ctx context.Context, t *asynq.Task) error {
	var evt notify.Event
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	tracker := d.metrics.Track("notify_dispatch")
	return tracker.End(d.deliver(ctx, evt))
}

func (d *NotifyDispatcher) deliver(ctx context.Context, evt notify.Event) error {
	settings, err := d.settings.GetSettings(ctx, evt.CompanyID)
	if err != nil {
		return fmt.Errorf("load webhook settings: %w", err)
	}
	if settings.WebhookURL == "" {
		// tenant has not configured notifications
		return nil
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Expenseflow-Event", evt.Type)

	resp, err := d.client.Do(req)
	if err != nil {
		d.metrics.AddDelivery(evt.Type, "error")
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.metrics.AddDelivery(evt.Type, "rejected")
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	d.metrics.AddDelivery(evt.Type, "delivered")
	d.logger.Info("webhook delivered",
		slog.String("type", evt.Type),
		slog.String("expense_id", evt.ExpenseID.String()),
	)
	return nil
}
