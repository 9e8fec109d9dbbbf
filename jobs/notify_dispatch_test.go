package jobs

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/company"
	jobmetrics "github.com/expenseflow/expenseflow/internal/jobs"
	"github.com/expenseflow/expenseflow/internal/notify"
)

type stubSettings struct {
	settings company.Settings
	err      error
}

func (s *stubSettings) GetSettings(context.Context, uuid.UUID) (company.Settings, error) {
	return s.settings, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTask(t *testing.T, evt notify.Event) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(evt)
	require.NoError(t, err)
	return asynq.NewTask(notify.TaskNotifyEvent, payload)
}

func TestDispatchPostsEventToWebhook(t *testing.T) {
	var (
		gotBody   []byte
		gotHeader string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Get("X-Expenseflow-Event")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewNotifyDispatcher(
		&stubSettings{settings: company.Settings{WebhookURL: srv.URL}},
		srv.Client(), discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()),
	)

	evt := notify.Event{Type: notify.EventExpenseApproved, CompanyID: uuid.New(), ExpenseID: uuid.New()}
	require.NoError(t, d.HandleNotifyEventTask(context.Background(), newTask(t, evt)))

	require.Equal(t, notify.EventExpenseApproved, gotHeader)
	var delivered notify.Event
	require.NoError(t, json.Unmarshal(gotBody, &delivered))
	require.Equal(t, evt.ExpenseID, delivered.ExpenseID)
}

func TestDispatchSkipsTenantsWithoutWebhook(t *testing.T) {
	d := NewNotifyDispatcher(
		&stubSettings{settings: company.Settings{}},
		nil, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()),
	)
	evt := notify.Event{Type: notify.EventExpenseSubmitted, CompanyID: uuid.New(), ExpenseID: uuid.New()}
	require.NoError(t, d.HandleNotifyEventTask(context.Background(), newTask(t, evt)))
}

func TestDispatchRetriesOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewNotifyDispatcher(
		&stubSettings{settings: company.Settings{WebhookURL: srv.URL}},
		srv.Client(), discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()),
	)
	evt := notify.Event{Type: notify.EventExpenseRejected, CompanyID: uuid.New(), ExpenseID: uuid.New()}
	err := d.HandleNotifyEventTask(context.Background(), newTask(t, evt))
	require.Error(t, err, "non-2xx must surface so asynq retries")
}

func TestDispatchDropsMalformedPayload(t *testing.T) {
	d := NewNotifyDispatcher(
		&stubSettings{}, nil, discardLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()),
	)
	task := asynq.NewTask(notify.TaskNotifyEvent, []byte("{not json"))
	err := d.HandleNotifyEventTask(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
}
