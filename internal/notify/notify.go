// Package notify publishes lifecycle events to interested collaborators.
// Delivery is fire-and-forget: emitting never fails the transition that
// produced the event, and dispatch happens after the transaction has
// committed.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types published by the workflow core.
const (
	EventExpenseSubmitted = "expense.submitted"
	EventExpenseApproved  = "expense.approved"
	EventExpenseRejected  = "expense.rejected"
	EventReceiptUploaded  = "receipt.uploaded"

	// EventApprovalActivated fires when a sequential approver's turn arrives.
	EventApprovalActivated = "approval.activated"
)

// Event describes a single lifecycle occurrence.
type Event struct {
	Type       string         `json:"type"`
	CompanyID  uuid.UUID      `json:"company_id"`
	ExpenseID  uuid.UUID      `json:"expense_id"`
	ActorID    uuid.UUID      `json:"actor_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Emitter publishes events. Implementations must not block the caller beyond
// an enqueue and must swallow delivery failures.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(context.Context, Event) {}
