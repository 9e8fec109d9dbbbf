package expense

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/expenseflow/expenseflow/internal/shared"
)

// Status is the lifecycle state of an expense.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Event names a lifecycle transition trigger.
type Event string

const (
	EventSubmit  Event = "SUBMIT"
	EventApprove Event = "APPROVE"
	EventReject  Event = "REJECT"
)

// transitions is the complete state machine. Any (status, event) pair absent
// from this table is an invalid transition; status is never mutated by any
// other path.
var transitions = map[Status]map[Event]Status{
	StatusDraft: {
		EventSubmit: StatusPendingApproval,
	},
	StatusPendingApproval: {
		EventApprove: StatusApproved,
		EventReject:  StatusRejected,
	},
	StatusRejected: {
		EventSubmit: StatusPendingApproval,
	},
}

// NextStatus resolves the target status for an event, or ErrInvalidTransition.
func NextStatus(current Status, event Event) (Status, error) {
	if next, ok := transitions[current][event]; ok {
		return next, nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, current)
}

// Editable reports whether the submitter may still change the expense.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusRejected
}

// Expense is a single spend record submitted for approval.
type Expense struct {
	ID           uuid.UUID
	SubmitterID  uuid.UUID
	CompanyID    uuid.UUID
	CategoryID   uuid.UUID
	Amount       decimal.Decimal
	Currency     string
	Description  string
	ExpenseDate  time.Time
	MerchantName string
	Status       Status
	// SubmitCycle increments on every submission; approval tasks belong to
	// the cycle they were created in, so a resubmit after rejection starts a
	// fresh set.
	SubmitCycle int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Receipt is the uploaded proof of purchase, at most one per expense.
type Receipt struct {
	ID        uuid.UUID
	ExpenseID uuid.UUID
	FileURL   string
	FileName  string
	FileType  string
	FileSize  int64
	// OCR fields are filled asynchronously by the extraction collaborator.
	OCRMerchant   *string
	OCRAmount     *decimal.Decimal
	OCRDate       *time.Time
	OCRConfidence *float64
	CreatedAt     time.Time
}

var (
	// ErrNotFound indicates the expense or receipt does not exist.
	ErrNotFound = fmt.Errorf("expense: %w", shared.ErrNotFound)
	// ErrInvalidTransition occurs when a lifecycle change is outside the
	// transition table.
	ErrInvalidTransition = fmt.Errorf("expense: invalid state transition: %w", shared.ErrConflict)
	// ErrReceiptExists occurs when a second receipt is attached.
	ErrReceiptExists = fmt.Errorf("expense: receipt already exists: %w", shared.ErrConflict)
)
