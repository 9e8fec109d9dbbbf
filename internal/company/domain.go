package company

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/expenseflow/expenseflow/internal/shared"
)

// Company is a tenant. All entities are scoped to exactly one company.
type Company struct {
	ID              uuid.UUID
	Name            string
	DefaultCurrency string
	Settings        Settings
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Settings holds the tunables the expense workflow consults.
type Settings struct {
	// MaxExpenseAmount is the upper bound for a single expense.
	MaxExpenseAmount decimal.Decimal
	// ReceiptRequiredAbove is the amount above which a receipt becomes
	// mandatory at submission time.
	ReceiptRequiredAbove decimal.Decimal
	// WebhookURL receives lifecycle event notifications; empty disables them.
	WebhookURL string
}

// Category is an expense category configured per company.
type Category struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

// DefaultReceiptThreshold applies when a company has not configured one.
func DefaultReceiptThreshold() decimal.Decimal {
	return decimal.NewFromInt(25)
}

var (
	// ErrNotFound indicates the company or category does not exist.
	ErrNotFound = fmt.Errorf("company: %w", shared.ErrNotFound)
)
