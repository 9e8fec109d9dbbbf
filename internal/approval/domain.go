package approval

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/expenseflow/expenseflow/internal/shared"
)

// Sequence is the approver aggregation mode of a rule.
type Sequence string

const (
	// SequenceSequential requires every approver to approve in order.
	SequenceSequential Sequence = "SEQUENTIAL"
	// SequenceParallel lets approvers vote concurrently against a
	// percentage threshold.
	SequenceParallel Sequence = "PARALLEL"
)

// DecisionStatus is the state of a single approval task.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "PENDING"
	DecisionApproved DecisionStatus = "APPROVED"
	DecisionRejected DecisionStatus = "REJECTED"
)

// ExpenseApproval is one approver's task for one submission cycle of an
// expense. Rows are written once at submission and mutated exactly once, by
// the assigned approver, from PENDING to a terminal value. They are never
// deleted; a resubmit creates a fresh set under a new cycle.
type ExpenseApproval struct {
	ID         uuid.UUID
	ExpenseID  uuid.UUID
	CompanyID  uuid.UUID
	ApproverID uuid.UUID
	Cycle      int
	// SequenceOrder positions the approver within a SEQUENTIAL chain,
	// starting at zero. PARALLEL rows all share order zero.
	SequenceOrder int
	Sequence      Sequence
	// MinApprovalPercentage is the threshold the cycle was created with,
	// denormalized so aggregation never depends on later rule edits.
	MinApprovalPercentage int
	RuleID                *uuid.UUID
	Status                DecisionStatus
	Comments              string
	ProcessedAt           *time.Time
	CreatedAt             time.Time
}

// RuleConditions select which expenses a rule applies to. Empty fields match
// everything.
type RuleConditions struct {
	// AmountAtLeast applies the rule to expenses of at least this amount.
	AmountAtLeast *decimal.Decimal `json:"amountAtLeast,omitempty"`
	CategoryIDs   []uuid.UUID      `json:"categoryIds,omitempty"`
	Roles         []shared.Role    `json:"roles,omitempty"`
	Departments   []string         `json:"departments,omitempty"`
}

// ApprovalRule is a company-configured policy mapping expense characteristics
// to a required approver set and aggregation mode.
type ApprovalRule struct {
	ID                    uuid.UUID
	CompanyID             uuid.UUID
	Name                  string
	Conditions            RuleConditions
	ApproverIDs           []uuid.UUID
	Sequence              Sequence
	MinApprovalPercentage int
	RequireManagerFirst   bool
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Validate enforces the rule invariants.
func (r ApprovalRule) Validate() error {
	violations := &shared.ValidationError{}
	if r.Name == "" {
		violations.Add("name", "required")
	}
	if r.Sequence != SequenceSequential && r.Sequence != SequenceParallel {
		violations.Add("sequence", "must be SEQUENTIAL or PARALLEL")
	}
	if len(r.ApproverIDs) == 0 && !r.RequireManagerFirst {
		violations.Add("approverIds", "at least one approver required")
	}
	if r.MinApprovalPercentage < 1 || r.MinApprovalPercentage > 100 {
		violations.Add("minApprovalPercentage", "must be between 1 and 100")
	}
	if r.Sequence == SequenceSequential && r.MinApprovalPercentage != 100 {
		violations.Add("minApprovalPercentage", "sequential rules require 100")
	}
	if len(r.ApproverIDs) == 1 && r.MinApprovalPercentage != 100 {
		violations.Add("minApprovalPercentage", "single-approver rules require 100")
	}
	if violations.Empty() {
		return nil
	}
	return violations
}

// ApproverPlan is the resolved approver set for one submission cycle.
type ApproverPlan struct {
	RuleID                *uuid.UUID
	ApproverIDs           []uuid.UUID
	Sequence              Sequence
	MinApprovalPercentage int
}

// RequiredApprovals returns how many distinct approvals satisfy a PARALLEL
// threshold: ceil(total × pct / 100), never less than one.
func RequiredApprovals(total, pct int) int {
	if total <= 0 {
		return 1
	}
	required := (total*pct + 99) / 100
	if required < 1 {
		required = 1
	}
	return required
}

var (
	// ErrNotFound indicates the approval task or rule does not exist, or the
	// caller is not its assigned approver.
	ErrNotFound = fmt.Errorf("approval: %w", shared.ErrNotFound)
	// ErrAlreadyProcessed occurs when a terminal task is decided again.
	ErrAlreadyProcessed = fmt.Errorf("approval: already processed: %w", shared.ErrConflict)
	// ErrExpenseFinalized occurs when a task of a no-longer-pending expense
	// is decided.
	ErrExpenseFinalized = fmt.Errorf("approval: expense already finalized: %w", shared.ErrConflict)
)
