package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/authz"
	"github.com/expenseflow/expenseflow/internal/company"
	"github.com/expenseflow/expenseflow/internal/expense"
	"github.com/expenseflow/expenseflow/internal/notify"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// Decision is the approver's verdict.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// RepositoryPort describes repository operations used by the engine.
type RepositoryPort interface {
	RuleStore
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListTasksForApprover(ctx context.Context, approverID uuid.UUID, status DecisionStatus) ([]Task, error)
	ListForExpense(ctx context.Context, expenseID uuid.UUID, cycle int) ([]ExpenseApproval, error)
	InsertRule(ctx context.Context, rule ApprovalRule) error
	ListRules(ctx context.Context, companyID uuid.UUID) ([]ApprovalRule, error)
	DeactivateRule(ctx context.Context, companyID, ruleID uuid.UUID) error
}

// TxRepository exposes the transactional operations of a decision or submit.
type TxRepository interface {
	// GetExpenseForUpdate locks the expense row, serializing concurrent
	// decisions on the same expense.
	GetExpenseForUpdate(ctx context.Context, id uuid.UUID) (expense.Expense, error)
	GetApprovalForApprover(ctx context.Context, expenseID, approverID uuid.UUID, cycle int) (ExpenseApproval, error)
	ListForExpense(ctx context.Context, expenseID uuid.UUID, cycle int) ([]ExpenseApproval, error)
	InsertApproval(ctx context.Context, row ExpenseApproval) error
	UpdateApprovalDecision(ctx context.Context, id uuid.UUID, status DecisionStatus, comments string, processedAt time.Time) error
	UpdateExpenseStatus(ctx context.Context, expenseID uuid.UUID, status expense.Status, cycle int) error
}

// ExpenseStore reads expenses and receipts owned by the expense package.
type ExpenseStore interface {
	Get(ctx context.Context, id uuid.UUID) (expense.Expense, error)
	GetReceipt(ctx context.Context, expenseID uuid.UUID) (expense.Receipt, error)
}

// CompanyStore reads tenant settings.
type CompanyStore interface {
	GetSettings(ctx context.Context, companyID uuid.UUID) (company.Settings, error)
}

// Task pairs an approval row with the expense it concerns, for worklists.
type Task struct {
	Approval ExpenseApproval
	Expense  expense.Expense
}

// Engine is the approval workflow state machine. The persisted
// ExpenseApproval and Expense rows are its only state; every mutation runs
// inside a single transaction guarded by a row lock on the expense.
type Engine struct {
	repo        RepositoryPort
	expenses    ExpenseStore
	companies   CompanyStore
	userDir     UserDirectory
	resolver    *Resolver
	emitter     notify.Emitter
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	logger      *slog.Logger
	now         func() time.Time
}

// AuditPort records workflow actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NewEngine constructs the workflow engine.
func NewEngine(repo RepositoryPort, expenses ExpenseStore, companies CompanyStore, userDir UserDirectory, resolver *Resolver, emitter notify.Emitter, audit AuditPort, idempotency *shared.IdempotencyStore, logger *slog.Logger) *Engine {
	if emitter == nil {
		emitter = notify.NopEmitter{}
	}
	return &Engine{
		repo:        repo,
		expenses:    expenses,
		companies:   companies,
		userDir:     userDir,
		resolver:    resolver,
		emitter:     emitter,
		audit:       audit,
		idempotency: idempotency,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Submit transitions a DRAFT or REJECTED expense to PENDING_APPROVAL,
// creating one approval task per resolved approver. The receipt requirement
// is a hard gate here, not a warning.
func (e *Engine) Submit(ctx context.Context, caller shared.Identity, expenseID uuid.UUID, idempotencyKey string) (expense.Expense, error) {
	exp, err := e.expenses.Get(ctx, expenseID)
	if err != nil {
		return expense.Expense{}, err
	}
	if err := authz.SameCompany(caller, exp.CompanyID); err != nil {
		return expense.Expense{}, err
	}
	if err := authz.RequireOwner(caller, exp.SubmitterID); err != nil {
		return expense.Expense{}, err
	}
	if _, err := expense.NextStatus(exp.Status, expense.EventSubmit); err != nil {
		return expense.Expense{}, err
	}

	settings, err := e.companies.GetSettings(ctx, exp.CompanyID)
	if err != nil {
		return expense.Expense{}, err
	}
	if expense.IsReceiptRequired(exp.Amount, settings) {
		if _, err := e.expenses.GetReceipt(ctx, expenseID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return expense.Expense{}, shared.NewBusinessRuleError(
					"a receipt is required for amounts above %s", settings.ReceiptRequiredAbove)
			}
			return expense.Expense{}, err
		}
	}

	submitter, err := e.userDir.Get(ctx, exp.SubmitterID)
	if err != nil {
		return expense.Expense{}, err
	}
	plan, err := e.resolver.Resolve(ctx, exp, submitter)
	if err != nil {
		return expense.Expense{}, err
	}

	idemInserted := false
	if idempotencyKey != "" && e.idempotency != nil {
		key := fmt.Sprintf("submit:%s:%s", expenseID, idempotencyKey)
		if err := e.idempotency.CheckAndInsert(ctx, key, "approval.submit"); err != nil {
			return expense.Expense{}, err
		}
		idemInserted = true
		defer func() {
			if err != nil && idemInserted {
				_ = e.idempotency.Delete(ctx, key)
			}
		}()
	}

	var submitted expense.Expense
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetExpenseForUpdate(ctx, expenseID)
		if err != nil {
			return err
		}
		next, err := expense.NextStatus(locked.Status, expense.EventSubmit)
		if err != nil {
			return err
		}
		cycle := locked.SubmitCycle + 1
		if err := tx.UpdateExpenseStatus(ctx, expenseID, next, cycle); err != nil {
			return err
		}
		for i, approverID := range plan.ApproverIDs {
			row := ExpenseApproval{
				ID:                    uuid.New(),
				ExpenseID:             expenseID,
				CompanyID:             locked.CompanyID,
				ApproverID:            approverID,
				Cycle:                 cycle,
				SequenceOrder:         i,
				Sequence:              plan.Sequence,
				MinApprovalPercentage: plan.MinApprovalPercentage,
				RuleID:                plan.RuleID,
				Status:                DecisionPending,
				CreatedAt:             e.now(),
			}
			if err := tx.InsertApproval(ctx, row); err != nil {
				return err
			}
		}
		submitted = locked
		submitted.Status = next
		submitted.SubmitCycle = cycle
		return nil
	})
	if err != nil {
		return expense.Expense{}, err
	}

	e.recordAudit(ctx, caller, "EXPENSE_SUBMIT", expenseID, map[string]any{
		"cycle": submitted.SubmitCycle, "approvers": len(plan.ApproverIDs), "sequence": string(plan.Sequence),
	})
	e.emitter.Emit(ctx, notify.Event{
		Type:      notify.EventExpenseSubmitted,
		CompanyID: submitted.CompanyID,
		ExpenseID: expenseID,
		ActorID:   caller.UserID,
		Data:      map[string]any{"approver_id": plan.ApproverIDs[0].String(), "sequence": string(plan.Sequence)},
	})
	return submitted, nil
}

// Approve records an approval decision. The comment is optional.
func (e *Engine) Approve(ctx context.Context, caller shared.Identity, expenseID uuid.UUID, comment string) (expense.Expense, error) {
	return e.decide(ctx, caller, expenseID, DecisionApprove, "", comment)
}

// Reject records a rejection. Both reason and comment are mandatory;
// a rejection is always explained.
func (e *Engine) Reject(ctx context.Context, caller shared.Identity, expenseID uuid.UUID, reason, comment string) (expense.Expense, error) {
	violations := &shared.ValidationError{}
	if reason == "" {
		violations.Add("reason", "required when rejecting")
	}
	if comment == "" {
		violations.Add("comment", "required when rejecting")
	}
	if !violations.Empty() {
		return expense.Expense{}, violations
	}
	return e.decide(ctx, caller, expenseID, DecisionReject, reason, comment)
}

func (e *Engine) decide(ctx context.Context, caller shared.Identity, expenseID uuid.UUID, decision Decision, reason, comment string) (expense.Expense, error) {
	var (
		updated   expense.Expense
		finalized bool
	)
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exp, err := tx.GetExpenseForUpdate(ctx, expenseID)
		if err != nil {
			return err
		}
		if err := authz.SameCompany(caller, exp.CompanyID); err != nil {
			return err
		}
		task, err := tx.GetApprovalForApprover(ctx, expenseID, caller.UserID, exp.SubmitCycle)
		if err != nil {
			return err
		}
		if err := authz.CanDecideApproval(caller, task.CompanyID, task.ApproverID); err != nil {
			return err
		}
		if task.Status != DecisionPending {
			return ErrAlreadyProcessed
		}
		if exp.Status != expense.StatusPendingApproval {
			// Another decision already finalized this cycle; the remaining
			// PENDING rows are moot.
			return ErrExpenseFinalized
		}

		rows, err := tx.ListForExpense(ctx, expenseID, exp.SubmitCycle)
		if err != nil {
			return err
		}
		if task.Sequence == SequenceSequential && !isActive(task, rows) {
			return shared.NewBusinessRuleError("a preceding approver has not decided yet")
		}

		now := e.now()
		switch decision {
		case DecisionApprove:
			if err := tx.UpdateApprovalDecision(ctx, task.ID, DecisionApproved, comment, now); err != nil {
				return err
			}
			if aggregateApproved(task, rows) {
				next, err := expense.NextStatus(exp.Status, expense.EventApprove)
				if err != nil {
					return err
				}
				if err := tx.UpdateExpenseStatus(ctx, expenseID, next, exp.SubmitCycle); err != nil {
					return err
				}
				exp.Status = next
				finalized = true
			}
		case DecisionReject:
			comments := reason + ": " + comment
			if err := tx.UpdateApprovalDecision(ctx, task.ID, DecisionRejected, comments, now); err != nil {
				return err
			}
			// One rejection rejects the whole expense, short-circuiting any
			// remaining PENDING tasks.
			next, err := expense.NextStatus(exp.Status, expense.EventReject)
			if err != nil {
				return err
			}
			if err := tx.UpdateExpenseStatus(ctx, expenseID, next, exp.SubmitCycle); err != nil {
				return err
			}
			exp.Status = next
			finalized = true
		default:
			return shared.NewValidationError(map[string]string{"decision": "must be APPROVE or REJECT"})
		}
		updated = exp
		return nil
	})
	if err != nil {
		return expense.Expense{}, err
	}

	e.afterDecision(ctx, caller, decision, updated, finalized, reason, comment)
	return updated, nil
}

// afterDecision runs post-commit side effects: audit trail and notifications.
func (e *Engine) afterDecision(ctx context.Context, caller shared.Identity, decision Decision, exp expense.Expense, finalized bool, reason, comment string) {
	action := "APPROVAL_APPROVE"
	if decision == DecisionReject {
		action = "APPROVAL_REJECT"
	}
	e.recordAudit(ctx, caller, action, exp.ID, map[string]any{"status": string(exp.Status)})

	switch {
	case decision == DecisionReject:
		e.emitter.Emit(ctx, notify.Event{
			Type:      notify.EventExpenseRejected,
			CompanyID: exp.CompanyID,
			ExpenseID: exp.ID,
			ActorID:   caller.UserID,
			Data:      map[string]any{"reason": reason, "comment": comment},
		})
	case finalized:
		e.emitter.Emit(ctx, notify.Event{
			Type:      notify.EventExpenseApproved,
			CompanyID: exp.CompanyID,
			ExpenseID: exp.ID,
			ActorID:   caller.UserID,
		})
	default:
		// mid-chain approval: the next sequential approver becomes active
		if next, ok := e.nextActiveApprover(ctx, exp); ok {
			e.emitter.Emit(ctx, notify.Event{
				Type:      notify.EventApprovalActivated,
				CompanyID: exp.CompanyID,
				ExpenseID: exp.ID,
				ActorID:   caller.UserID,
				Data:      map[string]any{"approver_id": next.String()},
			})
		}
	}
}

func (e *Engine) nextActiveApprover(ctx context.Context, exp expense.Expense) (uuid.UUID, bool) {
	rows, err := e.repo.ListForExpense(ctx, exp.ID, exp.SubmitCycle)
	if err != nil {
		e.logger.Warn("load approvals for notification", slog.Any("error", err))
		return uuid.Nil, false
	}
	for _, row := range rows {
		if row.Status == DecisionPending && isActive(row, rows) {
			return row.ApproverID, true
		}
	}
	return uuid.Nil, false
}

// ListTasks returns the caller's approval worklist. Sequential tasks that are
// not yet active are excluded.
func (e *Engine) ListTasks(ctx context.Context, caller shared.Identity, status DecisionStatus) ([]Task, error) {
	if err := authz.RequireRole(caller, shared.RoleManager, shared.RoleAdmin); err != nil {
		return nil, err
	}
	if status == "" {
		status = DecisionPending
	}
	return e.repo.ListTasksForApprover(ctx, caller.UserID, status)
}

// CreateRule stores a new approval rule for the caller's company (admins
// only). Rule invariants and approver references are validated up front.
func (e *Engine) CreateRule(ctx context.Context, caller shared.Identity, rule ApprovalRule) (ApprovalRule, error) {
	if err := authz.RequireRole(caller, shared.RoleAdmin); err != nil {
		return ApprovalRule{}, err
	}
	rule.ID = uuid.New()
	rule.CompanyID = caller.CompanyID
	rule.IsActive = true
	rule.CreatedAt = e.now()
	rule.UpdatedAt = rule.CreatedAt
	if err := rule.Validate(); err != nil {
		return ApprovalRule{}, err
	}
	if len(rule.ApproverIDs) > 0 {
		resolved, err := e.userDir.ListByIDs(ctx, rule.ApproverIDs)
		if err != nil {
			return ApprovalRule{}, err
		}
		known := make(map[uuid.UUID]struct{}, len(resolved))
		for _, u := range resolved {
			if u.CompanyID == caller.CompanyID && u.Role.CanApprove() {
				known[u.ID] = struct{}{}
			}
		}
		for _, id := range rule.ApproverIDs {
			if _, ok := known[id]; !ok {
				return ApprovalRule{}, shared.NewValidationError(map[string]string{
					"approverIds": fmt.Sprintf("%s is not an active manager or admin of this company", id),
				})
			}
		}
	}
	if err := e.repo.InsertRule(ctx, rule); err != nil {
		return ApprovalRule{}, err
	}
	e.recordAudit(ctx, caller, "RULE_CREATE", rule.ID, map[string]any{"name": rule.Name})
	return rule, nil
}

// ListRules returns the company's rules (admins only).
func (e *Engine) ListRules(ctx context.Context, caller shared.Identity) ([]ApprovalRule, error) {
	if err := authz.RequireRole(caller, shared.RoleAdmin); err != nil {
		return nil, err
	}
	return e.repo.ListRules(ctx, caller.CompanyID)
}

// DeactivateRule retires a rule without deleting its history.
func (e *Engine) DeactivateRule(ctx context.Context, caller shared.Identity, ruleID uuid.UUID) error {
	if err := authz.RequireRole(caller, shared.RoleAdmin); err != nil {
		return err
	}
	if err := e.repo.DeactivateRule(ctx, caller.CompanyID, ruleID); err != nil {
		return err
	}
	e.recordAudit(ctx, caller, "RULE_DEACTIVATE", ruleID, nil)
	return nil
}

// isActive reports whether a task may be decided now. PARALLEL tasks are
// always active; a SEQUENTIAL task waits for every earlier approver.
func isActive(task ExpenseApproval, rows []ExpenseApproval) bool {
	if task.Sequence != SequenceSequential {
		return true
	}
	for _, row := range rows {
		if row.Cycle == task.Cycle && row.SequenceOrder < task.SequenceOrder && row.Status != DecisionApproved {
			return false
		}
	}
	return true
}

// aggregateApproved recomputes the cycle outcome assuming task has just been
// approved. rows is the pre-update snapshot of the cycle.
func aggregateApproved(task ExpenseApproval, rows []ExpenseApproval) bool {
	total := len(rows)
	approved := 1 // the decision being applied
	for _, row := range rows {
		if row.ID == task.ID {
			continue
		}
		if row.Status == DecisionApproved {
			approved++
		}
	}
	if task.Sequence == SequenceSequential {
		return approved == total
	}
	return approved >= RequiredApprovals(total, task.MinApprovalPercentage)
}

func (e *Engine) recordAudit(ctx context.Context, caller shared.Identity, action string, entityID uuid.UUID, meta map[string]any) {
	if e.audit == nil {
		return
	}
	log := shared.AuditLog{CompanyID: caller.CompanyID, ActorID: caller.UserID, Action: action, Entity: "approval", EntityID: entityID.String(), Meta: meta}
	if err := e.audit.Record(ctx, log); err != nil {
		e.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}
