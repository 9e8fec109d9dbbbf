package approval

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expenseflow/expenseflow/internal/expense"
	"github.com/expenseflow/expenseflow/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for approvals and rules.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a RepeatableRead transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const approvalColumns = `id, expense_id, company_id, approver_id, cycle, sequence_order, sequence, min_approval_percentage, rule_id, status, COALESCE(comments,''), processed_at, created_at`

// ListForExpense returns the approval rows of one submission cycle.
func (r *Repository) ListForExpense(ctx context.Context, expenseID uuid.UUID, cycle int) ([]ExpenseApproval, error) {
	return listForExpense(ctx, r.pool, expenseID, cycle)
}

// ListTasksForApprover returns the approver's worklist joined with the
// expenses awaiting them. Sequential rows whose predecessors have not all
// approved are excluded: those tasks are not yet active.
func (r *Repository) ListTasksForApprover(ctx context.Context, approverID uuid.UUID, status DecisionStatus) ([]Task, error) {
	const query = `SELECT
  a.id, a.expense_id, a.company_id, a.approver_id, a.cycle, a.sequence_order,
  a.sequence, a.min_approval_percentage, a.rule_id, a.status, COALESCE(a.comments,''), a.processed_at, a.created_at,
  e.id, e.submitter_id, e.company_id, e.category_id, e.amount, e.currency,
  e.description, e.expense_date, COALESCE(e.merchant_name,''), e.status, e.submit_cycle, e.created_at, e.updated_at
FROM expense_approvals a
JOIN expenses e ON e.id = a.expense_id AND e.submit_cycle = a.cycle
WHERE a.approver_id = $1
  AND a.status = $2
  AND NOT EXISTS (
    SELECT 1 FROM expense_approvals p
    WHERE p.expense_id = a.expense_id
      AND p.cycle = a.cycle
      AND a.sequence = 'SEQUENTIAL'
      AND p.sequence_order < a.sequence_order
      AND p.status <> 'APPROVED')
ORDER BY a.created_at DESC`

	rows, err := r.pool.Query(ctx, query, approverID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.Approval.ID, &t.Approval.ExpenseID, &t.Approval.CompanyID, &t.Approval.ApproverID,
			&t.Approval.Cycle, &t.Approval.SequenceOrder, &t.Approval.Sequence,
			&t.Approval.MinApprovalPercentage, &t.Approval.RuleID, &t.Approval.Status,
			&t.Approval.Comments, &t.Approval.ProcessedAt, &t.Approval.CreatedAt,
			&t.Expense.ID, &t.Expense.SubmitterID, &t.Expense.CompanyID, &t.Expense.CategoryID,
			&t.Expense.Amount, &t.Expense.Currency, &t.Expense.Description, &t.Expense.ExpenseDate,
			&t.Expense.MerchantName, &t.Expense.Status, &t.Expense.SubmitCycle,
			&t.Expense.CreatedAt, &t.Expense.UpdatedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// GetExpenseForUpdate locks the expense row for the remainder of the
// transaction.
func (t *txRepo) GetExpenseForUpdate(ctx context.Context, id uuid.UUID) (expense.Expense, error) {
	const query = `SELECT id, submitter_id, company_id, category_id, amount, currency, description, expense_date, COALESCE(merchant_name,''), status, submit_cycle, created_at, updated_at
FROM expenses WHERE id = $1 FOR UPDATE`

	var exp expense.Expense
	err := t.tx.QueryRow(ctx, query, id).Scan(
		&exp.ID, &exp.SubmitterID, &exp.CompanyID, &exp.CategoryID,
		&exp.Amount, &exp.Currency, &exp.Description, &exp.ExpenseDate,
		&exp.MerchantName, &exp.Status, &exp.SubmitCycle,
		&exp.CreatedAt, &exp.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return expense.Expense{}, expense.ErrNotFound
	}
	return exp, err
}

func (t *txRepo) GetApprovalForApprover(ctx context.Context, expenseID, approverID uuid.UUID, cycle int) (ExpenseApproval, error) {
	const query = `SELECT ` + approvalColumns + ` FROM expense_approvals
WHERE expense_id = $1 AND approver_id = $2 AND cycle = $3`

	row := t.tx.QueryRow(ctx, query, expenseID, approverID, cycle)
	app, err := scanApproval(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ExpenseApproval{}, ErrNotFound
	}
	return app, err
}

func (t *txRepo) ListForExpense(ctx context.Context, expenseID uuid.UUID, cycle int) ([]ExpenseApproval, error) {
	return listForExpense(ctx, t.tx, expenseID, cycle)
}

func (t *txRepo) InsertApproval(ctx context.Context, row ExpenseApproval) error {
	const query = `INSERT INTO expense_approvals
  (id, expense_id, company_id, approver_id, cycle, sequence_order, sequence, min_approval_percentage, rule_id, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err := t.tx.Exec(ctx, query,
		row.ID, row.ExpenseID, row.CompanyID, row.ApproverID, row.Cycle,
		row.SequenceOrder, string(row.Sequence), row.MinApprovalPercentage,
		row.RuleID, string(row.Status), row.CreatedAt,
	)
	return err
}

func (t *txRepo) UpdateApprovalDecision(ctx context.Context, id uuid.UUID, status DecisionStatus, comments string, processedAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE expense_approvals SET status = $2, comments = $3, processed_at = $4 WHERE id = $1 AND status = 'PENDING'`,
		id, string(status), comments, processedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyProcessed
	}
	return nil
}

func (t *txRepo) UpdateExpenseStatus(ctx context.Context, expenseID uuid.UUID, status expense.Status, cycle int) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE expenses SET status = $2, submit_cycle = $3, updated_at = now() WHERE id = $1`,
		expenseID, string(status), cycle)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return expense.ErrNotFound
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listForExpense(ctx context.Context, q querier, expenseID uuid.UUID, cycle int) ([]ExpenseApproval, error) {
	const query = `SELECT ` + approvalColumns + ` FROM expense_approvals
WHERE expense_id = $1 AND cycle = $2
ORDER BY sequence_order`

	rows, err := q.Query(ctx, query, expenseID, cycle)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ExpenseApproval
	for rows.Next() {
		app, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, app)
	}
	return result, rows.Err()
}

func scanApproval(row pgx.Row) (ExpenseApproval, error) {
	var app ExpenseApproval
	err := row.Scan(
		&app.ID, &app.ExpenseID, &app.CompanyID, &app.ApproverID,
		&app.Cycle, &app.SequenceOrder, &app.Sequence, &app.MinApprovalPercentage,
		&app.RuleID, &app.Status, &app.Comments, &app.ProcessedAt, &app.CreatedAt,
	)
	return app, err
}

// ListActiveRules implements RuleStore for the resolver.
func (r *Repository) ListActiveRules(ctx context.Context, companyID uuid.UUID) ([]ApprovalRule, error) {
	return r.listRules(ctx, companyID, true)
}

// ListRules returns every rule of the company, active or not.
func (r *Repository) ListRules(ctx context.Context, companyID uuid.UUID) ([]ApprovalRule, error) {
	return r.listRules(ctx, companyID, false)
}

func (r *Repository) listRules(ctx context.Context, companyID uuid.UUID, activeOnly bool) ([]ApprovalRule, error) {
	const query = `SELECT id, company_id, name, conditions, approver_ids, sequence, min_approval_percentage, require_manager_first, is_active, created_at, updated_at
FROM approval_rules
WHERE company_id = $1 AND ($2 = false OR is_active)
ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query, companyID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []ApprovalRule
	for rows.Next() {
		var (
			rule       ApprovalRule
			conditions []byte
		)
		if err := rows.Scan(
			&rule.ID, &rule.CompanyID, &rule.Name, &conditions, &rule.ApproverIDs,
			&rule.Sequence, &rule.MinApprovalPercentage, &rule.RequireManagerFirst,
			&rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(conditions) > 0 {
			if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
				return nil, err
			}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// InsertRule stores a new approval rule.
func (r *Repository) InsertRule(ctx context.Context, rule ApprovalRule) error {
	conditions, err := json.Marshal(rule.Conditions)
	if err != nil {
		return err
	}
	const query = `INSERT INTO approval_rules
  (id, company_id, name, conditions, approver_ids, sequence, min_approval_percentage, require_manager_first, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err = r.pool.Exec(ctx, query,
		rule.ID, rule.CompanyID, rule.Name, conditions, rule.ApproverIDs,
		string(rule.Sequence), rule.MinApprovalPercentage, rule.RequireManagerFirst,
		rule.IsActive, rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// DeactivateRule retires a rule; submitted expenses keep their snapshot of it.
func (r *Repository) DeactivateRule(ctx context.Context, companyID, ruleID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE approval_rules SET is_active = false, updated_at = now() WHERE id = $1 AND company_id = $2`,
		ruleID, companyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
