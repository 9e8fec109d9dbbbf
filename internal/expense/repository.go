package expense

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/expenseflow/expenseflow/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
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

const expenseColumns = `id, submitter_id, company_id, category_id, amount, currency, description, expense_date, COALESCE(merchant_name,''), status, submit_cycle, created_at, updated_at`

// Get returns an expense by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Expense, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = $1`, id)
	return scanExpense(row)
}

// List returns expenses matching the filter plus the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Expense, int, error) {
	const query = `SELECT ` + expenseColumns + `, COUNT(*) OVER() AS total
FROM expenses
WHERE company_id = $1
  AND ($2::uuid IS NULL OR submitter_id = $2)
  AND ($3::text IS NULL OR status = $3)
ORDER BY expense_date DESC, created_at DESC
LIMIT $4 OFFSET $5`

	var submitter any
	if filter.SubmitterID != uuid.Nil {
		submitter = filter.SubmitterID
	}
	var status any
	if filter.Status != "" {
		status = string(filter.Status)
	}

	rows, err := r.pool.Query(ctx, query, filter.CompanyID, submitter, status, filter.Limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Expense
	total := 0
	for rows.Next() {
		var exp Expense
		if err := rows.Scan(
			&exp.ID, &exp.SubmitterID, &exp.CompanyID, &exp.CategoryID,
			&exp.Amount, &exp.Currency, &exp.Description, &exp.ExpenseDate,
			&exp.MerchantName, &exp.Status, &exp.SubmitCycle,
			&exp.CreatedAt, &exp.UpdatedAt, &total,
		); err != nil {
			return nil, 0, err
		}
		result = append(result, exp)
	}
	return result, total, rows.Err()
}

// GetReceipt returns the receipt for an expense.
func (r *Repository) GetReceipt(ctx context.Context, expenseID uuid.UUID) (Receipt, error) {
	const query = `SELECT id, expense_id, file_url, file_name, file_type, file_size, ocr_merchant, ocr_amount, ocr_date, ocr_confidence, created_at
FROM receipts WHERE expense_id = $1`
	var rec Receipt
	err := r.pool.QueryRow(ctx, query, expenseID).Scan(
		&rec.ID, &rec.ExpenseID, &rec.FileURL, &rec.FileName, &rec.FileType, &rec.FileSize,
		&rec.OCRMerchant, &rec.OCRAmount, &rec.OCRDate, &rec.OCRConfidence, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, ErrNotFound
		}
		return Receipt{}, err
	}
	return rec, nil
}

// UpdateReceiptOCR stores extraction results on a receipt.
func (r *Repository) UpdateReceiptOCR(ctx context.Context, receiptID uuid.UUID, merchant *string, amount *string, date *string, confidence *float64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE receipts SET ocr_merchant = $2, ocr_amount = $3::numeric, ocr_date = $4::date, ocr_confidence = $5 WHERE id = $1`,
		receiptID, merchant, amount, date, confidence)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) Insert(ctx context.Context, exp Expense) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO expenses (id, submitter_id, company_id, category_id, amount, currency, description, expense_date, merchant_name, status, submit_cycle, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9,''), $10, $11, $12, $13)`,
		exp.ID, exp.SubmitterID, exp.CompanyID, exp.CategoryID, exp.Amount, exp.Currency,
		exp.Description, exp.ExpenseDate, exp.MerchantName, exp.Status, exp.SubmitCycle,
		exp.CreatedAt, exp.UpdatedAt)
	return err
}

func (t *txRepo) Update(ctx context.Context, exp Expense) error {
	tag, err := t.tx.Exec(ctx, `UPDATE expenses SET category_id = $2, amount = $3, currency = $4, description = $5, expense_date = $6, merchant_name = NULLIF($7,''), updated_at = $8 WHERE id = $1`,
		exp.ID, exp.CategoryID, exp.Amount, exp.Currency, exp.Description, exp.ExpenseDate, exp.MerchantName, exp.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) InsertReceipt(ctx context.Context, rec Receipt) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO receipts (id, expense_id, file_url, file_name, file_type, file_size, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.ExpenseID, rec.FileURL, rec.FileName, rec.FileType, rec.FileSize, rec.CreatedAt)
	return err
}

func (t *txRepo) DeleteReceipts(ctx context.Context, expenseID uuid.UUID) ([]Receipt, error) {
	rows, err := t.tx.Query(ctx, `DELETE FROM receipts WHERE expense_id = $1 RETURNING id, expense_id, file_url, file_name, file_type, file_size, created_at`, expenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var removed []Receipt
	for rows.Next() {
		var rec Receipt
		if err := rows.Scan(&rec.ID, &rec.ExpenseID, &rec.FileURL, &rec.FileName, &rec.FileType, &rec.FileSize, &rec.CreatedAt); err != nil {
			return nil, err
		}
		removed = append(removed, rec)
	}
	return removed, rows.Err()
}

func scanExpense(row pgx.Row) (Expense, error) {
	var exp Expense
	err := row.Scan(
		&exp.ID, &exp.SubmitterID, &exp.CompanyID, &exp.CategoryID,
		&exp.Amount, &exp.Currency, &exp.Description, &exp.ExpenseDate,
		&exp.MerchantName, &exp.Status, &exp.SubmitCycle,
		&exp.CreatedAt, &exp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Expense{}, ErrNotFound
		}
		return Expense{}, err
	}
	return exp, nil
}
