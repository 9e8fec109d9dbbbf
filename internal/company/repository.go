package company

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for companies and
// categories.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns a company by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Company, error) {
	const query = `SELECT id, name, default_currency, max_expense_amount, receipt_required_above, COALESCE(webhook_url,''), created_at, updated_at
FROM companies WHERE id = $1`
	var c Company
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.DefaultCurrency,
		&c.Settings.MaxExpenseAmount, &c.Settings.ReceiptRequiredAbove, &c.Settings.WebhookURL,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrNotFound
		}
		return Company{}, err
	}
	return c, nil
}

// GetSettings returns only the workflow settings for a company.
func (r *Repository) GetSettings(ctx context.Context, id uuid.UUID) (Settings, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return Settings{}, err
	}
	if c.Settings.ReceiptRequiredAbove.IsZero() {
		c.Settings.ReceiptRequiredAbove = DefaultReceiptThreshold()
	}
	return c.Settings, nil
}

// GetCategory returns a category if it belongs to the given company.
func (r *Repository) GetCategory(ctx context.Context, companyID, categoryID uuid.UUID) (Category, error) {
	const query = `SELECT id, company_id, name, is_active, created_at
FROM expense_categories WHERE id = $1 AND company_id = $2`
	var cat Category
	err := r.pool.QueryRow(ctx, query, categoryID, companyID).Scan(&cat.ID, &cat.CompanyID, &cat.Name, &cat.IsActive, &cat.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Category{}, ErrNotFound
		}
		return Category{}, err
	}
	return cat, nil
}

// UpdateSettings stores the workflow settings of a company.
func (r *Repository) UpdateSettings(ctx context.Context, id uuid.UUID, s Settings) error {
	const query = `UPDATE companies
SET max_expense_amount = $2, receipt_required_above = $3, webhook_url = NULLIF($4,''), updated_at = now()
WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, s.MaxExpenseAmount, s.ReceiptRequiredAbove, s.WebhookURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateCategory adds an expense category to a company.
func (r *Repository) CreateCategory(ctx context.Context, cat Category) error {
	const query = `INSERT INTO expense_categories (id, company_id, name, is_active, created_at)
VALUES ($1,$2,$3,$4,$5)`
	_, err := r.pool.Exec(ctx, query, cat.ID, cat.CompanyID, cat.Name, cat.IsActive, cat.CreatedAt)
	return err
}

// ListCategories lists the active categories of a company.
func (r *Repository) ListCategories(ctx context.Context, companyID uuid.UUID) ([]Category, error) {
	const query = `SELECT id, company_id, name, is_active, created_at
FROM expense_categories WHERE company_id = $1 AND is_active ORDER BY name`
	rows, err := r.pool.Query(ctx, query, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cats []Category
	for rows.Next() {
		var cat Category
		if err := rows.Scan(&cat.ID, &cat.CompanyID, &cat.Name, &cat.IsActive, &cat.CreatedAt); err != nil {
			return nil, err
		}
		cats = append(cats, cat)
	}
	return cats, rows.Err()
}
