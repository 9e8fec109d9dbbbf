package expense

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/expenseflow/expenseflow/internal/authz"
	"github.com/expenseflow/expenseflow/internal/company"
	"github.com/expenseflow/expenseflow/internal/notify"
	"github.com/expenseflow/expenseflow/internal/platform/blob"
	"github.com/expenseflow/expenseflow/internal/shared"
	"github.com/expenseflow/expenseflow/internal/users"
)

// MaxReceiptSize caps receipt uploads at 10MB.
const MaxReceiptSize = 10 << 20

// MaxExpenseAge is how far back an expense date may lie.
const MaxExpenseAge = 365 * 24 * time.Hour

var allowedReceiptTypes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"application/pdf": {},
}

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Expense, error)
	List(ctx context.Context, filter ListFilter) ([]Expense, int, error)
	GetReceipt(ctx context.Context, expenseID uuid.UUID) (Receipt, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Insert(ctx context.Context, exp Expense) error
	Update(ctx context.Context, exp Expense) error
	Delete(ctx context.Context, id uuid.UUID) error
	InsertReceipt(ctx context.Context, rec Receipt) error
	DeleteReceipts(ctx context.Context, expenseID uuid.UUID) ([]Receipt, error)
}

// CompanyPort exposes the tenant configuration the entity manager consults.
type CompanyPort interface {
	GetSettings(ctx context.Context, companyID uuid.UUID) (company.Settings, error)
	GetCategory(ctx context.Context, companyID, categoryID uuid.UUID) (company.Category, error)
}

// UserPort resolves users for manager-based view authorization.
type UserPort interface {
	Get(ctx context.Context, id uuid.UUID) (users.User, error)
}

// ListFilter narrows List results.
type ListFilter struct {
	CompanyID   uuid.UUID
	SubmitterID uuid.UUID
	Status      Status
	Limit       int
	Offset      int
}

// Service enforces create/update/delete rules based on lifecycle state.
type Service struct {
	repo      RepositoryPort
	companies CompanyPort
	userDir   UserPort
	files     blob.Store
	emitter   notify.Emitter
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// AuditPort records entity mutations.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NewService constructs the expense entity manager.
func NewService(repo RepositoryPort, companies CompanyPort, userDir UserPort, files blob.Store, emitter notify.Emitter, audit AuditPort, logger *slog.Logger) *Service {
	if emitter == nil {
		emitter = notify.NopEmitter{}
	}
	return &Service{
		repo:      repo,
		companies: companies,
		userDir:   userDir,
		files:     files,
		emitter:   emitter,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput describes a new expense.
type CreateInput struct {
	CategoryID   uuid.UUID
	Amount       decimal.Decimal
	Currency     string
	Description  string
	ExpenseDate  time.Time
	MerchantName string
}

// Create validates the input and stores a DRAFT expense owned by the caller.
func (s *Service) Create(ctx context.Context, caller shared.Identity, input CreateInput) (Expense, error) {
	settings, err := s.companies.GetSettings(ctx, caller.CompanyID)
	if err != nil {
		return Expense{}, err
	}

	exp := Expense{
		ID:           uuid.New(),
		SubmitterID:  caller.UserID,
		CompanyID:    caller.CompanyID,
		CategoryID:   input.CategoryID,
		Amount:       input.Amount,
		Currency:     strings.ToUpper(input.Currency),
		Description:  strings.TrimSpace(input.Description),
		ExpenseDate:  input.ExpenseDate,
		MerchantName: strings.TrimSpace(input.MerchantName),
		Status:       StatusDraft,
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}

	if err := s.validate(ctx, exp, settings); err != nil {
		return Expense{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, exp)
	})
	if err != nil {
		return Expense{}, err
	}
	s.recordAudit(ctx, caller, "EXPENSE_CREATE", exp.ID, map[string]any{"amount": exp.Amount.String(), "currency": exp.Currency})
	return exp, nil
}

// UpdateInput is a partial patch; nil fields are left untouched.
type UpdateInput struct {
	CategoryID   *uuid.UUID
	Amount       *decimal.Decimal
	Currency     *string
	Description  *string
	ExpenseDate  *time.Time
	MerchantName *string
}

// Update applies a patch to an editable expense owned by the caller. Status
// is never altered here.
func (s *Service) Update(ctx context.Context, caller shared.Identity, id uuid.UUID, patch UpdateInput) (Expense, error) {
	exp, err := s.repo.Get(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	if err := authz.CanMutateExpense(caller, exp.CompanyID, exp.SubmitterID); err != nil {
		return Expense{}, err
	}
	if !exp.Status.Editable() {
		return Expense{}, fmt.Errorf("%w: update in %s", ErrInvalidTransition, exp.Status)
	}

	if patch.CategoryID != nil {
		exp.CategoryID = *patch.CategoryID
	}
	if patch.Amount != nil {
		exp.Amount = *patch.Amount
	}
	if patch.Currency != nil {
		exp.Currency = strings.ToUpper(*patch.Currency)
	}
	if patch.Description != nil {
		exp.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.ExpenseDate != nil {
		exp.ExpenseDate = *patch.ExpenseDate
	}
	if patch.MerchantName != nil {
		exp.MerchantName = strings.TrimSpace(*patch.MerchantName)
	}
	exp.UpdatedAt = s.now()

	settings, err := s.companies.GetSettings(ctx, exp.CompanyID)
	if err != nil {
		return Expense{}, err
	}
	if err := s.validate(ctx, exp, settings); err != nil {
		return Expense{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Update(ctx, exp)
	})
	if err != nil {
		return Expense{}, err
	}
	s.recordAudit(ctx, caller, "EXPENSE_UPDATE", exp.ID, nil)
	return exp, nil
}

// Delete removes a DRAFT expense and its receipt files.
func (s *Service) Delete(ctx context.Context, caller shared.Identity, id uuid.UUID) error {
	exp, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := authz.CanMutateExpense(caller, exp.CompanyID, exp.SubmitterID); err != nil {
		return err
	}
	if exp.Status != StatusDraft {
		return fmt.Errorf("%w: delete in %s", ErrInvalidTransition, exp.Status)
	}

	var removed []Receipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		removed, err = tx.DeleteReceipts(ctx, id)
		if err != nil {
			return err
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	for _, rec := range removed {
		if s.files == nil {
			continue
		}
		if err := s.files.Remove(ctx, receiptKey(rec)); err != nil {
			s.logger.Warn("remove receipt file", slog.String("receipt_id", rec.ID.String()), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, caller, "EXPENSE_DELETE", id, nil)
	return nil
}

// Get returns an expense the caller is allowed to see.
func (s *Service) Get(ctx context.Context, caller shared.Identity, id uuid.UUID) (Expense, error) {
	exp, err := s.repo.Get(ctx, id)
	if err != nil {
		return Expense{}, err
	}
	if err := s.authorizeView(ctx, caller, exp); err != nil {
		return Expense{}, err
	}
	return exp, nil
}

// GetReceipt returns the receipt attached to an expense the caller may see.
func (s *Service) GetReceipt(ctx context.Context, caller shared.Identity, expenseID uuid.UUID) (Receipt, error) {
	if _, err := s.Get(ctx, caller, expenseID); err != nil {
		return Receipt{}, err
	}
	return s.repo.GetReceipt(ctx, expenseID)
}

// List returns expenses visible to the caller. Admins may list company-wide;
// managers may list a direct report by submitter filter; everyone lists their
// own.
func (s *Service) List(ctx context.Context, caller shared.Identity, filter ListFilter) ([]Expense, int, error) {
	filter.CompanyID = caller.CompanyID
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}

	switch {
	case filter.SubmitterID == uuid.Nil && caller.Role == shared.RoleAdmin:
		// company-wide listing
	case filter.SubmitterID == uuid.Nil || filter.SubmitterID == caller.UserID:
		filter.SubmitterID = caller.UserID
	default:
		submitter, err := s.userDir.Get(ctx, filter.SubmitterID)
		if err != nil {
			return nil, 0, err
		}
		if err := authz.CanViewExpense(caller, submitter.CompanyID, submitter.ID, submitter.ManagerID); err != nil {
			return nil, 0, err
		}
	}
	return s.repo.List(ctx, filter)
}

// ReceiptUpload carries an incoming receipt file.
type ReceiptUpload struct {
	FileName string
	Size     int64
	Content  io.Reader
}

// AttachReceipt stores a receipt file for an editable expense. At most one
// receipt may exist per expense; the content type is sniffed, not trusted.
func (s *Service) AttachReceipt(ctx context.Context, caller shared.Identity, expenseID uuid.UUID, upload ReceiptUpload) (Receipt, error) {
	exp, err := s.repo.Get(ctx, expenseID)
	if err != nil {
		return Receipt{}, err
	}
	if err := authz.CanMutateExpense(caller, exp.CompanyID, exp.SubmitterID); err != nil {
		return Receipt{}, err
	}
	if !exp.Status.Editable() {
		return Receipt{}, fmt.Errorf("%w: attach receipt in %s", ErrInvalidTransition, exp.Status)
	}
	if _, err := s.repo.GetReceipt(ctx, expenseID); err == nil {
		return Receipt{}, ErrReceiptExists
	}
	if upload.Size <= 0 || upload.Size > MaxReceiptSize {
		violation := shared.NewValidationError(map[string]string{"file": "file size must be between 1 byte and 10MB"})
		return Receipt{}, violation
	}

	head := make([]byte, 3072)
	n, err := io.ReadFull(upload.Content, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Receipt{}, err
	}
	head = head[:n]
	detected := mimetype.Detect(head)
	contentType := detected.String()
	if _, ok := allowedReceiptTypes[contentType]; !ok {
		violation := shared.NewValidationError(map[string]string{"file": "only JPEG, PNG and PDF files are accepted"})
		return Receipt{}, violation
	}

	rec := Receipt{
		ID:        uuid.New(),
		ExpenseID: expenseID,
		FileName:  upload.FileName,
		FileType:  contentType,
		FileSize:  upload.Size,
		CreatedAt: s.now(),
	}
	body := io.MultiReader(bytes.NewReader(head), upload.Content)
	url, err := s.files.Put(ctx, receiptKey(rec), contentType, body, upload.Size)
	if err != nil {
		return Receipt{}, err
	}
	rec.FileURL = url

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertReceipt(ctx, rec)
	})
	if err != nil {
		if removeErr := s.files.Remove(ctx, receiptKey(rec)); removeErr != nil {
			s.logger.Warn("orphan receipt file", slog.String("receipt_id", rec.ID.String()), slog.Any("error", removeErr))
		}
		return Receipt{}, err
	}

	s.recordAudit(ctx, caller, "RECEIPT_ATTACH", expenseID, map[string]any{"file": rec.FileName, "type": rec.FileType})
	s.emitter.Emit(ctx, notify.Event{
		Type:      notify.EventReceiptUploaded,
		CompanyID: exp.CompanyID,
		ExpenseID: expenseID,
		ActorID:   caller.UserID,
		Data:      map[string]any{"receipt_id": rec.ID.String(), "file_url": rec.FileURL},
	})
	return rec, nil
}

// DeleteReceipt removes the receipt while the expense is still editable.
func (s *Service) DeleteReceipt(ctx context.Context, caller shared.Identity, expenseID uuid.UUID) error {
	exp, err := s.repo.Get(ctx, expenseID)
	if err != nil {
		return err
	}
	if err := authz.CanMutateExpense(caller, exp.CompanyID, exp.SubmitterID); err != nil {
		return err
	}
	if !exp.Status.Editable() {
		return fmt.Errorf("%w: delete receipt in %s", ErrInvalidTransition, exp.Status)
	}

	var removed []Receipt
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		removed, err = tx.DeleteReceipts(ctx, expenseID)
		return err
	})
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return ErrNotFound
	}
	for _, rec := range removed {
		if err := s.files.Remove(ctx, receiptKey(rec)); err != nil {
			s.logger.Warn("remove receipt file", slog.String("receipt_id", rec.ID.String()), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, caller, "RECEIPT_DELETE", expenseID, nil)
	return nil
}

func (s *Service) authorizeView(ctx context.Context, caller shared.Identity, exp Expense) error {
	var managerID *uuid.UUID
	if caller.Role == shared.RoleManager && caller.UserID != exp.SubmitterID {
		submitter, err := s.userDir.Get(ctx, exp.SubmitterID)
		if err == nil {
			managerID = submitter.ManagerID
		}
	}
	return authz.CanViewExpense(caller, exp.CompanyID, exp.SubmitterID, managerID)
}

// validate collects every violated field into a single ValidationError.
func (s *Service) validate(ctx context.Context, exp Expense, settings company.Settings) error {
	violations := &shared.ValidationError{}

	if !exp.Amount.IsPositive() {
		violations.Add("amount", "must be greater than zero")
	} else if exp.Amount.Exponent() < -2 {
		violations.Add("amount", "at most two decimal places")
	} else if settings.MaxExpenseAmount.IsPositive() && exp.Amount.GreaterThan(settings.MaxExpenseAmount) {
		violations.Add("amount", fmt.Sprintf("exceeds company maximum of %s", settings.MaxExpenseAmount))
	}

	if len(exp.Currency) != 3 {
		violations.Add("currency", "must be an ISO 4217 code")
	}

	if exp.Description == "" {
		violations.Add("description", "required")
	}

	now := s.now()
	switch {
	case exp.ExpenseDate.IsZero():
		violations.Add("expenseDate", "required")
	case exp.ExpenseDate.After(now):
		violations.Add("expenseDate", "must not be in the future")
	case now.Sub(exp.ExpenseDate) > MaxExpenseAge:
		violations.Add("expenseDate", "must not be older than one year")
	}

	if exp.CategoryID == uuid.Nil {
		violations.Add("categoryId", "required")
	} else {
		cat, err := s.companies.GetCategory(ctx, exp.CompanyID, exp.CategoryID)
		if err != nil || !cat.IsActive {
			violations.Add("categoryId", "unknown category for this company")
		}
	}

	if violations.Empty() {
		return nil
	}
	return violations
}

func (s *Service) recordAudit(ctx context.Context, caller shared.Identity, action string, entityID uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{CompanyID: caller.CompanyID, ActorID: caller.UserID, Action: action, Entity: "expense", EntityID: entityID.String(), Meta: meta}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("record audit", slog.String("action", action), slog.Any("error", err))
	}
}

func receiptKey(rec Receipt) string {
	return fmt.Sprintf("receipts/%s/%s", rec.ExpenseID, rec.ID)
}
