package expense

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/expenseflow/expenseflow/internal/company"
	"github.com/expenseflow/expenseflow/internal/notify"
	"github.com/expenseflow/expenseflow/internal/shared"
	"github.com/expenseflow/expenseflow/internal/users"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52}

type memStore struct {
	expenses map[uuid.UUID]*Expense
	receipts map[uuid.UUID]*Receipt // by expense id; one receipt per expense
}

func newMemStore() *memStore {
	return &memStore{
		expenses: make(map[uuid.UUID]*Expense),
		receipts: make(map[uuid.UUID]*Receipt),
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (Expense, error) {
	exp, ok := m.expenses[id]
	if !ok {
		return Expense{}, ErrNotFound
	}
	return *exp, nil
}

func (m *memStore) List(_ context.Context, filter ListFilter) ([]Expense, int, error) {
	var out []Expense
	for _, exp := range m.expenses {
		if exp.CompanyID != filter.CompanyID {
			continue
		}
		if filter.SubmitterID != uuid.Nil && exp.SubmitterID != filter.SubmitterID {
			continue
		}
		if filter.Status != "" && exp.Status != filter.Status {
			continue
		}
		out = append(out, *exp)
	}
	return out, len(out), nil
}

func (m *memStore) GetReceipt(_ context.Context, expenseID uuid.UUID) (Receipt, error) {
	rec, ok := m.receipts[expenseID]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	return *rec, nil
}

func (m *memStore) Insert(_ context.Context, exp Expense) error {
	m.expenses[exp.ID] = &exp
	return nil
}

func (m *memStore) Update(_ context.Context, exp Expense) error {
	if _, ok := m.expenses[exp.ID]; !ok {
		return ErrNotFound
	}
	m.expenses[exp.ID] = &exp
	return nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.expenses[id]; !ok {
		return ErrNotFound
	}
	delete(m.expenses, id)
	return nil
}

func (m *memStore) InsertReceipt(_ context.Context, rec Receipt) error {
	m.receipts[rec.ExpenseID] = &rec
	return nil
}

func (m *memStore) DeleteReceipts(_ context.Context, expenseID uuid.UUID) ([]Receipt, error) {
	rec, ok := m.receipts[expenseID]
	if !ok {
		return nil, nil
	}
	delete(m.receipts, expenseID)
	return []Receipt{*rec}, nil
}

type stubCompanies struct {
	settings   company.Settings
	categories map[uuid.UUID]company.Category
}

func (s *stubCompanies) GetSettings(context.Context, uuid.UUID) (company.Settings, error) {
	return s.settings, nil
}

func (s *stubCompanies) GetCategory(_ context.Context, _, categoryID uuid.UUID) (company.Category, error) {
	cat, ok := s.categories[categoryID]
	if !ok {
		return company.Category{}, company.ErrNotFound
	}
	return cat, nil
}

type stubUsers struct {
	byID map[uuid.UUID]users.User
}

func (s *stubUsers) Get(_ context.Context, id uuid.UUID) (users.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

type memBlob struct {
	files map[string][]byte
}

func (b *memBlob) Put(_ context.Context, key, _ string, r io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	b.files[key] = data
	return "mem://" + key, nil
}

func (b *memBlob) Remove(_ context.Context, key string) error {
	delete(b.files, key)
	return nil
}

type recordingEmitter struct {
	events []notify.Event
}

func (e *recordingEmitter) Emit(_ context.Context, evt notify.Event) {
	e.events = append(e.events, evt)
}

type serviceFixture struct {
	store      *memStore
	blob       *memBlob
	emitter    *recordingEmitter
	service    *Service
	companyID  uuid.UUID
	categoryID uuid.UUID
	submitter  shared.Identity
	manager    users.User
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	companyID := uuid.New()
	categoryID := uuid.New()
	managerID := uuid.New()
	submitterID := uuid.New()

	store := newMemStore()
	companies := &stubCompanies{
		settings: company.Settings{
			MaxExpenseAmount:     decimal.NewFromInt(10000),
			ReceiptRequiredAbove: decimal.NewFromInt(25),
		},
		categories: map[uuid.UUID]company.Category{
			categoryID: {ID: categoryID, CompanyID: companyID, Name: "Travel", IsActive: true},
		},
	}
	manager := users.User{ID: managerID, CompanyID: companyID, Role: shared.RoleManager, IsActive: true}
	dir := &stubUsers{byID: map[uuid.UUID]users.User{
		managerID:   manager,
		submitterID: {ID: submitterID, CompanyID: companyID, Role: shared.RoleEmployee, IsActive: true, ManagerID: &managerID},
	}}
	store2 := &memBlob{files: make(map[string][]byte)}
	emitter := &recordingEmitter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewService(store, companies, dir, store2, emitter, nil, logger)
	return &serviceFixture{
		store: store, blob: store2, emitter: emitter, service: svc,
		companyID: companyID, categoryID: categoryID,
		submitter: shared.Identity{UserID: submitterID, CompanyID: companyID, Role: shared.RoleEmployee},
		manager:   manager,
	}
}

func (f *serviceFixture) validInput() CreateInput {
	return CreateInput{
		CategoryID:  f.categoryID,
		Amount:      decimal.RequireFromString("42.50"),
		Currency:    "usd",
		Description: "taxi from airport",
		ExpenseDate: time.Now().UTC().AddDate(0, 0, -2),
	}
}

func TestCreateDraft(t *testing.T) {
	f := newServiceFixture(t)

	exp, err := f.service.Create(context.Background(), f.submitter, f.validInput())
	require.NoError(t, err)
	require.Equal(t, StatusDraft, exp.Status)
	require.Equal(t, "USD", exp.Currency, "currency is normalized")
	require.Equal(t, f.submitter.UserID, exp.SubmitterID)
	require.Equal(t, 0, exp.SubmitCycle)
}

func TestCreateCollectsAllViolations(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Create(context.Background(), f.submitter, CreateInput{
		CategoryID:  uuid.New(), // not a category of this company
		Amount:      decimal.RequireFromString("-3.123"),
		Currency:    "DOLLARS",
		Description: "   ",
		ExpenseDate: time.Now().UTC().AddDate(0, 0, 1),
	})
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)
	for _, field := range []string{"amount", "currency", "description", "expenseDate", "categoryId"} {
		require.Contains(t, validation.Fields, field)
	}
}

func TestCreateRejectsTooPreciseAmount(t *testing.T) {
	f := newServiceFixture(t)
	input := f.validInput()
	input.Amount = decimal.RequireFromString("10.999")

	_, err := f.service.Create(context.Background(), f.submitter, input)
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Contains(t, validation.Fields, "amount")
}

func TestCreateRejectsStaleDate(t *testing.T) {
	f := newServiceFixture(t)
	input := f.validInput()
	input.ExpenseDate = time.Now().UTC().AddDate(-1, 0, -2)

	_, err := f.service.Create(context.Background(), f.submitter, input)
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Contains(t, validation.Fields, "expenseDate")
}

func TestUpdateOnlyWhileEditable(t *testing.T) {
	f := newServiceFixture(t)
	exp, err := f.service.Create(context.Background(), f.submitter, f.validInput())
	require.NoError(t, err)

	desc := "updated description"
	updated, err := f.service.Update(context.Background(), f.submitter, exp.ID, UpdateInput{Description: &desc})
	require.NoError(t, err)
	require.Equal(t, desc, updated.Description)

	f.store.expenses[exp.ID].Status = StatusPendingApproval
	_, err = f.service.Update(context.Background(), f.submitter, exp.ID, UpdateInput{Description: &desc})
	require.ErrorIs(t, err, shared.ErrConflict)

	// rejected expenses reopen for editing
	f.store.expenses[exp.ID].Status = StatusRejected
	_, err = f.service.Update(context.Background(), f.submitter, exp.ID, UpdateInput{Description: &desc})
	require.NoError(t, err)
}

func TestUpdateAuthz(t *testing.T) {
	f := newServiceFixture(t)
	exp, err := f.service.Create(context.Background(), f.submitter, f.validInput())
	require.NoError(t, err)
	desc := "x"

	colleague := shared.Identity{UserID: uuid.New(), CompanyID: f.companyID, Role: shared.RoleEmployee}
	_, err = f.service.Update(context.Background(), colleague, exp.ID, UpdateInput{Description: &desc})
	require.ErrorIs(t, err, shared.ErrForbidden)

	stranger := shared.Identity{UserID: uuid.New(), CompanyID: uuid.New(), Role: shared.RoleAdmin}
	_, err = f.service.Update(context.Background(), stranger, exp.ID, UpdateInput{Description: &desc})
	require.ErrorIs(t, err, shared.ErrNotFound, "cross-tenant access must look like absence")
}

func TestDeleteDraftOnly(t *testing.T) {
	f := newServiceFixture(t)
	exp, err := f.service.Create(context.Background(), f.submitter, f.validInput())
	require.NoError(t, err)

	f.store.expenses[exp.ID].Status = StatusRejected
	err = f.service.Delete(context.Background(), f.submitter, exp.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	f.store.expenses[exp.ID].Status = StatusDraft
	require.NoError(t, f.service.Delete(context.Background(), f.submitter, exp.ID))
	_, err = f.store.Get(context.Background(), exp.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestGetVisibility(t *testing.T) {
	f := newServiceFixture(t)
	exp, err := f.service.Create(context.Background(), f.submitter, f.validInput())
	require.NoError(t, err)

	// the submitter's manager may view
	managerCaller := shared.Identity{UserID: f.manager.ID, CompanyID: f.companyID, Role: shared.RoleManager}
	_, err = f.service.Get(context.Background(), managerCaller, exp.ID)
	require.NoError(t, err)

	// an unrelated manager of the same company may not
	otherManager := shared.Identity{UserID: uuid.New(), CompanyID: f.companyID, Role: shared.RoleManager}
	_, err = f.service.Get(context.Background(), otherManager, exp.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)

	// an admin of another company sees nothing
	stranger := shared.Identity{UserID: uuid.New(), CompanyID: uuid.New(), Role: shared.RoleAdmin}
	_, err = f.service.Get(context.Background(), stranger, exp.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListScoping(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.service.Create(context.Background(), f.submitter, f.validInput())
	require.NoError(t, err)

	// employees always list their own, whatever filter they pass
	list, total, err := f.service.List(context.Background(), f.submitter, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, list, 1)

	// admins list company-wide
	admin := shared.Identity{UserID: uuid.New(), CompanyID: f.companyID, Role: shared.RoleAdmin}
	_, total, err = f.service.List(context.Background(), admin, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)

	// an employee cannot list a colleague's expenses
	colleague := shared.Identity{UserID: uuid.New(), CompanyID: f.companyID, Role: shared.RoleEmployee}
	_, _, err = f.service.List(context.Background(), colleague, ListFilter{SubmitterID: f.submitter.UserID})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestAttachReceiptSniffsContent(t *testing.T) {
	f := newServiceFixture(t)
	exp, err := f.service.Create(context.Background(), f.submitter, f.validInput())
	require.NoError(t, err)

	rec, err := f.service.AttachReceipt(context.Background(), f.submitter, exp.ID, ReceiptUpload{
		FileName: "receipt.png",
		Size:     int64(len(pngHeader)),
		Content:  bytes.NewReader(pngHeader),
	})
	require.NoError(t, err)
	require.Equal(t, "image/png", rec.FileType)
	require.NotEmpty(t, rec.FileURL)
	require.Len(t, f.emitter.events, 1)
	require.Equal(t, notify.EventReceiptUploaded, f.emitter.events[0].Type)

	// only one receipt per expense
	_, err = f.service.AttachReceipt(context.Background(), f.submitter, exp.ID, ReceiptUpload{
		FileName: "second.png",
		Size:     int64(len(pngHeader)),
		Content:  bytes.NewReader(pngHeader),
	})
	require.ErrorIs(t, err, ErrReceiptExists)
}

func TestAttachReceiptRejectsDisallowedType(t *testing.T) {
	f := newServiceFixture(t)
	exp, err := f.service.Create(context.Background(), f.submitter, f.validInput())
	require.NoError(t, err)

	// extension says png; content says plain text
	body := []byte("not really an image")
	_, err = f.service.AttachReceipt(context.Background(), f.submitter, exp.ID, ReceiptUpload{
		FileName: "sneaky.png",
		Size:     int64(len(body)),
		Content:  bytes.NewReader(body),
	})
	var validation *shared.ValidationError
	require.ErrorAs(t, err, &validation)
	require.Contains(t, validation.Fields, "file")
}

func TestAttachReceiptLockedAfterSubmit(t *testing.T) {
	f := newServiceFixture(t)
	exp, err := f.service.Create(context.Background(), f.submitter, f.validInput())
	require.NoError(t, err)
	f.store.expenses[exp.ID].Status = StatusPendingApproval

	_, err = f.service.AttachReceipt(context.Background(), f.submitter, exp.ID, ReceiptUpload{
		FileName: "receipt.png",
		Size:     int64(len(pngHeader)),
		Content:  bytes.NewReader(pngHeader),
	})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestDeleteReceipt(t *testing.T) {
	f := newServiceFixture(t)
	exp, err := f.service.Create(context.Background(), f.submitter, f.validInput())
	require.NoError(t, err)

	err = f.service.DeleteReceipt(context.Background(), f.submitter, exp.ID)
	require.ErrorIs(t, err, shared.ErrNotFound, "nothing attached yet")

	_, err = f.service.AttachReceipt(context.Background(), f.submitter, exp.ID, ReceiptUpload{
		FileName: "receipt.png",
		Size:     int64(len(pngHeader)),
		Content:  bytes.NewReader(pngHeader),
	})
	require.NoError(t, err)
	require.Len(t, f.blob.files, 1)

	require.NoError(t, f.service.DeleteReceipt(context.Background(), f.submitter, exp.ID))
	require.Empty(t, f.blob.files, "stored file is removed with the record")
}
