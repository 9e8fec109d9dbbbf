package expense

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/expenseflow/expenseflow/internal/platform/httpx"
	"github.com/expenseflow/expenseflow/internal/shared"
)

const expenseDateLayout = "2006-01-02"

// SubmitService transitions an expense into the approval workflow. It is
// implemented by the approval engine.
type SubmitService interface {
	Submit(ctx context.Context, caller shared.Identity, expenseID uuid.UUID, idempotencyKey string) (Expense, error)
}

// Handler exposes the expense endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	submitter SubmitService
	validate  *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, submitter SubmitService) *Handler {
	return &Handler{logger: logger, service: service, submitter: submitter, validate: validator.New()}
}

// MountRoutes registers expense routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/expenses", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/submit", h.submit)
		r.Post("/{id}/receipts", h.attachReceipt)
		r.Delete("/{id}/receipts", h.deleteReceipt)
	})
}

type createRequest struct {
	CategoryID   string `json:"categoryId" validate:"required,uuid"`
	Amount       string `json:"amount" validate:"required"`
	Currency     string `json:"currency" validate:"required,iso4217"`
	Description  string `json:"description" validate:"required,max=500"`
	ExpenseDate  string `json:"expenseDate" validate:"required"`
	MerchantName string `json:"merchantName" validate:"max=200"`
}

type expenseResponse struct {
	ID           string  `json:"id"`
	SubmitterID  string  `json:"submitterId"`
	CategoryID   string  `json:"categoryId"`
	Amount       string  `json:"amount"`
	Currency     string  `json:"currency"`
	Description  string  `json:"description"`
	ExpenseDate  string  `json:"expenseDate"`
	MerchantName string  `json:"merchantName,omitempty"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"createdAt"`
	UpdatedAt    string  `json:"updatedAt"`
	Receipt      *Receipt `json:"receipt,omitempty"`
}

func toResponse(exp Expense) expenseResponse {
	return expenseResponse{
		ID:           exp.ID.String(),
		SubmitterID:  exp.SubmitterID.String(),
		CategoryID:   exp.CategoryID.String(),
		Amount:       exp.Amount.StringFixed(2),
		Currency:     exp.Currency,
		Description:  exp.Description,
		ExpenseDate:  exp.ExpenseDate.Format(expenseDateLayout),
		MerchantName: exp.MerchantName,
		Status:       string(exp.Status),
		CreatedAt:    exp.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    exp.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "unauthorized", nil)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid JSON body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, requestViolations(err))
		return
	}
	input, violations := parseCreate(req)
	if violations != nil {
		httpx.RespondError(w, violations)
		return
	}
	exp, err := h.service.Create(r.Context(), caller, input)
	if err != nil {
		h.respondError(w, r, "create expense", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(exp))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "unauthorized", nil)
		return
	}
	filter := ListFilter{
		Status: Status(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}
	if raw := r.URL.Query().Get("submitter_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid submitter_id", nil)
			return
		}
		filter.SubmitterID = id
	}
	if filter.Status != "" && !filter.Status.Valid() {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid status filter", nil)
		return
	}
	items, total, err := h.service.List(r.Context(), caller, filter)
	if err != nil {
		h.respondError(w, r, "list expenses", err)
		return
	}
	responses := make([]expenseResponse, len(items))
	for i, exp := range items {
		responses[i] = toResponse(exp)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": responses, "total": total})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	exp, err := h.service.Get(r.Context(), caller, id)
	if err != nil {
		h.respondError(w, r, "get expense", err)
		return
	}
	resp := toResponse(exp)
	if rec, err := h.service.GetReceipt(r.Context(), caller, id); err == nil {
		resp.Receipt = &rec
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type updateRequest struct {
	CategoryID   *string `json:"categoryId" validate:"omitempty,uuid"`
	Amount       *string `json:"amount"`
	Currency     *string `json:"currency" validate:"omitempty,iso4217"`
	Description  *string `json:"description" validate:"omitempty,max=500"`
	ExpenseDate  *string `json:"expenseDate"`
	MerchantName *string `json:"merchantName" validate:"omitempty,max=200"`
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid JSON body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, requestViolations(err))
		return
	}
	patch, violations := parseUpdate(req)
	if violations != nil {
		httpx.RespondError(w, violations)
		return
	}
	exp, err := h.service.Update(r.Context(), caller, id, patch)
	if err != nil {
		h.respondError(w, r, "update expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(exp))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), caller, id); err != nil {
		h.respondError(w, r, "delete expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	exp, err := h.submitter.Submit(r.Context(), caller, id, r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondError(w, r, "submit expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(exp))
}

func (h *Handler) attachReceipt(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxReceiptSize+4096)
	if err := r.ParseMultipartForm(MaxReceiptSize); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "multipart body required, max 10MB", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "file field required", nil)
		return
	}
	defer func() { _ = file.Close() }()

	rec, err := h.service.AttachReceipt(r.Context(), caller, id, ReceiptUpload{
		FileName: header.Filename,
		Size:     header.Size,
		Content:  file,
	})
	if err != nil {
		h.respondError(w, r, "attach receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) deleteReceipt(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteReceipt(r.Context(), caller, id); err != nil {
		h.respondError(w, r, "delete receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (h *Handler) callerAndID(w http.ResponseWriter, r *http.Request) (shared.Identity, uuid.UUID, bool) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "unauthorized", nil)
		return shared.Identity{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, http.StatusNotFound, httpx.CodeNotFound, "resource not found", nil)
		return shared.Identity{}, uuid.Nil, false
	}
	return caller, id, true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var validation *shared.ValidationError
	var rule *shared.BusinessRuleError
	switch {
	case errors.As(err, &validation), errors.As(err, &rule),
		errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrForbidden),
		errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrIdempotencyConflict):
		// expected domain outcomes, not logged as errors
	default:
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseCreate(req createRequest) (CreateInput, *shared.ValidationError) {
	violations := &shared.ValidationError{}
	input := CreateInput{
		Currency:     req.Currency,
		Description:  req.Description,
		MerchantName: req.MerchantName,
	}
	categoryID, err := uuid.Parse(req.CategoryID)
	if err != nil {
		violations.Add("categoryId", "must be a UUID")
	}
	input.CategoryID = categoryID
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		violations.Add("amount", "must be a decimal number")
	}
	input.Amount = amount
	date, err := time.Parse(expenseDateLayout, req.ExpenseDate)
	if err != nil {
		violations.Add("expenseDate", "must be YYYY-MM-DD")
	}
	input.ExpenseDate = date
	if violations.Empty() {
		return input, nil
	}
	return CreateInput{}, violations
}

func parseUpdate(req updateRequest) (UpdateInput, *shared.ValidationError) {
	violations := &shared.ValidationError{}
	var patch UpdateInput
	if req.CategoryID != nil {
		id, err := uuid.Parse(*req.CategoryID)
		if err != nil {
			violations.Add("categoryId", "must be a UUID")
		}
		patch.CategoryID = &id
	}
	if req.Amount != nil {
		amount, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			violations.Add("amount", "must be a decimal number")
		}
		patch.Amount = &amount
	}
	if req.ExpenseDate != nil {
		date, err := time.Parse(expenseDateLayout, *req.ExpenseDate)
		if err != nil {
			violations.Add("expenseDate", "must be YYYY-MM-DD")
		}
		patch.ExpenseDate = &date
	}
	patch.Currency = req.Currency
	patch.Description = req.Description
	patch.MerchantName = req.MerchantName
	if violations.Empty() {
		return patch, nil
	}
	return UpdateInput{}, violations
}

// requestViolations converts validator errors into the shared field map.
func requestViolations(err error) error {
	violations := &shared.ValidationError{}
	if fieldErrs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range fieldErrs {
			violations.Add(jsonFieldName(fe.Field()), "failed "+fe.Tag()+" validation")
		}
		return violations
	}
	violations.Add("body", "invalid request")
	return violations
}

func jsonFieldName(structField string) string {
	if structField == "" {
		return structField
	}
	return string(structField[0]|0x20) + structField[1:]
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n := 0
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
