package company

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/expenseflow/expenseflow/internal/authz"
	"github.com/expenseflow/expenseflow/internal/platform/httpx"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// Handler exposes the tenant profile, settings, and category endpoints.
type Handler struct {
	logger   *slog.Logger
	repo     *Repository
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo, validate: validator.New()}
}

// MountRoutes registers company routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/company", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/settings", h.updateSettings)
		r.Get("/categories", h.listCategories)
		r.Post("/categories", h.createCategory)
	})
}

type settingsRequest struct {
	MaxExpenseAmount     string `json:"maxExpenseAmount" validate:"required"`
	ReceiptRequiredAbove string `json:"receiptRequiredAbove" validate:"required"`
	WebhookURL           string `json:"webhookUrl" validate:"omitempty,url"`
}

type categoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type companyResponse struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	DefaultCurrency string           `json:"defaultCurrency"`
	Settings        settingsResponse `json:"settings"`
}

type settingsResponse struct {
	MaxExpenseAmount     string `json:"maxExpenseAmount"`
	ReceiptRequiredAbove string `json:"receiptRequiredAbove"`
	WebhookURL           string `json:"webhookUrl,omitempty"`
}

type categoryResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "unauthorized", nil)
		return
	}
	c, err := h.repo.Get(r.Context(), caller.CompanyID)
	if err != nil {
		h.respondError(w, r, "get company", err)
		return
	}
	httpx.JSON(w, http.StatusOK, companyResponse{
		ID:              c.ID.String(),
		Name:            c.Name,
		DefaultCurrency: c.DefaultCurrency,
		Settings: settingsResponse{
			MaxExpenseAmount:     c.Settings.MaxExpenseAmount.StringFixed(2),
			ReceiptRequiredAbove: c.Settings.ReceiptRequiredAbove.StringFixed(2),
			WebhookURL:           c.Settings.WebhookURL,
		},
	})
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "unauthorized", nil)
		return
	}
	if err := authz.RequireRole(caller, shared.RoleAdmin); err != nil {
		h.respondError(w, r, "update settings", err)
		return
	}
	var req settingsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid settings", nil)
		return
	}

	violations := &shared.ValidationError{}
	settings := Settings{WebhookURL: req.WebhookURL}
	if v, err := decimal.NewFromString(req.MaxExpenseAmount); err != nil || !v.IsPositive() {
		violations.Add("maxExpenseAmount", "must be a positive decimal")
	} else {
		settings.MaxExpenseAmount = v
	}
	if v, err := decimal.NewFromString(req.ReceiptRequiredAbove); err != nil || v.IsNegative() {
		violations.Add("receiptRequiredAbove", "must be a non-negative decimal")
	} else {
		settings.ReceiptRequiredAbove = v
	}
	if !violations.Empty() {
		httpx.RespondError(w, violations)
		return
	}

	if err := h.repo.UpdateSettings(r.Context(), caller.CompanyID, settings); err != nil {
		h.respondError(w, r, "update settings", err)
		return
	}
	httpx.JSON(w, http.StatusOK, settingsResponse{
		MaxExpenseAmount:     settings.MaxExpenseAmount.StringFixed(2),
		ReceiptRequiredAbove: settings.ReceiptRequiredAbove.StringFixed(2),
		WebhookURL:           settings.WebhookURL,
	})
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "unauthorized", nil)
		return
	}
	cats, err := h.repo.ListCategories(r.Context(), caller.CompanyID)
	if err != nil {
		h.respondError(w, r, "list categories", err)
		return
	}
	out := make([]categoryResponse, 0, len(cats))
	for _, cat := range cats {
		out = append(out, categoryResponse{ID: cat.ID.String(), Name: cat.Name, IsActive: cat.IsActive})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "unauthorized", nil)
		return
	}
	if err := authz.RequireRole(caller, shared.RoleAdmin); err != nil {
		h.respondError(w, r, "create category", err)
		return
	}
	var req categoryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.NewValidationError(map[string]string{"name": "required, at most 100 characters"}))
		return
	}
	cat := Category{
		ID:        uuid.New(),
		CompanyID: caller.CompanyID,
		Name:      req.Name,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.CreateCategory(r.Context(), cat); err != nil {
		h.respondError(w, r, "create category", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, categoryResponse{ID: cat.ID.String(), Name: cat.Name, IsActive: cat.IsActive})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrForbidden):
	default:
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
