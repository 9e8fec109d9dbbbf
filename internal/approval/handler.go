package approval

import (
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

// Handler exposes the approval worklist, decision, and rule admin endpoints.
type Handler struct {
	logger   *slog.Logger
	engine   *Engine
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validate: validator.New()}
}

// MountRoutes registers approval routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/approvals", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/{id}/approve", h.approve)
		r.Post("/{id}/reject", h.reject)
	})
	r.Route("/approval-rules", func(r chi.Router) {
		r.Post("/", h.createRule)
		r.Get("/", h.listRules)
		r.Delete("/{id}", h.deactivateRule)
	})
}

type approveRequest struct {
	Comment string `json:"comment" validate:"max=1000"`
}

type rejectRequest struct {
	Reason  string `json:"reason" validate:"required,max=200"`
	Comment string `json:"comment" validate:"required,max=1000"`
}

type ruleConditionsRequest struct {
	AmountAtLeast string   `json:"amountAtLeast" validate:"omitempty"`
	CategoryIDs   []string `json:"categoryIds" validate:"dive,uuid"`
	Roles         []string `json:"roles"`
	Departments   []string `json:"departments" validate:"dive,max=100"`
}

type ruleRequest struct {
	Name                  string                `json:"name" validate:"required,max=200"`
	Conditions            ruleConditionsRequest `json:"conditions"`
	ApproverIDs           []string              `json:"approverIds" validate:"dive,uuid"`
	Sequence              string                `json:"sequence" validate:"required"`
	MinApprovalPercentage int                   `json:"minApprovalPercentage" validate:"required"`
	RequireManagerFirst   bool                  `json:"requireManagerFirst"`
}

type taskResponse struct {
	ExpenseID     string              `json:"expenseId"`
	Cycle         int                 `json:"cycle"`
	SequenceOrder int                 `json:"sequenceOrder"`
	Sequence      string              `json:"sequence"`
	Status        string              `json:"status"`
	CreatedAt     string              `json:"createdAt"`
	Expense       taskExpenseResponse `json:"expense"`
}

type taskExpenseResponse struct {
	SubmitterID string `json:"submitterId"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	ExpenseDate string `json:"expenseDate"`
}

type decisionResponse struct {
	ExpenseID string `json:"expenseId"`
	Status    string `json:"status"`
}

type ruleResponse struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	Conditions            RuleConditions `json:"conditions"`
	ApproverIDs           []string       `json:"approverIds"`
	Sequence              string         `json:"sequence"`
	MinApprovalPercentage int            `json:"minApprovalPercentage"`
	RequireManagerFirst   bool           `json:"requireManagerFirst"`
	IsActive              bool           `json:"isActive"`
	CreatedAt             string         `json:"createdAt"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "unauthorized", nil)
		return
	}
	status := DecisionStatus(r.URL.Query().Get("status"))
	tasks, err := h.engine.ListTasks(r.Context(), caller, status)
	if err != nil {
		h.respondError(w, r, "list approvals", err)
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskResponse{
			ExpenseID:     t.Approval.ExpenseID.String(),
			Cycle:         t.Approval.Cycle,
			SequenceOrder: t.Approval.SequenceOrder,
			Sequence:      string(t.Approval.Sequence),
			Status:        string(t.Approval.Status),
			CreatedAt:     t.Approval.CreatedAt.Format(time.RFC3339),
			Expense: taskExpenseResponse{
				SubmitterID: t.Expense.SubmitterID.String(),
				Amount:      t.Expense.Amount.StringFixed(2),
				Currency:    t.Expense.Currency,
				Description: t.Expense.Description,
				ExpenseDate: t.Expense.ExpenseDate.Format("2006-01-02"),
			},
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, requestViolations(err))
		return
	}
	exp, err := h.engine.Approve(r.Context(), caller, id, req.Comment)
	if err != nil {
		h.respondError(w, r, "approve expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, decisionResponse{ExpenseID: exp.ID.String(), Status: string(exp.Status)})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, requestViolations(err))
		return
	}
	exp, err := h.engine.Reject(r.Context(), caller, id, req.Reason, req.Comment)
	if err != nil {
		h.respondError(w, r, "reject expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, decisionResponse{ExpenseID: exp.ID.String(), Status: string(exp.Status)})
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "unauthorized", nil)
		return
	}
	var req ruleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, httpx.CodeValidation, "invalid request body", nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, requestViolations(err))
		return
	}
	rule, violations := parseRule(req)
	if violations != nil {
		httpx.RespondError(w, violations)
		return
	}
	created, err := h.engine.CreateRule(r.Context(), caller, rule)
	if err != nil {
		h.respondError(w, r, "create approval rule", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toRuleResponse(created))
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "unauthorized", nil)
		return
	}
	rules, err := h.engine.ListRules(r.Context(), caller)
	if err != nil {
		h.respondError(w, r, "list approval rules", err)
		return
	}
	out := make([]ruleResponse, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleResponse(rule))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) deactivateRule(w http.ResponseWriter, r *http.Request) {
	caller, id, ok := h.callerAndID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeactivateRule(r.Context(), caller, id); err != nil {
		h.respondError(w, r, "deactivate approval rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"deactivated": true})
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
		errors.Is(err, shared.ErrConflict):
		// expected domain outcomes, not logged as errors
	default:
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseRule(req ruleRequest) (ApprovalRule, *shared.ValidationError) {
	violations := &shared.ValidationError{}
	rule := ApprovalRule{
		Name:                  req.Name,
		Sequence:              Sequence(req.Sequence),
		MinApprovalPercentage: req.MinApprovalPercentage,
		RequireManagerFirst:   req.RequireManagerFirst,
	}
	for _, raw := range req.ApproverIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			violations.Add("approverIds", "must be valid ids")
			break
		}
		rule.ApproverIDs = append(rule.ApproverIDs, id)
	}
	if req.Conditions.AmountAtLeast != "" {
		amount, err := decimal.NewFromString(req.Conditions.AmountAtLeast)
		if err != nil || amount.IsNegative() {
			violations.Add("conditions.amountAtLeast", "must be a non-negative decimal")
		} else {
			rule.Conditions.AmountAtLeast = &amount
		}
	}
	for _, raw := range req.Conditions.CategoryIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			violations.Add("conditions.categoryIds", "must be valid ids")
			break
		}
		rule.Conditions.CategoryIDs = append(rule.Conditions.CategoryIDs, id)
	}
	for _, raw := range req.Conditions.Roles {
		role := shared.Role(raw)
		if !role.Valid() {
			violations.Add("conditions.roles", "unknown role "+raw)
			break
		}
		rule.Conditions.Roles = append(rule.Conditions.Roles, role)
	}
	rule.Conditions.Departments = req.Conditions.Departments
	if !violations.Empty() {
		return ApprovalRule{}, violations
	}
	return rule, nil
}

func toRuleResponse(rule ApprovalRule) ruleResponse {
	approvers := make([]string, 0, len(rule.ApproverIDs))
	for _, id := range rule.ApproverIDs {
		approvers = append(approvers, id.String())
	}
	return ruleResponse{
		ID:                    rule.ID.String(),
		Name:                  rule.Name,
		Conditions:            rule.Conditions,
		ApproverIDs:           approvers,
		Sequence:              string(rule.Sequence),
		MinApprovalPercentage: rule.MinApprovalPercentage,
		RequireManagerFirst:   rule.RequireManagerFirst,
		IsActive:              rule.IsActive,
		CreatedAt:             rule.CreatedAt.Format(time.RFC3339),
	}
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
