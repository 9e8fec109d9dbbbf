package httpx

import (
	"errors"
	"net/http"

	"github.com/expenseflow/expenseflow/internal/shared"
)

// Error codes used by the API envelope.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeForbidden    = "FORBIDDEN"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeBusinessRule = "BUSINESS_RULE_VIOLATION"
	CodeInternal     = "INTERNAL_ERROR"
)

// RespondError maps domain errors onto the API envelope. Unknown errors are
// surfaced as an opaque 500; the caller is expected to have logged them.
func RespondError(w http.ResponseWriter, err error) {
	var validation *shared.ValidationError
	if errors.As(err, &validation) {
		Error(w, http.StatusBadRequest, CodeValidation, "validation failed", validation.Fields)
		return
	}
	var rule *shared.BusinessRuleError
	if errors.As(err, &rule) {
		Error(w, http.StatusBadRequest, CodeBusinessRule, rule.Reason, nil)
		return
	}
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Error(w, http.StatusNotFound, CodeNotFound, "resource not found", nil)
	case errors.Is(err, shared.ErrConflict):
		Error(w, http.StatusConflict, CodeConflict, err.Error(), nil)
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Error(w, http.StatusConflict, CodeConflict, err.Error(), nil)
	case errors.Is(err, shared.ErrForbidden):
		Error(w, http.StatusForbidden, CodeForbidden, "forbidden", nil)
	case errors.Is(err, shared.ErrUnauthorized), errors.Is(err, shared.ErrInvalidCredentials):
		Error(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized", nil)
	default:
		Error(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}
