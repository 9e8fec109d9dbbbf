package audit

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/expenseflow/expenseflow/internal/authz"
	"github.com/expenseflow/expenseflow/internal/platform/httpx"
	"github.com/expenseflow/expenseflow/internal/shared"
)

// Handler exposes the admin audit trail endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the audit HTTP handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the audit trail routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/audit-logs", func(r chi.Router) {
		r.Get("/", h.listTrail)
		r.Get("/export.csv", h.exportTrail)
	})
}

func (h *Handler) listTrail(w http.ResponseWriter, r *http.Request) {
	caller, filters, ok := h.authorize(w, r)
	if !ok {
		return
	}
	result, err := h.service.Trail(r.Context(), caller.CompanyID, filters)
	if err != nil {
		h.respondError(w, r, "list audit trail", err)
		return
	}

	entries := make([]trailEntryResponse, 0, len(result.Entries))
	for _, entry := range result.Entries {
		entries = append(entries, trailEntryResponse{
			At:       entry.At.UTC().Format(time.RFC3339),
			ActorID:  entry.ActorID.String(),
			Action:   entry.Action,
			Entity:   entry.Entity,
			EntityID: entry.EntityID,
			Meta:     entry.Meta,
		})
	}
	httpx.JSON(w, http.StatusOK, trailResponse{
		Entries: entries,
		Paging: pagingResponse{
			Page:     result.Paging.Page,
			PageSize: result.Paging.PageSize,
			HasNext:  result.Paging.HasNext,
		},
	})
}

func (h *Handler) exportTrail(w http.ResponseWriter, r *http.Request) {
	caller, filters, ok := h.authorize(w, r)
	if !ok {
		return
	}
	csvBytes, err := h.service.ExportCSV(r.Context(), caller.CompanyID, filters)
	if err != nil {
		h.respondError(w, r, "export audit trail", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-trail.csv"`)
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (shared.Identity, TrailFilters, bool) {
	caller, ok := shared.IdentityFromContext(r.Context())
	if !ok {
		httpx.Error(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "unauthorized", nil)
		return shared.Identity{}, TrailFilters{}, false
	}
	if err := authz.RequireRole(caller, shared.RoleAdmin); err != nil {
		h.respondError(w, r, "audit trail", err)
		return shared.Identity{}, TrailFilters{}, false
	}
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Identity{}, TrailFilters{}, false
	}
	return caller, filters, true
}

func parseFilters(r *http.Request) (TrailFilters, error) {
	query := r.URL.Query()
	fields := map[string]string{}
	var filters TrailFilters

	if raw := query.Get("from"); raw != "" {
		from, err := parseTimeParam(raw)
		if err != nil {
			fields["from"] = "must be an RFC 3339 timestamp or YYYY-MM-DD date"
		} else {
			filters.From = from
		}
	}
	if raw := query.Get("to"); raw != "" {
		to, err := parseTimeParam(raw)
		if err != nil {
			fields["to"] = "must be an RFC 3339 timestamp or YYYY-MM-DD date"
		} else {
			filters.To = to
		}
	}
	if raw := query.Get("actorId"); raw != "" {
		actorID, err := uuid.Parse(raw)
		if err != nil {
			fields["actorId"] = "must be a UUID"
		} else {
			filters.ActorID = actorID
		}
	}
	filters.Entity = query.Get("entity")
	filters.Action = query.Get("action")
	if raw := query.Get("page"); raw != "" {
		filters.Page, _ = strconv.Atoi(raw)
	}
	if raw := query.Get("pageSize"); raw != "" {
		filters.PageSize, _ = strconv.Atoi(raw)
	}

	if len(fields) > 0 {
		return TrailFilters{}, shared.NewValidationError(fields)
	}
	return filters, nil
}

func parseTimeParam(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrForbidden):
	default:
		h.logger.Error(op, slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

type trailResponse struct {
	Entries []trailEntryResponse `json:"entries"`
	Paging  pagingResponse       `json:"paging"`
}

type trailEntryResponse struct {
	At       string         `json:"at"`
	ActorID  string         `json:"actorId"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entityId"`
	Meta     map[string]any `json:"meta,omitempty"`
}

type pagingResponse struct {
	Page     int  `json:"page"`
	PageSize int  `json:"pageSize"`
	HasNext  bool `json:"hasNext"`
}
