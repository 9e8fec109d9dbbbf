package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	exportLimit     = 10000
)

// Repository provides read access to the audit trail of one tenant.
type Repository interface {
	ListTrail(ctx context.Context, companyID uuid.UUID, filters TrailFilters, offset, limit int) ([]TrailEntry, error)
}

// Service coordinates audit trail reads.
type Service struct {
	repo Repository
}

// NewService builds a new audit trail service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Trail fetches one page of the company's audit trail. It asks the
// repository for one extra row to detect whether a next page exists.
func (s *Service) Trail(ctx context.Context, companyID uuid.UUID, filters TrailFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	entries, err := s.repo.ListTrail(ctx, companyID, filters, offset, pageSize+1)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > pageSize
	if hasNext {
		entries = entries[:pageSize]
	}
	paging := Paging{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

// ExportCSV renders the filtered trail as CSV, capped at exportLimit rows.
func (s *Service) ExportCSV(ctx context.Context, companyID uuid.UUID, filters TrailFilters) ([]byte, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("audit: repository not configured")
	}
	entries, err := s.repo.ListTrail(ctx, companyID, filters, 0, exportLimit)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"occurred_at", "actor_id", "action", "entity", "entity_id", "meta"}); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		meta := ""
		if len(entry.Meta) > 0 {
			raw, err := json.Marshal(entry.Meta)
			if err != nil {
				return nil, err
			}
			meta = string(raw)
		}
		record := []string{
			entry.At.UTC().Format("2006-01-02T15:04:05Z"),
			entry.ActorID.String(),
			entry.Action,
			entry.Entity,
			entry.EntityID,
			meta,
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
