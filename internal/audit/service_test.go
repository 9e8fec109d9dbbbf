package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type stubTrailRepo struct {
	entries    []TrailEntry
	lastOffset int
	lastLimit  int
}

func (s *stubTrailRepo) ListTrail(_ context.Context, _ uuid.UUID, _ TrailFilters, offset, limit int) ([]TrailEntry, error) {
	s.lastOffset = offset
	s.lastLimit = limit
	if offset >= len(s.entries) {
		return nil, nil
	}
	end := offset + limit
	if end > len(s.entries) {
		end = len(s.entries)
	}
	return s.entries[offset:end], nil
}

func trailEntry(action string, at time.Time) TrailEntry {
	return TrailEntry{
		At:       at,
		ActorID:  uuid.New(),
		Action:   action,
		Entity:   "expense",
		EntityID: uuid.NewString(),
	}
}

func TestTrailPaging(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubTrailRepo{entries: []TrailEntry{
		trailEntry("EXPENSE_CREATE", base),
		trailEntry("EXPENSE_SUBMIT", base.Add(-time.Hour)),
		trailEntry("APPROVAL_APPROVE", base.Add(-2*time.Hour)),
	}}
	svc := NewService(repo)

	result, err := svc.Trail(context.Background(), uuid.New(), TrailFilters{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Entries, 2)
	require.True(t, result.Paging.HasNext)
	require.Equal(t, 2, result.Paging.NextPage)
	require.Equal(t, 3, repo.lastLimit, "one extra row probes for a next page")
	require.Equal(t, 0, repo.lastOffset)

	result, err = svc.Trail(context.Background(), uuid.New(), TrailFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	require.False(t, result.Paging.HasNext)
	require.Equal(t, 1, result.Paging.PrevPage)
	require.Equal(t, 2, repo.lastOffset)
}

func TestTrailClampsPageSize(t *testing.T) {
	repo := &stubTrailRepo{}
	svc := NewService(repo)

	_, err := svc.Trail(context.Background(), uuid.New(), TrailFilters{PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, maxPageSize+1, repo.lastLimit)

	_, err = svc.Trail(context.Background(), uuid.New(), TrailFilters{})
	require.NoError(t, err)
	require.Equal(t, defaultPageSize+1, repo.lastLimit)
}

func TestExportCSV(t *testing.T) {
	at := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	entry := trailEntry("EXPENSE_SUBMIT", at)
	entry.Meta = map[string]any{"cycle": 1}
	repo := &stubTrailRepo{entries: []TrailEntry{entry}}
	svc := NewService(repo)

	out, err := svc.ExportCSV(context.Background(), uuid.New(), TrailFilters{})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, "occurred_at,actor_id,action,entity,entity_id,meta", lines[0])
	require.Contains(t, lines[1], "2026-03-10T12:00:00Z")
	require.Contains(t, lines[1], "EXPENSE_SUBMIT")
	require.Contains(t, lines[1], `""cycle"":1`)
}
