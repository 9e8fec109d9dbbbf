package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository reads the audit_logs table written by shared.AuditLogger.
type PgRepository struct {
	pool *pgxpool.Pool
}

// NewRepository returns a Postgres-backed audit repository.
func NewRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) ListTrail(ctx context.Context, companyID uuid.UUID, filters TrailFilters, offset, limit int) ([]TrailEntry, error) {
	const query = `
		SELECT occurred_at, actor_id, action, entity, entity_id, meta
		FROM audit_logs
		WHERE company_id = $1
		  AND ($2::timestamptz IS NULL OR occurred_at >= $2)
		  AND ($3::timestamptz IS NULL OR occurred_at < $3)
		  AND ($4::uuid IS NULL OR actor_id = $4)
		  AND ($5 = '' OR entity = $5)
		  AND ($6 = '' OR action = $6)
		ORDER BY occurred_at DESC
		OFFSET $7 LIMIT $8`

	rows, err := r.pool.Query(ctx, query, companyID,
		nullableTime(filters.From), nullableTime(filters.To), nullableUUID(filters.ActorID),
		filters.Entity, filters.Action, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit trail: %w", err)
	}
	defer rows.Close()

	var entries []TrailEntry
	for rows.Next() {
		var entry TrailEntry
		var metaRaw []byte
		if err := rows.Scan(&entry.At, &entry.ActorID, &entry.Action, &entry.Entity, &entry.EntityID, &metaRaw); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &entry.Meta); err != nil {
				return nil, fmt.Errorf("decode audit meta: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullableUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
