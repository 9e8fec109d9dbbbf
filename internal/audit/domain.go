package audit

import (
	"time"

	"github.com/google/uuid"
)

// TrailFilters narrows the audit trail query. Zero values mean "any".
type TrailFilters struct {
	From     time.Time
	To       time.Time
	ActorID  uuid.UUID
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// TrailEntry is one recorded action.
type TrailEntry struct {
	At       time.Time
	ActorID  uuid.UUID
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
}

// Paging holds simple pagination metadata.
type Paging struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps a trail page with its paging info.
type Result struct {
	Entries []TrailEntry
	Paging  Paging
}
