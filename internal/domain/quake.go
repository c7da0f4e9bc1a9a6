package domain

import "time"

// SentinelTime is the OccurredAt assigned to entries whose timestamp cannot be parsed.
var SentinelTime = time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC)

// Quake is one seismic event as read from the feed.
type Quake struct {
	OccurredAt time.Time `json:"occurred_at"`
	Details    string    `json:"details"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Magnitude  float64   `json:"magnitude"`
	Link       string    `json:"link"`
}

// StoredQuake is a Quake after the store has accepted it.
type StoredQuake struct {
	ID int64 `json:"id"`
	Quake
	IngestedAt time.Time `json:"ingested_at"`
}

// NewStoredQuake stamps q with its store identity and the current ingestion time.
func NewStoredQuake(id int64, q Quake) StoredQuake {
	return StoredQuake{ID: id, Quake: q, IngestedAt: Now()}
}

// Sort selects the ordering of query results.
type Sort int

const (
	// SortOccurredAsc orders by OccurredAt, oldest first. It is the default.
	SortOccurredAsc Sort = iota
	SortOccurredDesc
	SortMagnitudeDesc
)

// ParseSort maps the API spelling of a sort order. Unknown values fall back to the default.
func ParseSort(s string) Sort {
	switch s {
	case "occurred_desc", "-occurred_at", "newest":
		return SortOccurredDesc
	case "magnitude_desc", "-magnitude", "strongest":
		return SortMagnitudeDesc
	default:
		return SortOccurredAsc
	}
}

// Filter narrows queries and deletes. Zero values mean "no constraint".
type Filter struct {
	MinMagnitude    float64   // magnitude >= MinMagnitude when > 0
	MaxMagnitude    float64   // magnitude < MaxMagnitude when > 0
	Since           time.Time // occurred_at >= Since
	Until           time.Time // occurred_at < Until
	DetailsContains string
	Limit           int
}

// IsEmpty reports whether f constrains nothing. Limit alone does not count.
func (f Filter) IsEmpty() bool {
	return f.MinMagnitude <= 0 && f.MaxMagnitude <= 0 &&
		f.Since.IsZero() && f.Until.IsZero() && f.DetailsContains == ""
}

// Matches reports whether q satisfies the filter's conditions.
func (f Filter) Matches(q Quake) bool {
	if f.MinMagnitude > 0 && q.Magnitude < f.MinMagnitude {
		return false
	}
	if f.MaxMagnitude > 0 && q.Magnitude >= f.MaxMagnitude {
		return false
	}
	if !f.Since.IsZero() && q.OccurredAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !q.OccurredAt.Before(f.Until) {
		return false
	}
	return true
}

// Suggestion is a search hint: an ID and the text that matched.
type Suggestion struct {
	ID      int64  `json:"id"`
	Details string `json:"details"`
}

// ChangeKind identifies what happened to the store.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeDeleted  ChangeKind = "deleted"
)

// Change is emitted by the store after a successful insert or delete.
type Change struct {
	Kind  ChangeKind `json:"kind"`
	IDs   []int64    `json:"ids,omitempty"`
	Count int64      `json:"count"`
}

// IngestionResult summarizes one pipeline run.
type IngestionResult struct {
	NewCount      int            `json:"new_count"`
	SkippedCount  int            `json:"skipped_count"`
	NotifiedCount int            `json:"notified_count"`
	Errors        []*RecordError `json:"-"`
}
