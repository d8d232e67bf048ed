package store

import (
	"context"
	"math"
	"time"
)

// ProgressRecord is the persisted state of one learner's consumption of one
// media item. Keyed by (user_id, item_id) with replace-on-conflict semantics.
type ProgressRecord struct {
	UserID          string    `json:"user_id"`
	ItemID          string    `json:"item_id"`
	PositionSeconds float64   `json:"position_seconds"`
	DurationSeconds float64   `json:"duration_seconds"`
	Percent         int       `json:"percent"`
	LastPlayedAt    time.Time `json:"last_played_at"`
}

// ProgressCursor is the decoded form of the opaque pagination cursor.
type ProgressCursor struct {
	LastPlayedAt time.Time
	ItemID       string
}

// ProgressRepository defines persistence operations for playback progress.
type ProgressRepository interface {
	// Upsert inserts or replaces progress for (user_id, item_id). Percent and
	// LastPlayedAt on the stored record are set here, never trusted from the
	// caller. Returns the stored record.
	Upsert(ctx context.Context, r ProgressRecord) (ProgressRecord, error)
	// Load bulk-fetches records for the given item IDs. Items with no
	// progress are simply absent from the result.
	Load(ctx context.Context, userID string, itemIDs []string) (map[string]ProgressRecord, error)
	// List returns up to limit records ordered by last_played_at DESC.
	// cursor, if non-nil, acts as an exclusive lower bound for keyset pagination.
	List(ctx context.Context, userID string, limit int, cursor *ProgressCursor) ([]ProgressRecord, error)
}

// ComputePercent derives the consumed fraction as an integer 0..100,
// rounded and clamped. Duration 0 (unresolved metadata) yields 0; such
// records must never reach Upsert in the first place.
func ComputePercent(positionSeconds, durationSeconds float64) int {
	if durationSeconds <= 0 || positionSeconds <= 0 {
		return 0
	}
	pct := int(math.Round(positionSeconds / durationSeconds * 100))
	if pct > 100 {
		pct = 100
	}
	return pct
}
