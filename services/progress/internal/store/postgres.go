package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresProgressRepository is the production Postgres-backed implementation.
type PostgresProgressRepository struct {
	db *pgxpool.Pool
}

func NewPostgresProgressRepository(db *pgxpool.Pool) *PostgresProgressRepository {
	return &PostgresProgressRepository{db: db}
}

func (r *PostgresProgressRepository) Upsert(ctx context.Context, rec ProgressRecord) (ProgressRecord, error) {
	// Plain replace: duplicate and racing saves resolve last-write-wins,
	// which is acceptable because percent is always recomputable from
	// position/duration.
	q := `
INSERT INTO user_item_progress (user_id, item_id, position_seconds, duration_seconds, percent, last_played_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, item_id)
DO UPDATE SET
  position_seconds = EXCLUDED.position_seconds,
  duration_seconds = EXCLUDED.duration_seconds,
  percent          = EXCLUDED.percent,
  last_played_at   = EXCLUDED.last_played_at
RETURNING position_seconds, duration_seconds, percent, last_played_at`

	out := ProgressRecord{UserID: rec.UserID, ItemID: rec.ItemID}
	pct := ComputePercent(rec.PositionSeconds, rec.DurationSeconds)

	err := r.db.QueryRow(ctx, q,
		rec.UserID, rec.ItemID, rec.PositionSeconds, rec.DurationSeconds,
		pct, time.Now().UTC(),
	).Scan(&out.PositionSeconds, &out.DurationSeconds, &out.Percent, &out.LastPlayedAt)
	if err != nil {
		return ProgressRecord{}, fmt.Errorf("progress upsert: %w", err)
	}
	return out, nil
}

func (r *PostgresProgressRepository) Load(ctx context.Context, userID string, itemIDs []string) (map[string]ProgressRecord, error) {
	if len(itemIDs) == 0 {
		return map[string]ProgressRecord{}, nil
	}
	q := `SELECT item_id, position_seconds, duration_seconds, percent, last_played_at
	      FROM user_item_progress WHERE user_id=$1 AND item_id = ANY($2)`

	rows, err := r.db.Query(ctx, q, userID, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("progress load: %w", err)
	}
	defer rows.Close()

	out := make(map[string]ProgressRecord, len(itemIDs))
	for rows.Next() {
		rec := ProgressRecord{UserID: userID}
		if err := rows.Scan(&rec.ItemID, &rec.PositionSeconds, &rec.DurationSeconds, &rec.Percent, &rec.LastPlayedAt); err != nil {
			return nil, fmt.Errorf("progress load scan: %w", err)
		}
		out[rec.ItemID] = rec
	}
	return out, rows.Err()
}

func (r *PostgresProgressRepository) List(ctx context.Context, userID string, limit int, cursor *ProgressCursor) ([]ProgressRecord, error) {
	q := `SELECT item_id, position_seconds, duration_seconds, percent, last_played_at
	      FROM user_item_progress WHERE user_id=$1`
	args := []any{userID}

	if cursor != nil {
		q += " AND (last_played_at, item_id) < (to_timestamp($2 / 1000.0), $3)"
		args = append(args, cursor.LastPlayedAt.UnixMilli(), cursor.ItemID)
	}
	q += " ORDER BY last_played_at DESC, item_id DESC LIMIT $" + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("progress list: %w", err)
	}
	defer rows.Close()

	var out []ProgressRecord
	for rows.Next() {
		rec := ProgressRecord{UserID: userID}
		if err := rows.Scan(&rec.ItemID, &rec.PositionSeconds, &rec.DurationSeconds, &rec.Percent, &rec.LastPlayedAt); err != nil {
			return nil, fmt.Errorf("progress list scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
