package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryProgressRepository is a development/test implementation.
type InMemoryProgressRepository struct {
	mu      sync.RWMutex
	records map[string]map[string]ProgressRecord // userID -> itemID -> record
}

func NewInMemoryProgressRepository() *InMemoryProgressRepository {
	return &InMemoryProgressRepository{records: make(map[string]map[string]ProgressRecord)}
}

func (s *InMemoryProgressRepository) Upsert(_ context.Context, rec ProgressRecord) (ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Percent = ComputePercent(rec.PositionSeconds, rec.DurationSeconds)
	rec.LastPlayedAt = time.Now().UTC()

	byItem, ok := s.records[rec.UserID]
	if !ok {
		byItem = make(map[string]ProgressRecord)
		s.records[rec.UserID] = byItem
	}
	byItem[rec.ItemID] = rec
	return rec, nil
}

func (s *InMemoryProgressRepository) Load(_ context.Context, userID string, itemIDs []string) (map[string]ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ProgressRecord, len(itemIDs))
	byItem := s.records[userID]
	for _, id := range itemIDs {
		if rec, ok := byItem[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

func (s *InMemoryProgressRepository) List(_ context.Context, userID string, limit int, cursor *ProgressCursor) ([]ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > 100 {
		limit = 25
	}

	var all []ProgressRecord
	for _, rec := range s.records[userID] {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastPlayedAt.Equal(all[j].LastPlayedAt) {
			return all[i].LastPlayedAt.After(all[j].LastPlayedAt)
		}
		return all[i].ItemID > all[j].ItemID
	})

	var out []ProgressRecord
	for _, rec := range all {
		if cursor != nil {
			after := rec.LastPlayedAt.After(cursor.LastPlayedAt) ||
				(rec.LastPlayedAt.Equal(cursor.LastPlayedAt) && rec.ItemID >= cursor.ItemID)
			if after {
				continue
			}
		}
		out = append(out, rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
