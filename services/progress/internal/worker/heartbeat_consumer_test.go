package worker

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/example/lms-platform/internal/platform/events"
)

func TestDecodeHeartbeat(t *testing.T) {
	payload, _ := json.Marshal(events.Event{
		EventID:    "ev-1",
		EventName:  "progress_heartbeat",
		UserID:     "user-1",
		OccurredAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Properties: map[string]any{
			"item_id":          "item-7",
			"position_seconds": 42.5,
			"duration_seconds": 300.0,
		},
	})

	hb, ok := decodeHeartbeat(payload)
	if !ok {
		t.Fatal("expected decodable heartbeat")
	}
	if hb.UserID != "user-1" || hb.ItemID != "item-7" {
		t.Fatalf("unexpected identity: %+v", hb)
	}
	if hb.PositionSeconds != 42.5 || hb.DurationSeconds != 300 {
		t.Fatalf("unexpected sample: %+v", hb)
	}
}

func TestDecodeHeartbeat_Poison(t *testing.T) {
	if _, ok := decodeHeartbeat([]byte(`{broken`)); ok {
		t.Fatal("expected failure for invalid json")
	}
	// Envelope without item_id is unusable for an upsert.
	payload, _ := json.Marshal(events.Event{EventID: "ev-2", UserID: "user-1"})
	if _, ok := decodeHeartbeat(payload); ok {
		t.Fatal("expected failure for missing item_id")
	}
}
