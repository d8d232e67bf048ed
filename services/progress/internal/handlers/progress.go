package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/lms-platform/internal/platform/api"
	"github.com/example/lms-platform/internal/platform/auth"
	"github.com/example/lms-platform/internal/platform/events"
	"github.com/example/lms-platform/services/progress/internal/store"
)

type saveProgressRequest struct {
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}

type bulkProgressResponse struct {
	Progress map[string]store.ProgressRecord `json:"progress"`
}

type recentResponse struct {
	Items      []store.ProgressRecord `json:"items"`
	Limit      int                    `json:"limit"`
	NextCursor string                 `json:"next_cursor,omitempty"`
}

// SaveProgress handles PUT /v1/progress/{item_id}.
// A request with duration <= 0 is a contract violation by the caller
// (duration not yet resolved); it is dropped with a warning, never an error.
func SaveProgress(repo store.ProgressRepository, pub *events.Publisher, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", "")
			return
		}

		itemID := strings.TrimSpace(chi.URLParam(r, "item_id"))
		if itemID == "" {
			api.BadRequest(w, "MISSING_ID", "item_id is required", "", nil)
			return
		}

		var req saveProgressRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			api.BadRequest(w, "INVALID_JSON", "invalid JSON", "", nil)
			return
		}
		if req.PositionSeconds < 0 {
			req.PositionSeconds = 0
		}
		if req.DurationSeconds <= 0 {
			log.Warn("progress save with unknown duration dropped",
				zap.String("user_id", userID), zap.String("item_id", itemID))
			api.NoContent(w)
			return
		}

		rec, err := repo.Upsert(r.Context(), store.ProgressRecord{
			UserID:          userID,
			ItemID:          itemID,
			PositionSeconds: req.PositionSeconds,
			DurationSeconds: req.DurationSeconds,
		})
		if err != nil {
			log.Error("progress upsert failed", zap.String("item_id", itemID), zap.Error(err))
			api.Internal(w, "")
			return
		}

		pub.Publish(events.SubjectProgressSaved, "progress_saved", userID, map[string]any{
			"item_id": itemID,
			"percent": rec.Percent,
		})
		api.WriteJSON(w, http.StatusOK, rec)
	}
}

// BulkProgress handles GET /v1/progress?item_ids=a,b,c.
// Items without progress are absent from the response map.
func BulkProgress(repo store.ProgressRepository, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", "")
			return
		}

		itemIDs := splitIDs(r.URL.Query().Get("item_ids"))
		if len(itemIDs) == 0 {
			api.BadRequest(w, "MISSING_IDS", "item_ids is required", "", nil)
			return
		}

		recs, err := repo.Load(r.Context(), userID, itemIDs)
		if err != nil {
			log.Error("progress load failed", zap.Error(err))
			api.Internal(w, "")
			return
		}
		api.WriteJSON(w, http.StatusOK, bulkProgressResponse{Progress: recs})
	}
}

// Recent handles GET /v1/progress/recent (continue-learning list).
func Recent(repo store.ProgressRepository, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok || userID == "" {
			api.Unauthorized(w, "UNAUTHORIZED", "authentication required", "")
			return
		}

		limit := 25
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
				limit = parsed
			}
		}
		cursor := decodeCursor(r.URL.Query().Get("cursor"))

		recs, err := repo.List(r.Context(), userID, limit, cursor)
		if err != nil {
			log.Error("progress list failed", zap.Error(err))
			api.Internal(w, "")
			return
		}

		resp := recentResponse{Items: recs, Limit: limit}
		if len(recs) == limit {
			last := recs[len(recs)-1]
			resp.NextCursor = encodeCursor(last.LastPlayedAt.UnixMilli(), last.ItemID)
		}
		api.WriteJSON(w, http.StatusOK, resp)
	}
}

// AdminRecent handles GET /v1/admin/users/{user_id}/progress/recent: support
// staff inspecting a learner's recent activity. Mounted behind RequireAdmin.
func AdminRecent(repo store.ProgressRepository, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(chi.URLParam(r, "user_id"))
		if userID == "" {
			api.BadRequest(w, "MISSING_ID", "user_id is required", "", nil)
			return
		}

		limit := 25
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
				limit = parsed
			}
		}

		recs, err := repo.List(r.Context(), userID, limit, decodeCursor(r.URL.Query().Get("cursor")))
		if err != nil {
			log.Error("admin progress list failed", zap.String("user_id", userID), zap.Error(err))
			api.Internal(w, "")
			return
		}

		resp := recentResponse{Items: recs, Limit: limit}
		if len(recs) == limit {
			last := recs[len(recs)-1]
			resp.NextCursor = encodeCursor(last.LastPlayedAt.UnixMilli(), last.ItemID)
		}
		api.WriteJSON(w, http.StatusOK, resp)
	}
}

func splitIDs(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// encodeCursor encodes last_played_at millis and item ID as an opaque cursor.
func encodeCursor(tsMs int64, itemID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(tsMs, 10) + ":" + itemID))
}

// decodeCursor parses the opaque cursor produced by encodeCursor.
func decodeCursor(raw string) *store.ProgressCursor {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	parts := strings.SplitN(string(b), ":", 2)
	if len(parts) != 2 {
		return nil
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil
	}
	if parts[1] == "" {
		return nil
	}
	return &store.ProgressCursor{
		LastPlayedAt: time.UnixMilli(ts).UTC(),
		ItemID:       parts[1],
	}
}
