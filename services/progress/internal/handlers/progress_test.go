package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/lms-platform/internal/platform/auth"
	"github.com/example/lms-platform/services/progress/internal/store"
)

// setupReq builds a request with chi URL params and optional user_id in context.
func setupReq(method, url, body string, params map[string]string, userID string) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, url, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, url, nil)
	}
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if userID != "" {
		ctx = auth.WithUserID(ctx, userID)
	}
	return req.WithContext(ctx)
}

func TestSaveProgress(t *testing.T) {
	repo := store.NewInMemoryProgressRepository()
	handler := SaveProgress(repo, nil, zap.NewNop())

	req := setupReq(http.MethodPut, "/v1/progress/item-1",
		`{"position_seconds":120,"duration_seconds":300}`,
		map[string]string{"item_id": "item-1"}, "user-a")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var rec store.ProgressRecord
	if err := json.NewDecoder(rr.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Percent != 40 {
		t.Fatalf("expected percent 40, got %d", rec.Percent)
	}
}

func TestSaveProgress_Unauthorized(t *testing.T) {
	repo := store.NewInMemoryProgressRepository()
	handler := SaveProgress(repo, nil, zap.NewNop())

	req := setupReq(http.MethodPut, "/v1/progress/item-1",
		`{"position_seconds":10,"duration_seconds":100}`,
		map[string]string{"item_id": "item-1"}, "")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestSaveProgress_UnknownDurationDropped(t *testing.T) {
	repo := store.NewInMemoryProgressRepository()
	handler := SaveProgress(repo, nil, zap.NewNop())

	req := setupReq(http.MethodPut, "/v1/progress/item-1",
		`{"position_seconds":10,"duration_seconds":0}`,
		map[string]string{"item_id": "item-1"}, "user-a")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}

	recs, _ := repo.Load(context.Background(), "user-a", []string{"item-1"})
	if len(recs) != 0 {
		t.Fatal("expected no record persisted for unknown duration")
	}
}

func TestSaveProgress_InvalidJSON(t *testing.T) {
	repo := store.NewInMemoryProgressRepository()
	handler := SaveProgress(repo, nil, zap.NewNop())

	req := setupReq(http.MethodPut, "/v1/progress/item-1", `{not json`,
		map[string]string{"item_id": "item-1"}, "user-a")

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestBulkProgress_Sparse(t *testing.T) {
	repo := store.NewInMemoryProgressRepository()
	_, _ = repo.Upsert(context.Background(), store.ProgressRecord{
		UserID: "user-a", ItemID: "item-1", PositionSeconds: 30, DurationSeconds: 100,
	})
	handler := BulkProgress(repo, zap.NewNop())

	req := setupReq(http.MethodGet, "/v1/progress?item_ids=item-1,item-2", "", nil, "user-a")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp bulkProgressResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Progress) != 1 {
		t.Fatalf("expected 1 record, got %d", len(resp.Progress))
	}
	if resp.Progress["item-1"].Percent != 30 {
		t.Fatalf("expected percent 30, got %d", resp.Progress["item-1"].Percent)
	}
}

func TestBulkProgress_MissingIDs(t *testing.T) {
	handler := BulkProgress(store.NewInMemoryProgressRepository(), zap.NewNop())

	req := setupReq(http.MethodGet, "/v1/progress", "", nil, "user-a")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestRecent_CursorRoundtrip(t *testing.T) {
	repo := store.NewInMemoryProgressRepository()
	ctx := context.Background()
	for _, id := range []string{"item-1", "item-2", "item-3"} {
		_, _ = repo.Upsert(ctx, store.ProgressRecord{UserID: "user-a", ItemID: id, PositionSeconds: 5, DurationSeconds: 50})
	}
	handler := Recent(repo, zap.NewNop())

	req := setupReq(http.MethodGet, "/v1/progress/recent?limit=2", "", nil, "user-a")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp recentResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Items))
	}
	if resp.NextCursor == "" {
		t.Fatal("expected next_cursor on a full page")
	}

	req = setupReq(http.MethodGet, "/v1/progress/recent?limit=2&cursor="+resp.NextCursor, "", nil, "user-a")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var page2 recentResponse
	if err := json.NewDecoder(rr.Body).Decode(&page2); err != nil {
		t.Fatalf("decode page 2: %v", err)
	}
	if len(page2.Items) != 1 {
		t.Fatalf("expected 1 item on page 2, got %d", len(page2.Items))
	}
}

func TestAdminRecent(t *testing.T) {
	repo := store.NewInMemoryProgressRepository()
	_, _ = repo.Upsert(context.Background(), store.ProgressRecord{
		UserID: "learner-1", ItemID: "item-1", PositionSeconds: 10, DurationSeconds: 100,
	})
	handler := AdminRecent(repo, zap.NewNop())

	req := setupReq(http.MethodGet, "/v1/admin/users/learner-1/progress/recent", "",
		map[string]string{"user_id": "learner-1"}, "staff-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp recentResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].UserID != "learner-1" {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
}

func TestAdminRecent_MissingUserID(t *testing.T) {
	handler := AdminRecent(store.NewInMemoryProgressRepository(), zap.NewNop())
	req := setupReq(http.MethodGet, "/v1/admin/users//progress/recent", "", nil, "staff-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestDecodeCursor_Garbage(t *testing.T) {
	if decodeCursor("not-base64!!") != nil {
		t.Fatal("expected nil for undecodable cursor")
	}
	if decodeCursor("") != nil {
		t.Fatal("expected nil for empty cursor")
	}
}
