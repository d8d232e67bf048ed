// Package handlers exposes the playback session API: mounting a module,
// feeding transport events into its player, and driving the terminal quiz.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/lms-platform/internal/platform/api"
	"github.com/example/lms-platform/internal/platform/auth"
	"github.com/example/lms-platform/internal/platform/events"
	"github.com/example/lms-platform/services/playback/internal/mediasource"
	"github.com/example/lms-platform/services/playback/internal/player"
	"github.com/example/lms-platform/services/playback/internal/session"
)

type Handler struct {
	Sessions *session.Manager
	Media    *mediasource.Resolver
	Events   *events.Publisher
	Log      *zap.Logger
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/v1/sessions", h.createSession)
	r.Route("/v1/sessions/{session_id}", func(r chi.Router) {
		r.Get("/", h.getSnapshot)
		r.Delete("/", h.closeSession)
		r.Post("/play", h.event(func(ctx context.Context, p *player.Player) { p.Play(ctx) }))
		r.Post("/pause", h.event(func(ctx context.Context, p *player.Player) { p.Pause(ctx) }))
		r.Post("/ended", h.event(func(ctx context.Context, p *player.Player) { p.Ended(ctx) }))
		r.Post("/skip-back", h.event(func(ctx context.Context, p *player.Player) { p.SkipBack(ctx) }))
		r.Post("/skip-forward", h.event(func(ctx context.Context, p *player.Player) { p.SkipForward(ctx) }))
		r.Post("/heartbeat", h.heartbeat)
		r.Post("/jump", h.jump)
		r.Get("/items/{item_id}/url", h.playbackURL)
		r.Get("/quiz", h.getQuiz)
		r.Post("/quiz/answers", h.answerQuiz)
		r.Post("/quiz/submit", h.submitQuiz)
		r.Post("/quiz/retry", h.event(func(_ context.Context, p *player.Player) { p.RetryQuiz() }))
		r.Post("/quiz/skip", h.event(func(_ context.Context, p *player.Player) { p.SkipQuiz() }))
	})
}

type createSessionRequest struct {
	ModuleID    string `json:"module_id"`
	ModuleTitle string `json:"module_title"`
	Items       []struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Kind     string `json:"kind"`
		MediaURL string `json:"media_url"`
	} `json:"items"`
}

type createSessionResponse struct {
	SessionID string          `json:"session_id"`
	Snapshot  player.Snapshot `json:"snapshot"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.Unauthorized(w, "UNAUTHORIZED", "authentication required", "")
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", "", nil)
		return
	}
	if strings.TrimSpace(req.ModuleID) == "" || len(req.Items) == 0 {
		api.BadRequest(w, "INVALID_MODULE", "module_id and a non-empty item list are required", "", nil)
		return
	}

	items := make([]player.Item, 0, len(req.Items))
	for _, it := range req.Items {
		kind, err := player.ParseSourceKind(it.Kind)
		if err != nil {
			api.BadRequest(w, "INVALID_KIND", err.Error(), "", map[string]any{"item_id": it.ID})
			return
		}
		items = append(items, player.Item{ID: it.ID, Title: it.Title, Kind: kind, MediaURL: it.MediaURL})
	}

	s, err := h.Sessions.Create(r.Context(), userID, bearerToken(r), req.ModuleID, req.ModuleTitle, items)
	if err != nil {
		h.Log.Error("session create failed", zap.String("module_id", req.ModuleID), zap.Error(err))
		api.Internal(w, "")
		return
	}
	api.WriteJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: s.ID,
		Snapshot:  s.Player.Snapshot(),
	})
}

func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, s.Player.Snapshot())
}

func (h *Handler) closeSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.Unauthorized(w, "UNAUTHORIZED", "authentication required", "")
		return
	}
	if err := h.Sessions.Close(r.Context(), chi.URLParam(r, "session_id"), userID); err != nil {
		h.writeSessionError(w, err)
		return
	}
	api.NoContent(w)
}

// event adapts a player action into a POST handler replying with the
// post-action snapshot.
func (h *Handler) event(fn func(context.Context, *player.Player)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := h.session(w, r)
		if !ok {
			return
		}
		fn(r.Context(), s.Player)
		api.WriteJSON(w, http.StatusOK, s.Player.Snapshot())
	}
}

type heartbeatRequest struct {
	PositionSeconds float64 `json:"position_seconds"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req heartbeatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", "", nil)
		return
	}
	s.Player.Heartbeat(r.Context(), req.PositionSeconds, req.DurationSeconds)

	// Mirror the sample onto the event stream; the progress service's
	// consumer persists these as a backstop for the synchronous save path.
	snap := s.Player.Snapshot()
	if snap.Index >= 0 && snap.Index < len(snap.Items) {
		h.Events.Publish(events.SubjectProgressHeartbeat, "progress_heartbeat", s.UserID, map[string]any{
			"item_id":          snap.Items[snap.Index].ID,
			"position_seconds": req.PositionSeconds,
			"duration_seconds": req.DurationSeconds,
		})
	}
	api.NoContent(w)
}

type jumpRequest struct {
	Index int `json:"index"`
}

func (h *Handler) jump(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req jumpRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", "", nil)
		return
	}
	s.Player.JumpTo(r.Context(), req.Index)
	api.WriteJSON(w, http.StatusOK, s.Player.Snapshot())
}

type playbackURLResponse struct {
	URL string `json:"url"`
}

// playbackURL hands out the time-limited signed delivery URL for one item in
// the session's sequence.
func (h *Handler) playbackURL(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "item_id")
	var item *player.Item
	for _, iv := range s.Player.Snapshot().Items {
		if iv.ID == itemID {
			it := iv.Item
			item = &it
			break
		}
	}
	if item == nil {
		api.NotFound(w, "ITEM_NOT_FOUND", "item is not part of this session", "")
		return
	}
	signed, err := h.Media.SignedPlaybackURL(*item, s.UserID)
	if err != nil {
		h.Log.Error("playback url signing failed", zap.String("item_id", itemID), zap.Error(err))
		api.Internal(w, "")
		return
	}
	api.WriteJSON(w, http.StatusOK, playbackURLResponse{URL: signed})
}

func (h *Handler) getQuiz(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	qs := s.Player.QuizSession()
	if qs == nil {
		api.NotFound(w, "NO_QUIZ", "no quiz is pending for this session", "")
		return
	}
	api.WriteJSON(w, http.StatusOK, qs.Quiz())
}

type answerRequest struct {
	QuestionID string `json:"question_id"`
	AnswerID   string `json:"answer_id"`
}

func (h *Handler) answerQuiz(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	qs := s.Player.QuizSession()
	if qs == nil {
		api.NotFound(w, "NO_QUIZ", "no quiz is pending for this session", "")
		return
	}
	var req answerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		api.BadRequest(w, "INVALID_JSON", "invalid JSON", "", nil)
		return
	}
	qs.RecordAnswer(req.QuestionID, req.AnswerID)
	api.NoContent(w)
}

// submitQuiz requires every question answered before scoring, so an
// accidental early submit never burns an attempt.
func (h *Handler) submitQuiz(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	qs := s.Player.QuizSession()
	if qs == nil {
		api.NotFound(w, "NO_QUIZ", "no quiz is pending for this session", "")
		return
	}
	if qs.AnsweredCount() < len(qs.Quiz().Questions) {
		api.BadRequest(w, "QUIZ_INCOMPLETE", "all questions must be answered before submitting", "",
			map[string]any{"answered": qs.AnsweredCount(), "total": len(qs.Quiz().Questions)})
		return
	}
	att, ok := s.Player.SubmitQuiz()
	if !ok {
		api.NotFound(w, "NO_QUIZ", "no quiz is pending for this session", "")
		return
	}
	h.Events.Publish(events.SubjectQuizSubmitted, "quiz_submitted", s.UserID, map[string]any{
		"module_id":     s.ModuleID,
		"score_percent": att.ScorePercent,
		"passed":        att.Passed,
	})
	api.WriteJSON(w, http.StatusOK, att)
}

// session resolves the authenticated caller's session from the URL, writing
// the error response itself on failure.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok || userID == "" {
		api.Unauthorized(w, "UNAUTHORIZED", "authentication required", "")
		return nil, false
	}
	s, err := h.Sessions.Get(chi.URLParam(r, "session_id"), userID)
	if err != nil {
		h.writeSessionError(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		api.NotFound(w, "SESSION_NOT_FOUND", "session not found", "")
	case errors.Is(err, session.ErrForbidden):
		api.Forbidden(w, "FORBIDDEN", "session belongs to another user", "")
	default:
		api.Internal(w, "")
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
