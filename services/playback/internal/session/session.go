// Package session owns the server-side playback sessions: one mounted
// Player per learner per module, addressable by session ID.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/lms-platform/internal/platform/events"
	"github.com/example/lms-platform/services/playback/internal/player"
	"github.com/example/lms-platform/services/playback/internal/progressclient"
	"github.com/example/lms-platform/services/playback/internal/quiz"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrForbidden = errors.New("session belongs to another user")
)

// idleTimeout is how long a session survives without any transport event
// before the janitor closes it (issuing the final save).
const idleTimeout = 30 * time.Minute

// Session is one learner's mounted playback of one module.
type Session struct {
	ID          string
	UserID      string
	ModuleID    string
	ModuleTitle string
	Player      *player.Player

	touched time.Time
}

// Manager creates, looks up and evicts sessions.
type Manager struct {
	cfg ManagerConfig
	log *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

type ManagerConfig struct {
	ProgressBaseURL string
	Resolver        player.DurationResolver
	Quiz            quiz.Generator
	Engine          quiz.Engine
	Publisher       *events.Publisher
	Log             *zap.Logger

	// NewStore overrides progress store construction, for tests.
	NewStore func(token string) progressclient.Store
}

func NewManager(cfg ManagerConfig) *Manager {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, log: log, sessions: make(map[string]*Session)}
}

// Create mounts a new player over the module's item sequence. The caller's
// bearer token is forwarded to the progress service so saves run under the
// learner's own identity.
func (m *Manager) Create(ctx context.Context, userID, token, moduleID, moduleTitle string, items []player.Item) (*Session, error) {
	if len(items) == 0 {
		return nil, errors.New("module has no items")
	}

	store := m.newStore(token)
	s := &Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		ModuleID:    moduleID,
		ModuleTitle: moduleTitle,
		touched:     time.Now(),
	}
	s.Player = player.New(player.Config{
		UserID:   userID,
		Items:    items,
		Store:    store,
		Resolver: m.cfg.Resolver,
		Quiz:     m.cfg.Quiz,
		Engine:   m.cfg.Engine,
		Log:      m.log.With(zap.String("session_id", s.ID)),
		OnComplete: func() {
			m.cfg.Publisher.Publish(events.SubjectModuleCompleted, "module_completed", userID,
				map[string]any{"module_id": moduleID, "session_id": s.ID})
			m.log.Info("module completed",
				zap.String("user_id", userID), zap.String("module_id", moduleID))
		},
	})

	if err := s.Player.Mount(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s, nil
}

func (m *Manager) newStore(token string) progressclient.Store {
	if m.cfg.NewStore != nil {
		return m.cfg.NewStore(token)
	}
	return progressclient.New(m.cfg.ProgressBaseURL, token, m.log)
}

// Get returns the session only to its owner, refreshing the idle clock.
func (m *Manager) Get(id, userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if s.UserID != userID {
		return nil, ErrForbidden
	}
	s.touched = time.Now()
	return s, nil
}

// Close removes the session and unmounts its player.
func (m *Manager) Close(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && s.UserID != userID {
		m.mu.Unlock()
		return ErrForbidden
	}
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Player.Close(ctx)
	return nil
}

// StartJanitor sweeps idle sessions until ctx is cancelled. Evicted players
// are closed so their final save still happens.
func (m *Manager) StartJanitor(ctx context.Context) {
	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.sweep(ctx)
			}
		}
	}()
}

func (m *Manager) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-idleTimeout)
	var expired []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.touched.Before(cutoff) {
			delete(m.sessions, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.log.Info("evicting idle session",
			zap.String("session_id", s.ID), zap.String("user_id", s.UserID))
		s.Player.Close(ctx)
	}
}
