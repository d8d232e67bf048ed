// Package player drives playback of one item in a fixed ordered sequence,
// persists progress on a cadence and at state transitions, and triggers the
// terminal quiz when the sequence is exhausted.
package player

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/lms-platform/services/playback/internal/gate"
	"github.com/example/lms-platform/services/playback/internal/progressclient"
	"github.com/example/lms-platform/services/playback/internal/quiz"
)

// State of the mounted sequence with respect to the current item.
type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateReady       State = "ready"
	StatePlaying     State = "playing"
	StatePaused      State = "paused"
	StateEnded       State = "ended"
	StateUnavailable State = "unavailable"
	StateQuizPending State = "quiz_pending"
	StateCompleted   State = "completed"
)

const (
	// minPlayedSeconds guards against persisting near-zero spurious progress.
	minPlayedSeconds = 1.0
	// minSaveDwell throttles cadence saves between successful persists.
	minSaveDwell = 40 * time.Second
	// finalSaveMinPosition is the threshold below which the close-time save
	// is not worth issuing.
	finalSaveMinPosition = 0.5
	// recentSaveWindow suppresses the close-time save right after another
	// save already went through.
	recentSaveWindow = 5 * time.Second
)

// Config wires a Player's collaborators.
type Config struct {
	UserID   string
	Items    []Item
	Store    progressclient.Store
	Resolver DurationResolver
	Quiz     quiz.Generator
	Engine   quiz.Engine
	Log      *zap.Logger

	// OnComplete is invoked exactly once when the sequence plus its terminal
	// quiz are done (passed, explicitly skipped, or failed open).
	OnComplete func()
}

// Player owns the playback lifecycle of one mounted sequence for one
// learner. Methods are safe for concurrent use; persistence runs outside
// the lock so a slow store never stalls event handling.
type Player struct {
	cfg Config
	log *zap.Logger

	mu           sync.Mutex
	state        State
	idx          int
	source       Source
	duration     float64 // current item, 0 while metadata unresolved
	resumePos    float64 // seek target handed to the client on Ready
	autoplay     bool    // play as soon as metadata resolves (auto-advance)
	progress     map[string]int // itemID -> percent mirror, optimistic
	lastSaved    map[string]time.Time
	quizSession  *quiz.Session
	completeOnce sync.Once

	ticker   *time.Ticker
	tickStop chan struct{}

	now func() time.Time
}

func New(cfg Config) *Player {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Player{
		cfg:       cfg,
		log:       log,
		state:     StateIdle,
		progress:  make(map[string]int),
		lastSaved: make(map[string]time.Time),
		now:       time.Now,
	}
}

// Mount hydrates the progress mirror from the store and loads the resume
// item: the most recently played unfinished one, falling back to the first.
func (p *Player) Mount(ctx context.Context) error {
	ids := make([]string, len(p.cfg.Items))
	for i, it := range p.cfg.Items {
		ids[i] = it.ID
	}
	records, err := p.cfg.Store.Load(ctx, ids)
	if err != nil {
		return err
	}

	p.mu.Lock()
	for id, rec := range records {
		p.progress[id] = rec.Percent
	}
	p.idx = resumeIndex(p.cfg.Items, records)
	p.mu.Unlock()

	p.loadItem(ctx, p.idx, false)
	return nil
}

// resumeIndex picks the most recently played item that is not complete.
func resumeIndex(items []Item, records map[string]progressclient.Record) int {
	best := -1
	var bestAt time.Time
	for i, it := range items {
		rec, ok := records[it.ID]
		if !ok || rec.Percent >= 100 {
			continue
		}
		if best == -1 || rec.LastPlayedAt.After(bestAt) {
			best, bestAt = i, rec.LastPlayedAt
		}
	}
	if best >= 0 {
		return best
	}
	// Everything touched is complete: resume at the first untouched item.
	for i, it := range items {
		if _, ok := records[it.ID]; !ok {
			return i
		}
	}
	return 0
}

// loadItem switches the current item. The outgoing item's cadence timer is
// always cleared first so a stale timer can never save against the new index.
func (p *Player) loadItem(ctx context.Context, idx int, autoplay bool) {
	p.mu.Lock()
	p.stopCadenceLocked()
	p.idx = idx
	item := p.cfg.Items[idx]
	p.source = newSource(item, p.cfg.Resolver)
	p.state = StateLoading
	p.duration = 0
	p.resumePos = 0
	p.autoplay = autoplay
	src := p.source
	p.mu.Unlock()

	dur, err := src.ResolveDuration(ctx)
	if err != nil {
		p.log.Warn("media source unavailable",
			zap.String("item_id", item.ID), zap.Error(err))
		p.mu.Lock()
		p.state = StateUnavailable
		p.mu.Unlock()
		return
	}
	if dur > 0 {
		p.onMetadataResolved(ctx, dur)
	}
	// Embedded video: stays Loading until the provider reports metadata
	// through the first heartbeat.
}

// onMetadataResolved enters Ready, seeking to saved progress if any.
func (p *Player) onMetadataResolved(ctx context.Context, dur float64) {
	p.mu.Lock()
	if p.state != StateLoading {
		p.mu.Unlock()
		return
	}
	p.duration = dur
	item := p.cfg.Items[p.idx]
	if pct, ok := p.progress[item.ID]; ok && pct > 0 {
		p.resumePos = float64(pct) / 100 * dur
		p.source.Observe(p.resumePos, dur)
	}
	p.state = StateReady
	autoplay := p.autoplay
	p.autoplay = false
	p.mu.Unlock()

	if autoplay {
		p.Play(ctx)
	}
}

// Play enters Playing and starts the cadence timer for the current source kind.
func (p *Player) Play(_ context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateReady && p.state != StatePaused {
		return
	}
	p.state = StatePlaying
	p.startCadenceLocked()
}

// Pause leaves Playing and issues an immediate, unthrottled save.
func (p *Player) Pause(ctx context.Context) {
	p.mu.Lock()
	if p.state != StatePlaying {
		p.mu.Unlock()
		return
	}
	p.state = StatePaused
	p.stopCadenceLocked()
	item, pos, dur := p.snapshotLocked()
	p.mu.Unlock()

	p.persist(ctx, item, pos, dur)
}

// Heartbeat feeds a transport-reported playback sample into the current
// source. For embedded video this is also how metadata first resolves.
func (p *Player) Heartbeat(ctx context.Context, position, duration float64) {
	p.mu.Lock()
	if p.source == nil || p.state == StateQuizPending || p.state == StateCompleted {
		p.mu.Unlock()
		return
	}
	p.source.Observe(position, duration)
	if duration > 0 {
		p.duration = duration
	}
	loading := p.state == StateLoading && p.duration > 0
	dur := p.duration
	p.mu.Unlock()

	if loading {
		p.onMetadataResolved(ctx, dur)
	}
}

// Ended handles end-of-stream for the current item: mark 100%, save
// immediately, then either auto-advance or trigger the terminal quiz.
func (p *Player) Ended(ctx context.Context) {
	p.mu.Lock()
	if p.state == StateQuizPending || p.state == StateCompleted || p.source == nil {
		p.mu.Unlock()
		return
	}
	p.stopCadenceLocked()
	p.state = StateEnded
	if p.duration > 0 {
		p.source.Observe(p.duration, p.duration)
	}
	item, pos, dur := p.snapshotLocked()
	idx, length := p.idx, len(p.cfg.Items)
	p.mu.Unlock()

	p.persist(ctx, item, pos, dur)

	if gate.ShouldTriggerQuiz(idx, length, true) {
		p.beginQuiz(ctx)
		return
	}
	if gate.CanAdvance(idx, length) {
		p.loadItem(ctx, idx+1, true)
	}
}

// SkipBack persists the current item's progress and moves to the previous
// item. Allowed unconditionally above index zero.
func (p *Player) SkipBack(ctx context.Context) {
	p.mu.Lock()
	if p.idx == 0 || p.source == nil {
		p.mu.Unlock()
		return
	}
	item, pos, dur := p.snapshotLocked()
	idx := p.idx
	p.mu.Unlock()

	p.persist(ctx, item, pos, dur)
	p.loadItem(ctx, idx-1, false)
}

// SkipForward persists then advances; at the last item it invokes the
// end-of-sequence quiz flow instead of indexing out of bounds.
func (p *Player) SkipForward(ctx context.Context) {
	p.mu.Lock()
	if p.source == nil {
		p.mu.Unlock()
		return
	}
	item, pos, dur := p.snapshotLocked()
	idx, length := p.idx, len(p.cfg.Items)
	p.mu.Unlock()

	p.persist(ctx, item, pos, dur)

	if gate.CanAdvance(idx, length) {
		p.loadItem(ctx, idx+1, false)
		return
	}
	p.beginQuiz(ctx)
}

// JumpTo navigates directly to an arbitrary item. Navigation is free: item
// status badges inform, they do not gate.
func (p *Player) JumpTo(ctx context.Context, idx int) {
	p.mu.Lock()
	if idx < 0 || idx >= len(p.cfg.Items) || idx == p.idx {
		p.mu.Unlock()
		return
	}
	var item Item
	var pos, dur float64
	hasCurrent := p.source != nil
	if hasCurrent {
		item, pos, dur = p.snapshotLocked()
	}
	p.mu.Unlock()

	if hasCurrent {
		p.persist(ctx, item, pos, dur)
	}
	p.loadItem(ctx, idx, false)
}

// Close unmounts the player: clears the cadence timer and makes a
// best-effort final save, swallowing errors since the session is going away.
func (p *Player) Close(ctx context.Context) {
	p.mu.Lock()
	p.stopCadenceLocked()
	if p.source == nil || p.state == StateCompleted {
		p.mu.Unlock()
		return
	}
	item, pos, dur := p.snapshotLocked()
	last := p.lastSaved[item.ID]
	p.state = StateIdle
	p.mu.Unlock()

	if pos <= finalSaveMinPosition {
		return
	}
	if !last.IsZero() && p.now().Sub(last) < recentSaveWindow {
		return
	}
	p.persist(ctx, item, pos, dur)
}

// tick is the cadence save: throttled, best-effort, never authoritative.
func (p *Player) tick(ctx context.Context) {
	p.mu.Lock()
	if p.state != StatePlaying || p.source == nil {
		p.mu.Unlock()
		return
	}
	item, pos, dur := p.snapshotLocked()
	last, saved := p.lastSaved[item.ID]
	p.mu.Unlock()

	if pos < minPlayedSeconds {
		return
	}
	// First save of the session goes through immediately; after that the
	// dwell keeps write volume down.
	if saved && p.now().Sub(last) < minSaveDwell {
		return
	}
	p.persist(ctx, item, pos, dur)
}

// persist pushes one progress sample through the retrying store client.
// The mirror is updated optimistically; a final failure is logged and
// swallowed so the learner is never blocked on persistence.
func (p *Player) persist(ctx context.Context, item Item, pos, dur float64) {
	if dur <= 0 {
		p.log.Warn("progress save skipped, duration unresolved", zap.String("item_id", item.ID))
		return
	}

	pct := percentOf(pos, dur)
	p.mu.Lock()
	p.progress[item.ID] = pct
	p.mu.Unlock()

	if err := p.cfg.Store.Save(ctx, item.ID, pos, dur); err != nil {
		p.log.Warn("progress save failed permanently",
			zap.String("item_id", item.ID), zap.Error(err))
		return
	}

	p.mu.Lock()
	p.lastSaved[item.ID] = p.now()
	p.mu.Unlock()
}

// beginQuiz generates the terminal quiz. Generation failure fails open:
// the module is completed rather than blocking the learner.
func (p *Player) beginQuiz(ctx context.Context) {
	p.mu.Lock()
	if p.state == StateQuizPending || p.state == StateCompleted {
		p.mu.Unlock()
		return
	}
	p.stopCadenceLocked()
	p.state = StateQuizPending
	title := p.cfg.Items[len(p.cfg.Items)-1].Title
	p.mu.Unlock()

	q, err := p.cfg.Quiz.Generate(ctx, title)
	if err != nil {
		p.log.Warn("quiz generation failed, completing module", zap.Error(err))
		p.complete()
		return
	}
	p.mu.Lock()
	p.quizSession = quiz.NewSession(q)
	p.mu.Unlock()
}

// QuizSession returns the in-flight quiz, or nil when no quiz is pending.
func (p *Player) QuizSession() *quiz.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quizSession
}

// SubmitQuiz scores the attempt; a pass completes the module.
func (p *Player) SubmitQuiz() (quiz.Attempt, bool) {
	p.mu.Lock()
	s := p.quizSession
	p.mu.Unlock()
	if s == nil {
		return quiz.Attempt{}, false
	}
	att := p.cfg.Engine.Submit(s)
	if att.Passed {
		p.complete()
	}
	return att, true
}

// RetryQuiz discards the previous attempt, re-showing the same questions.
func (p *Player) RetryQuiz() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quizSession != nil && p.state == StateQuizPending {
		p.quizSession.Reset()
	}
}

// SkipQuiz treats the module as complete without a passing score; offering
// this is the caller's product decision.
func (p *Player) SkipQuiz() {
	p.mu.Lock()
	pending := p.state == StateQuizPending
	p.mu.Unlock()
	if pending {
		p.complete()
	}
}

func (p *Player) complete() {
	p.mu.Lock()
	p.state = StateCompleted
	p.mu.Unlock()
	p.completeOnce.Do(func() {
		if p.cfg.OnComplete != nil {
			p.cfg.OnComplete()
		}
	})
}

// ItemView annotates one sequence item for list rendering.
type ItemView struct {
	Item
	Percent int             `json:"percent"`
	Status  gate.ItemStatus `json:"status"`
}

// Snapshot is the renderable state of the session.
type Snapshot struct {
	State          State      `json:"state"`
	Index          int        `json:"index"`
	ResumePosition float64    `json:"resume_position"`
	Duration       float64    `json:"duration"`
	Items          []ItemView `json:"items"`
}

func (p *Player) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		State:          p.state,
		Index:          p.idx,
		ResumePosition: p.resumePos,
		Duration:       p.duration,
	}
	for i, it := range p.cfg.Items {
		pct := p.progress[it.ID]
		snap.Items = append(snap.Items, ItemView{
			Item:    it,
			Percent: pct,
			Status:  gate.StatusOf(pct, i == p.idx),
		})
	}
	return snap
}

// startCadenceLocked owns exactly one ticker; any previous one is cleared
// first. Callers hold p.mu.
func (p *Player) startCadenceLocked() {
	p.stopCadenceLocked()
	interval := saveInterval(p.source.Kind())
	p.ticker = time.NewTicker(interval)
	p.tickStop = make(chan struct{})
	go func(t *time.Ticker, stop chan struct{}) {
		for {
			select {
			case <-t.C:
				p.tick(context.Background())
			case <-stop:
				return
			}
		}
	}(p.ticker, p.tickStop)
}

func (p *Player) stopCadenceLocked() {
	if p.ticker != nil {
		p.ticker.Stop()
		p.ticker = nil
	}
	if p.tickStop != nil {
		close(p.tickStop)
		p.tickStop = nil
	}
}

// snapshotLocked captures the values a persist needs. Callers hold p.mu.
func (p *Player) snapshotLocked() (Item, float64, float64) {
	return p.cfg.Items[p.idx], p.source.Position(), p.duration
}

func percentOf(pos, dur float64) int {
	if dur <= 0 || pos <= 0 {
		return 0
	}
	pct := int(math.Round(pos / dur * 100))
	if pct > 100 {
		pct = 100
	}
	return pct
}
