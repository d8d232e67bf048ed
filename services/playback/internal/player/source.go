package player

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SourceKind distinguishes the two playback origins: files streamed from our
// storage versus videos hosted by an external provider.
type SourceKind string

const (
	KindStreamedFile  SourceKind = "streamed_file"
	KindEmbeddedVideo SourceKind = "embedded_video"
)

// ParseSourceKind validates a wire-supplied kind string.
func ParseSourceKind(raw string) (SourceKind, error) {
	switch SourceKind(raw) {
	case KindStreamedFile, KindEmbeddedVideo:
		return SourceKind(raw), nil
	default:
		return "", fmt.Errorf("unknown source kind %q", raw)
	}
}

// Item is one playable unit of a sequence, supplied by the content
// collaborator at mount time and never mutated here.
type Item struct {
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Kind     SourceKind `json:"kind"`
	MediaURL string     `json:"media_url"` // file URL or provider video reference
}

// DurationResolver resolves the duration of a streamed file ahead of
// playback (typically from stored upload metadata, cached).
type DurationResolver interface {
	ResolveDuration(ctx context.Context, item Item) (float64, error)
}

// Source abstracts where playback observations for the current item come
// from; the sequencing, gating and persistence logic is written once
// against this interface.
type Source interface {
	Kind() SourceKind
	// ResolveDuration returns the item's duration, or 0 while still unknown.
	ResolveDuration(ctx context.Context) (float64, error)
	// Position returns the last observed playback position in seconds.
	Position() float64
	// Observe feeds a transport-reported (position, duration) sample in.
	Observe(position, duration float64)
}

// saveInterval is the cadence of throttled background saves, reflecting the
// differing event granularity of the two source kinds.
func saveInterval(k SourceKind) time.Duration {
	if k == KindEmbeddedVideo {
		return 30 * time.Second
	}
	return 5 * time.Second
}

// streamedFileSource plays audio/video files from our own storage; duration
// is resolvable up front from upload metadata.
type streamedFileSource struct {
	item     Item
	resolver DurationResolver

	mu       sync.Mutex
	position float64
	duration float64
}

func newStreamedFileSource(item Item, resolver DurationResolver) *streamedFileSource {
	return &streamedFileSource{item: item, resolver: resolver}
}

func (s *streamedFileSource) Kind() SourceKind { return KindStreamedFile }

func (s *streamedFileSource) ResolveDuration(ctx context.Context) (float64, error) {
	s.mu.Lock()
	if s.duration > 0 {
		d := s.duration
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	if s.resolver == nil {
		return 0, nil
	}
	d, err := s.resolver.ResolveDuration(ctx, s.item)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.duration = d
	s.mu.Unlock()
	return d, nil
}

func (s *streamedFileSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *streamedFileSource) Observe(position, duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position >= 0 {
		s.position = position
	}
	if duration > 0 {
		s.duration = duration
	}
}

// embeddedVideoSource plays provider-hosted video; metadata only arrives
// with the provider's own playback reports, so duration stays unknown until
// the first observed sample.
type embeddedVideoSource struct {
	mu       sync.Mutex
	position float64
	duration float64
}

func newEmbeddedVideoSource(Item) *embeddedVideoSource {
	return &embeddedVideoSource{}
}

func (s *embeddedVideoSource) Kind() SourceKind { return KindEmbeddedVideo }

func (s *embeddedVideoSource) ResolveDuration(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration, nil
}

func (s *embeddedVideoSource) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *embeddedVideoSource) Observe(position, duration float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position >= 0 {
		s.position = position
	}
	if duration > 0 {
		s.duration = duration
	}
}

func newSource(item Item, resolver DurationResolver) Source {
	if item.Kind == KindEmbeddedVideo {
		return newEmbeddedVideoSource(item)
	}
	return newStreamedFileSource(item, resolver)
}
