// Package gate holds the pure completion-gating rules for a media sequence.
package gate

// ItemStatus annotates a sequence item in list views. It is informational
// only: navigation is free in both source kinds, so status never blocks.
type ItemStatus string

const (
	StatusNotStarted ItemStatus = "not_started"
	StatusInProgress ItemStatus = "in_progress"
	StatusCompleted  ItemStatus = "completed"
)

// IsLastItem reports whether index is the final position of the sequence.
func IsLastItem(index, length int) bool {
	return length > 0 && index == length-1
}

// CanAdvance reports whether forward navigation stays in bounds.
func CanAdvance(index, length int) bool {
	return index < length-1
}

// ShouldTriggerQuiz reports whether the terminal quiz fires: only when the
// item that just ended was the last of the sequence.
func ShouldTriggerQuiz(index, length int, justEnded bool) bool {
	return justEnded && IsLastItem(index, length)
}

// StatusOf classifies an item from its progress percent. An item mid-play is
// only "in progress" while it is the current one.
func StatusOf(percent int, isCurrent bool) ItemStatus {
	switch {
	case percent >= 100:
		return StatusCompleted
	case percent > 0 && isCurrent:
		return StatusInProgress
	default:
		return StatusNotStarted
	}
}
