// Package quiz generates and scores the terminal assessment of a media
// sequence. Generation is a pluggable capability so a content-aware
// generator can replace the built-in fixed-form one without touching
// scoring or gating.
package quiz

import (
	"math"
	"sync"
)

// DefaultPassThreshold is the score percent at and above which an attempt passes.
const DefaultPassThreshold = 70

type Answer struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"-"`
}

type Question struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Difficulty string   `json:"difficulty"`
	Answers    []Answer `json:"answers"`
}

type Quiz struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Questions   []Question `json:"questions"`
}

// Attempt is the scored outcome of one submission.
type Attempt struct {
	ScorePercent int  `json:"score_percent"`
	CorrectCount int  `json:"correct_count"`
	Total        int  `json:"total"`
	Passed       bool `json:"passed"`
}

// Session holds one learner's in-flight answers for a generated quiz.
// Questions survive a Reset so a retry re-shows the same quiz.
type Session struct {
	mu      sync.Mutex
	quiz    Quiz
	answers map[string]string // questionID -> chosen answerID
}

func NewSession(q Quiz) *Session {
	return &Session{quiz: q, answers: make(map[string]string)}
}

func (s *Session) Quiz() Quiz {
	return s.quiz
}

// RecordAnswer stores the chosen answer, replacing any prior choice for the
// same question (single-select). Unknown question IDs are ignored.
func (s *Session) RecordAnswer(questionID, answerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.quiz.Questions {
		if q.ID == questionID {
			s.answers[questionID] = answerID
			return
		}
	}
}

// AnsweredCount reports how many questions have a recorded choice.
func (s *Session) AnsweredCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

// Reset discards recorded answers, keeping the same questions.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = make(map[string]string)
}

// Engine applies the pass/fail policy. The zero value uses the default
// threshold.
type Engine struct {
	PassThreshold int
}

// Submit scores the session: correct choices are counted only among answered
// questions, the score is the rounded percentage over all questions.
// Completeness is the transport's precondition, not re-checked here.
func (e Engine) Submit(s *Session) Attempt {
	threshold := e.PassThreshold
	if threshold <= 0 {
		threshold = DefaultPassThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(s.quiz.Questions)
	correct := 0
	for _, q := range s.quiz.Questions {
		chosen, ok := s.answers[q.ID]
		if !ok {
			continue
		}
		for _, a := range q.Answers {
			if a.ID == chosen && a.IsCorrect {
				correct++
				break
			}
		}
	}

	score := 0
	if total > 0 {
		score = int(math.Round(float64(correct) / float64(total) * 100))
	}
	return Attempt{
		ScorePercent: score,
		CorrectCount: correct,
		Total:        total,
		Passed:       score >= threshold,
	}
}
