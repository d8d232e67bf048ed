package quiz

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Generator produces a quiz for a just-completed module. Implementations
// must return quizzes where every question has exactly one correct answer.
type Generator interface {
	Generate(ctx context.Context, moduleTitle string) (Quiz, error)
}

// StaticGenerator produces a fixed-shape comprehension quiz seeded by the
// module title: a known question count, three options each, one correct.
// It stands in until a content-aware generator is plugged in.
type StaticGenerator struct {
	NumQuestions int // default 5
}

var difficulties = []string{"easy", "easy", "medium", "medium", "hard"}

func (g StaticGenerator) Generate(_ context.Context, moduleTitle string) (Quiz, error) {
	n := g.NumQuestions
	if n <= 0 {
		n = 5
	}

	q := Quiz{
		ID:          uuid.NewString(),
		Title:       fmt.Sprintf("Knowledge check: %s", moduleTitle),
		Description: fmt.Sprintf("A short review of the key points covered in %q.", moduleTitle),
	}

	templates := []string{
		"Which statement best summarizes the main topic of %q?",
		"What was identified as the primary takeaway of %q?",
		"Which of the following was discussed in %q?",
		"According to %q, which approach is recommended?",
		"What conclusion does %q reach about its subject?",
	}

	for i := 0; i < n; i++ {
		question := Question{
			ID:         uuid.NewString(),
			Text:       fmt.Sprintf(templates[i%len(templates)], moduleTitle),
			Difficulty: difficulties[i%len(difficulties)],
		}
		// Rotate the correct option so it is not always listed first.
		correctIdx := i % 3
		for j := 0; j < 3; j++ {
			question.Answers = append(question.Answers, Answer{
				ID:        uuid.NewString(),
				Text:      fmt.Sprintf("Option %c for question %d", 'A'+j, i+1),
				IsCorrect: j == correctIdx,
			})
		}
		q.Questions = append(q.Questions, question)
	}
	return q, nil
}
