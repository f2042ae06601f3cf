// Package predefined holds curated question/answer pairs that bypass the pipeline.
package predefined

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// Answer is a curated question with its canonical answer.
type Answer struct {
	question   string
	answer     string
	keywords   []string
	confidence float64
}

// New validates and creates an Answer.
func New(question, answer string, keywords []string, confidence float64) (Answer, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" {
		return Answer{}, fmt.Errorf("question is required: %w", domain.ErrInvalidRequest)
	}
	if answer == "" {
		return Answer{}, fmt.Errorf("answer is required: %w", domain.ErrInvalidRequest)
	}
	if confidence < 0 || confidence > 1 {
		return Answer{}, fmt.Errorf("confidence must be between 0 and 1: %w", domain.ErrInvalidRequest)
	}

	kws := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			kws = append(kws, k)
		}
	}

	return Answer{question: question, answer: answer, keywords: kws, confidence: confidence}, nil
}

// Question returns the curated question text.
func (a Answer) Question() string { return a.question }

// Text returns the canonical answer.
func (a Answer) Text() string { return a.answer }

// Keywords returns the keyword set.
func (a Answer) Keywords() []string { return a.keywords }

// Confidence returns the declared confidence in [0,1].
func (a Answer) Confidence() float64 { return a.confidence }

// Match is a successful lookup.
type Match struct {
	Answer Answer
	Score  float64
}

// Stats summarizes the table.
type Stats struct {
	TotalQuestions    int     `json:"total_questions"`
	AverageConfidence float64 `json:"average_confidence"`
	TotalKeywords     int     `json:"total_keywords"`
}
