// Package quiz scores quiz submissions.
//
// Scoring is pure and deterministic so stored results can be audited and
// re-graded: the same questions and answers always produce the same Result.
package quiz

import (
	"errors"
	"fmt"
	"math"
)

// Kind is the answer mode of a question.
type Kind string

const (
	Single   Kind = "single"
	Multiple Kind = "multiple"
)

var (
	// ErrIncompleteSubmission is returned when a question has no answer.
	ErrIncompleteSubmission = errors.New("incomplete submission")
	// ErrUnknownQuestion is returned for answers to questions not in the quiz.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrTooManySelections is returned when a single-choice question has
	// more than one selected option.
	ErrTooManySelections = errors.New("too many selections")
)

// Option is one selectable choice.
type Option struct {
	ID   string `json:"id" yaml:"id"`
	Text string `json:"text" yaml:"text"`
}

// Question is a single- or multiple-choice question. Correct holds the ids
// of the correct options; single-choice questions use Correct[0].
type Question struct {
	ID      string   `json:"id" yaml:"id"`
	Kind    Kind     `json:"kind" yaml:"kind"`
	Text    string   `json:"text,omitempty" yaml:"text"`
	Options []Option `json:"options" yaml:"options"`
	Correct []string `json:"correct" yaml:"correct"`
}

// Answers maps question id to the selected option ids.
type Answers map[string][]string

// Result is the graded outcome of a submission.
type Result struct {
	Score              int                `json:"score"`
	TotalQuestions     int                `json:"total_questions"`
	StrictCorrectCount int                `json:"strict_correct_count"`
	Credit             map[string]float64 `json:"credit"`
	AverageCredit      float64            `json:"average_credit"`
}

// Validate rejects submissions that leave a question unanswered, select
// several options for a single-choice question, or answer questions the quiz
// does not have. Callers run it before Score.
func Validate(questions []Question, answers Answers) error {
	known := make(map[string]struct{}, len(questions))
	for _, q := range questions {
		known[q.ID] = struct{}{}
		if !hasAnswer(answers[q.ID]) {
			return fmt.Errorf("%w: question %s has no answer", ErrIncompleteSubmission, q.ID)
		}
		if q.Kind != Multiple && len(distinct(answers[q.ID])) > 1 {
			return fmt.Errorf("%w: question %s takes one option", ErrTooManySelections, q.ID)
		}
	}
	for id := range answers {
		if _, ok := known[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
		}
	}
	return nil
}

// Score grades answers against questions.
//
// Single-choice questions earn 1 when the only selected option is the correct
// one and 0 otherwise, including when several options are selected.
// Multiple-choice questions earn |answer ∩ correct| / |correct| when every
// selected option is correct, and 0 as soon as any selected option is wrong.
// The score is the mean credit scaled to 0-100 and rounded.
func Score(questions []Question, answers Answers) Result {
	res := Result{
		TotalQuestions: len(questions),
		Credit:         make(map[string]float64, len(questions)),
	}
	if len(questions) == 0 {
		return res
	}

	var total float64
	for _, q := range questions {
		credit := questionCredit(q, answers[q.ID])
		res.Credit[q.ID] = credit
		total += credit
		if credit == 1 {
			res.StrictCorrectCount++
		}
	}

	res.AverageCredit = total / float64(len(questions))
	res.Score = int(math.Round(res.AverageCredit * 100))
	return res
}

func questionCredit(q Question, answer []string) float64 {
	if len(q.Correct) == 0 || len(answer) == 0 {
		return 0
	}
	chosen := distinct(answer)
	if q.Kind != Multiple {
		if len(chosen) != 1 {
			return 0
		}
		if _, ok := chosen[q.Correct[0]]; ok {
			return 1
		}
		return 0
	}

	correct := make(map[string]struct{}, len(q.Correct))
	for _, id := range q.Correct {
		correct[id] = struct{}{}
	}
	for id := range chosen {
		if _, ok := correct[id]; !ok {
			// One wrong option voids the whole question.
			return 0
		}
	}
	return float64(len(chosen)) / float64(len(correct))
}

// distinct returns the non-blank option ids in selected.
func distinct(selected []string) map[string]struct{} {
	out := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		if id != "" {
			out[id] = struct{}{}
		}
	}
	return out
}

func hasAnswer(selected []string) bool {
	for _, id := range selected {
		if id != "" {
			return true
		}
	}
	return false
}
