// Package quiz grades quiz submissions and stores them write-once.
package quiz

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/xeipuuv/gojsonschema"

	"github.com/p-n-ai/pai-learn/internal/catalog"
	"github.com/p-n-ai/pai-learn/internal/platform/apperr"
)

// PassPercentage is the minimum percentage score that passes a quiz.
const PassPercentage = 60.0

var ErrMalformedAnswers = apperr.New("quiz", "DecodeAnswers", apperr.ErrInvalidInput, "answers must be a JSON array")

// Answer is the option text a user selected for one question.
type Answer struct {
	QuestionNo int    `json:"question_no"`
	Text       string `json:"text"`
}

// Result is the outcome of grading.
type Result struct {
	Score           int     `json:"score"`
	TotalQuestions  int     `json:"total_questions"`
	PercentageScore float64 `json:"percentage_score"`
	Passed          bool    `json:"passed"`
}

// Grade scores answers against the quiz's answer key. Each question counts
// at most once, using the first answer given for it. Answers to unknown
// questions are ignored.
func Grade(q catalog.Quiz, answers []Answer) Result {
	correct := make(map[int]string, len(q.Questions))
	for _, question := range q.Questions {
		if o, ok := question.Correct(); ok {
			correct[question.QuestionNo] = o.Text
		}
	}

	score := 0
	seen := make(map[int]bool, len(answers))
	for _, a := range answers {
		want, ok := correct[a.QuestionNo]
		if !ok || seen[a.QuestionNo] {
			continue
		}
		seen[a.QuestionNo] = true
		if a.Text == want {
			score++
		}
	}

	total := len(q.Questions)
	pct := Percentage(score, total)
	return Result{
		Score:           score,
		TotalQuestions:  total,
		PercentageScore: pct,
		Passed:          pct >= PassPercentage,
	}
}

// Percentage returns score/total*100, or 0 for an empty quiz.
func Percentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(score)/float64(total)*100*100) / 100
}

var envelopeSchema = gojsonschema.NewStringLoader(`{"type": "array"}`)

// DecodeAnswers parses a raw answers payload. The payload must be a JSON
// array; entries without a positive question number or a text are dropped.
// Both question_no and questionNo are accepted.
func DecodeAnswers(raw []byte) ([]Answer, error) {
	result, err := gojsonschema.Validate(envelopeSchema, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnswers, err)
	}
	if !result.Valid() {
		return nil, ErrMalformedAnswers
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAnswers, err)
	}

	answers := make([]Answer, 0, len(entries))
	for _, e := range entries {
		var entry struct {
			QuestionNo      *float64 `json:"question_no"`
			QuestionNoCamel *float64 `json:"questionNo"`
			Text            *string  `json:"text"`
		}
		if err := json.Unmarshal(e, &entry); err != nil {
			continue
		}
		no := entry.QuestionNo
		if no == nil {
			no = entry.QuestionNoCamel
		}
		if no == nil || entry.Text == nil || *no < 1 || *no != math.Trunc(*no) {
			continue
		}
		answers = append(answers, Answer{QuestionNo: int(*no), Text: *entry.Text})
	}
	return answers, nil
}
