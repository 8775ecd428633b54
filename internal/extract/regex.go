package extract

import (
	"context"
	"regexp"

	"github.com/quizbot/quizsolver/internal/quiz"
)

var answerIsPattern = regexp.MustCompile(`(?i)answer\s*is\s*[:\s]*([0-9\.\,]+)`)

// RegexNumber is the last-resort extractor for pages that spell out the
// answer in prose ("the answer is 1234").
type RegexNumber struct{}

// NewRegexNumber creates the extractor.
func NewRegexNumber() *RegexNumber {
	return &RegexNumber{}
}

// Name identifies the extractor in question records.
func (*RegexNumber) Name() string { return "regex_number" }

// Extract implements quiz.Extractor.
func (*RegexNumber) Extract(_ context.Context, doc quiz.Document) (quiz.Solution, bool, error) {
	m := answerIsPattern.FindSubmatch(doc.HTML)
	if m == nil {
		return quiz.Solution{}, false, nil
	}
	v, ok := parseNumber(string(m[1]))
	if !ok {
		return quiz.Solution{}, false, nil
	}
	return quiz.Solution{Answer: v, Confidence: 0.4}, true, nil
}
