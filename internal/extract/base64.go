package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"regexp"

	"github.com/quizbot/quizsolver/internal/quiz"
)

// Graders embed the question payload as atob(`...`) or atob("...").
var (
	atobPattern = regexp.MustCompile("atob\\((?:`([^`]+)`|\"([^\"]+)\")\\)")
	jsonObject  = regexp.MustCompile(`\{[\s\S]*?\}`)
)

// Base64JSON decodes atob payloads and pulls the answer field from any
// JSON object inside.
type Base64JSON struct{}

// NewBase64JSON creates the extractor.
func NewBase64JSON() *Base64JSON {
	return &Base64JSON{}
}

// Name identifies the extractor in question records.
func (*Base64JSON) Name() string { return "base64_json" }

// Extract implements quiz.Extractor.
func (*Base64JSON) Extract(_ context.Context, doc quiz.Document) (quiz.Solution, bool, error) {
	for _, m := range atobPattern.FindAllSubmatch(doc.HTML, -1) {
		payload := m[1]
		if len(payload) == 0 {
			payload = m[2]
		}
		decoded, err := base64.StdEncoding.DecodeString(string(payload))
		if err != nil {
			continue
		}
		obj := jsonObject.Find(decoded)
		if obj == nil {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal(obj, &data); err != nil {
			continue
		}
		answer, ok := data["answer"]
		if !ok {
			continue
		}
		return quiz.Solution{Answer: answer, Confidence: 0.99}, true, nil
	}
	return quiz.Solution{}, false, nil
}
