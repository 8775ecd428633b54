package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/quizbot/quizsolver/internal/quiz"
)

// LLMConfig points the extractor at an OpenAI-compatible chat endpoint.
type LLMConfig struct {
	Endpoint string
	Token    string
	Model    string
	Timeout  time.Duration
}

// LLM asks a language model for the answer when the deterministic
// extractors come up empty. It only runs when a token is configured.
type LLM struct {
	cfg    LLMConfig
	client *http.Client
}

// NewLLM creates the extractor.
func NewLLM(cfg LLMConfig) *LLM {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &LLM{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name identifies the extractor in question records.
func (*LLM) Name() string { return "llm" }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Extract implements quiz.Extractor.
func (e *LLM) Extract(ctx context.Context, doc quiz.Document) (quiz.Solution, bool, error) {
	if e.cfg.Token == "" || e.cfg.Endpoint == "" {
		return quiz.Solution{}, false, nil
	}
	question := questionText(doc.HTML)
	if question == "" {
		return quiz.Solution{}, false, nil
	}

	payload, err := json.Marshal(chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You answer data analysis quiz questions accurately."},
			{Role: "user", Content: question},
		},
		MaxTokens:   500,
		Temperature: 0,
	})
	if err != nil {
		return quiz.Solution{}, false, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return quiz.Solution{}, false, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return quiz.Solution{}, false, fmt.Errorf("call llm: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return quiz.Solution{}, false, fmt.Errorf("llm returned status %d", resp.StatusCode)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return quiz.Solution{}, false, fmt.Errorf("decode llm response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return quiz.Solution{}, false, nil
	}
	answer := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if answer == "" {
		return quiz.Solution{}, false, nil
	}
	return quiz.Solution{Answer: answer, Confidence: 0.6}, true, nil
}

// questionText pulls the visible question out of the page: graders put
// it in div#result or div.question; otherwise the whole body text is
// sent, capped to keep prompts small.
func questionText(html []byte) string {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ""
	}
	for _, sel := range []string{"div#result", "div.question"} {
		if node := root.Find(sel).First(); node.Length() > 0 {
			if text := strings.TrimSpace(node.Text()); text != "" {
				return text
			}
		}
	}
	text := strings.Join(strings.Fields(root.Find("body").Text()), " ")
	const maxLen = 4000
	if len(text) > maxLen {
		text = text[:maxLen]
	}
	return text
}
