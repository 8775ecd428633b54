// Package submit posts answers to grader endpoints.
package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quizbot/quizsolver/internal/metrics"
	"github.com/quizbot/quizsolver/internal/quiz"
)

// Config controls submitter behavior.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	// HostQPS caps submissions per grader host so retries on chained
	// questions never hammer one endpoint.
	HostQPS float64
	Retry   RetryPolicy
}

// Submitter implements quiz.Submitter over plain HTTP POST.
type Submitter struct {
	cfg          Config
	client       *http.Client
	hostLimiters sync.Map
}

// New builds a Submitter.
func New(cfg Config) *Submitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = NewExponentialRetryPolicy()
	}
	return &Submitter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Submit posts the submission as JSON and decodes the grader's verdict.
// Transient failures are retried per the configured policy.
func (s *Submitter) Submit(ctx context.Context, submitURL string, sub quiz.Submission) (quiz.SubmitOutcome, error) {
	if err := s.waitHostBudget(ctx, submitURL); err != nil {
		return quiz.SubmitOutcome{}, fmt.Errorf("submit rate limit: %w", err)
	}

	payload, err := json.Marshal(sub)
	if err != nil {
		return quiz.SubmitOutcome{}, fmt.Errorf("marshal submission: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		outcome, err := s.post(ctx, submitURL, payload)
		if err == nil {
			return outcome, nil
		}
		lastErr = err
		if !s.cfg.Retry.ShouldRetry(err, attempt+1) {
			break
		}
		select {
		case <-ctx.Done():
			return quiz.SubmitOutcome{}, fmt.Errorf("submit canceled: %w", ctx.Err())
		case <-time.After(s.cfg.Retry.Backoff(attempt)):
		}
	}
	return quiz.SubmitOutcome{}, fmt.Errorf("submit answer: %w", lastErr)
}

func (s *Submitter) post(ctx context.Context, submitURL string, payload []byte) (quiz.SubmitOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(payload))
	if err != nil {
		return quiz.SubmitOutcome{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return quiz.SubmitOutcome{}, fmt.Errorf("post submission: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return quiz.SubmitOutcome{}, fmt.Errorf("read response: %w", err)
	}

	return decodeOutcome(resp.StatusCode, body), nil
}

// decodeOutcome interprets the grader's reply. Non-JSON bodies end the
// chain; they are preserved raw for the question record.
func decodeOutcome(status int, body []byte) quiz.SubmitOutcome {
	outcome := quiz.SubmitOutcome{StatusCode: status}

	var decoded struct {
		Correct *bool  `json:"correct"`
		URL     string `json:"url"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		outcome.Raw, _ = json.Marshal(map[string]string{"text": string(body)})
		return outcome
	}
	outcome.Correct = decoded.Correct
	outcome.NextURL = decoded.URL
	outcome.Raw = append(json.RawMessage(nil), body...)
	return outcome
}

func (s *Submitter) waitHostBudget(ctx context.Context, rawURL string) error {
	if s.cfg.HostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse submit url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := s.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(s.cfg.HostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	metrics.ObserveRateLimitDelay(host, time.Since(start))
	return nil
}
