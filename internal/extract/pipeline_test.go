package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quizbot/quizsolver/internal/quiz"
)

type stubExtractor struct {
	name string
	sol  quiz.Solution
	ok   bool
	err  error

	calls int
}

func (s *stubExtractor) Name() string { return s.name }

func (s *stubExtractor) Extract(context.Context, quiz.Document) (quiz.Solution, bool, error) {
	s.calls++
	return s.sol, s.ok, s.err
}

func TestPipelineFirstHitWins(t *testing.T) {
	t.Parallel()

	first := &stubExtractor{name: "miss"}
	second := &stubExtractor{name: "hit", sol: quiz.Solution{Answer: 42.0, Confidence: 0.9}, ok: true}
	third := &stubExtractor{name: "never"}

	sol, ok := NewPipeline(nil, first, second, third).Extract(context.Background(), quiz.Document{})
	require.True(t, ok)
	require.Equal(t, "hit", sol.Extractor)
	require.Equal(t, 42.0, sol.Answer)
	require.Equal(t, 1, first.calls)
	require.Equal(t, 1, second.calls)
	require.Zero(t, third.calls)
}

func TestPipelineSkipsFailingExtractor(t *testing.T) {
	t.Parallel()

	broken := &stubExtractor{name: "broken", err: errors.New("parse exploded")}
	working := &stubExtractor{name: "working", sol: quiz.Solution{Answer: "x"}, ok: true}

	sol, ok := NewPipeline(nil, broken, working).Extract(context.Background(), quiz.Document{})
	require.True(t, ok)
	require.Equal(t, "working", sol.Extractor)
}

func TestPipelineNoExtractorMatches(t *testing.T) {
	t.Parallel()

	_, ok := NewPipeline(nil, &stubExtractor{name: "a"}, &stubExtractor{name: "b"}).Extract(context.Background(), quiz.Document{})
	require.False(t, ok)
}

func TestPipelineStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hit := &stubExtractor{name: "hit", sol: quiz.Solution{Answer: 1.0}, ok: true}
	_, ok := NewPipeline(nil, hit).Extract(ctx, quiz.Document{})
	require.False(t, ok)
	require.Zero(t, hit.calls)
}
