// Package extract implements the answer extraction pipeline. Extractors
// run in registration order against the rendered quiz page; the first
// one that produces a solution wins. Extractor failures are logged and
// skipped so one broken parser never sinks a question.
package extract

import (
	"context"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/quizbot/quizsolver/internal/quiz"
)

// Pipeline runs an ordered list of extractors.
type Pipeline struct {
	extractors []quiz.Extractor
	logger     *zap.Logger
}

// NewPipeline builds a Pipeline. A nil logger is replaced with a no-op.
func NewPipeline(logger *zap.Logger, extractors ...quiz.Extractor) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		extractors: append([]quiz.Extractor(nil), extractors...),
		logger:     logger,
	}
}

// Extract returns the first solution any extractor produces.
func (p *Pipeline) Extract(ctx context.Context, doc quiz.Document) (quiz.Solution, bool) {
	for _, ex := range p.extractors {
		if ctx.Err() != nil {
			return quiz.Solution{}, false
		}
		sol, ok, err := ex.Extract(ctx, doc)
		if err != nil {
			p.logger.Warn("extractor failed",
				zap.String("extractor", ex.Name()),
				zap.String("url", doc.URL),
				zap.Error(err),
			)
			continue
		}
		if ok {
			sol.Extractor = ex.Name()
			return sol, true
		}
	}
	return quiz.Solution{}, false
}

// parseNumber parses a numeric cell, tolerating thousands separators.
func parseNumber(s string) (float64, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
