// Package detector decides when to promote a page to the headless renderer.
package detector

import (
	"bytes"
	"strings"

	"github.com/quizbot/quizsolver/internal/quiz"
)

// Heuristic implements a handful of rule-based promotions. Quiz pages
// that carry their question in a client-side payload (atob blobs, SPA
// roots) render empty or script-heavy under the static probe.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var jsMarkers = [][]byte{
	[]byte("atob("),
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless render is required.
func (h *Heuristic) ShouldPromote(resp quiz.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range jsMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script tags cover at least a quarter
// of the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0

	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Malformed script tag; count the rest of the document.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relEnd := strings.Index(lower[contentStart:], closeTag)
		var next int
		if relEnd == -1 {
			next = total
		} else {
			next = contentStart + relEnd + len(closeTag)
		}

		coverage += next - start
		pos = next
	}

	if coverage == 0 {
		return false
	}
	return coverage*100/total >= 25
}
