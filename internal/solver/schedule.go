// Package solver implements the quiz solving pipeline execution loop.
package solver

import (
	"time"
)

// question tracks one quiz URL and its solving window.
type question struct {
	url      string
	deadline time.Time
	attempts int
	done     bool
	solved   bool
}

// schedule manages the set of questions discovered while solving a job.
// Each question gets a fixed window from the moment it is discovered;
// the scheduler always serves the pending question with the closest
// deadline, matching the grader's per-question time limit.
type schedule struct {
	window       time.Duration
	maxQuestions int
	questions    []*question
	seen         map[string]struct{}
}

func newSchedule(window time.Duration, maxQuestions int) *schedule {
	return &schedule{
		window:       window,
		maxQuestions: maxQuestions,
		seen:         make(map[string]struct{}),
	}
}

// add registers a question URL. Duplicates and overflow beyond the
// question cap are dropped.
func (s *schedule) add(url string, now time.Time) bool {
	if url == "" {
		return false
	}
	if s.maxQuestions > 0 && len(s.questions) >= s.maxQuestions {
		return false
	}
	if _, ok := s.seen[url]; ok {
		return false
	}
	s.seen[url] = struct{}{}
	s.questions = append(s.questions, &question{
		url:      url,
		deadline: now.Add(s.window),
	})
	return true
}

// next returns the pending question with the earliest deadline, or nil
// when nothing is left. Questions past their window are abandoned.
func (s *schedule) next(now time.Time) *question {
	var best *question
	for _, q := range s.questions {
		if q.done {
			continue
		}
		if !now.Before(q.deadline) {
			q.done = true
			continue
		}
		if best == nil || q.deadline.Before(best.deadline) {
			best = q
		}
	}
	return best
}

// markSolved finishes a question successfully.
func (s *schedule) markSolved(q *question) {
	q.done = true
	q.solved = true
}

// abandon finishes a question without solving it.
func (s *schedule) abandon(q *question) {
	q.done = true
}

// total reports how many questions were ever registered.
func (s *schedule) total() int {
	return len(s.questions)
}
