// Package memory provides in-memory stores for development/testing.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quizbot/quizsolver/internal/quiz"
)

// JobStore provides an in-memory quiz.JobStore implementation.
type JobStore struct {
	mu        sync.RWMutex
	jobs      map[string]quiz.Job
	questions map[string][]quiz.QuestionRecord
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:      make(map[string]quiz.Job),
		questions: make(map[string][]quiz.QuestionRecord),
	}
}

// CreateJob stores a new job in queued status.
func (s *JobStore) CreateJob(_ context.Context, job quiz.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job. Terminal
// statuses are frozen: once a job is succeeded, failed, or canceled,
// later updates are ignored so a worker finishing a canceled job cannot
// overwrite the cancellation.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status quiz.JobStatus,
	errText string,
	counters quiz.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	if isTerminal(job.Status) {
		return nil
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := time.Now().UTC()
	if status == quiz.JobStatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if isTerminal(status) {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// RecordQuestion appends a question row for a job.
func (s *JobStore) RecordQuestion(_ context.Context, rec quiz.QuestionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions[rec.JobID] = append(s.questions[rec.JobID], rec)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (quiz.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return quiz.Job{}, errors.New("job not found")
	}
	return job, nil
}

// ListQuestions returns all recorded questions for a job.
func (s *JobStore) ListQuestions(_ context.Context, jobID string) ([]quiz.QuestionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	questions := s.questions[jobID]
	out := make([]quiz.QuestionRecord, len(questions))
	copy(out, questions)
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

func isTerminal(status quiz.JobStatus) bool {
	switch status {
	case quiz.JobStatusSucceeded, quiz.JobStatusFailed, quiz.JobStatusCanceled:
		return true
	default:
		return false
	}
}
