// Package quiz defines core types shared across subsystems.
package quiz

import (
	"encoding/json"
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a solve job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// JobParameters captures per-job configuration requested by the client.
type JobParameters struct {
	StartURL              string            `json:"url"`
	Email                 string            `json:"email"`
	Secret                string            `json:"-"`
	BudgetSeconds         int               `json:"budget_seconds"`
	QuestionWindowSeconds int               `json:"question_window_seconds"`
	MaxQuestions          int               `json:"max_questions"`
	HeadlessAllowed       bool              `json:"headless_allowed"`
	HeadlessProvided      bool              `json:"-"`
	Tags                  map[string]string `json:"tags,omitempty"`
}

// Job represents the metadata persisted for each submitted solve request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks per-job progress stats.
type JobCounters struct {
	QuestionsSeen       int `json:"questions_seen"`
	QuestionsSolved     int `json:"questions_solved"`
	QuestionsFailed     int `json:"questions_failed"`
	SubmissionsSent     int `json:"submissions_sent"`
	SubmissionsAccepted int `json:"submissions_accepted"`
}

// QuestionRecord is persisted for each question the solver attempted.
type QuestionRecord struct {
	JobID        string    `json:"job_id"`
	URL          string    `json:"url"`
	SubmitURL    string    `json:"submit_url,omitempty"`
	Extractor    string    `json:"extractor,omitempty"`
	Answer       any       `json:"answer,omitempty"`
	Confidence   float64   `json:"confidence,omitempty"`
	Correct      *bool     `json:"correct,omitempty"`
	NextURL      string    `json:"next_url,omitempty"`
	StatusCode   int       `json:"status_code"`
	UsedHeadless bool      `json:"used_headless"`
	FetchedAt    time.Time `json:"fetched_at"`
	DurationMs   int64     `json:"duration_ms"`
	ContentHash  string    `json:"content_hash,omitempty"`
	BlobURI      string    `json:"blob_uri,omitempty"`
}

// Solution is an extracted answer plus the extractor's self-assessed confidence.
type Solution struct {
	Answer     any
	Confidence float64
	Extractor  string
}

// Document is the rendered page handed to extractors.
type Document struct {
	URL  string
	HTML []byte
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	JobID       string
	URL         string
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Submission is the payload posted to a quiz submit endpoint.
type Submission struct {
	Email  string `json:"email"`
	Secret string `json:"secret"`
	URL    string `json:"url"`
	Answer any    `json:"answer"`
}

// SubmitOutcome is the grader's decoded response to a submission.
type SubmitOutcome struct {
	StatusCode int             `json:"status_code"`
	Correct    *bool           `json:"correct,omitempty"`
	NextURL    string          `json:"next_url,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}

// JobResult is returned by the API result endpoint.
type JobResult struct {
	Job       Job              `json:"job"`
	Questions []QuestionRecord `json:"questions"`
}
