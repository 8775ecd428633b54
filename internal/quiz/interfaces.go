package quiz

import (
	"context"
	"io"
	"time"
)

// JobStore persists job and question metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordQuestion(ctx context.Context, rec QuestionRecord) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	ListQuestions(ctx context.Context, jobID string) ([]QuestionRecord, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless render is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Extractor tries to pull an answer out of a rendered quiz page.
// The boolean reports whether the extractor produced a solution; an
// error means the extractor ran and broke, which is not fatal to the
// pipeline.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, doc Document) (Solution, bool, error)
}

// Submitter posts an answer to a grader endpoint.
type Submitter interface {
	Submit(ctx context.Context, submitURL string, sub Submission) (SubmitOutcome, error)
}

// Queue provides enqueue/dequeue semantics for solve jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
