package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/quizbot/quizsolver/internal/quiz"
)

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewJobStoreWithConn(mock), mock
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS jobs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	submitted := time.Unix(1700000000, 0).UTC()
	job := quiz.Job{
		ID:        "job-1",
		Status:    quiz.JobStatusQueued,
		Submitted: submitted,
		Parameters: quiz.JobParameters{
			StartURL: "https://quiz.example/q/1",
			Email:    "a@b.c",
		},
	}

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("job-1", "queued", submitted, "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("job-1", "succeeded", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateJobStatus(
		context.Background(),
		"job-1",
		quiz.JobStatusSucceeded,
		"",
		quiz.JobCounters{QuestionsSolved: 2},
	)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("missing", "failed", "boom", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM jobs").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	err := store.UpdateJobStatus(context.Background(), "missing", quiz.JobStatusFailed, "boom", quiz.JobCounters{})
	require.ErrorIs(t, err, ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobStatusIgnoresTerminalJob(t *testing.T) {
	t.Parallel()

	// Zero rows but the job exists: it sits in a terminal status (for
	// example canceled via the API) and the update is dropped.
	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE jobs SET").
		WithArgs("job-1", "succeeded", "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM jobs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	err := store.UpdateJobStatus(context.Background(), "job-1", quiz.JobStatusSucceeded, "", quiz.JobCounters{})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordQuestion(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	fetched := time.Unix(1700000100, 0).UTC()
	correct := true
	rec := quiz.QuestionRecord{
		JobID:       "job-1",
		URL:         "https://quiz.example/q/1",
		SubmitURL:   "https://quiz.example/submit",
		Extractor:   "base64_json",
		Answer:      42.0,
		Confidence:  0.99,
		Correct:     &correct,
		NextURL:     "https://quiz.example/q/2",
		StatusCode:  200,
		FetchedAt:   fetched,
		DurationMs:  120,
		ContentHash: "abc123",
		BlobURI:     "memory://pages/job-1/abc123.html",
	}

	mock.ExpectExec("INSERT INTO questions").
		WithArgs(
			"job-1", "https://quiz.example/q/1", "https://quiz.example/submit",
			"base64_json", pgxmock.AnyArg(), 0.99, &correct,
			"https://quiz.example/q/2", 200, false, fetched,
			int64(120), "abc123", "memory://pages/job-1/abc123.html",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordQuestion(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	submitted := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "status", "submitted", "started", "finished", "error_text", "parameters", "counters",
	}).AddRow(
		"job-1", "succeeded", submitted, nil, nil, "",
		[]byte(`{"url":"https://quiz.example/q/1","email":"a@b.c"}`),
		[]byte(`{"questions_solved":2,"submissions_sent":2}`),
	)
	mock.ExpectQuery("SELECT id, status, submitted").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, quiz.JobStatusSucceeded, job.Status)
	require.Equal(t, "https://quiz.example/q/1", job.Parameters.StartURL)
	require.Equal(t, 2, job.Counters.QuestionsSolved)
	require.Nil(t, job.Started)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, status, submitted").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListQuestions(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	fetched := time.Unix(1700000100, 0).UTC()
	correct := true
	rows := pgxmock.NewRows([]string{
		"job_id", "url", "submit_url", "extractor", "answer", "confidence", "correct",
		"next_url", "status_code", "used_headless", "fetched_at", "duration_ms",
		"content_hash", "blob_uri",
	}).AddRow(
		"job-1", "https://quiz.example/q/1", "https://quiz.example/submit", "base64_json",
		[]byte(`42`), 0.99, &correct, "https://quiz.example/q/2", 200, false,
		fetched, int64(120), "abc123", "memory://pages/job-1/abc123.html",
	).AddRow(
		"job-1", "https://quiz.example/q/2", "https://quiz.example/submit", "table_sum",
		[]byte(`1012.5`), 0.92, (*bool)(nil), "", 200, true,
		fetched.Add(time.Second), int64(300), "def456", "memory://pages/job-1/def456.html",
	)
	mock.ExpectQuery("SELECT job_id, url, submit_url").
		WithArgs("job-1").
		WillReturnRows(rows)

	questions, err := store.ListQuestions(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, questions, 2)
	require.Equal(t, "base64_json", questions[0].Extractor)
	require.Equal(t, 42.0, questions[0].Answer)
	require.NotNil(t, questions[0].Correct)
	require.True(t, *questions[0].Correct)
	require.Equal(t, "table_sum", questions[1].Extractor)
	require.Nil(t, questions[1].Correct)
	require.True(t, questions[1].UsedHeadless)
	require.NoError(t, mock.ExpectationsWereMet())
}
