package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quizbot/quizsolver/internal/quiz"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	item := quiz.QueueItem{JobID: "job-1"}

	require.NoError(t, q.Enqueue(context.Background(), item))

	got, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "job-1", got.JobID)
}

func TestQueueEnqueueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), quiz.QueueItem{JobID: "fills-capacity"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Enqueue(ctx, quiz.QueueItem{JobID: "blocked"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueDequeueRespectsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.EqualError(t, err, "queue closed")
}
