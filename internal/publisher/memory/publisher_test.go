package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()

	id, err := pub.Publish(context.Background(), "quiz-results", map[string]string{"job_id": "job-1"})
	require.NoError(t, err)
	require.Equal(t, "mem-1", id)

	id, err = pub.Publish(context.Background(), "quiz-results", map[string]string{"job_id": "job-2"})
	require.NoError(t, err)
	require.Equal(t, "mem-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "quiz-results", msgs[0].Topic)
	require.Contains(t, string(msgs[1].Data), "job-2")
}

func TestPublisherRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "quiz-results", func() {})
	require.Error(t, err)
	require.Empty(t, pub.Messages())
}
