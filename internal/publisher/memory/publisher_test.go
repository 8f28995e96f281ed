package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "job-events", jobs.Event{Type: jobs.EventHandoff, JobNumbers: []int64{7}})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "job-events", msgs[0].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "job-events", pub.Messages()[0].Topic, "Messages returns a copy")

	events := pub.Events()
	require.Len(t, events, 1)
	require.Equal(t, jobs.EventHandoff, events[0].Type)
}
