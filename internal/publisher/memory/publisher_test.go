package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	payload := []byte(`{"stage":"RUN_START"}`)
	require.NoError(t, pub.Publish(context.Background(), "run-1", payload))
	payload[0] = 'X'

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "run-1", msgs[0].Key)
	require.Equal(t, `{"stage":"RUN_START"}`, string(msgs[0].Payload))

	require.NoError(t, pub.Close())
	require.ErrorIs(t, pub.Publish(context.Background(), "run-1", payload), ErrClosed)
}
