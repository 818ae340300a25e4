package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPublisherPublishesToTopic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = client.CreateTopic(ctx, "crawl-events")
	require.NoError(t, err)

	pub := NewWithClient(client, "crawl-events")
	require.NoError(t, pub.Publish(ctx, "run-1", []byte(`{"stage":"RUN_START"}`)))
	require.NoError(t, pub.Publish(ctx, "run-1", []byte(`{"stage":"RUN_DONE"}`)))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, `{"stage":"RUN_START"}`, string(msgs[0].Data))
	require.Equal(t, `{"stage":"RUN_DONE"}`, string(msgs[1].Data))

	require.NoError(t, pub.Close())
}

func TestNewRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{ProjectID: "p"})
	require.Error(t, err)
}

func TestCarrierKeys(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
