package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	kgo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kgo.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0) //nolint:wrapcheck
}

func (m *mockWriter) Close() error {
	args := m.Called()
	return args.Error(0) //nolint:wrapcheck
}

func TestPublishWritesKeyedMessage(t *testing.T) {
	t.Parallel()

	writer := &mockWriter{}
	pub := NewWithWriter(writer)
	stamp := time.Unix(1700000000, 0).UTC()
	pub.now = func() time.Time { return stamp }

	writer.On("WriteMessages", mock.Anything, []kgo.Message{{
		Key:   []byte("run-1"),
		Value: []byte(`{"stage":"TARGET_OK"}`),
		Time:  stamp,
	}}).Return(nil).Once()
	writer.On("Close").Return(nil).Once()

	require.NoError(t, pub.Publish(context.Background(), "run-1", []byte(`{"stage":"TARGET_OK"}`)))
	require.NoError(t, pub.Close())
	writer.AssertExpectations(t)
}

func TestPublishWrapsWriterError(t *testing.T) {
	t.Parallel()

	writer := &mockWriter{}
	writer.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("leader not available"))
	pub := NewWithWriter(writer)

	err := pub.Publish(context.Background(), "run-1", []byte("{}"))
	require.ErrorContains(t, err, "leader not available")
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Topic: "events"})
	require.Error(t, err)

	pub, err := New(Config{Brokers: []string{"localhost:9092"}, Topic: "events"})
	require.NoError(t, err)
	require.NotNil(t, pub)
}
