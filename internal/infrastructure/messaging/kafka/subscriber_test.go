package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/discovery-engine/internal/testutil"
	"github.com/turtacn/discovery-engine/pkg/errors"
)

// mockKafkaReader serves queued messages, then blocks until ctx ends.
type mockKafkaReader struct {
	queue     []kafka.Message
	fetchErr  error
	commitErr error
	committed []int64
	closed    bool
}

func (m *mockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(m.queue) > 0 {
		msg := m.queue[0]
		m.queue = m.queue[1:]
		return msg, nil
	}
	if m.fetchErr != nil {
		return kafka.Message{}, m.fetchErr
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *mockKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	for _, msg := range msgs {
		m.committed = append(m.committed, msg.Offset)
	}
	return nil
}

func (m *mockKafkaReader) Close() error {
	m.closed = true
	return nil
}

func encoded(t *testing.T, offset int64, ev workflow.Event) kafka.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b, Key: []byte(ev.SessionID)}
}

func TestEventSubscriber_DeliversAndCommits(t *testing.T) {
	ev := sampleEvent()
	r := &mockKafkaReader{
		queue:    []kafka.Message{encoded(t, 7, ev), encoded(t, 8, ev)},
		fetchErr: context.Canceled,
	}
	s := NewEventSubscriberWithReader(r, true, nil)

	var got []workflow.Event
	err := s.Run(context.Background(), func(_ context.Context, e workflow.Event) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "sess-1", got[0].SessionID)
	assert.Equal(t, []int64{7, 8}, r.committed)

	require.NoError(t, s.Close())
	assert.True(t, r.closed)
}

func TestEventSubscriber_SkipsUndecodable(t *testing.T) {
	log := testutil.NewMockLogger()
	r := &mockKafkaReader{
		queue:    []kafka.Message{{Offset: 3, Value: []byte("{nope")}, encoded(t, 4, sampleEvent())},
		fetchErr: context.Canceled,
	}
	s := NewEventSubscriberWithReader(r, false, log)

	n := 0
	require.NoError(t, s.Run(context.Background(), func(context.Context, workflow.Event) error {
		n++
		return nil
	}))
	assert.Equal(t, 1, n)
	assert.Empty(t, r.committed)
	assert.True(t, log.HasMessage("warn", "skipping undecodable event"))
}

func TestEventSubscriber_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &mockKafkaReader{queue: []kafka.Message{encoded(t, 1, sampleEvent())}}
	s := NewEventSubscriberWithReader(r, false, logging.NewNopLogger())

	err := s.Run(ctx, func(context.Context, workflow.Event) error {
		cancel()
		return nil
	})
	assert.NoError(t, err)
}

func TestEventSubscriber_HandlerError(t *testing.T) {
	boom := stderrors.New("boom")
	r := &mockKafkaReader{queue: []kafka.Message{encoded(t, 1, sampleEvent())}}
	s := NewEventSubscriberWithReader(r, true, nil)

	err := s.Run(context.Background(), func(context.Context, workflow.Event) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, r.committed)
}

func TestEventSubscriber_FetchAndCommitErrors(t *testing.T) {
	r := &mockKafkaReader{fetchErr: stderrors.New("broker gone")}
	err := NewEventSubscriberWithReader(r, false, nil).Run(context.Background(),
		func(context.Context, workflow.Event) error { return nil })
	assert.True(t, errors.IsCode(err, errors.CodeMessagingError))

	r = &mockKafkaReader{
		queue:     []kafka.Message{encoded(t, 1, sampleEvent())},
		commitErr: stderrors.New("rebalance"),
	}
	err = NewEventSubscriberWithReader(r, true, nil).Run(context.Background(),
		func(context.Context, workflow.Event) error { return nil })
	assert.True(t, errors.IsCode(err, errors.CodeMessagingError))
}

func TestNewEventSubscriber_Validation(t *testing.T) {
	_, err := NewEventSubscriber(SubscriberConfig{Topic: "t"}, nil)
	assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))

	s, err := NewEventSubscriber(SubscriberConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, nil)
	require.NoError(t, err)
	assert.False(t, s.commit)
	require.NoError(t, s.Close())
}
