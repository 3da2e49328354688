package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/discovery-engine/internal/domain/workflow"
	"github.com/turtacn/discovery-engine/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/discovery-engine/internal/testutil"
)

type staticSource []workflow.Event

func (s staticSource) Run(ctx context.Context, handle kafka.EventHandler) error {
	for _, ev := range s {
		if err := handle(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func TestBuildWorker_RequiresKafka(t *testing.T) {
	_, err := BuildWorker(context.Background(), memoryConfig(), WithWorkerLogger(testutil.NewMockLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka")
}

func TestBuildWorker_KafkaSubscriber(t *testing.T) {
	cfg := memoryConfig()
	cfg.Kafka.Brokers = []string{"127.0.0.1:1"}
	w, err := BuildWorker(context.Background(), cfg, WithWorkerLogger(testutil.NewMockLogger()))
	require.NoError(t, err)
	assert.NotNil(t, w.Source)
	assert.Nil(t, w.Activity)
	assert.NoError(t, w.Close())
}

func TestBuildWorker_RecordsActivity(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Redis.Addr = mr.Addr()
	log := testutil.NewMockLogger()

	at := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	src := staticSource{
		{ID: "e1", Type: workflow.EventDiseaseSelected, SessionID: "s1", OccurredAt: at},
		{ID: "e2", Type: workflow.EventDockingCompleted, SessionID: "s1", OccurredAt: at.Add(time.Minute),
			Payload: map[string]interface{}{"stage": "done", "structure_id": "1IR3"}},
	}
	w, err := BuildWorker(context.Background(), cfg, WithWorkerLogger(log), WithEventSource(src))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	require.NotNil(t, w.Activity)
	assert.True(t, log.HasMessage("info", "event worker wired"))

	require.NoError(t, w.Run(context.Background()))

	act, err := w.Activity.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), act.Total())
	assert.Equal(t, workflow.EventDockingCompleted, act.LastEvent)
	assert.Equal(t, int64(2), w.Pool.Stats().Processed)
	assert.True(t, log.HasMessage("info", "docking run completed"))
	assert.Empty(t, w.Ping(context.Background(), time.Second))
}
