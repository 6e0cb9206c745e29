package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"complyhub/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessDispatcher_BackpressureAndDrain(t *testing.T) {
	engine := &recordingEngine{}
	d := NewInProcessDispatcher(engine, 2, 2, quietLogger())
	ctx := context.Background()

	require.NoError(t, d.Submit(ctx, models.TriggerTaskCreated, AutomationContext{TenantID: "t1"}))
	require.NoError(t, d.Submit(ctx, models.TriggerTaskCompleted, AutomationContext{TenantID: "t1"}))
	err := d.Submit(ctx, models.TriggerTaskCreated, AutomationContext{TenantID: "t1"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 2, d.Pending())

	d.Start(ctx)
	d.Close()
	assert.Len(t, engine.fired(), 2)
	assert.Equal(t, 0, d.Pending())

	assert.ErrorIs(t, d.Submit(ctx, models.TriggerTaskCreated, AutomationContext{TenantID: "t1"}), ErrQueueClosed)
	d.Close()
}

func TestInProcessDispatcher_RejectsBadEnvelopes(t *testing.T) {
	d := NewInProcessDispatcher(&recordingEngine{}, 1, 1, quietLogger())
	assert.ErrorIs(t, d.Submit(context.Background(), models.TriggerTaskCreated, AutomationContext{}), ErrMissingTenant)
	assert.ErrorIs(t, d.Submit(context.Background(), models.TriggerKind("nope"), AutomationContext{TenantID: "t1"}), ErrConfiguration)
	assert.Equal(t, 0, d.Pending())
}

type fakeKafkaWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error { return nil }

func TestKafkaTriggerQueue_PublishesTenantKeyedEnvelope(t *testing.T) {
	w := &fakeKafkaWriter{}
	q := NewKafkaTriggerQueueWithWriter(w)

	// an already cancelled request must not prevent the publish
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Submit(ctx, models.TriggerMemberAdded, AutomationContext{
		TenantID:    "t1",
		ActorUserID: "u1",
		Resource:    map[string]interface{}{"id": "m1"},
	}))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "t1", string(w.msgs[0].Key))
	var env TriggerEnvelope
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &env))
	assert.Equal(t, models.TriggerMemberAdded, env.Trigger)
	assert.Equal(t, "u1", env.Context.ActorUserID)
	assert.Equal(t, "m1", env.Context.ResourceID())

	w.err = errors.New("broker down")
	err := q.Submit(context.Background(), models.TriggerMemberAdded, AutomationContext{TenantID: "t1"})
	assert.ErrorIs(t, err, ErrDependencyUnavailable)

	assert.ErrorIs(t, q.Submit(context.Background(), models.TriggerMemberAdded, AutomationContext{}), ErrMissingTenant)
}

type fakeKafkaReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
	drained   chan struct{}
	once      sync.Once
}

func (r *fakeKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.pending) > 0 {
		m := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	r.once.Do(func() { close(r.drained) })
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeKafkaReader) Close() error { return nil }

func envelopeMessage(t *testing.T, offset int64, key string, trigger models.TriggerKind, tenantID string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(TriggerEnvelope{Trigger: trigger, Context: AutomationContext{TenantID: tenantID}})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Key: []byte(key), Value: b}
}

func TestKafkaTriggerConsumer_CommitsEverythingRunsOnlyValid(t *testing.T) {
	reader := &fakeKafkaReader{
		drained: make(chan struct{}),
		pending: []kafka.Message{
			envelopeMessage(t, 1, "t1", models.TriggerTaskCreated, "t1"),
			{Offset: 2, Key: []byte("t1"), Value: []byte("{not json")},
			envelopeMessage(t, 3, "t1", models.TriggerTaskCreated, "t2"),
			envelopeMessage(t, 4, "t2", models.TriggerTaskCompleted, "t2"),
		},
	}
	engine := &recordingEngine{}
	consumer := NewKafkaTriggerConsumerWithReader(reader, engine, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	select {
	case <-reader.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not drain the reader")
	}
	cancel()
	<-done

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.committed)
	calls := engine.fired()
	require.Len(t, calls, 2)
	assert.Equal(t, "t1", calls[0].actx.TenantID)
	assert.Equal(t, models.TriggerTaskCompleted, calls[1].trigger)
	assert.Equal(t, "t2", calls[1].actx.TenantID)
}
