package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	exchange string
	key      string
	msgs     []amqp.Publishing
	err      error
}

func (p *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if p.err != nil {
		return p.err
	}
	p.exchange, p.key = exchange, key
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestRabbitMailQueue_PublishesPersistentJSON(t *testing.T) {
	pub := &fakePublisher{}
	q := newRabbitMailQueueWithPublisher(pub, "automation.emails")

	msg := EmailMessage{ID: "m1", TenantID: "t1", To: "a@example.com", Subject: "hi", QueuedAt: time.Now().UTC()}
	require.NoError(t, q.Enqueue(context.Background(), msg))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "", pub.exchange)
	assert.Equal(t, "automation.emails", pub.key)
	assert.Equal(t, amqp.Persistent, pub.msgs[0].DeliveryMode)
	assert.Equal(t, "application/json", pub.msgs[0].ContentType)

	var decoded EmailMessage
	require.NoError(t, json.Unmarshal(pub.msgs[0].Body, &decoded))
	assert.Equal(t, "t1", decoded.TenantID)
	assert.Equal(t, "a@example.com", decoded.To)
	assert.NoError(t, q.Close())
}

func TestBreakerMailQueue_FailsFastAfterTrip(t *testing.T) {
	pub := &fakePublisher{err: errors.New("connection reset")}
	q := NewBreakerMailQueue(newRabbitMailQueueWithPublisher(pub, "q"),
		NewCircuitBreakerWithConfig(&CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour}))

	for i := 0; i < 2; i++ {
		err := q.Enqueue(context.Background(), EmailMessage{To: "a@example.com"})
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrDependencyUnavailable)
	}
	err := q.Enqueue(context.Background(), EmailMessage{To: "a@example.com"})
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
}

func TestLogMailQueue_Enqueue(t *testing.T) {
	assert.NoError(t, NewLogMailQueue(nil).Enqueue(context.Background(), EmailMessage{To: "a@example.com"}))
}
