package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// EmailMessage is the payload published for the mail worker.
type EmailMessage struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	To         string                 `json:"to"`
	Subject    string                 `json:"subject,omitempty"`
	Body       string                 `json:"body,omitempty"`
	Template   string                 `json:"template,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	ResourceID string                 `json:"resource_id,omitempty"`
	QueuedAt   time.Time              `json:"queued_at"`
}

// MailQueue hands emails to an external mail collaborator. Retries are the
// consumer's business.
type MailQueue interface {
	Enqueue(ctx context.Context, msg EmailMessage) error
}

// amqpPublisher is the subset of *amqp.Channel used for publishing.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMailQueue publishes emails to a durable RabbitMQ queue.
type RabbitMailQueue struct {
	conn    *amqp.Connection
	pub     amqpPublisher
	closeFn func() error
	queue   string
}

// DialRabbitMailQueue connects, opens a channel and declares the durable queue.
func DialRabbitMailQueue(url, queue string) (*RabbitMailQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("rabbitmq declare %s: %w", queue, err)
	}
	return &RabbitMailQueue{
		conn:  conn,
		pub:   ch,
		queue: queue,
		closeFn: func() error {
			if err := ch.Close(); err != nil {
				return err
			}
			return conn.Close()
		},
	}, nil
}

func newRabbitMailQueueWithPublisher(pub amqpPublisher, queue string) *RabbitMailQueue {
	return &RabbitMailQueue{pub: pub, queue: queue}
}

func (q *RabbitMailQueue) Enqueue(ctx context.Context, msg EmailMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}
	return q.pub.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.QueuedAt,
		Body:         body,
	})
}

func (q *RabbitMailQueue) Close() error {
	if q.closeFn == nil {
		return nil
	}
	return q.closeFn()
}

// LogMailQueue only logs emails; used when no broker is configured.
type LogMailQueue struct {
	logger *logrus.Logger
}

func NewLogMailQueue(logger *logrus.Logger) *LogMailQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogMailQueue{logger: logger}
}

func (q *LogMailQueue) Enqueue(_ context.Context, msg EmailMessage) error {
	q.logger.WithFields(logrus.Fields{
		"tenant_id": msg.TenantID,
		"to":        msg.To,
		"subject":   msg.Subject,
		"template":  msg.Template,
	}).Info("email queued (log transport)")
	return nil
}

// BreakerMailQueue fails fast with ErrDependencyUnavailable while the
// downstream queue is tripped.
type BreakerMailQueue struct {
	next    MailQueue
	breaker *CircuitBreaker
}

func NewBreakerMailQueue(next MailQueue, breaker *CircuitBreaker) *BreakerMailQueue {
	if breaker == nil {
		breaker = NewCircuitBreaker()
	}
	return &BreakerMailQueue{next: next, breaker: breaker}
}

func (q *BreakerMailQueue) Enqueue(ctx context.Context, msg EmailMessage) error {
	return q.breaker.Do(func() error {
		return q.next.Enqueue(ctx, msg)
	})
}
