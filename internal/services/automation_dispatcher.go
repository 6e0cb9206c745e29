package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"complyhub/internal/metrics"
	"complyhub/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is returned by Submit when the dispatcher cannot accept more work.
	ErrQueueFull   = errors.New("automation: trigger queue full")
	ErrQueueClosed = errors.New("automation: trigger queue closed")
)

// TriggerEnvelope is a trigger waiting to be executed out of band.
type TriggerEnvelope struct {
	Trigger     models.TriggerKind `json:"trigger"`
	Context     AutomationContext  `json:"context"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

// TriggerQueue decouples domain mutations from rule execution. Submit never
// waits for the engine.
type TriggerQueue interface {
	Submit(ctx context.Context, trigger models.TriggerKind, actx AutomationContext) error
}

func newEnvelope(trigger models.TriggerKind, actx AutomationContext) (TriggerEnvelope, error) {
	if actx.TenantID == "" {
		return TriggerEnvelope{}, ErrMissingTenant
	}
	if !trigger.Valid() {
		return TriggerEnvelope{}, configErrorf("unknown trigger %q", trigger)
	}
	return TriggerEnvelope{Trigger: trigger, Context: actx, SubmittedAt: time.Now().UTC()}, nil
}

// InProcessDispatcher runs triggers on a fixed worker pool fed by a bounded channel.
type InProcessDispatcher struct {
	engine  TriggerExecutor
	queue   chan TriggerEnvelope
	workers int
	logger  *logrus.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewInProcessDispatcher 创建进程内分发器
func NewInProcessDispatcher(engine TriggerExecutor, workers, queueSize int, logger *logrus.Logger) *InProcessDispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &InProcessDispatcher{
		engine:  engine,
		queue:   make(chan TriggerEnvelope, queueSize),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers. ctx is the parent of every trigger execution.
func (d *InProcessDispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func(id int) {
			defer d.wg.Done()
			for env := range d.queue {
				d.engine.ExecuteTrigger(ctx, env.Trigger, env.Context)
			}
			d.logger.Debugf("dispatcher worker %d stopped", id)
		}(i)
	}
	d.logger.Infof("trigger dispatcher started with %d workers", d.workers)
}

func (d *InProcessDispatcher) Submit(_ context.Context, trigger models.TriggerKind, actx AutomationContext) error {
	env, err := newEnvelope(trigger, actx)
	if err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueClosed
	}
	select {
	case d.queue <- env:
		return nil
	default:
		metrics.IncDispatcherDrop("memory")
		d.logger.WithFields(logrus.Fields{"tenant_id": actx.TenantID, "trigger": trigger}).
			Warn("trigger dropped: dispatcher queue full")
		return ErrQueueFull
	}
}

// Pending reports queued, not yet started triggers.
func (d *InProcessDispatcher) Pending() int { return len(d.queue) }

// Close stops accepting work, drains the queue and waits for the workers.
func (d *InProcessDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}

// KafkaWriter is the subset of kafka.Writer used by KafkaTriggerQueue.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTriggerQueue publishes triggers to a topic keyed by tenant so one
// tenant's triggers keep their order within a partition.
type KafkaTriggerQueue struct {
	writer  KafkaWriter
	timeout time.Duration
}

func NewKafkaTriggerQueue(brokers []string, topic string) *KafkaTriggerQueue {
	return NewKafkaTriggerQueueWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	})
}

// NewKafkaTriggerQueueWithWriter allows injecting a test writer.
func NewKafkaTriggerQueueWithWriter(w KafkaWriter) *KafkaTriggerQueue {
	return &KafkaTriggerQueue{writer: w, timeout: 5 * time.Second}
}

func (q *KafkaTriggerQueue) Submit(ctx context.Context, trigger models.TriggerKind, actx AutomationContext) error {
	env, err := newEnvelope(trigger, actx)
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	// the publish must not inherit a request deadline that is about to fire
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
	defer cancel()
	if err := q.writer.WriteMessages(wctx, kafka.Message{Key: []byte(actx.TenantID), Value: b}); err != nil {
		metrics.IncDispatcherDrop("kafka")
		return fmt.Errorf("%w: kafka publish: %v", ErrDependencyUnavailable, err)
	}
	return nil
}

func (q *KafkaTriggerQueue) Close() error { return q.writer.Close() }

// KafkaReader is the subset of kafka.Reader used by KafkaTriggerConsumer.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTriggerConsumer feeds triggers from the topic into the engine.
type KafkaTriggerConsumer struct {
	reader         KafkaReader
	engine         TriggerExecutor
	logger         *logrus.Logger
	handlerTimeout time.Duration
}

func NewKafkaTriggerConsumer(brokers []string, topic, groupID string, engine TriggerExecutor, logger *logrus.Logger) *KafkaTriggerConsumer {
	return NewKafkaTriggerConsumerWithReader(kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	}), engine, logger)
}

// NewKafkaTriggerConsumerWithReader allows injecting a test reader.
func NewKafkaTriggerConsumerWithReader(r KafkaReader, engine TriggerExecutor, logger *logrus.Logger) *KafkaTriggerConsumer {
	if logger == nil {
		logger = logrus.New()
	}
	return &KafkaTriggerConsumer{reader: r, engine: engine, logger: logger, handlerTimeout: time.Minute}
}

// Run consumes until ctx is cancelled. Every fetched message is committed
// once handled; undecodable messages are logged and committed so they cannot
// block the partition.
func (c *KafkaTriggerConsumer) Run(ctx context.Context) {
	c.logger.Info("kafka trigger consumer started")
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warnf("kafka fetch failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		c.handle(ctx, m)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Errorf("kafka commit failed (offset %d): %v", m.Offset, err)
		}
	}
}

func (c *KafkaTriggerConsumer) handle(ctx context.Context, m kafka.Message) {
	var env TriggerEnvelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		c.logger.Errorf("kafka trigger undecodable (offset %d): %v", m.Offset, err)
		return
	}
	if env.Context.TenantID == "" || string(m.Key) != env.Context.TenantID {
		c.logger.WithField("security", true).
			Errorf("kafka trigger tenant mismatch (offset %d): key=%q tenant=%q", m.Offset, m.Key, env.Context.TenantID)
		return
	}
	hctx, cancel := context.WithTimeout(ctx, c.handlerTimeout)
	defer cancel()
	c.engine.ExecuteTrigger(hctx, env.Trigger, env.Context)
}

func (c *KafkaTriggerConsumer) Close() error { return c.reader.Close() }
