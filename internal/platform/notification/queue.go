package notification

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// DefaultMaxAttempts is how many times a job is handed to the consumer
// before it is parked on the dead-letter queue.
const DefaultMaxAttempts = 5

// Job is one reminder delivery travelling through the queue.
type Job struct {
	ReminderID uuid.UUID `json:"reminder_id"`
	TenantID   string    `json:"tenant_id"`
	Message    Message   `json:"message"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

// Handler processes a job. A non-nil error schedules a retry.
type Handler func(ctx context.Context, job Job) error

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// Queue is a durable RabbitMQ work queue with a sibling dead-letter queue.
type Queue struct {
	ch          amqpChannel
	name        string
	dlq         string
	maxAttempts int
	logger      zerolog.Logger
}

// NewQueue opens a channel on conn and declares name and name.dlq.
func NewQueue(conn *amqp.Connection, name string, logger zerolog.Logger) (*Queue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	q, err := newQueue(ch, name, logger)
	if err != nil {
		ch.Close()
		return nil, err
	}
	return q, nil
}

func newQueue(ch amqpChannel, name string, logger zerolog.Logger) (*Queue, error) {
	q := &Queue{
		ch:          ch,
		name:        name,
		dlq:         name + ".dlq",
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.With().Str("queue", name).Logger(),
	}
	for _, n := range []string{q.name, q.dlq} {
		if _, err := ch.QueueDeclare(n, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("declare queue %s: %w", n, err)
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return q, nil
}

// Name returns the work queue name.
func (q *Queue) Name() string { return q.name }

// Publish enqueues job as a persistent message.
func (q *Queue) Publish(ctx context.Context, job Job) error {
	return q.publish(ctx, q.name, job)
}

func (q *Queue) publish(ctx context.Context, queue string, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	err = q.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.ReminderID.String(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Consume delivers jobs to handle until ctx is cancelled. Failed jobs are
// republished with Attempts incremented; after maxAttempts they go to the
// dead-letter queue. Undecodable messages go straight to the dead-letter queue.
func (q *Queue) Consume(ctx context.Context, consumer string, handle Handler) error {
	deliveries, err := q.ch.Consume(q.name, consumer, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.name, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			q.process(ctx, d, handle)
		}
	}
}

func (q *Queue) process(ctx context.Context, d amqp.Delivery, handle Handler) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.logger.Error().Err(err).Msg("undecodable job, moving to dead-letter queue")
		q.deadLetterRaw(ctx, d)
		return
	}

	herr := handle(ctx, job)
	if herr == nil {
		q.ack(d)
		return
	}

	job.Attempts++
	job.LastError = herr.Error()
	target := q.name
	if job.Attempts >= q.maxAttempts {
		target = q.dlq
	}
	q.logger.Warn().Err(herr).
		Str("reminder_id", job.ReminderID.String()).
		Int("attempts", job.Attempts).
		Str("requeue_to", target).
		Msg("job failed")

	if err := q.publish(ctx, target, job); err != nil {
		q.logger.Error().Err(err).Str("reminder_id", job.ReminderID.String()).Msg("requeue failed")
		_ = d.Nack(false, true)
		return
	}
	q.ack(d)
}

func (q *Queue) deadLetterRaw(ctx context.Context, d amqp.Delivery) {
	err := q.ch.PublishWithContext(ctx, "", q.dlq, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
	})
	if err != nil {
		_ = d.Nack(false, true)
		return
	}
	q.ack(d)
}

func (q *Queue) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		q.logger.Error().Err(err).Msg("ack failed")
	}
}

// Close closes the underlying channel.
func (q *Queue) Close() error {
	return q.ch.Close()
}
