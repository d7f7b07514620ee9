package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pushwatch/internal/domain/jobs"
	"github.com/ahrav/pushwatch/pkg/common/logger"
)

var _ jobs.Queue = (*Queue)(nil)

// QueueMetrics defines the messaging metrics recorded by the queue.
type QueueMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

// handlerRetries bounds how often a delivery is retried in place when the
// handler could not record its outcome.
const handlerRetries = 3

// Queue is a durable job queue on a single Kafka topic. Jobs are JSON encoded
// and keyed by id. Delayed jobs are published immediately and carry their
// availability time; consumers hold them until it has passed. Offsets are
// committed only after the handler returns, giving at-least-once delivery.
type Queue struct {
	client        sarama.Client
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	topic         string

	logger  *logger.Logger
	metrics QueueMetrics
	tracer  trace.Tracer
}

// NewQueue creates a queue from an existing producer and consumer group.
func NewQueue(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	topic string,
	logger *logger.Logger,
	metrics QueueMetrics,
	tracer trace.Tracer,
) *Queue {
	return &Queue{
		producer:      producer,
		consumerGroup: consumerGroup,
		topic:         topic,
		logger:        logger.With("component", "kafka_job_queue", "topic", topic),
		metrics:       metrics,
		tracer:        tracer,
	}
}

// Enqueue publishes job for immediate delivery.
func (q *Queue) Enqueue(ctx context.Context, job jobs.Job) error {
	return q.Schedule(ctx, job, 0)
}

// Schedule publishes job so that it is delivered once delay has elapsed.
func (q *Queue) Schedule(ctx context.Context, job jobs.Job, delay time.Duration) error {
	ctx, span := startProducerSpan(ctx, q.topic, q.tracer)
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", job.ID.String()),
		attribute.Int("attempt", job.Attempt),
		attribute.String("delay", delay.String()),
	)

	if delay > 0 {
		if at := time.Now().UTC().Add(delay); at.After(job.AvailableAt) {
			job.AvailableAt = at
		}
	}

	value, err := json.Marshal(job)
	if err != nil {
		span.RecordError(err)
		q.metrics.IncPublishError(ctx, q.topic)
		return fmt.Errorf("failed to serialize job %s: %w", job.ID, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: q.topic,
		Key:   sarama.StringEncoder(job.ID.String()),
		Value: sarama.ByteEncoder(value),
	}
	injectTraceContext(ctx, msg)

	partition, offset, err := q.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		q.metrics.IncPublishError(ctx, q.topic)
		return fmt.Errorf("failed to send job to kafka topic %s: %w", q.topic, err)
	}
	q.metrics.IncMessagePublished(ctx, q.topic)

	q.logger.Debug(ctx, "Published job",
		"job_id", job.ID.String(),
		"partition", partition,
		"offset", offset,
		"available_at", job.AvailableAt,
	)
	return nil
}

// Consume runs the consumer group session loop until ctx is canceled.
func (q *Queue) Consume(ctx context.Context, handler jobs.HandlerFunc) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	cgHandler := &jobHandler{queue: q, handler: handler}
	for {
		if err := q.consumerGroup.Consume(ctx, []string{q.topic}, cgHandler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			q.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close shuts down the producer, the consumer group and the owned client.
func (q *Queue) Close() error {
	var errs []error
	if err := q.producer.Close(); err != nil {
		errs = append(errs, err)
	}
	if q.consumerGroup != nil {
		if err := q.consumerGroup.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if q.client != nil && !q.client.Closed() {
		if err := q.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// jobHandler implements sarama.ConsumerGroupHandler for job messages.
type jobHandler struct {
	queue   *Queue
	handler jobs.HandlerFunc
}

func (h *jobHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.queue.logger.Info(context.Background(),
		"Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *jobHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.queue.logger.Info(context.Background(),
		"Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes the jobs of one partition in order.
func (h *jobHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if done := h.process(sess, msg); done {
			return nil
		}
	}
	return nil
}

// process handles one message and reports whether the session ended while
// waiting, in which case the message is left uncommitted for redelivery.
func (h *jobHandler) process(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) bool {
	q := h.queue
	msgCtx := extractTraceContext(sess.Context(), msg)
	msgCtx, span := startConsumerSpan(msgCtx, msg, q.tracer)
	defer span.End()

	var job jobs.Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		span.RecordError(err)
		q.metrics.IncConsumeError(msgCtx, msg.Topic)
		q.logger.Error(msgCtx, "Discarding malformed job message", "offset", msg.Offset, "error", err)
		h.ack(sess, msg)
		return false
	}

	if wait := time.Until(job.AvailableAt); wait > 0 {
		span.AddEvent("waiting_for_availability", trace.WithAttributes(attribute.String("wait", wait.String())))
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-sess.Context().Done():
			t.Stop()
			return true
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	op := func() error { return h.handler(msgCtx, job) }
	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, handlerRetries), sess.Context()),
		func(err error, next time.Duration) {
			q.logger.Warn(msgCtx, "Job handler failed, retrying delivery",
				"job_id", job.ID.String(), "error", err, "retry_in", next.String())
		})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "job handler failed")
		q.metrics.IncConsumeError(msgCtx, msg.Topic)
		q.logger.Error(msgCtx, "Dropping job after handler failures", "job_id", job.ID.String(), "error", err)
	} else {
		q.metrics.IncMessageConsumed(msgCtx, msg.Topic)
	}

	h.ack(sess, msg)
	return false
}

func (h *jobHandler) ack(sess sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) {
	sess.MarkMessage(msg, "")
	sess.Commit()
}
