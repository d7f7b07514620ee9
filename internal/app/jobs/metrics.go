package jobs

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// WorkerMetrics defines the metrics recorded by the job worker.
type WorkerMetrics interface {
	IncJobsCompleted(ctx context.Context, jobType string)
	IncJobsRetried(ctx context.Context, jobType string)
	IncJobsFailed(ctx context.Context, jobType string)
	IncJobsEnqueued(ctx context.Context, jobType string)

	// Queue transport metrics.
	IncMessagePublished(ctx context.Context, topic string)
	IncMessageConsumed(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
	IncConsumeError(ctx context.Context, topic string)
}

type workerMetrics struct {
	jobsCompleted metric.Int64Counter
	jobsRetried   metric.Int64Counter
	jobsFailed    metric.Int64Counter
	jobsEnqueued  metric.Int64Counter

	messagesPublished metric.Int64Counter
	messagesConsumed  metric.Int64Counter
	publishErrors     metric.Int64Counter
	consumeErrors     metric.Int64Counter
}

const namespace = "jobs"

// NewWorkerMetrics creates the job worker instruments on mp.
func NewWorkerMetrics(mp metric.MeterProvider) (*workerMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(workerMetrics)
	var err error

	if m.jobsCompleted, err = meter.Int64Counter(
		"jobs_completed_total",
		metric.WithDescription("Total number of jobs processed successfully"),
	); err != nil {
		return nil, err
	}

	if m.jobsRetried, err = meter.Int64Counter(
		"jobs_retried_total",
		metric.WithDescription("Total number of failed attempts rescheduled"),
	); err != nil {
		return nil, err
	}

	if m.jobsFailed, err = meter.Int64Counter(
		"jobs_failed_total",
		metric.WithDescription("Total number of jobs that exhausted their retries"),
	); err != nil {
		return nil, err
	}

	if m.jobsEnqueued, err = meter.Int64Counter(
		"jobs_enqueued_total",
		metric.WithDescription("Total number of jobs enqueued"),
	); err != nil {
		return nil, err
	}

	if m.messagesPublished, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of messages published"),
	); err != nil {
		return nil, err
	}

	if m.messagesConsumed, err = meter.Int64Counter(
		"messages_consumed_total",
		metric.WithDescription("Total number of messages consumed"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of publish errors"),
	); err != nil {
		return nil, err
	}

	if m.consumeErrors, err = meter.Int64Counter(
		"consume_errors_total",
		metric.WithDescription("Total number of consume errors"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func jobTypeAttr(t string) metric.AddOption {
	return metric.WithAttributes(attribute.String("job_type", t))
}

func (m *workerMetrics) IncJobsCompleted(ctx context.Context, t string) {
	m.jobsCompleted.Add(ctx, 1, jobTypeAttr(t))
}

func (m *workerMetrics) IncJobsRetried(ctx context.Context, t string) {
	m.jobsRetried.Add(ctx, 1, jobTypeAttr(t))
}

func (m *workerMetrics) IncJobsFailed(ctx context.Context, t string) {
	m.jobsFailed.Add(ctx, 1, jobTypeAttr(t))
}

func (m *workerMetrics) IncJobsEnqueued(ctx context.Context, t string) {
	m.jobsEnqueued.Add(ctx, 1, jobTypeAttr(t))
}

func topicAttr(topic string) metric.AddOption {
	return metric.WithAttributes(attribute.String("topic", topic))
}

func (m *workerMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.messagesPublished.Add(ctx, 1, topicAttr(topic))
}

func (m *workerMetrics) IncMessageConsumed(ctx context.Context, topic string) {
	m.messagesConsumed.Add(ctx, 1, topicAttr(topic))
}

func (m *workerMetrics) IncPublishError(ctx context.Context, topic string) {
	m.publishErrors.Add(ctx, 1, topicAttr(topic))
}

func (m *workerMetrics) IncConsumeError(ctx context.Context, topic string) {
	m.consumeErrors.Add(ctx, 1, topicAttr(topic))
}
