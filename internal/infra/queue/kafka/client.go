// Package kafka provides the durable job queue on Apache Kafka.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/pushwatch/pkg/common/logger"
)

const (
	connectInitialInterval = 5 * time.Second
	connectMaxElapsed      = 5 * time.Minute
)

// Config identifies the brokers, topic and consumer group backing the queue.
type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	ClientID string
}

func (c *Config) validate() error {
	switch {
	case len(c.Brokers) == 0:
		return errors.New("kafka: at least one broker is required")
	case c.Topic == "":
		return errors.New("kafka: topic is required")
	case c.GroupID == "":
		return errors.New("kafka: group id is required")
	}
	return nil
}

// saramaConfig builds the client settings shared by the producer and the
// consumer group. Offsets are committed manually once a job is acknowledged,
// and every job is published with full ISR acks.
func saramaConfig(clientID string) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = clientID
	sc.Version = sarama.V3_6_0_0

	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Offsets.AutoCommit.Enable = false
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Group.Session.Timeout = 20 * time.Second
	sc.Consumer.Group.Heartbeat.Interval = 6 * time.Second

	return sc
}

// Connect dials the brokers once and returns a queue owning the client.
func Connect(cfg *Config, log *logger.Logger, metrics QueueMetrics, tracer trace.Tracer) (*Queue, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(cfg.Brokers, saramaConfig(cfg.ClientID))
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("creating producer: %w", err)
	}

	group, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, client)
	if err != nil {
		_ = producer.Close()
		_ = client.Close()
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	q := NewQueue(producer, group, cfg.Topic, log, metrics, tracer)
	q.client = client
	return q, nil
}

// ConnectWithRetry keeps calling Connect with exponential backoff so workers
// started alongside the brokers do not crash-loop. Configuration errors are
// not retried.
func ConnectWithRetry(cfg *Config, log *logger.Logger, metrics QueueMetrics, tracer trace.Tracer) (*Queue, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = connectInitialInterval
	policy.MaxElapsedTime = connectMaxElapsed

	var q *Queue
	connect := func() error {
		var err error
		q, err = Connect(cfg, log, metrics, tracer)
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn(context.Background(), "kafka unavailable, retrying",
			"brokers", cfg.Brokers,
			"error", err,
			"retry_in", next.String(),
		)
	}

	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return nil, fmt.Errorf("connecting to kafka: %w", err)
	}
	return q, nil
}
