package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/observability"
)

// MessageWriter is the part of kafka.Writer the sink uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter creates a writer for topic
func NewWriter(brokers []string, topic string, batchTimeout time.Duration) *kafka.Writer {
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           batchTimeout,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		MaxAttempts:            3,
		RequiredAcks:           kafka.RequireOne,
	}
}

// KafkaSink publishes validated rows to the events topic, keyed by session
// so that one session's events stay ordered within a partition.
type KafkaSink struct {
	writer  MessageWriter
	metrics *observability.Metrics
	now     func() time.Time
}

// NewKafkaSink creates a sink over writer. metrics may be nil.
func NewKafkaSink(writer MessageWriter, metrics *observability.Metrics) *KafkaSink {
	return &KafkaSink{writer: writer, metrics: metrics, now: time.Now}
}

// RecordVisit publishes a visit
func (s *KafkaSink) RecordVisit(ctx context.Context, visit analytics.VisitRecord) error {
	if err := visit.Validate(); err != nil {
		s.rejected(analytics.KindVisit)
		return err
	}
	msg, err := s.message(visit.SessionID, Envelope{Kind: analytics.KindVisit, Visit: &visit})
	if err != nil {
		return err
	}
	return s.publish(ctx, analytics.KindVisit, msg)
}

// RecordInteraction publishes one interaction
func (s *KafkaSink) RecordInteraction(ctx context.Context, event analytics.InteractionEvent) error {
	return s.RecordInteractions(ctx, []analytics.InteractionEvent{event})
}

// RecordInteractions publishes a batch in one write. One invalid event
// rejects the batch.
func (s *KafkaSink) RecordInteractions(ctx context.Context, events []analytics.InteractionEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for i := range events {
		if err := events[i].Validate(); err != nil {
			s.rejected(analytics.KindInteraction)
			if len(events) > 1 {
				return fmt.Errorf("event %d: %w", i, err)
			}
			return err
		}
		msg, err := s.message(events[i].SessionID, Envelope{Kind: analytics.KindInteraction, Interaction: &events[i]})
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return s.publish(ctx, analytics.KindInteraction, msgs...)
}

// Close flushes and closes the writer
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func (s *KafkaSink) message(key string, env Envelope) (kafka.Message, error) {
	env.ProducedAt = s.now().UTC()
	value, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return kafka.Message{Key: []byte(key), Value: value}, nil
}

func (s *KafkaSink) publish(ctx context.Context, kind string, msgs ...kafka.Message) error {
	start := time.Now()
	err := s.writer.WriteMessages(ctx, msgs...)
	s.metrics.ObserveStorage("publish_"+kind, "kafka", start, err)

	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
			s.metrics.EventWriteErrors.WithLabelValues(kind, "kafka").Inc()
		}
		s.metrics.StreamMessagesTotal.WithLabelValues("out", status).Add(float64(len(msgs)))
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	return nil
}

func (s *KafkaSink) rejected(kind string) {
	if s.metrics != nil {
		s.metrics.EventsRejectedTotal.WithLabelValues(kind).Inc()
	}
}
