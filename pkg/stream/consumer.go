package stream

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/beacon/pkg/analytics"
	"github.com/platinummonkey/beacon/pkg/observability"
)

// MessageReader is the part of kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Store persists consumed rows
type Store interface {
	RecordVisit(ctx context.Context, visit analytics.VisitRecord) error
	RecordInteraction(ctx context.Context, event analytics.InteractionEvent) error
}

// NewReader creates a consumer-group reader for topic
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         brokers,
		Topic:           topic,
		GroupID:         groupID,
		MinBytes:        1,
		MaxBytes:        10e6, // 10MB
		MaxWait:         time.Second,
		ReadLagInterval: -1,
		StartOffset:     kafka.FirstOffset,
	})
}

// queueDepth bounds the messages buffered per worker
const queueDepth = 16

// Consumer moves events from the topic into the Store. One fetch loop
// routes each message to a worker chosen by hashing its key, so a
// session's events are written in offset order. Offsets are committed in
// fetch order once handled, never past a message that is still in flight.
// Undecodable messages and failed writes are logged, committed and dropped.
type Consumer struct {
	reader   MessageReader
	store    Store
	workers  int
	logger   *observability.Logger
	metrics  *observability.Metrics
	backoff  time.Duration
	balancer kafka.Hash
}

type delivery struct {
	msg  kafka.Message
	done chan struct{}
}

// NewConsumer creates a consumer running workers goroutines
func NewConsumer(reader MessageReader, store Store, workers int, logger *observability.Logger, metrics *observability.Metrics) *Consumer {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Consumer{
		reader:  reader,
		store:   store,
		workers: workers,
		logger:  logger.WithComponent("stream-consumer"),
		metrics: metrics,
		backoff: time.Second,
	}
}

// Run consumes until ctx is done. Messages fetched but not yet committed
// when ctx ends are redelivered to the group.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	queues := make([]chan *delivery, c.workers)
	slots := make([]int, c.workers)
	for i := range queues {
		queues[i] = make(chan *delivery, queueDepth)
		slots[i] = i
	}
	inflight := make(chan *delivery, c.workers*queueDepth)

	for i, q := range queues {
		workerID, q := i, q
		g.Go(func() error {
			return c.worker(ctx, workerID, q)
		})
	}
	g.Go(func() error {
		return c.commitInOrder(ctx, inflight)
	})
	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
			close(inflight)
		}()
		return c.fetch(ctx, queues, slots, inflight)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) fetch(ctx context.Context, queues []chan *delivery, slots []int, inflight chan<- *delivery) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.WithError(err).Warn("Failed to fetch message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		d := &delivery{msg: msg, done: make(chan struct{})}
		select {
		case inflight <- d:
		case <-ctx.Done():
			return nil
		}

		slot := c.balancer.Balance(msg, slots...)
		select {
		case queues[slot] <- d:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) worker(ctx context.Context, workerID int, queue <-chan *delivery) error {
	log := c.logger.WithField("worker", workerID)
	log.Debug("Worker started")
	defer log.Debug("Worker stopped")

	for d := range queue {
		if ctx.Err() != nil {
			return nil
		}
		c.count(c.handle(ctx, d.msg, log))
		close(d.done)
	}
	return nil
}

// commitInOrder commits each delivery after it is handled, in fetch order
func (c *Consumer) commitInOrder(ctx context.Context, inflight <-chan *delivery) error {
	for d := range inflight {
		select {
		case <-d.done:
		case <-ctx.Done():
			return nil
		}

		if err := c.reader.CommitMessages(ctx, d.msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.WithError(err).
				WithField("partition", d.msg.Partition).
				WithField("offset", d.msg.Offset).
				Warn("Failed to commit message")
		}
	}
	return nil
}

// handle writes one message and returns its outcome label
func (c *Consumer) handle(ctx context.Context, msg kafka.Message, log *observability.Logger) string {
	env, err := Decode(msg.Value)
	if err != nil {
		log.WithError(err).WithField("offset", msg.Offset).Warn("Dropping undecodable message")
		return "invalid"
	}

	switch env.Kind {
	case analytics.KindVisit:
		err = c.store.RecordVisit(ctx, *env.Visit)
	case analytics.KindInteraction:
		err = c.store.RecordInteraction(ctx, *env.Interaction)
	}
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidEvent) {
			log.WithError(err).Warn("Dropping invalid event")
			return "invalid"
		}
		log.WithError(err).WithField("kind", env.Kind).Warn("Failed to store event")
		return "error"
	}
	return "success"
}

func (c *Consumer) count(status string) {
	if c.metrics != nil {
		c.metrics.StreamMessagesTotal.WithLabelValues("in", status).Inc()
	}
}

// Close closes the reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}
