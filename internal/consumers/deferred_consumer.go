package consumers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"concierge/internal/domain/message"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// deferredSource is the broker side of the redelivery loop. Offsets are
// committed only after a message is delivered, requeued, or dropped, so
// a crash mid-flight replays the message instead of losing it.
type deferredSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// deferredSink republishes sends that are not yet due or failed delivery.
type deferredSink interface {
	Publish(ctx context.Context, key string, payload interface{}) error
}

// redeliverer attempts final delivery of a deferred send.
type redeliverer interface {
	DeliverDeferred(ctx context.Context, d message.DeferredSend) error
}

// DeferredConsumer redelivers quota-deferred sends once their RetryAt
// passes. A send that is not due within one poll interval hops back onto
// the topic instead of parking the partition, so one daily-window
// deferral never blocks the messages behind it.
type DeferredConsumer struct {
	consumer     deferredSource
	orchestrator redeliverer
	requeue      deferredSink
	pollInterval time.Duration
	maxAttempts  int
	log          *logger.Logger
}

func NewDeferredConsumer(consumer deferredSource, orch redeliverer, requeue deferredSink, pollInterval time.Duration, maxAttempts int) *DeferredConsumer {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &DeferredConsumer{
		consumer:     consumer,
		orchestrator: orch,
		requeue:      requeue,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		log:          logger.Get().With("component", "deferred_consumer"),
	}
}

// Start consumes until the context is cancelled.
func (c *DeferredConsumer) Start(ctx context.Context) error {
	c.log.Info("Starting deferred send consumer")

	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.log.Errorw("Failed to close deferred consumer", "error", err)
		}
	}()

	for {
		msg, err := c.consumer.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Deferred consumer stopping")
				return nil
			}
			c.log.Errorw("Failed to fetch deferred message", "error", err)
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			// Offset stays uncommitted; the message replays after a
			// restart or rebalance instead of being lost.
			c.log.Errorw("Failed to process deferred send",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			continue
		}

		if err := c.consumer.CommitMessages(ctx, msg); err != nil {
			c.log.Errorw("Failed to commit deferred offset",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
	}
}

// handle processes one deferred send. A nil return means the message is
// finished (delivered, requeued, or dropped) and its offset may commit.
func (c *DeferredConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var d message.DeferredSend
	if err := json.Unmarshal(msg.Value, &d); err != nil {
		// Poison message; committing past it is the only way forward.
		c.log.Errorw("Dropping undecodable deferred send", "offset", msg.Offset, "error", err)
		return nil
	}

	if d.Attempts > c.maxAttempts {
		c.log.Warnw("Dropping deferred send after max attempts",
			"contact_id", d.ContactID, "attempts", d.Attempts)
		return nil
	}

	// Not due within one poll interval: hop back onto the topic after a
	// short nap. The nap throttles the hop rate; the offset is still
	// uncommitted, so a crash during it replays the message.
	if wait := time.Until(d.RetryAt); wait > c.pollInterval {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return err
		}
		if err := c.requeue.Publish(ctx, d.ContactID, d); err != nil {
			return errors.Wrap(err, "failed to requeue deferred send")
		}
		return nil
	} else if wait > 0 {
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}

	if err := c.orchestrator.DeliverDeferred(ctx, d); err != nil {
		// Transport-level failure: burn one attempt and retry later
		// rather than failing the offset forever.
		d.Attempts++
		d.RetryAt = time.Now().Add(c.pollInterval)
		if pubErr := c.requeue.Publish(ctx, d.ContactID, d); pubErr != nil {
			return errors.Wrap(pubErr, "failed to requeue deferred send after delivery error")
		}
		c.log.Warnw("Deferred delivery failed, requeued",
			"contact_id", d.ContactID, "attempts", d.Attempts, "error", err)
	}
	return nil
}

func (c *DeferredConsumer) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
