package consumers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/segmentio/kafka-go"

	kafkaadapter "concierge/internal/adapters/kafka"
	"concierge/internal/domain/message"
	"concierge/internal/services/orchestrator"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// InboundConsumer reads inbound conversation messages from Kafka and
// feeds them to the orchestrator through a bounded worker pool. The
// Kafka key is the contact id, so messages for one contact arrive in
// order from a single partition; the per-session lock serializes the
// rest.
type InboundConsumer struct {
	consumer     *kafkaadapter.Consumer
	orchestrator *orchestrator.Orchestrator
	concurrency  int
	log          *logger.Logger
}

func NewInboundConsumer(consumer *kafkaadapter.Consumer, orch *orchestrator.Orchestrator, concurrency int) *InboundConsumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &InboundConsumer{
		consumer:     consumer,
		orchestrator: orch,
		concurrency:  concurrency,
		log:          logger.Get().With("component", "inbound_consumer"),
	}
}

// Start consumes until the context is cancelled. Handler errors are
// logged and the loop continues; one bad message never stalls intake.
func (c *InboundConsumer) Start(ctx context.Context) error {
	c.log.Infow("Starting inbound consumer", "concurrency", c.concurrency)

	defer func() {
		if err := c.consumer.Close(); err != nil {
			c.log.Errorw("Failed to close inbound consumer", "error", err)
		}
	}()

	jobs := make(chan kafka.Message)
	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				if err := c.handle(ctx, msg); err != nil {
					c.log.Errorw("Failed to handle inbound message",
						"partition", msg.Partition, "offset", msg.Offset, "error", err)
				}
			}
		}()
	}

	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			close(jobs)
			wg.Wait()
			if ctx.Err() != nil {
				c.log.Info("Inbound consumer stopping")
				return nil
			}
			return errors.Wrap(err, "inbound consumer read failed")
		}

		select {
		case jobs <- msg:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil
		}
	}
}

func (c *InboundConsumer) handle(ctx context.Context, msg kafka.Message) error {
	var inbound message.Inbound
	if err := json.Unmarshal(msg.Value, &inbound); err != nil {
		return errors.Wrap(err, "failed to decode inbound message")
	}

	// The orchestrator applies its own turn deadline.
	return c.orchestrator.HandleInbound(ctx, inbound)
}
