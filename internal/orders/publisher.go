// Package orders turns order events into stock ledger mutations and drives
// historical order backfills.
package orders

import (
	"context"
	"encoding/json"

	"github.com/marketsync/stock-reconciler/internal/event"
	"github.com/marketsync/stock-reconciler/internal/transport"
	"go.uber.org/zap"
)

// Publisher emits order events keyed by posting number. Publishing is
// fire-and-forget: failures are logged, not retried; durability is the
// transport's job.
type Publisher struct {
	producer transport.Producer
	log      *zap.Logger
}

// NewPublisher creates a Publisher on the order-events producer.
func NewPublisher(producer transport.Producer, log *zap.Logger) *Publisher {
	return &Publisher{producer: producer, log: log}
}

// Publish serializes and emits one order event.
func (p *Publisher) Publish(ctx context.Context, ev event.OrderEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("failed to serialize order event",
			zap.String("posting_number", ev.PostingNumber),
			zap.Error(err))
		return
	}
	if err := p.producer.Publish(ctx, []byte(ev.PostingNumber), payload); err != nil {
		p.log.Error("failed to publish order event",
			zap.String("posting_number", ev.PostingNumber),
			zap.String("event_type", string(ev.EventType)),
			zap.Error(err))
	}
}
