package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marketsync/stock-reconciler/internal/event"
	"github.com/marketsync/stock-reconciler/internal/ledger"
	"github.com/marketsync/stock-reconciler/internal/transport"
	"go.uber.org/zap"
)

// SourceSystem tags stock changes authored by this pipeline.
const SourceSystem = "order-pipeline"

// Consumer applies order events to the stock ledger and broadcasts the
// resulting changes on the stock-events topic.
type Consumer struct {
	ledger  ledger.Repository
	changes transport.Producer
	log     *zap.Logger
}

// NewConsumer creates a Consumer.
func NewConsumer(repo ledger.Repository, changes transport.Producer, log *zap.Logger) *Consumer {
	return &Consumer{ledger: repo, changes: changes, log: log}
}

// Handle decodes one transport message and applies it. It returns an error
// only for undecodable payloads; per-item application failures are isolated
// and logged so the offset is still acknowledged.
func (c *Consumer) Handle(ctx context.Context, msg transport.Message) error {
	var ev event.OrderEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("failed to decode order event: %w", err)
	}
	c.Apply(ctx, ev)
	return nil
}

func dedupKey(ev event.OrderEvent, item event.OrderItem) string {
	return ev.PostingNumber + "|" + string(ev.EventType) + "|" + item.OfferID
}

// Apply processes each line item of an order event independently: a signed
// delta (negative for created, positive for cancelled) applied atomically
// and clamped at zero, with a dedup key guarding broker redelivery.
func (c *Consumer) Apply(ctx context.Context, ev event.OrderEvent) {
	var delta func(q int64) int64
	switch ev.EventType {
	case event.OrderCreated:
		delta = func(q int64) int64 { return -q }
	case event.OrderCancelled:
		delta = func(q int64) int64 { return q }
	default:
		c.log.Warn("unknown order event type",
			zap.String("posting_number", ev.PostingNumber),
			zap.String("event_type", string(ev.EventType)))
		return
	}

	for _, item := range ev.Items {
		rec, err := c.ledger.Find(ctx, item.OfferID, ev.WarehouseID, ev.CompanyID)
		if errors.Is(err, ledger.ErrRecordNotFound) {
			// A missing mapping is a data-quality signal, not a ledger event.
			c.log.Warn("no stock record for order line, skipping",
				zap.String("posting_number", ev.PostingNumber),
				zap.String("offer_id", item.OfferID),
				zap.String("warehouse_id", ev.WarehouseID))
			continue
		}
		if err != nil {
			c.log.Error("failed to resolve stock record",
				zap.String("posting_number", ev.PostingNumber),
				zap.String("offer_id", item.OfferID),
				zap.Error(err))
			continue
		}

		res, err := c.ledger.ApplyDelta(ctx, rec.Key(), delta(item.Quantity), dedupKey(ev, item))
		if err != nil {
			c.log.Error("failed to apply stock delta",
				zap.String("posting_number", ev.PostingNumber),
				zap.String("offer_id", item.OfferID),
				zap.Error(err))
			continue
		}
		if !res.Applied {
			c.log.Info("order event already applied, skipping",
				zap.String("posting_number", ev.PostingNumber),
				zap.String("offer_id", item.OfferID),
				zap.String("event_type", string(ev.EventType)))
			continue
		}

		c.emitChange(ctx, ev, item, rec, res)
	}
}

func (c *Consumer) emitChange(ctx context.Context, ev event.OrderEvent, item event.OrderItem, rec *ledger.StockRecord, res ledger.DeltaResult) {
	change := event.StockChangeEvent{
		Article:      item.OfferID,
		ProductID:    rec.ProductID,
		WarehouseID:  ev.WarehouseID,
		CompanyID:    ev.CompanyID,
		OldQuantity:  res.Old,
		NewQuantity:  res.New,
		ChangeReason: event.ChangeReason(ev.EventType),
		OriginMarket: ev.Market,
		SourceSystem: SourceSystem,
		SourceID:     ev.PostingNumber,
		OccurredAt:   time.Now(),
	}
	payload, err := json.Marshal(change)
	if err != nil {
		c.log.Error("failed to serialize stock change event", zap.Error(err))
		return
	}
	if err := c.changes.Publish(ctx, []byte(change.Article), payload); err != nil {
		c.log.Error("failed to publish stock change event",
			zap.String("article", change.Article),
			zap.Error(err))
	}
}
