// Package transport abstracts the keyed message transport. Events for the
// same key are delivered in publish order to the same logical consumer;
// ordering across keys is not guaranteed.
package transport

import "context"

// Topic names.
const (
	TopicOrderEvents       = "order-events"
	TopicStockEvents       = "stock-events"
	TopicStockSync         = "stock-sync"
	TopicStockSyncResponse = "stock-sync-response"
)

// Message is one transport record.
type Message struct {
	Key   []byte
	Value []byte
}

// Handler processes one message. A non-nil error is logged by the consumer;
// the message is still acknowledged (at-least-once with idempotent
// application downstream).
type Handler func(ctx context.Context, msg Message) error

// Producer publishes keyed messages to one topic.
type Producer interface {
	Publish(ctx context.Context, key, value []byte) error
	Close() error
}

// Consumer pulls messages from one topic and dispatches them to a handler
// through a worker pool that preserves per-key ordering.
type Consumer interface {
	Run(ctx context.Context) error
	Close() error
}
