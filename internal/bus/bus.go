// Package bus is an in-memory keyed broker with the same per-key ordering
// contract as the Kafka transport. It backs tests and single-process runs.
package bus

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/marketsync/stock-reconciler/internal/transport"
	"go.uber.org/zap"
)

type subscription struct {
	handler transport.Handler
	chans   []chan transport.Message
	wg      sync.WaitGroup
}

// Bus routes published messages to topic subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]*subscription
	closed bool
	log    *zap.Logger
}

// New creates an empty Bus.
func New(log *zap.Logger) *Bus {
	return &Bus{subs: make(map[string][]*subscription), log: log}
}

// Subscribe registers a handler for a topic behind a fixed worker pool.
// Messages sharing a key always land on the same worker.
func (b *Bus) Subscribe(topic string, workers int, handler transport.Handler) {
	if workers <= 0 {
		workers = 1
	}
	sub := &subscription{handler: handler, chans: make([]chan transport.Message, workers)}
	for i := range sub.chans {
		sub.chans[i] = make(chan transport.Message, 128)
		sub.wg.Add(1)
		go func(ch <-chan transport.Message) {
			defer sub.wg.Done()
			for msg := range ch {
				if err := handler(context.Background(), msg); err != nil {
					b.log.Error("bus handler failed",
						zap.String("topic", topic),
						zap.ByteString("key", msg.Key),
						zap.Error(err))
				}
			}
		}(sub.chans[i])
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
}

// publish holds the lock across the sends; Close only closes subscription
// channels after it has marked the bus closed under the same lock, so no send
// can hit a closed channel.
func (b *Bus) publish(topic string, msg transport.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs[topic] {
		h := fnv.New32a()
		h.Write(msg.Key)
		sub.chans[int(h.Sum32()%uint32(len(sub.chans)))] <- msg
	}
}

// Close stops all subscriptions and waits for in-flight handlers.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.mu.Unlock()

	for _, topicSubs := range subs {
		for _, sub := range topicSubs {
			for _, ch := range sub.chans {
				close(ch)
			}
			sub.wg.Wait()
		}
	}
}

// Producer returns a transport.Producer publishing to one topic of the bus.
func (b *Bus) Producer(topic string) transport.Producer {
	return &busProducer{bus: b, topic: topic}
}

type busProducer struct {
	bus   *Bus
	topic string
}

func (p *busProducer) Publish(_ context.Context, key, value []byte) error {
	p.bus.publish(p.topic, transport.Message{Key: key, Value: value})
	return nil
}

func (p *busProducer) Close() error { return nil }
