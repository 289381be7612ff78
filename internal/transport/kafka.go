package transport

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaProducer implements Producer on a kafka-go Writer. The hash balancer
// keeps all messages for one key on one partition.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a producer for one topic.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	return &KafkaProducer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}}
}

// Publish writes one keyed message.
func (p *KafkaProducer) Publish(ctx context.Context, key, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.writer.Topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaProducer) Close() error { return p.writer.Close() }

// KafkaConsumer implements Consumer on a kafka-go Reader. Fetched messages
// are hashed by key onto a fixed worker pool so same-key messages stay in
// order while different keys process concurrently.
type KafkaConsumer struct {
	reader  *kafka.Reader
	handler Handler
	workers int
	tracker *offsetTracker
	log     *zap.Logger

	commitMu  sync.Mutex
	committed map[int]int64
}

// NewKafkaConsumer creates a consumer group reader for one topic.
func NewKafkaConsumer(brokers []string, groupID, topic string, workers int, handler Handler, log *zap.Logger) *KafkaConsumer {
	if workers <= 0 {
		workers = 1
	}
	return &KafkaConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}),
		handler:   handler,
		workers:   workers,
		tracker:   newOffsetTracker(),
		committed: make(map[int]int64),
		log:       log,
	}
}

func keyWorker(key []byte, workers int) int {
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(workers))
}

// offsetTracker records fetched offsets per partition and computes the
// highest contiguous fully-processed offset. Key hashing spreads one
// partition's messages across workers, so a later offset can finish before an
// earlier one; committing it then would skip the earlier message for good if
// the process crashed before handling it.
type offsetTracker struct {
	mu    sync.Mutex
	parts map[int]*partitionWindow
}

type partitionWindow struct {
	pending []int64
	done    map[int64]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{parts: make(map[int]*partitionWindow)}
}

// track registers a fetched message. FetchMessage yields each partition in
// offset order, so pending stays sorted.
func (t *offsetTracker) track(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.parts[msg.Partition]
	if w == nil {
		w = &partitionWindow{done: make(map[int64]kafka.Message)}
		t.parts[msg.Partition] = w
	}
	w.pending = append(w.pending, msg.Offset)
}

// complete marks a message processed and reports the new commit watermark for
// its partition when the contiguous head advanced.
func (t *offsetTracker) complete(msg kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.parts[msg.Partition]
	if w == nil {
		return kafka.Message{}, false
	}
	w.done[msg.Offset] = msg
	var last kafka.Message
	advanced := false
	for len(w.pending) > 0 {
		m, ok := w.done[w.pending[0]]
		if !ok {
			break
		}
		delete(w.done, w.pending[0])
		w.pending = w.pending[1:]
		last = m
		advanced = true
	}
	return last, advanced
}

// commit pushes a watermark to the broker. Watermarks from different workers
// can race here; stale ones are dropped so the group offset never regresses.
func (c *KafkaConsumer) commit(ctx context.Context, msg kafka.Message) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	if last, ok := c.committed[msg.Partition]; ok && msg.Offset <= last {
		return
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if !errors.Is(err, context.Canceled) {
			c.log.Error("failed to commit offset",
				zap.String("topic", msg.Topic),
				zap.Error(err))
		}
		return
	}
	c.committed[msg.Partition] = msg.Offset
}

// Run fetches until the context is cancelled. Handler errors are logged, not
// retried; redelivery safety is the handler's responsibility. Offsets are
// committed only up to the contiguous fully-processed watermark of each
// partition, so a crash can redeliver messages but never lose one.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	chans := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range chans {
		chans[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(ch <-chan kafka.Message) {
			defer wg.Done()
			for msg := range ch {
				if err := c.handler(ctx, Message{Key: msg.Key, Value: msg.Value}); err != nil {
					c.log.Error("message handler failed",
						zap.String("topic", msg.Topic),
						zap.ByteString("key", msg.Key),
						zap.Error(err))
				}
				if wm, ok := c.tracker.complete(msg); ok {
					c.commit(ctx, wm)
				}
			}
		}(chans[i])
	}

	defer func() {
		for _, ch := range chans {
			close(ch)
		}
		wg.Wait()
	}()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}
		c.tracker.track(msg)
		select {
		case chans[keyWorker(msg.Key, c.workers)] <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// Close closes the underlying reader.
func (c *KafkaConsumer) Close() error { return c.reader.Close() }
