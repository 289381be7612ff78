package propagator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marketsync/stock-reconciler/internal/event"
	"go.uber.org/zap"
)

// AuditEntry is one quantity-change history record.
type AuditEntry struct {
	Article     string
	WarehouseID string
	Marketplace string
	Old         int64
	New         int64
	Reason      event.ChangeReason
	SourceID    string
	At          time.Time
}

// AuditSink persists audit entries.
type AuditSink interface {
	Record(ctx context.Context, e AuditEntry) error
}

// AuditPool writes history on a bounded worker pool so slow audit writes
// never block the stock-mutation path. When the queue is full, entries are
// dropped and logged rather than blocking the caller.
type AuditPool struct {
	ch      chan AuditEntry
	wg      sync.WaitGroup
	sink    AuditSink
	log     *zap.Logger
	dropped atomic.Uint64
	once    sync.Once
}

// NewAuditPool starts workers draining into the sink.
func NewAuditPool(sink AuditSink, workers, queueLen int, log *zap.Logger) *AuditPool {
	if workers <= 0 {
		workers = 1
	}
	if queueLen <= 0 {
		queueLen = 64
	}
	p := &AuditPool{ch: make(chan AuditEntry, queueLen), sink: sink, log: log}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *AuditPool) worker() {
	defer p.wg.Done()
	for e := range p.ch {
		if err := p.sink.Record(context.Background(), e); err != nil {
			p.log.Error("failed to record audit entry",
				zap.String("article", e.Article),
				zap.Error(err))
		}
	}
}

// Submit enqueues an entry, shedding it when the queue is full. It reports
// whether the entry was accepted.
func (p *AuditPool) Submit(e AuditEntry) bool {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	select {
	case p.ch <- e:
		return true
	default:
		p.dropped.Add(1)
		p.log.Warn("audit queue full, dropping entry",
			zap.String("article", e.Article),
			zap.Uint64("dropped_total", p.dropped.Load()))
		return false
	}
}

// Dropped returns how many entries were shed so far.
func (p *AuditPool) Dropped() uint64 { return p.dropped.Load() }

// Close stops intake and waits for in-flight writes.
func (p *AuditPool) Close() {
	p.once.Do(func() { close(p.ch) })
	p.wg.Wait()
}

// LogSink records audit entries to the service log.
type LogSink struct {
	Log *zap.Logger
}

// Record writes one entry.
func (s *LogSink) Record(_ context.Context, e AuditEntry) error {
	s.Log.Info("stock quantity changed",
		zap.String("article", e.Article),
		zap.String("warehouse_id", e.WarehouseID),
		zap.String("marketplace", e.Marketplace),
		zap.Int64("old_quantity", e.Old),
		zap.Int64("new_quantity", e.New),
		zap.String("reason", string(e.Reason)),
		zap.String("source_id", e.SourceID))
	return nil
}
