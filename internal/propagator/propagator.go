// Package propagator fans stock change events out to marketplace adapters,
// suppressing the event's origin marketplace to break feedback loops.
package propagator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marketsync/stock-reconciler/internal/credentials"
	"github.com/marketsync/stock-reconciler/internal/event"
	"github.com/marketsync/stock-reconciler/internal/marketplace"
	"github.com/marketsync/stock-reconciler/internal/retry"
	"github.com/marketsync/stock-reconciler/internal/transport"
	"go.uber.org/zap"
)

// Propagator consumes stock change events and pushes the latest known
// quantity to every marketplace except the event's origin. Delivery is
// at-least-once of the latest quantity, which tolerates redelivery because
// marketplace stock sets are last-value-wins.
type Propagator struct {
	adapters []marketplace.Adapter
	creds    credentials.Store
	policies map[string]*retry.Policy
	audit    *AuditPool
	log      *zap.Logger
}

// New creates a Propagator. Policies are keyed by marketplace name; the
// audit pool may be nil when history recording is disabled.
func New(adapters []marketplace.Adapter, creds credentials.Store, policies map[string]*retry.Policy,
	audit *AuditPool, log *zap.Logger) *Propagator {
	return &Propagator{adapters: adapters, creds: creds, policies: policies, audit: audit, log: log}
}

// Handle decodes one transport message and dispatches it.
func (p *Propagator) Handle(ctx context.Context, msg transport.Message) error {
	var ev event.StockChangeEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("failed to decode stock change event: %w", err)
	}
	p.Dispatch(ctx, ev)
	return nil
}

// Dispatch pushes one change to every non-origin adapter. Per-adapter
// failures are isolated: one marketplace being down never blocks the others.
func (p *Propagator) Dispatch(ctx context.Context, ev event.StockChangeEvent) {
	for _, adapter := range p.adapters {
		name := adapter.Marketplace()
		if strings.EqualFold(ev.OriginMarket, name) {
			// The origin already applied this change locally; pushing it
			// back would decrement its stock a second time.
			continue
		}

		cr, err := p.creds.FindValid(ctx, ev.CompanyID, name)
		if err != nil || !cr.IsValid() {
			p.log.Warn("no valid credentials, skipping stock push",
				zap.String("marketplace", name),
				zap.String("company_id", ev.CompanyID),
				zap.String("article", ev.Article))
			continue
		}

		extWarehouse, err := adapter.ResolveWarehouse(ev.WarehouseID)
		if err != nil {
			p.log.Warn("cannot translate warehouse id, skipping stock push",
				zap.String("marketplace", name),
				zap.String("warehouse_id", ev.WarehouseID),
				zap.Error(err))
			continue
		}

		err = p.policy(name).Do(ctx, "push stock", func(ctx context.Context) error {
			return adapter.PushStock(ctx, ev.Article, ev.NewQuantity, extWarehouse)
		})
		if err != nil {
			p.log.Error("stock push failed terminally",
				zap.String("marketplace", name),
				zap.String("article", ev.Article),
				zap.Int64("quantity", ev.NewQuantity),
				zap.Error(err))
			continue
		}

		p.log.Info("stock pushed",
			zap.String("marketplace", name),
			zap.String("article", ev.Article),
			zap.Int64("quantity", ev.NewQuantity),
			zap.String("origin_market", ev.OriginMarket))

		if p.audit != nil {
			p.audit.Submit(AuditEntry{
				Article:     ev.Article,
				WarehouseID: ev.WarehouseID,
				Marketplace: name,
				Old:         ev.OldQuantity,
				New:         ev.NewQuantity,
				Reason:      ev.ChangeReason,
				SourceID:    ev.SourceID,
			})
		}
	}
}

func (p *Propagator) policy(marketplace string) *retry.Policy {
	if pol, ok := p.policies[marketplace]; ok {
		return pol
	}
	return retry.NewPolicy(marketplace, retry.Classification{}, retry.DefaultConfig(), p.log)
}
