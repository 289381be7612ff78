package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/marketsync/stock-reconciler/internal/checkpoint"
	"github.com/marketsync/stock-reconciler/internal/event"
	"github.com/marketsync/stock-reconciler/internal/marketplace"
	"github.com/marketsync/stock-reconciler/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func backfillPolicy() *retry.Policy {
	return retry.NewPolicy("OZON", retry.OzonClassification(), retry.Config{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
	}, zap.NewNop())
}

func TestBackfillPublishesAllPages(t *testing.T) {
	adapter := &marketplace.StubAdapter{
		Name: "OZON",
		Orders: []marketplace.ExternalOrder{
			{PostingNumber: "p-1", WarehouseID: "wh-1", Items: []event.OrderItem{{OfferID: "SKU1", Quantity: 1}}},
			{PostingNumber: "p-2", WarehouseID: "wh-1", Items: []event.OrderItem{{OfferID: "SKU2", Quantity: 2}}},
			{PostingNumber: "p-3", WarehouseID: "wh-2", Items: []event.OrderItem{{OfferID: "SKU3", Quantity: 3}}},
		},
	}
	producer := &captureProducer{}
	cps := checkpoint.NewMemoryStore()
	svc := NewBackfillService(adapter, NewPublisher(producer, zap.NewNop()), cps,
		backfillPolicy(), "company-1", zap.NewNop())

	processed, err := svc.Run(context.Background(), time.Now().Add(-24*time.Hour), time.Now(), 2)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	require.Len(t, producer.msgs, 3)
	var ev event.OrderEvent
	require.NoError(t, json.Unmarshal(producer.msgs[0].Value, &ev))
	assert.Equal(t, "p-1", ev.PostingNumber)
	assert.Equal(t, event.OrderCreated, ev.EventType)
	assert.Equal(t, "OZON", ev.Market)
	assert.Equal(t, "company-1", ev.CompanyID)

	cp, err := cps.Get(context.Background(), "OZON_ORDERS_BACKFILL")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusSuccess, cp.Status)
	assert.Equal(t, 3, cp.ItemsProcessed)
	assert.Equal(t, "p-3", cp.LastEntityKey)
	assert.NotNil(t, cp.LastSyncAt)
}

type failingAdapter struct {
	marketplace.StubAdapter
}

func (f *failingAdapter) ListOrders(context.Context, time.Time, time.Time, int, int) ([]marketplace.ExternalOrder, error) {
	return nil, errors.New("connection refused")
}

func TestBackfillRecordsFailure(t *testing.T) {
	adapter := &failingAdapter{StubAdapter: marketplace.StubAdapter{Name: "OZON"}}
	cps := checkpoint.NewMemoryStore()
	svc := NewBackfillService(adapter, NewPublisher(&captureProducer{}, zap.NewNop()), cps,
		backfillPolicy(), "company-1", zap.NewNop())

	processed, err := svc.Run(context.Background(), time.Now().Add(-time.Hour), time.Now(), 10)
	require.Error(t, err)
	assert.Zero(t, processed)

	cp, err := cps.Get(context.Background(), "OZON_ORDERS_BACKFILL")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, cp.Status)
	assert.Contains(t, cp.ErrorMessage, "connection refused")
}
