package propagator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marketsync/stock-reconciler/internal/credentials"
	"github.com/marketsync/stock-reconciler/internal/event"
	"github.com/marketsync/stock-reconciler/internal/marketplace"
	"github.com/marketsync/stock-reconciler/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCreds(t *testing.T, marketplaces ...string) credentials.Store {
	t.Helper()
	store := credentials.NewMemoryStore()
	for _, m := range marketplaces {
		require.NoError(t, store.Save(context.Background(), &credentials.Credentials{
			CompanyID: "company-1", Marketplace: m, ClientID: "id", Secret: "key", Active: true,
		}))
	}
	return store
}

func fastPolicies(maxAttempts int) map[string]*retry.Policy {
	cfg := retry.Config{MaxAttempts: maxAttempts, BaseDelay: time.Millisecond, Multiplier: 2}
	return map[string]*retry.Policy{
		"OZON":   retry.NewPolicy("OZON", retry.OzonClassification(), cfg, zap.NewNop()),
		"YANDEX": retry.NewPolicy("YANDEX", retry.YandexClassification(), cfg, zap.NewNop()),
	}
}

func changeEvent(origin string) event.StockChangeEvent {
	return event.StockChangeEvent{
		Article:      "SKU1",
		ProductID:    "prod-1",
		WarehouseID:  "wh-1",
		CompanyID:    "company-1",
		OldQuantity:  5,
		NewQuantity:  3,
		ChangeReason: event.ReasonOrderCreated,
		OriginMarket: origin,
		SourceSystem: "order-pipeline",
		SourceID:     "O1",
	}
}

func TestDispatchSuppressesOrigin(t *testing.T) {
	ozon := &marketplace.StubAdapter{Name: "OZON"}
	yandex := &marketplace.StubAdapter{Name: "YANDEX"}
	p := New([]marketplace.Adapter{ozon, yandex}, testCreds(t, "OZON", "YANDEX"),
		fastPolicies(3), nil, zap.NewNop())

	p.Dispatch(context.Background(), changeEvent("OZON"))

	assert.Empty(t, ozon.Pushes(), "self-originated event must never reach its own marketplace")
	require.Len(t, yandex.Pushes(), 1)
	assert.Equal(t, "SKU1", yandex.Pushes()[0].OfferID)
	assert.Equal(t, int64(3), yandex.Pushes()[0].Quantity)
}

func TestDispatchSuppressionIsCaseInsensitive(t *testing.T) {
	ozon := &marketplace.StubAdapter{Name: "OZON"}
	p := New([]marketplace.Adapter{ozon}, testCreds(t, "OZON"), fastPolicies(3), nil, zap.NewNop())

	p.Dispatch(context.Background(), changeEvent("ozon"))

	assert.Empty(t, ozon.Pushes())
}

func TestDispatchTranslatesWarehouseID(t *testing.T) {
	yandex := &marketplace.StubAdapter{Name: "YANDEX", Warehouses: map[string]string{"wh-1": "y-771"}}
	p := New([]marketplace.Adapter{yandex}, testCreds(t, "YANDEX"), fastPolicies(3), nil, zap.NewNop())

	p.Dispatch(context.Background(), changeEvent("OZON"))

	require.Len(t, yandex.Pushes(), 1)
	assert.Equal(t, "y-771", yandex.Pushes()[0].WarehouseID)
}

func TestDispatchSkipsWithoutCredentials(t *testing.T) {
	yandex := &marketplace.StubAdapter{Name: "YANDEX"}
	p := New([]marketplace.Adapter{yandex}, credentials.NewMemoryStore(), fastPolicies(3), nil, zap.NewNop())

	p.Dispatch(context.Background(), changeEvent("OZON"))

	assert.Empty(t, yandex.Pushes())
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	yandex := &marketplace.StubAdapter{
		Name: "YANDEX",
		PushErrs: []error{
			&retry.APIError{Code: "SERVICE_UNAVAILABLE", HTTPStatus: 503},
			nil,
		},
	}
	p := New([]marketplace.Adapter{yandex}, testCreds(t, "YANDEX"), fastPolicies(3), nil, zap.NewNop())

	p.Dispatch(context.Background(), changeEvent("OZON"))

	assert.Len(t, yandex.Pushes(), 2)
}

func TestDispatchStopsOnFatalError(t *testing.T) {
	yandex := &marketplace.StubAdapter{
		Name:     "YANDEX",
		PushErrs: []error{&retry.APIError{Code: "UNAUTHORIZED", HTTPStatus: 401}},
	}
	p := New([]marketplace.Adapter{yandex}, testCreds(t, "YANDEX"), fastPolicies(5), nil, zap.NewNop())

	p.Dispatch(context.Background(), changeEvent("OZON"))

	assert.Len(t, yandex.Pushes(), 1)
}

type memorySink struct {
	mu      sync.Mutex
	entries []AuditEntry
	block   chan struct{}
}

func (s *memorySink) Record(_ context.Context, e AuditEntry) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestAuditPoolRecords(t *testing.T) {
	sink := &memorySink{}
	pool := NewAuditPool(sink, 2, 8, zap.NewNop())

	for i := 0; i < 5; i++ {
		assert.True(t, pool.Submit(AuditEntry{Article: "SKU1"}))
	}
	pool.Close()

	assert.Equal(t, 5, sink.count())
	assert.Zero(t, pool.Dropped())
}

func TestAuditPoolShedsWhenFull(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	pool := NewAuditPool(sink, 1, 1, zap.NewNop())

	// First submit is picked up by the blocked worker, second fills the
	// queue; everything past that must shed without blocking.
	pool.Submit(AuditEntry{Article: "a"})
	require.Eventually(t, func() bool {
		return pool.Submit(AuditEntry{Article: "b"}) == false
	}, time.Second, time.Millisecond)

	assert.GreaterOrEqual(t, pool.Dropped(), uint64(1))
	close(sink.block)
	pool.Close()
}
