package syncer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marketsync/stock-reconciler/internal/checkpoint"
	"github.com/marketsync/stock-reconciler/internal/credentials"
	"github.com/marketsync/stock-reconciler/internal/event"
	"github.com/marketsync/stock-reconciler/internal/ledger"
	"github.com/marketsync/stock-reconciler/internal/marketplace"
	"github.com/marketsync/stock-reconciler/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	adapter *marketplace.StubAdapter
	ledger  *ledger.MemoryRepository
	cps     *checkpoint.MemoryStore
	creds   *credentials.MemoryStore
	coord   *Coordinator
}

func newFixture(t *testing.T, withCreds bool) *fixture {
	t.Helper()
	f := &fixture{
		adapter: &marketplace.StubAdapter{Name: "OZON"},
		ledger:  ledger.NewMemoryRepository(),
		cps:     checkpoint.NewMemoryStore(),
		creds:   credentials.NewMemoryStore(),
	}
	if withCreds {
		require.NoError(t, f.creds.Save(context.Background(), &credentials.Credentials{
			CompanyID: "company-1", Marketplace: "OZON", ClientID: "id", Secret: "key", Active: true,
		}))
	}
	policy := retry.NewPolicy("OZON", retry.OzonClassification(), retry.Config{
		MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2,
	}, zap.NewNop())
	f.coord = New(f.adapter, f.ledger, f.cps, f.creds, policy, nil, nil, zap.NewNop())
	return f
}

func syncRequest(n int) event.StockSyncRequest {
	req := event.StockSyncRequest{
		RequestID: "req-1",
		CompanyID: "company-1",
		OfferID:   "SKU1",
		SKU:       "sku-1",
		Quantity:  10,
	}
	for i := 0; i < n; i++ {
		req.Warehouses = append(req.Warehouses, event.SyncTarget{
			WarehouseID: "wh-" + string(rune('a'+i)),
			Marketplace: "OZON",
		})
	}
	return req
}

func TestForceSyncAllSuccess(t *testing.T) {
	f := newFixture(t, true)

	resp, err := f.coord.ForceSync(context.Background(), syncRequest(4))
	require.NoError(t, err)
	assert.Equal(t, 4, resp.TotalItems)
	assert.Equal(t, 4, resp.SuccessCount)
	assert.Zero(t, resp.FailedCount)
	assert.Equal(t, "SUCCESS", resp.Status)
	assert.Len(t, f.adapter.Pushes(), 4)

	cp, err := f.coord.LastSyncInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusSuccess, cp.Status)
	assert.Equal(t, 4, cp.ItemsProcessed)
	assert.NotNil(t, cp.LastSyncAt)
}

func TestForceSyncPartialFailure(t *testing.T) {
	f := newFixture(t, true)
	// 10 items, 3 fatal push failures.
	f.adapter.PushErrs = []error{
		&retry.APIError{Code: "UNAUTHORIZED"},
		nil, nil,
		&retry.APIError{Code: "INVALID_ARGUMENT"},
		nil, nil, nil,
		&retry.APIError{Code: "VALIDATION_ERROR"},
		nil, nil,
	}

	resp, err := f.coord.ForceSync(context.Background(), syncRequest(10))
	require.NoError(t, err)
	assert.Equal(t, 10, resp.TotalItems)
	assert.Equal(t, 3, resp.FailedCount)
	assert.Equal(t, 7, resp.SuccessCount)
	assert.Equal(t, "FAILED", resp.Status)
	require.Len(t, resp.Results, 10)

	cp, err := f.coord.LastSyncInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, cp.Status)
	assert.Contains(t, cp.ErrorMessage, "3/10")
}

func TestForceSyncFiltersForeignMarketplaces(t *testing.T) {
	f := newFixture(t, true)
	req := syncRequest(2)
	req.Warehouses = append(req.Warehouses, event.SyncTarget{WarehouseID: "wh-y", Marketplace: "YANDEX"})

	resp, err := f.coord.ForceSync(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalItems)
	assert.Len(t, f.adapter.Pushes(), 2)
}

func TestForceSyncUpdatesLedgerThroughDeltaPath(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, f.ledger.Upsert(context.Background(), &ledger.StockRecord{
		ProductID: "SKU1", Article: "SKU1", WarehouseID: "wh-a", Marketplace: "OZON",
		CompanyID: "company-1", Quantity: 4,
	}))

	req := syncRequest(1)
	resp, err := f.coord.ForceSync(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, resp.SuccessCount)
	assert.Equal(t, int64(4), resp.Results[0].OldQuantity)
	assert.Equal(t, int64(10), resp.Results[0].NewQuantity)

	rec, err := f.ledger.Get(context.Background(), ledger.Key{
		ProductID: "SKU1", WarehouseID: "wh-a", Marketplace: "OZON",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), rec.Quantity)
	assert.Equal(t, ledger.SyncSuccess, rec.SyncStatus)
}

func TestForceSyncWithoutCredentials(t *testing.T) {
	f := newFixture(t, false)

	resp, err := f.coord.ForceSync(context.Background(), syncRequest(3))
	require.NoError(t, err)
	assert.Equal(t, 3, resp.TotalItems)
	assert.Equal(t, 3, resp.FailedCount)
	assert.Equal(t, "FAILED", resp.Status)
	assert.Empty(t, f.adapter.Pushes(), "no call may be attempted with invalid credentials")

	cp, err := f.coord.LastSyncInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, cp.Status)
	assert.Contains(t, cp.ErrorMessage, "credentials")
}

func TestForceSyncCredentialsFailureWithoutTargets(t *testing.T) {
	f := newFixture(t, false)

	resp, err := f.coord.ForceSync(context.Background(), syncRequest(0))
	require.NoError(t, err)
	assert.Zero(t, resp.TotalItems)
	assert.Equal(t, "FAILED", resp.Status, "aborted run must not report success")

	cp, err := f.coord.LastSyncInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusFailed, cp.Status)
	assert.Contains(t, cp.ErrorMessage, "credentials")
}

func TestForceSyncSingleFlight(t *testing.T) {
	f := newFixture(t, true)

	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	blockedCreds := &blockingStore{Store: f.creds, release: release}
	f.coord.creds = blockedCreds

	go func() {
		defer wg.Done()
		_, err := f.coord.ForceSync(context.Background(), syncRequest(1))
		assert.NoError(t, err)
	}()

	require.Eventually(t, f.coord.IsRunning, time.Second, time.Millisecond)

	_, err := f.coord.ForceSync(context.Background(), syncRequest(1))
	assert.ErrorIs(t, err, ErrSyncInProgress)

	close(release)
	wg.Wait()
	assert.False(t, f.coord.IsRunning())
}

func TestLastSyncInfoDefaultsToNeverSynced(t *testing.T) {
	f := newFixture(t, true)

	cp, err := f.coord.LastSyncInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusNeverSynced, cp.Status)
	assert.Nil(t, cp.LastSyncAt)
	assert.Zero(t, cp.ItemsProcessed)
}

// blockingStore parks FindValid until released, keeping a run in progress.
type blockingStore struct {
	credentials.Store
	release chan struct{}
}

func (b *blockingStore) FindValid(ctx context.Context, companyID, marketplace string) (*credentials.Credentials, error) {
	<-b.release
	return b.Store.FindValid(ctx, companyID, marketplace)
}
