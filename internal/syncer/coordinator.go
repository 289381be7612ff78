// Package syncer runs on-demand bulk stock re-synchronization for one
// marketplace and reports per-item outcomes.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marketsync/stock-reconciler/internal/checkpoint"
	"github.com/marketsync/stock-reconciler/internal/credentials"
	"github.com/marketsync/stock-reconciler/internal/event"
	"github.com/marketsync/stock-reconciler/internal/ledger"
	"github.com/marketsync/stock-reconciler/internal/marketplace"
	"github.com/marketsync/stock-reconciler/internal/retry"
	"github.com/marketsync/stock-reconciler/internal/transport"
	"go.uber.org/zap"
)

// SourceSystem tags stock changes authored by bulk sync runs.
const SourceSystem = "stock-sync"

// ErrSyncInProgress rejects a forceSync while another run is active.
// Concurrent runs would double-count checkpoint state.
var ErrSyncInProgress = errors.New("sync already in progress")

// Coordinator drives bulk stock sync runs for one marketplace adapter.
type Coordinator struct {
	adapter     marketplace.Adapter
	ledger      ledger.Repository
	checkpoints checkpoint.Store
	creds       credentials.Store
	policy      *retry.Policy
	responses   transport.Producer
	changes     transport.Producer
	log         *zap.Logger

	mu      sync.Mutex
	running bool
}

// New creates a Coordinator. The responses and changes producers may be nil
// when the corresponding topics are not wired (tests, CLI runs).
func New(adapter marketplace.Adapter, repo ledger.Repository, checkpoints checkpoint.Store,
	creds credentials.Store, policy *retry.Policy, responses, changes transport.Producer,
	log *zap.Logger) *Coordinator {
	return &Coordinator{
		adapter:     adapter,
		ledger:      repo,
		checkpoints: checkpoints,
		creds:       creds,
		policy:      policy,
		responses:   responses,
		changes:     changes,
		log:         log,
	}
}

func (c *Coordinator) checkpointName() string {
	return c.adapter.Marketplace() + "_STOCK_SYNC"
}

// IsRunning reports whether a run is currently in progress.
func (c *Coordinator) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// LastSyncInfo returns the most recent checkpoint, or NEVER_SYNCED defaults.
func (c *Coordinator) LastSyncInfo(ctx context.Context) (checkpoint.Checkpoint, error) {
	return c.checkpoints.Get(ctx, c.checkpointName())
}

func (c *Coordinator) acquire() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrSyncInProgress
	}
	c.running = true
	return nil
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// ForceSync runs one bulk sync synchronously. A second call while one is in
// progress is rejected with ErrSyncInProgress. A response is produced even
// on total failure.
func (c *Coordinator) ForceSync(ctx context.Context, req event.StockSyncRequest) (*event.StockSyncResponse, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	defer c.release()
	return c.run(ctx, req), nil
}

// StartSync acquires the single-flight slot and runs the sync in the
// background. It returns ErrSyncInProgress when a run is already active.
func (c *Coordinator) StartSync(ctx context.Context, req event.StockSyncRequest) error {
	if err := c.acquire(); err != nil {
		return err
	}
	go func() {
		defer c.release()
		c.run(ctx, req)
	}()
	return nil
}

// HandleRequest is the stock-sync topic consumer.
func (c *Coordinator) HandleRequest(ctx context.Context, msg transport.Message) error {
	var req event.StockSyncRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return fmt.Errorf("failed to decode stock sync request: %w", err)
	}
	_, err := c.ForceSync(ctx, req)
	if errors.Is(err, ErrSyncInProgress) {
		c.log.Warn("dropping sync request, run already in progress",
			zap.String("request_id", req.RequestID))
		return nil
	}
	return err
}

func (c *Coordinator) run(ctx context.Context, req event.StockSyncRequest) *event.StockSyncResponse {
	market := c.adapter.Marketplace()
	runID := uuid.New().String()
	start := time.Now()

	_ = c.checkpoints.Upsert(ctx, checkpoint.Checkpoint{
		Name:   c.checkpointName(),
		Status: checkpoint.StatusInProgress,
	})

	// Requests may address several marketplaces; keep only our targets.
	var targets []event.SyncTarget
	for _, w := range req.Warehouses {
		if strings.EqualFold(w.Marketplace, market) {
			targets = append(targets, w)
		}
	}

	cr, err := c.creds.FindValid(ctx, req.CompanyID, market)
	if err != nil || !cr.IsValid() {
		// Configuration error: abort the whole run, never attempt a call.
		resp := c.failAll(req, targets, "credentials invalid or missing")
		c.finalize(ctx, resp, start, runID, "credentials invalid or missing for company "+req.CompanyID)
		return resp
	}

	results := make([]event.StockSyncItemResult, 0, len(targets))
	for _, target := range targets {
		if ctx.Err() != nil {
			// Stop issuing new pushes; already-dispatched ones have
			// completed because this loop is serial.
			results = append(results, event.StockSyncItemResult{
				OfferID: req.OfferID, SKU: req.SKU, WarehouseID: target.WarehouseID,
				Status: event.ItemFailed, Error: "sync cancelled",
			})
			continue
		}
		results = append(results, c.syncItem(ctx, req, target, runID))
	}

	resp := c.summarize(req, results)
	c.finalize(ctx, resp, start, runID, "")
	return resp
}

func (c *Coordinator) syncItem(ctx context.Context, req event.StockSyncRequest, target event.SyncTarget, runID string) event.StockSyncItemResult {
	market := c.adapter.Marketplace()
	result := event.StockSyncItemResult{
		OfferID:     req.OfferID,
		SKU:         req.SKU,
		WarehouseID: target.WarehouseID,
	}

	key := ledger.Key{ProductID: req.OfferID, WarehouseID: target.WarehouseID, Marketplace: market}
	old := int64(0)
	rec, err := c.ledger.Get(ctx, key)
	switch {
	case errors.Is(err, ledger.ErrRecordNotFound):
		// First observation of this tuple: the sync path creates it.
		if err := c.ledger.Upsert(ctx, &ledger.StockRecord{
			ProductID:   req.OfferID,
			Article:     req.OfferID,
			WarehouseID: target.WarehouseID,
			Marketplace: market,
			CompanyID:   req.CompanyID,
			SyncStatus:  ledger.SyncInProgress,
		}); err != nil {
			result.Status = event.ItemFailed
			result.Error = err.Error()
			return result
		}
	case err != nil:
		result.Status = event.ItemFailed
		result.Error = err.Error()
		return result
	default:
		old = rec.Quantity
	}
	result.OldQuantity = old

	extWarehouse, err := c.adapter.ResolveWarehouse(target.WarehouseID)
	if err != nil {
		result.Status = event.ItemFailed
		result.Error = err.Error()
		_ = c.ledger.SetSyncStatus(ctx, key, ledger.SyncFailed, result.Error)
		return result
	}

	err = c.policy.Do(ctx, "push stock", func(ctx context.Context) error {
		return c.adapter.PushStock(ctx, req.OfferID, req.Quantity, extWarehouse)
	})
	if err != nil {
		result.Status = event.ItemFailed
		result.Error = err.Error()
		result.NewQuantity = old
		_ = c.ledger.SetSyncStatus(ctx, key, ledger.SyncFailed, result.Error)
		return result
	}

	// Ledger follows through the delta path; absolute writes are not
	// independently orderable across sources.
	res, err := c.ledger.ApplyDelta(ctx, key, req.Quantity-old, "")
	if err != nil {
		result.Status = event.ItemFailed
		result.Error = err.Error()
		return result
	}
	_ = c.ledger.SetSyncStatus(ctx, key, ledger.SyncSuccess, "")

	result.Status = event.ItemSuccess
	result.NewQuantity = res.New
	c.emitChange(ctx, req, target, res, runID)
	return result
}

func (c *Coordinator) emitChange(ctx context.Context, req event.StockSyncRequest, target event.SyncTarget, res ledger.DeltaResult, runID string) {
	if c.changes == nil || res.Old == res.New {
		return
	}
	change := event.StockChangeEvent{
		Article:      req.OfferID,
		ProductID:    req.OfferID,
		WarehouseID:  target.WarehouseID,
		CompanyID:    req.CompanyID,
		OldQuantity:  res.Old,
		NewQuantity:  res.New,
		ChangeReason: event.ReasonSyncUpdate,
		OriginMarket: c.adapter.Marketplace(),
		SourceSystem: SourceSystem,
		SourceID:     runID,
		OccurredAt:   time.Now(),
	}
	payload, err := json.Marshal(change)
	if err != nil {
		c.log.Error("failed to serialize stock change event", zap.Error(err))
		return
	}
	if err := c.changes.Publish(ctx, []byte(change.Article), payload); err != nil {
		c.log.Error("failed to publish stock change event",
			zap.String("article", change.Article), zap.Error(err))
	}
}

func (c *Coordinator) failAll(req event.StockSyncRequest, targets []event.SyncTarget, reason string) *event.StockSyncResponse {
	results := make([]event.StockSyncItemResult, 0, len(targets))
	for _, target := range targets {
		results = append(results, event.StockSyncItemResult{
			OfferID:     req.OfferID,
			SKU:         req.SKU,
			WarehouseID: target.WarehouseID,
			Status:      event.ItemFailed,
			Error:       reason,
		})
	}
	resp := c.summarize(req, results)
	// A run-level abort is a failure even when no targets matched.
	resp.Status = string(checkpoint.StatusFailed)
	return resp
}

func (c *Coordinator) summarize(req event.StockSyncRequest, results []event.StockSyncItemResult) *event.StockSyncResponse {
	resp := &event.StockSyncResponse{
		RequestID:   req.RequestID,
		Marketplace: c.adapter.Marketplace(),
		TotalItems:  len(results),
		Results:     results,
		CompletedAt: time.Now(),
	}
	for _, r := range results {
		if r.Status == event.ItemSuccess {
			resp.SuccessCount++
		} else {
			resp.FailedCount++
		}
	}
	if resp.FailedCount == 0 {
		resp.Status = string(checkpoint.StatusSuccess)
	} else {
		resp.Status = string(checkpoint.StatusFailed)
	}
	return resp
}

func (c *Coordinator) finalize(ctx context.Context, resp *event.StockSyncResponse, start time.Time, runID, runError string) {
	now := time.Now()
	status := checkpoint.StatusSuccess
	errMsg := runError
	if runError != "" {
		status = checkpoint.StatusFailed
	}
	if resp.FailedCount > 0 {
		status = checkpoint.StatusFailed
		if errMsg == "" {
			errMsg = fmt.Sprintf("%d/%d items failed", resp.FailedCount, resp.TotalItems)
		}
	}
	if err := c.checkpoints.Upsert(ctx, checkpoint.Checkpoint{
		Name:           c.checkpointName(),
		LastSyncAt:     &now,
		LastEntityID:   runID,
		ItemsProcessed: resp.TotalItems,
		DurationMs:     now.Sub(start).Milliseconds(),
		Status:         status,
		ErrorMessage:   errMsg,
	}); err != nil {
		c.log.Error("failed to persist sync checkpoint", zap.Error(err))
	}

	if c.responses != nil {
		payload, err := json.Marshal(resp)
		if err != nil {
			c.log.Error("failed to serialize sync response", zap.Error(err))
			return
		}
		if err := c.responses.Publish(ctx, []byte(resp.Marketplace), payload); err != nil {
			c.log.Error("failed to publish sync response", zap.Error(err))
		}
	}

	c.log.Info("bulk stock sync finished",
		zap.String("marketplace", resp.Marketplace),
		zap.String("run_id", runID),
		zap.Int("total", resp.TotalItems),
		zap.Int("success", resp.SuccessCount),
		zap.Int("failed", resp.FailedCount),
		zap.String("status", string(status)))
}
