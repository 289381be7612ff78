// Package api exposes the operator HTTP endpoints of a marketplace adapter
// service.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/marketsync/stock-reconciler/internal/checkpoint"
	"github.com/marketsync/stock-reconciler/internal/event"
	"github.com/marketsync/stock-reconciler/internal/syncer"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// SyncService is the coordinator surface the API depends on.
type SyncService interface {
	StartSync(ctx context.Context, req event.StockSyncRequest) error
	LastSyncInfo(ctx context.Context) (checkpoint.Checkpoint, error)
	IsRunning() bool
}

// BackfillService drives historical order backfills.
type BackfillService interface {
	Run(ctx context.Context, from, to time.Time, pageSize int) (int, error)
}

// Handler contains the HTTP handlers.
type Handler struct {
	serviceName string
	sync        SyncService
	backfill    BackfillService
	tracer      trace.Tracer
	log         *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(serviceName string, sync SyncService, backfill BackfillService, tracer trace.Tracer, log *zap.Logger) *Handler {
	return &Handler{serviceName: serviceName, sync: sync, backfill: backfill, tracer: tracer, log: log}
}

// ForceSync triggers a bulk stock sync run in the background.
func (h *Handler) ForceSync(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "force_sync")
	defer span.End()

	var req event.StockSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("offer_id", req.OfferID),
		attribute.Int("warehouses", len(req.Warehouses)),
	)

	err := h.sync.StartSync(context.WithoutCancel(ctx), req)
	if errors.Is(err, syncer.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": string(checkpoint.StatusInProgress)})
		return
	}
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": string(checkpoint.StatusInProgress)})
}

// SyncStatus returns the last checkpoint snapshot, or NEVER_SYNCED defaults
// for a fresh store. A running sync reports IN_PROGRESS with no error.
func (h *Handler) SyncStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "sync_status")
	defer span.End()

	cp, err := h.sync.LastSyncInfo(ctx)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          cp.Status,
		"last_sync_at":    cp.LastSyncAt,
		"items_processed": cp.ItemsProcessed,
		"duration_ms":     cp.DurationMs,
		"error_message":   cp.ErrorMessage,
		"running":         h.sync.IsRunning(),
	})
}

type backfillRequest struct {
	From time.Time `json:"from" binding:"required"`
	To   time.Time `json:"to" binding:"required"`
}

// OrdersBackfill replays a historical date range of orders into the order
// event pipeline and reports how many were processed.
func (h *Handler) OrdersBackfill(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "orders_backfill")
	defer span.End()

	var req backfillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.To.After(req.From) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'to' must be after 'from'"})
		return
	}

	pageSize, err := strconv.Atoi(c.DefaultQuery("pageSize", "50"))
	if err != nil || pageSize <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pageSize must be a positive integer"})
		return
	}

	span.SetAttributes(
		attribute.String("from", req.From.Format(time.RFC3339)),
		attribute.String("to", req.To.Format(time.RFC3339)),
		attribute.Int("page_size", pageSize),
	)

	processed, err := h.backfill.Run(ctx, req.From, req.To, pageSize)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "processed": processed})
		return
	}

	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

// HealthCheck reports service liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": h.serviceName,
	})
}
