// Package marketplace holds the per-marketplace API adapters. The adapter is
// the only component that differs per marketplace; everything upstream
// composes against the capability interface.
package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/marketsync/stock-reconciler/internal/event"
)

// Warehouse is a marketplace warehouse as reported by the external API.
type Warehouse struct {
	ExternalID string
	Name       string
}

// ExternalOrder is one order fetched from a marketplace, already reduced to
// the fields the reconciliation pipeline needs.
type ExternalOrder struct {
	PostingNumber string
	CreatedAt     time.Time
	WarehouseID   string
	Items         []event.OrderItem
}

// Adapter is the marketplace capability interface: outbound stock pushes and
// inbound order/warehouse listings. Implementations translate internal
// warehouse ids to external ones and surface API error codes for retry
// classification. PushStock sets an absolute quantity and must be treated as
// last-value-wins by callers.
type Adapter interface {
	// Marketplace returns the adapter identity (e.g. "OZON").
	Marketplace() string

	// ListOrders fetches one page of orders in a date range.
	ListOrders(ctx context.Context, from, to time.Time, page, pageSize int) ([]ExternalOrder, error)

	// ListWarehouses fetches the marketplace warehouses.
	ListWarehouses(ctx context.Context) ([]Warehouse, error)

	// PushStock sets an offer's stock to an absolute quantity at an
	// external warehouse id.
	PushStock(ctx context.Context, offerID string, quantity int64, externalWarehouseID string) error

	// ResolveWarehouse translates an internal warehouse id to the
	// marketplace's own id.
	ResolveWarehouse(internalID string) (string, error)

	// TestConnection verifies credentials against a cheap endpoint.
	TestConnection(ctx context.Context) error
}

// ErrUnmappedWarehouse wraps warehouse ids with no external mapping.
func ErrUnmappedWarehouse(marketplace, internalID string) error {
	return fmt.Errorf("no %s warehouse mapping for internal id %s", marketplace, internalID)
}
