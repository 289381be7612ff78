// Package event defines the records exchanged over the message transport.
package event

import "time"

// EventType identifies the order lifecycle transition that produced an event.
type EventType string

const (
	OrderCreated   EventType = "ORDER_CREATED"
	OrderCancelled EventType = "ORDER_CANCELLED"
)

// ChangeReason explains why a stock quantity moved.
type ChangeReason string

const (
	ReasonOrderCreated   ChangeReason = "ORDER_CREATED"
	ReasonOrderCancelled ChangeReason = "ORDER_CANCELLED"
	ReasonManualUpdate   ChangeReason = "MANUAL_UPDATE"
	ReasonSyncUpdate     ChangeReason = "SYNC_UPDATE"
)

// OrderItem is a line item within an order.
type OrderItem struct {
	OfferID  string  `json:"offer_id"`
	Quantity int64   `json:"quantity"`
	Price    float64 `json:"price"`
}

// OrderEvent is published on the order-events topic, keyed by posting number.
// It is immutable once published and may be delivered more than once;
// consumers dedup on (PostingNumber, EventType).
type OrderEvent struct {
	PostingNumber string      `json:"posting_number"`
	EventType     EventType   `json:"event_type"`
	CompanyID     string      `json:"company_id"`
	WarehouseID   string      `json:"warehouse_id"`
	Market        string      `json:"market"`
	Items         []OrderItem `json:"items"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

// StockChangeEvent is published on the stock-events topic, keyed by article,
// whenever the ledger mutates. OriginMarket carries the marketplace the
// mutation is attributed to; adapters drop events originating from
// themselves to break feedback loops.
type StockChangeEvent struct {
	Article      string       `json:"article"`
	ProductID    string       `json:"product_id"`
	WarehouseID  string       `json:"warehouse_id"`
	CompanyID    string       `json:"company_id"`
	OldQuantity  int64        `json:"old_quantity"`
	NewQuantity  int64        `json:"new_quantity"`
	ChangeReason ChangeReason `json:"change_reason"`
	OriginMarket string       `json:"origin_market"`
	SourceSystem string       `json:"source_system"`
	SourceID     string       `json:"source_id"`
	OccurredAt   time.Time    `json:"occurred_at"`
}

// ChangeContext carries mutation attribution explicitly through call sites.
type ChangeContext struct {
	OriginMarket string
	SourceSystem string
	SourceID     string
}

// SyncTarget addresses one warehouse within a bulk sync request. Marketplace
// tags let a single request fan out across adapters; each coordinator
// processes only the targets addressed to its own marketplace.
type SyncTarget struct {
	WarehouseID   string `json:"warehouse_id"`
	Marketplace   string `json:"marketplace"`
	WarehouseType string `json:"warehouse_type"`
}

// StockSyncRequest asks a coordinator to push an absolute quantity for one
// offer to a set of warehouses.
type StockSyncRequest struct {
	RequestID  string       `json:"request_id"`
	CompanyID  string       `json:"company_id"`
	OfferID    string       `json:"offer_id"`
	SKU        string       `json:"sku"`
	Quantity   int64        `json:"quantity"`
	Warehouses []SyncTarget `json:"warehouses"`
}

// ItemStatus is the per-item outcome of a bulk sync.
type ItemStatus string

const (
	ItemSuccess ItemStatus = "SUCCESS"
	ItemFailed  ItemStatus = "FAILED"
)

// StockSyncItemResult is the outcome of a single offer/warehouse push.
type StockSyncItemResult struct {
	OfferID     string     `json:"offer_id"`
	SKU         string     `json:"sku"`
	WarehouseID string     `json:"warehouse_id"`
	Status      ItemStatus `json:"status"`
	OldQuantity int64      `json:"old_quantity"`
	NewQuantity int64      `json:"new_quantity"`
	Error       string     `json:"error,omitempty"`
}

// StockSyncResponse aggregates per-item outcomes of a bulk sync run. A
// response is produced even when every item failed.
type StockSyncResponse struct {
	RequestID    string                `json:"request_id"`
	Marketplace  string                `json:"marketplace"`
	Status       string                `json:"status"`
	TotalItems   int                   `json:"total_items"`
	SuccessCount int                   `json:"success_count"`
	FailedCount  int                   `json:"failed_count"`
	Results      []StockSyncItemResult `json:"results"`
	CompletedAt  time.Time             `json:"completed_at"`
}
