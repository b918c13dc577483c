// Package itemrequests implements production requests to suppliers. A
// request asks a supplier to produce goods within a delivery window; no
// invoice is involved, only a notification email. Confirming a request's
// stock copies its lines into the supplier stock pool that order placement
// consumes.
package itemrequests

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an item request.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusNotified     Status = "NOTIFIED"
	StatusInProduction Status = "IN_PRODUCTION"
	StatusReady        Status = "READY"
	StatusMovedToStock Status = "MOVED_TO_STOCK"
	StatusCancelled    Status = "CANCELLED"
)

// ItemRequest is one production request. Codes use the undashed legacy
// form REQ-2026000001 so they never collide with branch request codes.
type ItemRequest struct {
	ID              int64      `json:"id"`
	Code            string     `json:"code"`
	SupplierID      int64      `json:"supplier_id"`
	SupplierName    string     `json:"supplier_name,omitempty"`
	Status          Status     `json:"status"`
	DeliveryDaysMin int        `json:"delivery_days_min"`
	DeliveryDaysMax int        `json:"delivery_days_max"`
	Note            string     `json:"note,omitempty"`
	EmailSentAt     *time.Time `json:"email_sent_at,omitempty"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Items           []Line     `json:"items,omitempty"`
}

// Line is one requested item.
type Line struct {
	ID          int64           `json:"id"`
	RequestID   int64           `json:"request_id"`
	ItemID      int64           `json:"item_id"`
	ItemCode    string          `json:"item_code"`
	ItemName    string          `json:"item_name"`
	VariationID int64           `json:"variation_id"`
	Qty         decimal.Decimal `json:"qty"`
}

// CreateInput describes a new item request.
type CreateInput struct {
	SupplierID      int64
	DeliveryDaysMin int
	DeliveryDaysMax int
	Note            string
	Lines           []CreateLine
}

// CreateLine is one line of a new item request.
type CreateLine struct {
	ItemID      int64
	VariationID int64
	Qty         decimal.Decimal
}

// StockRow is one supplier stock pool entry, with its source request code
// when the entry came from a confirmed item request.
type StockRow struct {
	ID           int64           `json:"id"`
	SupplierID   int64           `json:"supplier_id"`
	SupplierName string          `json:"supplier_name"`
	ItemID       int64           `json:"item_id"`
	ItemCode     string          `json:"item_code"`
	ItemName     string          `json:"item_name"`
	VariationID  int64           `json:"variation_id"`
	Qty          decimal.Decimal `json:"qty"`
	RequestID    int64           `json:"request_id,omitempty"`
	RequestCode  string          `json:"request_code,omitempty"`
	ConfirmedBy  int64           `json:"confirmed_by"`
	ConfirmedAt  time.Time       `json:"confirmed_at"`
	Note         string          `json:"note,omitempty"`
}

// PendingRow reports quantity a supplier still owes on open orders, the
// sum of qty_ordered minus qty_received over orders that are neither
// received nor cancelled.
type PendingRow struct {
	SupplierID  int64           `json:"supplier_id"`
	ItemID      int64           `json:"item_id"`
	ItemCode    string          `json:"item_code"`
	ItemName    string          `json:"item_name"`
	VariationID int64           `json:"variation_id"`
	QtyPending  decimal.Decimal `json:"qty_pending"`
}

// StockView combines the pool listing with pending-on-order quantities.
type StockView struct {
	Rows    []StockRow   `json:"rows"`
	Pending []PendingRow `json:"pending"`
}

// ListFilter narrows item request listings.
type ListFilter struct {
	SupplierID int64
	Status     Status
	Limit      int
	Offset     int
}
