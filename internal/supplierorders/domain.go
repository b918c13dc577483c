// Package supplierorders implements purchase orders to suppliers. Placing
// an order consumes the supplier's confirmed stock pool FIFO; receiving it
// credits the warehouse. Each order carries a portal token a supplier uses
// to view and sign the invoice without an account.
package supplierorders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a supplier order.
type Status string

const (
	StatusDraft             Status = "DRAFT"
	StatusSent              Status = "SENT"
	StatusSigned            Status = "SIGNED"
	StatusConfirmed         Status = "CONFIRMED"
	StatusInProduction      Status = "IN_PRODUCTION"
	StatusReady             Status = "READY"
	StatusPartiallyReceived Status = "PARTIALLY_RECEIVED"
	StatusReceived          Status = "RECEIVED"
	StatusOnHold            Status = "ON_HOLD"
	StatusCancelled         Status = "CANCELLED"
)

// Order is one purchase order.
type Order struct {
	ID             int64      `json:"id"`
	Code           string     `json:"code"`
	SupplierID     int64      `json:"supplier_id"`
	SupplierName   string     `json:"supplier_name,omitempty"`
	Status         Status     `json:"status"`
	HoldAtSupplier bool       `json:"hold_at_supplier"`
	DeliveryDate   *time.Time `json:"requested_delivery_date,omitempty"`
	EmailSentAt    *time.Time `json:"email_sent_at,omitempty"`
	CreatedBy      int64      `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Items          []Line     `json:"items,omitempty"`
}

// Line is one ordered item. The unit price is a snapshot taken when the
// order was placed; later supplier price changes never touch it.
type Line struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ItemID      int64           `json:"item_id"`
	ItemCode    string          `json:"item_code"`
	ItemName    string          `json:"item_name"`
	VariationID int64           `json:"variation_id"`
	QtyOrdered  decimal.Decimal `json:"qty_ordered"`
	QtyReceived decimal.Decimal `json:"qty_received"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// PortalToken grants unauthenticated access to one order. The expiry is
// recorded but not enforced; suppliers keep signing late.
type PortalToken struct {
	ID         int64      `json:"id"`
	Token      string     `json:"token"`
	SupplierID int64      `json:"supplier_id"`
	OrderID    int64      `json:"order_id"`
	ExpiresAt  time.Time  `json:"expires_at"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Signature is the supplier's invoice signature, at most one per order.
type Signature struct {
	ID            int64     `json:"id"`
	OrderID       int64     `json:"order_id"`
	SignerName    string    `json:"signer_name"`
	SignatureData string    `json:"signature_data,omitempty"`
	SignedAt      time.Time `json:"signed_at"`
	TokenID       int64     `json:"token_id,omitempty"`
}

// SupplierStockRow is one confirmed batch of goods sitting at a supplier.
// Order placement consumes these oldest first.
type SupplierStockRow struct {
	ID            int64           `json:"id"`
	SupplierID    int64           `json:"supplier_id"`
	ItemID        int64           `json:"item_id"`
	ItemCode      string          `json:"item_code"`
	ItemName      string          `json:"item_name"`
	VariationID   int64           `json:"variation_id"`
	Qty           decimal.Decimal `json:"qty"`
	ItemRequestID int64           `json:"item_request_id,omitempty"`
	ConfirmedBy   int64           `json:"confirmed_by"`
	ConfirmedAt   time.Time       `json:"confirmed_at"`
	Note          string          `json:"note,omitempty"`
}

// PlaceInput describes a new order.
type PlaceInput struct {
	SupplierID     int64
	HoldAtSupplier bool
	DeliveryDate   *time.Time
	Lines          []PlaceLine
}

// PlaceLine is one line of a new order. UnitPrice comes from the request
// payload and is stored as-is.
type PlaceLine struct {
	ItemID      int64
	VariationID int64
	Qty         decimal.Decimal
	UnitPrice   decimal.Decimal
}

// ListFilter narrows order listings.
type ListFilter struct {
	SupplierID int64
	Status     Status
	Limit      int
	Offset     int
}

// PortalView is what a supplier sees through their token link.
type PortalView struct {
	Order     Order      `json:"order"`
	Signature *Signature `json:"signature,omitempty"`
}
