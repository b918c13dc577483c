package stock

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// LocationType distinguishes the central warehouse from supplier-hold
// locations.
type LocationType string

const (
	// LocationWarehouse is the single central stocking location.
	LocationWarehouse LocationType = "WAREHOUSE"
	// LocationSupplierHold represents stock a supplier has produced but not
	// yet shipped. One per supplier, created lazily.
	LocationSupplierHold LocationType = "SUPPLIER_HOLD"
)

// Location is a physical or virtual place stock can sit.
type Location struct {
	ID         int64
	Type       LocationType
	SupplierID int64 // zero for the warehouse
	Name       string
	CreatedAt  time.Time
}

// Reason enumerates why a ledger entry exists.
type Reason string

const (
	ReasonDeliveryReceived    Reason = "DELIVERY_RECEIVED"
	ReasonRequestFulfillment  Reason = "REQUEST_FULFILLMENT"
	ReasonAdjustmentDamage    Reason = "ADJUSTMENT_DAMAGE"
	ReasonAdjustmentVariance  Reason = "ADJUSTMENT_VARIANCE"
	ReasonSupplierToWarehouse Reason = "TRANSFER_SUPPLIER_TO_WAREHOUSE"
	ReasonOther               Reason = "OTHER"
)

// RefKind tags the workflow entity that caused a ledger entry.
type RefKind string

const (
	RefRequest       RefKind = "REQUEST"
	RefSupplierOrder RefKind = "SUPPLIER_ORDER"
	RefAdjustment    RefKind = "ADJUSTMENT"
	RefImport        RefKind = "IMPORT"
)

// Reference is a tagged pointer to the entity that caused a stock movement.
type Reference struct {
	Kind RefKind `json:"kind"`
	ID   string  `json:"id"`
}

// RequestRef builds a reference to a branch request.
func RequestRef(code string) Reference {
	return Reference{Kind: RefRequest, ID: code}
}

// SupplierOrderRef builds a reference to a supplier order.
func SupplierOrderRef(id int64) Reference {
	return Reference{Kind: RefSupplierOrder, ID: fmt.Sprintf("%d", id)}
}

// AdjustmentRef builds a reference to a manual adjustment.
func AdjustmentRef(id string) Reference {
	return Reference{Kind: RefAdjustment, ID: id}
}

// ImportRef builds a reference to an import run.
func ImportRef(id string) Reference {
	return Reference{Kind: RefImport, ID: id}
}

// Balance is the current quantity on hand for (item, variation, location).
// A variation id of zero means the item has no variation. Balances are never
// deleted; the quantity may reach zero but never goes negative.
type Balance struct {
	ID          int64           `json:"id"`
	ItemID      int64           `json:"item_id"`
	VariationID int64           `json:"variation_id"`
	LocationID  int64           `json:"location_id"`
	QtyOnHand   decimal.Decimal `json:"qty_on_hand"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Entry is one immutable stock ledger row. The sum of deltas for an
// (item, variation, location) since inception equals the current balance.
type Entry struct {
	ID             int64           `json:"id"`
	ItemID         int64           `json:"item_id"`
	VariationID    int64           `json:"variation_id"`
	FromLocationID int64           `json:"from_location_id"` // zero when the stock did not leave a tracked location
	ToLocationID   int64           `json:"to_location_id"`   // zero when the stock did not arrive at a tracked location
	QtyChange      decimal.Decimal `json:"qty_change"`
	Reason         Reason          `json:"reason"`
	Ref            Reference       `json:"ref"`
	Note           string          `json:"note"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
}

// AdjustmentKind selects the ledger reason for a manual adjustment.
type AdjustmentKind string

const (
	AdjustmentDamage   AdjustmentKind = "DAMAGE"
	AdjustmentVariance AdjustmentKind = "VARIANCE"
)

// AdjustmentInput describes a manual warehouse adjustment.
type AdjustmentInput struct {
	ItemID      int64
	VariationID int64
	Qty         decimal.Decimal // signed; negative removes stock
	Kind        AdjustmentKind
	Note        string
}

// LedgerFilter narrows ledger listings.
type LedgerFilter struct {
	ItemID      int64
	VariationID int64
	LocationID  int64
	From        time.Time
	To          time.Time
	Limit       int
}

// LowStockRow reports an item whose warehouse balance fell below its
// minimum stock quantity.
type LowStockRow struct {
	ItemID      int64           `json:"item_id"`
	ItemCode    string          `json:"item_code"`
	ItemName    string          `json:"item_name"`
	QtyOnHand   decimal.Decimal `json:"qty_on_hand"`
	MinStockQty decimal.Decimal `json:"min_stock_qty"`
}

// ErrBalanceNotFound indicates a missing balance row.
var ErrBalanceNotFound = errors.New("stock: balance not found")

// ErrInsufficient is returned by the guarded debit when the conditional
// update matched no row, meaning the balance would have gone negative.
var ErrInsufficient = errors.New("stock: insufficient quantity on hand")

// ErrInvalidQuantity indicates a zero or malformed quantity.
var ErrInvalidQuantity = errors.New("stock: quantity must be positive")
