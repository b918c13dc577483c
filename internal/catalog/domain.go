// Package catalog holds the master data the workflows operate on: brands and
// their branches, base units, warehouse items with variations, supplier
// categories, suppliers and the items each supplier offers.
package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Brand is a restaurant brand. Branches belong to exactly one brand.
type Brand struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Branch is a single restaurant location.
type Branch struct {
	ID        int64     `json:"id"`
	BrandID   int64     `json:"brand_id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// BaseUnit is a unit of measure, e.g. pcs, kg, box.
type BaseUnit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Item is a warehouse-stocked item. Codes are generated as ITM-0001,
// ITM-0002 and so on. Deactivation is a soft delete: inactive items keep
// their ledger history and code but stop appearing in pickers.
type Item struct {
	ID          int64               `json:"id"`
	Code        string              `json:"code"`
	Name        string              `json:"name"`
	BrandID     int64               `json:"brand_id"`
	BaseUnitID  int64               `json:"base_unit_id"`
	MinStockQty decimal.Decimal     `json:"min_stock_qty"`
	MinOrderQty decimal.Decimal     `json:"min_order_qty"`
	UnitPrice   decimal.NullDecimal `json:"unit_price"`
	IsActive    bool                `json:"is_active"`
	BranchIDs   []int64             `json:"branch_ids"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// Variation is a named variant of an item, e.g. a size or flavour. Stock is
// tracked per (item, variation).
type Variation struct {
	ID       int64  `json:"id"`
	ItemID   int64  `json:"item_id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// SupplierCategory groups suppliers and drives the code prefix of their
// items.
type SupplierCategory struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Supplier is an external vendor.
type Supplier struct {
	ID         int64     `json:"id"`
	CategoryID int64     `json:"category_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Address    string    `json:"address"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// SupplierItem is one orderable line in a supplier's offering, always linked
// to the warehouse item it stocks. Its code is generated from the supplier's
// category prefix, e.g. PKG-0001. A variation id of zero means the offering
// covers the plain item.
type SupplierItem struct {
	ID           int64           `json:"id"`
	SupplierID   int64           `json:"supplier_id"`
	ItemID       int64           `json:"item_id"`
	VariationID  int64           `json:"variation_id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	MinOrderQty  decimal.Decimal `json:"min_order_qty"`
	LeadTimeDays int             `json:"lead_time_days"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
}

// SupplierItemInput describes a new supplier offering. When ItemID is zero
// the warehouse item is resolved by name among active items, and created
// under the category prefix when no match exists; the item-prefixed fields
// only apply to that creation.
type SupplierItemInput struct {
	SupplierID   int64
	ItemID       int64
	VariationID  int64
	Name         string
	UnitPrice    decimal.Decimal
	MinOrderQty  decimal.Decimal
	LeadTimeDays int

	ItemBrandID     int64
	ItemBaseUnitID  int64
	ItemMinStockQty decimal.Decimal
}

// ListFilter narrows catalog listings.
type ListFilter struct {
	Search     string
	BrandID    int64
	BranchID   int64
	SupplierID int64
	CategoryID int64
	ActiveOnly bool
	Limit      int
	Offset     int
}
