// Package consumption implements the branch packaging consumption engine.
// Rules map external product names onto warehouse items with multipliers;
// an uploaded sales sheet deducts packaging from what has been delivered to
// the branch. Availability is always derived from the underlying facts,
// never kept as a running counter.
package consumption

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source tags where a consumption record came from.
type Source string

const (
	SourcePackagingCSV Source = "PACKAGING_CSV"
	SourceFoodics      Source = "FOODICS"
)

// Rule maps one external product name to the items it consumes. Product
// names match parsed rows exactly, case sensitive.
type Rule struct {
	ID          int64      `json:"id"`
	BranchID    int64      `json:"branch_id"`
	ProductName string     `json:"product_name"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Items       []RuleItem `json:"items"`
}

// RuleItem is one item consumed per unit of the rule's product. A
// non-positive multiplier is treated as 1 at deduction time.
type RuleItem struct {
	ID         int64           `json:"id"`
	RuleID     int64           `json:"rule_id"`
	ItemID     int64           `json:"item_id"`
	ItemCode   string          `json:"item_code,omitempty"`
	ItemName   string          `json:"item_name,omitempty"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// RuleInput describes a rule to save. Saving replaces the rule's items
// wholesale.
type RuleInput struct {
	ProductName string
	Items       []RuleItemInput
}

// RuleItemInput is one item mapping of a rule being saved.
type RuleItemInput struct {
	ItemID     int64
	Multiplier decimal.Decimal
}

// DailyRow is one accumulated consumption record for
// (date, branch, item, variation, source).
type DailyRow struct {
	ID          int64           `json:"id"`
	Date        time.Time       `json:"date"`
	BranchID    int64           `json:"branch_id"`
	ItemID      int64           `json:"item_id"`
	VariationID int64           `json:"variation_id"`
	QtyConsumed decimal.Decimal `json:"qty_consumed"`
	Source      Source          `json:"source"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AvailabilityRow reports what a branch can still consume of one item:
// everything delivered minus everything recorded as consumed. A negative
// value is reported as-is, it signals bad upstream data.
type AvailabilityRow struct {
	ItemID      int64           `json:"item_id"`
	ItemCode    string          `json:"item_code,omitempty"`
	VariationID int64           `json:"variation_id"`
	Delivered   decimal.Decimal `json:"delivered"`
	Consumed    decimal.Decimal `json:"consumed"`
	Available   decimal.Decimal `json:"available"`
}

// ParsedRow is one deduplicated row from an uploaded sheet. Only Product
// and Qty drive the deduction; the rest is carried for display.
type ParsedRow struct {
	Product            string          `json:"product"`
	Qty                decimal.Decimal `json:"qty"`
	Sales              string          `json:"sales,omitempty"`
	Popularity         string          `json:"popularity,omitempty"`
	PopularityCategory string          `json:"popularity_category,omitempty"`
}

// ApplyResult reports an applied deduction run. Unmatched products are
// warnings, not failures; the matched rows were deducted.
type ApplyResult struct {
	Date      time.Time     `json:"date"`
	BranchID  int64         `json:"branch_id"`
	Applied   []AppliedItem `json:"applied"`
	Unmatched []string      `json:"unmatched,omitempty"`
}

// AppliedItem is one item deducted by a run.
type AppliedItem struct {
	ItemID      int64           `json:"item_id"`
	ItemCode    string          `json:"item_code,omitempty"`
	QtyConsumed decimal.Decimal `json:"qty_consumed"`
}

// Draft is a parsed upload staged while the operator maps its products to
// rules. Kept in redis under branch, user and upload id with a TTL.
type Draft struct {
	UploadID  string      `json:"upload_id"`
	BranchID  int64       `json:"branch_id"`
	UserID    int64       `json:"user_id"`
	Rows      []ParsedRow `json:"rows"`
	CreatedAt time.Time   `json:"created_at"`
}
