// Package requests implements branch supply requests: a branch asks the
// warehouse for items, procurement approves the quantities, the warehouse
// picks and deducts stock, logistics delivers, and the branch confirms
// receipt. Every transition appends a status history row; warehouse stock
// only moves at the fulfillment step.
package requests

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a branch request.
type Status string

const (
	StatusPending             Status = "PENDING"
	StatusRejected            Status = "REJECTED"
	StatusWarehouseProcessing Status = "WAREHOUSE_PROCESSING"
	StatusReadyForDelivery    Status = "READY_FOR_DELIVERY"
	StatusOutForDelivery      Status = "OUT_FOR_DELIVERY"
	StatusDelivered           Status = "DELIVERED"
	StatusCompleted           Status = "COMPLETED"

	// StatusInProcess survives on rows created before delivery tracking
	// split into ready/out-for-delivery. It is only accepted as a source
	// state for marking delivered, never written to new rows.
	StatusInProcess Status = "IN_PROCESS"
)

// Request is one branch supply request.
type Request struct {
	ID           int64          `json:"id"`
	Code         string         `json:"code"`
	BranchID     int64          `json:"branch_id"`
	Status       Status         `json:"status"`
	Note         string         `json:"note"`
	CreatedBy    int64          `json:"created_by"`
	ApprovedBy   int64          `json:"approved_by,omitempty"`
	ApprovedAt   *time.Time     `json:"approved_at,omitempty"`
	RejectReason string         `json:"reject_reason,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	Items        []Line         `json:"items,omitempty"`
	History      []StatusChange `json:"history,omitempty"`
}

// Line is one requested item. Approved and fulfilled quantities stay null
// until the corresponding step runs; rendering falls back to the requested
// quantity for a null approval.
type Line struct {
	ID           int64               `json:"id"`
	RequestID    int64               `json:"request_id"`
	ItemID       int64               `json:"item_id"`
	ItemCode     string              `json:"item_code"`
	ItemName     string              `json:"item_name"`
	VariationID  int64               `json:"variation_id"`
	QtyRequested decimal.Decimal     `json:"qty_requested"`
	QtyApproved  decimal.NullDecimal `json:"qty_approved"`
	QtyFulfilled decimal.NullDecimal `json:"qty_fulfilled"`
}

// EffectiveQty is the quantity the warehouse must fulfill: the approved
// quantity when set and positive, otherwise the requested one.
func (l Line) EffectiveQty() decimal.Decimal {
	if l.QtyApproved.Valid && l.QtyApproved.Decimal.Sign() > 0 {
		return l.QtyApproved.Decimal
	}
	return l.QtyRequested
}

// StatusChange is one status transition record.
type StatusChange struct {
	ID        int64     `json:"id"`
	RequestID int64     `json:"request_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Note      string    `json:"note"`
	ChangedBy int64     `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

// CreateInput describes a new request.
type CreateInput struct {
	BranchID int64
	Note     string
	Lines    []CreateLine
}

// CreateLine is one requested item on creation.
type CreateLine struct {
	ItemID       int64
	VariationID  int64
	QtyRequested decimal.Decimal
}

// Approval overrides the approved quantity for one line. Lines without an
// override default to the requested quantity.
type Approval struct {
	LineID      int64
	QtyApproved decimal.Decimal
}

// ListFilter narrows request listings.
type ListFilter struct {
	BranchIDs []int64
	Status    Status
	Limit     int
	Offset    int
}
