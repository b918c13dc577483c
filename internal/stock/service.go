package stock

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/shared"
)

// RepositoryPort abstracts repository usage for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBalance(ctx context.Context, itemID, variationID, locationID int64) (Balance, error)
	ListLedger(ctx context.Context, filter LedgerFilter) ([]Entry, error)
	LedgerSum(ctx context.Context, itemID, variationID, locationID int64) (decimal.Decimal, error)
	LowStock(ctx context.Context, warehouseID int64) ([]LowStockRow, error)
	Warehouse(ctx context.Context) (Location, error)
}

// Service coordinates direct stock operations: manual adjustments and the
// read-side queries. Workflow deductions (request fulfillment, order receipt)
// run inside their own modules' transactions through Tx.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// PostAdjustment records a manual damage or variance adjustment against the
// warehouse. Negative quantities debit stock through the conditional guard,
// so a concurrent depletion surfaces as an insufficiency, never a negative
// balance.
func (s *Service) PostAdjustment(ctx context.Context, actor shared.Actor, input AdjustmentInput) error {
	if !actor.CanFulfill() {
		return shared.ErrForbidden
	}
	if input.ItemID == 0 {
		return shared.Validationf("item is required")
	}
	if input.Qty.IsZero() {
		return shared.Validationf("quantity must be non-zero")
	}
	reason := ReasonAdjustmentVariance
	if input.Kind == AdjustmentDamage {
		reason = ReasonAdjustmentDamage
	}
	ref := AdjustmentRef(uuid.NewString())
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		warehouse, err := tx.EnsureWarehouse(ctx)
		if err != nil {
			return err
		}
		entry := Entry{
			ItemID:      input.ItemID,
			VariationID: input.VariationID,
			QtyChange:   input.Qty,
			Reason:      reason,
			Ref:         ref,
			Note:        input.Note,
			CreatedBy:   actor.UserID,
		}
		if input.Qty.Sign() > 0 {
			entry.ToLocationID = warehouse.ID
			if err := tx.Credit(ctx, input.ItemID, input.VariationID, warehouse.ID, input.Qty); err != nil {
				return err
			}
		} else {
			entry.FromLocationID = warehouse.ID
			debit := input.Qty.Neg()
			if err := tx.Debit(ctx, input.ItemID, input.VariationID, warehouse.ID, debit); err != nil {
				if err == ErrInsufficient {
					available := decimal.Zero
					if bal, balErr := tx.GetBalance(ctx, input.ItemID, input.VariationID, warehouse.ID); balErr == nil {
						available = bal.QtyOnHand
					}
					return &shared.InsufficiencyError{Shortfalls: []shared.Shortfall{{
						ItemID:      input.ItemID,
						VariationID: input.VariationID,
						Required:    debit,
						Available:   available,
					}}}
				}
				return err
			}
		}
		return tx.InsertEntry(ctx, entry)
	})
}

// Balance returns the current balance for a key.
func (s *Service) Balance(ctx context.Context, itemID, variationID, locationID int64) (Balance, error) {
	return s.repo.GetBalance(ctx, itemID, variationID, locationID)
}

// Ledger lists ledger entries.
func (s *Service) Ledger(ctx context.Context, filter LedgerFilter) ([]Entry, error) {
	return s.repo.ListLedger(ctx, filter)
}

// LowStock lists items below their minimum stock threshold at the warehouse.
func (s *Service) LowStock(ctx context.Context) ([]LowStockRow, error) {
	warehouse, err := s.repo.Warehouse(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.LowStock(ctx, warehouse.ID)
}

// VerifyBalance checks the ledger invariant for one key: the sum of signed
// deltas must equal the stored balance. It returns both sides for reporting.
func (s *Service) VerifyBalance(ctx context.Context, itemID, variationID, locationID int64) (ledger, balance decimal.Decimal, ok bool, err error) {
	ledger, err = s.repo.LedgerSum(ctx, itemID, variationID, locationID)
	if err != nil {
		return
	}
	bal, err := s.repo.GetBalance(ctx, itemID, variationID, locationID)
	if err != nil {
		if err == ErrBalanceNotFound {
			err = nil
			balance = decimal.Zero
			ok = ledger.IsZero()
			return
		}
		return
	}
	balance = bal.QtyOnHand
	ok = ledger.Equal(balance)
	return
}
