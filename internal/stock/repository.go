package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/platform/db"
)

// Repository persists locations, balances and the ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional stock operations used by Service.
// *Tx is the PostgreSQL implementation.
type TxRepository interface {
	EnsureWarehouse(ctx context.Context) (Location, error)
	EnsureSupplierHold(ctx context.Context, supplierID int64, supplierName string) (Location, error)
	GetBalance(ctx context.Context, itemID, variationID, locationID int64) (Balance, error)
	Credit(ctx context.Context, itemID, variationID, locationID int64, qty decimal.Decimal) error
	Debit(ctx context.Context, itemID, variationID, locationID int64, qty decimal.Decimal) error
	InsertEntry(ctx context.Context, e Entry) error
}

// WithTx runs fn inside a repeatable-read transaction, handing it a Tx bound
// to that transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTx(tx))
	})
}

// GetBalance returns the balance for (item, variation, location).
func (r *Repository) GetBalance(ctx context.Context, itemID, variationID, locationID int64) (Balance, error) {
	return scanBalance(r.pool.QueryRow(ctx,
		`SELECT id, item_id, variation_id, location_id, qty_on_hand, updated_at
		   FROM stock_balances
		  WHERE item_id = $1 AND variation_id = $2 AND location_id = $3`,
		itemID, variationID, locationID))
}

// ListLedger returns ledger entries, newest first.
func (r *Repository) ListLedger(ctx context.Context, filter LedgerFilter) ([]Entry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, item_id, variation_id, COALESCE(from_location_id, 0), COALESCE(to_location_id, 0),
		        qty_change, reason, COALESCE(reference_type, ''), COALESCE(reference_id, ''),
		        COALESCE(notes, ''), COALESCE(created_by, 0), created_at
		   FROM stock_ledger
		  WHERE ($1 = 0 OR item_id = $1)
		    AND ($2 = 0 OR variation_id = $2)
		    AND ($3 = 0 OR from_location_id = $3 OR to_location_id = $3)
		    AND ($4::timestamptz IS NULL OR created_at >= $4)
		    AND ($5::timestamptz IS NULL OR created_at <= $5)
		  ORDER BY created_at DESC, id DESC
		  LIMIT $6`,
		filter.ItemID, filter.VariationID, filter.LocationID,
		nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var refType, refID string
		if err := rows.Scan(&e.ID, &e.ItemID, &e.VariationID, &e.FromLocationID, &e.ToLocationID,
			&e.QtyChange, &e.Reason, &refType, &refID, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Ref = Reference{Kind: RefKind(refType), ID: refID}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LedgerSum returns the sum of signed deltas for the given key. A negative
// delta counts against its from-location, a positive delta toward its
// to-location; the result must equal the current balance at that location.
func (r *Repository) LedgerSum(ctx context.Context, itemID, variationID, locationID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE
		          WHEN to_location_id = $3 AND qty_change > 0 THEN qty_change
		          WHEN from_location_id = $3 AND qty_change < 0 THEN qty_change
		          ELSE 0 END), 0)
		   FROM stock_ledger
		  WHERE item_id = $1 AND variation_id = $2
		    AND (from_location_id = $3 OR to_location_id = $3)`,
		itemID, variationID, locationID).Scan(&sum)
	return sum, err
}

// LowStock lists items whose warehouse balance is below their minimum stock
// quantity.
func (r *Repository) LowStock(ctx context.Context, warehouseID int64) ([]LowStockRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT i.id, i.item_code, i.name, COALESCE(b.qty_on_hand, 0), i.min_stock_qty
		   FROM items i
		   LEFT JOIN stock_balances b ON b.item_id = i.id AND b.location_id = $1
		  WHERE i.is_active AND COALESCE(b.qty_on_hand, 0) < i.min_stock_qty
		  ORDER BY i.item_code`, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []LowStockRow
	for rows.Next() {
		var row LowStockRow
		if err := rows.Scan(&row.ItemID, &row.ItemCode, &row.ItemName, &row.QtyOnHand, &row.MinStockQty); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// Warehouse returns the warehouse location, creating it lazily.
func (r *Repository) Warehouse(ctx context.Context) (Location, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Location{}, err
	}
	loc, err := NewTx(tx).EnsureWarehouse(ctx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return Location{}, err
	}
	return loc, tx.Commit(ctx)
}

// Tx exposes the stock mutations that participate in a caller's transaction.
// Workflow repositories embed it so their state transitions and the stock
// writes they cause commit or roll back together.
type Tx struct {
	tx pgx.Tx
}

// NewTx binds stock operations to an open transaction.
func NewTx(tx pgx.Tx) *Tx {
	return &Tx{tx: tx}
}

// EnsureWarehouse returns the singleton warehouse location, creating it on
// first use.
func (t *Tx) EnsureWarehouse(ctx context.Context) (Location, error) {
	var loc Location
	err := t.tx.QueryRow(ctx,
		`SELECT id, type, COALESCE(supplier_id, 0), name, created_at
		   FROM inventory_locations WHERE type = $1`, LocationWarehouse).
		Scan(&loc.ID, &loc.Type, &loc.SupplierID, &loc.Name, &loc.CreatedAt)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Location{}, err
	}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO inventory_locations (type, name) VALUES ($1, 'Warehouse')
		 RETURNING id, type, COALESCE(supplier_id, 0), name, created_at`, LocationWarehouse).
		Scan(&loc.ID, &loc.Type, &loc.SupplierID, &loc.Name, &loc.CreatedAt)
	return loc, err
}

// EnsureSupplierHold returns the hold location for a supplier, creating it on
// first use.
func (t *Tx) EnsureSupplierHold(ctx context.Context, supplierID int64, supplierName string) (Location, error) {
	var loc Location
	err := t.tx.QueryRow(ctx,
		`SELECT id, type, COALESCE(supplier_id, 0), name, created_at
		   FROM inventory_locations WHERE type = $1 AND supplier_id = $2`,
		LocationSupplierHold, supplierID).
		Scan(&loc.ID, &loc.Type, &loc.SupplierID, &loc.Name, &loc.CreatedAt)
	if err == nil {
		return loc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Location{}, err
	}
	err = t.tx.QueryRow(ctx,
		`INSERT INTO inventory_locations (type, supplier_id, name) VALUES ($1, $2, $3 || ' Hold')
		 RETURNING id, type, COALESCE(supplier_id, 0), name, created_at`,
		LocationSupplierHold, supplierID, supplierName).
		Scan(&loc.ID, &loc.Type, &loc.SupplierID, &loc.Name, &loc.CreatedAt)
	return loc, err
}

// GetBalance reads a balance inside the transaction.
func (t *Tx) GetBalance(ctx context.Context, itemID, variationID, locationID int64) (Balance, error) {
	return scanBalance(t.tx.QueryRow(ctx,
		`SELECT id, item_id, variation_id, location_id, qty_on_hand, updated_at
		   FROM stock_balances
		  WHERE item_id = $1 AND variation_id = $2 AND location_id = $3`,
		itemID, variationID, locationID))
}

// Credit creates or increments a balance.
func (t *Tx) Credit(ctx context.Context, itemID, variationID, locationID int64, qty decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO stock_balances (item_id, variation_id, location_id, qty_on_hand, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (item_id, variation_id, location_id)
		 DO UPDATE SET qty_on_hand = stock_balances.qty_on_hand + EXCLUDED.qty_on_hand, updated_at = NOW()`,
		itemID, variationID, locationID, qty)
	return err
}

// Debit decrements a balance with a conditional guard. Zero rows affected
// means the balance was (or would become) insufficient; callers must treat
// that as an insufficiency failure even when a pre-check passed, since a
// concurrent debit may have landed between check and act.
func (t *Tx) Debit(ctx context.Context, itemID, variationID, locationID int64, qty decimal.Decimal) error {
	if qty.Sign() <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE stock_balances
		    SET qty_on_hand = qty_on_hand - $4, updated_at = NOW()
		  WHERE item_id = $1 AND variation_id = $2 AND location_id = $3
		    AND qty_on_hand >= $4`,
		itemID, variationID, locationID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficient
	}
	return nil
}

// InsertEntry appends an immutable ledger row.
func (t *Tx) InsertEntry(ctx context.Context, e Entry) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO stock_ledger
		   (item_id, variation_id, from_location_id, to_location_id, qty_change,
		    reason, reference_type, reference_id, notes, created_by, created_at)
		 VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, 0), $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, 0), NOW())`,
		e.ItemID, e.VariationID, e.FromLocationID, e.ToLocationID, e.QtyChange,
		e.Reason, string(e.Ref.Kind), e.Ref.ID, e.Note, e.CreatedBy)
	return err
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.ID, &b.ItemID, &b.VariationID, &b.LocationID, &b.QtyOnHand, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
