package supplierorders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/platform/db"
	"github.com/larder-scm/larder-scm/internal/shared"
	"github.com/larder-scm/larder-scm/internal/stock"
)

// Repository persists supplier orders in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional surface of the order workflow. Supplier
// stock consumption and warehouse crediting run on the same transaction as
// the order mutation.
type TxRepository interface {
	OrderCodes(ctx context.Context, year int) ([]string, error)
	InsertOrder(ctx context.Context, order Order) (int64, error)
	InsertLines(ctx context.Context, orderID int64, lines []Line) error
	GetOrderForUpdate(ctx context.Context, id int64) (Order, error)
	OrderLines(ctx context.Context, orderID int64) ([]Line, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetLinesReceived(ctx context.Context, orderID int64) error
	InsertToken(ctx context.Context, token PortalToken) (int64, error)
	GetTokenForUpdate(ctx context.Context, token string) (PortalToken, error)
	MarkTokenUsed(ctx context.Context, tokenID int64) error
	GetSignature(ctx context.Context, orderID int64) (Signature, error)
	InsertSignature(ctx context.Context, sig Signature) (int64, error)

	SupplierStockForUpdate(ctx context.Context, supplierID, itemID, variationID int64) ([]SupplierStockRow, error)
	SetSupplierStockQty(ctx context.Context, id int64, qty decimal.Decimal) error
	DeleteSupplierStock(ctx context.Context, id int64) error

	StockWarehouse(ctx context.Context) (stock.Location, error)
	StockSupplierHold(ctx context.Context, supplierID int64, supplierName string) (stock.Location, error)
	StockCredit(ctx context.Context, itemID, variationID, locationID int64, qty decimal.Decimal) error
	StockInsertEntry(ctx context.Context, e stock.Entry) error
}

type txRepo struct {
	tx    pgx.Tx
	stock *stock.Tx
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx, stock: stock.NewTx(tx)})
	})
}

func (t *txRepo) OrderCodes(ctx context.Context, year int) ([]string, error) {
	// Matches both dashed and undashed forms so legacy codes still
	// count toward the highest suffix.
	rows, err := t.tx.Query(ctx,
		`SELECT po_code FROM supplier_orders WHERE po_code LIKE 'PO-' || $1::text || '%'`, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertOrder(ctx context.Context, order Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO supplier_orders (po_code, supplier_id, status, hold_at_supplier, requested_delivery_date, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		 RETURNING id`,
		order.Code, order.SupplierID, order.Status, order.HoldAtSupplier,
		order.DeliveryDate, order.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepo) InsertLines(ctx context.Context, orderID int64, lines []Line) error {
	for _, line := range lines {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO supplier_order_items (supplier_order_id, item_id, variation_id, qty_ordered, qty_received, price_per_unit)
			 VALUES ($1, $2, $3, $4, 0, $5)`,
			orderID, line.ItemID, line.VariationID, line.QtyOrdered, line.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `so.id, so.po_code, so.supplier_id, s.name, so.status, so.hold_at_supplier,
	       so.requested_delivery_date, so.email_sent_at, so.created_by, so.created_at, so.updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.Code, &o.SupplierID, &o.SupplierName, &o.Status, &o.HoldAtSupplier,
		&o.DeliveryDate, &o.EmailSentAt, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.ErrNotFound
	}
	return o, err
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (Order, error) {
	return scanOrder(t.tx.QueryRow(ctx,
		`SELECT `+orderColumns+`
		   FROM supplier_orders so
		   JOIN suppliers s ON s.id = so.supplier_id
		  WHERE so.id = $1
		  FOR UPDATE OF so`, id))
}

func (t *txRepo) OrderLines(ctx context.Context, orderID int64) ([]Line, error) {
	return scanLines(t.tx.Query(ctx, lineQuery+` WHERE oi.supplier_order_id = $1 ORDER BY oi.id`, orderID))
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE supplier_orders SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

func (t *txRepo) SetLinesReceived(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE supplier_order_items SET qty_received = qty_ordered WHERE supplier_order_id = $1`, orderID)
	return err
}

func (t *txRepo) InsertToken(ctx context.Context, token PortalToken) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO portal_tokens (token, supplier_id, supplier_order_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, now())
		 RETURNING id`,
		token.Token, token.SupplierID, token.OrderID, token.ExpiresAt).Scan(&id)
	return id, err
}

func (t *txRepo) GetTokenForUpdate(ctx context.Context, token string) (PortalToken, error) {
	var pt PortalToken
	err := t.tx.QueryRow(ctx,
		`SELECT id, token, supplier_id, supplier_order_id, expires_at, used_at, created_at
		   FROM portal_tokens WHERE token = $1 FOR UPDATE`, token).
		Scan(&pt.ID, &pt.Token, &pt.SupplierID, &pt.OrderID, &pt.ExpiresAt, &pt.UsedAt, &pt.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PortalToken{}, shared.ErrNotFound
	}
	return pt, err
}

func (t *txRepo) MarkTokenUsed(ctx context.Context, tokenID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE portal_tokens SET used_at = now() WHERE id = $1`, tokenID)
	return err
}

func (t *txRepo) GetSignature(ctx context.Context, orderID int64) (Signature, error) {
	var sig Signature
	err := t.tx.QueryRow(ctx,
		`SELECT id, supplier_order_id, supplier_name_signed, COALESCE(signature_data, ''), signed_at, COALESCE(token_id, 0)
		   FROM supplier_invoice_signatures WHERE supplier_order_id = $1`, orderID).
		Scan(&sig.ID, &sig.OrderID, &sig.SignerName, &sig.SignatureData, &sig.SignedAt, &sig.TokenID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Signature{}, shared.ErrNotFound
	}
	return sig, err
}

func (t *txRepo) InsertSignature(ctx context.Context, sig Signature) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO supplier_invoice_signatures (supplier_order_id, supplier_name_signed, signature_data, signed_at, token_id)
		 VALUES ($1, $2, NULLIF($3, ''), now(), NULLIF($4, 0))
		 RETURNING id`,
		sig.OrderID, sig.SignerName, sig.SignatureData, sig.TokenID).Scan(&id)
	return id, err
}

func (t *txRepo) SupplierStockForUpdate(ctx context.Context, supplierID, itemID, variationID int64) ([]SupplierStockRow, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT ss.id, ss.supplier_id, ss.item_id, ss.variation_id, ss.quantity,
		        COALESCE(ss.item_request_id, 0), COALESCE(ss.confirmed_by, 0), ss.confirmed_at, COALESCE(ss.notes, '')
		   FROM supplier_stock ss
		  WHERE ss.supplier_id = $1 AND ss.item_id = $2 AND ss.variation_id = $3
		  ORDER BY ss.confirmed_at, ss.id
		  FOR UPDATE`, supplierID, itemID, variationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SupplierStockRow
	for rows.Next() {
		var row SupplierStockRow
		if err := rows.Scan(&row.ID, &row.SupplierID, &row.ItemID, &row.VariationID, &row.Qty,
			&row.ItemRequestID, &row.ConfirmedBy, &row.ConfirmedAt, &row.Note); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (t *txRepo) SetSupplierStockQty(ctx context.Context, id int64, qty decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE supplier_stock SET quantity = $2 WHERE id = $1`, id, qty)
	return err
}

func (t *txRepo) DeleteSupplierStock(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM supplier_stock WHERE id = $1`, id)
	return err
}

func (t *txRepo) StockWarehouse(ctx context.Context) (stock.Location, error) {
	return t.stock.EnsureWarehouse(ctx)
}

func (t *txRepo) StockSupplierHold(ctx context.Context, supplierID int64, supplierName string) (stock.Location, error) {
	return t.stock.EnsureSupplierHold(ctx, supplierID, supplierName)
}

func (t *txRepo) StockCredit(ctx context.Context, itemID, variationID, locationID int64, qty decimal.Decimal) error {
	return t.stock.Credit(ctx, itemID, variationID, locationID, qty)
}

func (t *txRepo) StockInsertEntry(ctx context.Context, e stock.Entry) error {
	return t.stock.InsertEntry(ctx, e)
}

const lineQuery = `
	SELECT oi.id, oi.supplier_order_id, oi.item_id, i.item_code, i.name, oi.variation_id,
	       oi.qty_ordered, oi.qty_received, oi.price_per_unit
	  FROM supplier_order_items oi
	  JOIN items i ON i.id = oi.item_id`

func scanLines(rows pgx.Rows, err error) ([]Line, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.ItemCode, &l.ItemName,
			&l.VariationID, &l.QtyOrdered, &l.QtyReceived, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// List returns orders newest first, without lines.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+`
		   FROM supplier_orders so
		   JOIN suppliers s ON s.id = so.supplier_id
		  WHERE ($1 = 0 OR so.supplier_id = $1)
		    AND ($2 = '' OR so.status = $2)
		  ORDER BY so.created_at DESC, so.id DESC
		  LIMIT $3 OFFSET $4`,
		filter.SupplierID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// Get returns one order with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx,
		`SELECT `+orderColumns+`
		   FROM supplier_orders so
		   JOIN suppliers s ON s.id = so.supplier_id
		  WHERE so.id = $1`, id))
	if err != nil {
		return Order{}, err
	}
	order.Items, err = scanLines(r.pool.Query(ctx, lineQuery+` WHERE oi.supplier_order_id = $1 ORDER BY oi.id`, id))
	return order, err
}

// GetByToken resolves a portal token to its order and signature, if any.
func (r *Repository) GetByToken(ctx context.Context, token string) (PortalView, error) {
	var orderID int64
	err := r.pool.QueryRow(ctx,
		`SELECT supplier_order_id FROM portal_tokens WHERE token = $1`, token).Scan(&orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return PortalView{}, shared.ErrNotFound
	}
	if err != nil {
		return PortalView{}, err
	}
	order, err := r.Get(ctx, orderID)
	if err != nil {
		return PortalView{}, err
	}
	view := PortalView{Order: order}
	var sig Signature
	err = r.pool.QueryRow(ctx,
		`SELECT id, supplier_order_id, supplier_name_signed, COALESCE(signature_data, ''), signed_at, COALESCE(token_id, 0)
		   FROM supplier_invoice_signatures WHERE supplier_order_id = $1`, orderID).
		Scan(&sig.ID, &sig.OrderID, &sig.SignerName, &sig.SignatureData, &sig.SignedAt, &sig.TokenID)
	if err == nil {
		view.Signature = &sig
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return PortalView{}, err
	}
	return view, nil
}

// SetEmailSent stamps the notification time. Runs outside the order
// transaction because the email is enqueued after commit.
func (r *Repository) SetEmailSent(ctx context.Context, orderID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE supplier_orders SET email_sent_at = now() WHERE id = $1`, orderID)
	return err
}

// SupplierEmail returns the contact address for a supplier.
func (r *Repository) SupplierEmail(ctx context.Context, supplierID int64) (string, string, error) {
	var name, email string
	err := r.pool.QueryRow(ctx,
		`SELECT name, COALESCE(email, '') FROM suppliers WHERE id = $1`, supplierID).Scan(&name, &email)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", shared.ErrNotFound
	}
	return name, email, err
}
