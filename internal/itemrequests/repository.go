package itemrequests

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder-scm/larder-scm/internal/platform/db"
	"github.com/larder-scm/larder-scm/internal/shared"
)

// Repository persists item requests and the supplier stock pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional surface of the item request pipeline.
type TxRepository interface {
	RequestCodes(ctx context.Context, year int) ([]string, error)
	InsertRequest(ctx context.Context, req ItemRequest) (int64, error)
	InsertLines(ctx context.Context, requestID int64, lines []CreateLine) error
	GetForUpdate(ctx context.Context, id int64) (ItemRequest, error)
	Lines(ctx context.Context, requestID int64) ([]Line, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	InsertSupplierStock(ctx context.Context, row StockRow) (int64, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func (t *txRepo) RequestCodes(ctx context.Context, year int) ([]string, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT request_code FROM item_requests WHERE request_code LIKE 'REQ-' || $1::text || '%'`, year)
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

func (t *txRepo) InsertRequest(ctx context.Context, req ItemRequest) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO item_requests (request_code, supplier_id, status, delivery_days_min, delivery_days_max, notes, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, now(), now())
		 RETURNING id`,
		req.Code, req.SupplierID, req.Status, req.DeliveryDaysMin, req.DeliveryDaysMax,
		req.Note, req.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepo) InsertLines(ctx context.Context, requestID int64, lines []CreateLine) error {
	for _, line := range lines {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO item_request_items (item_request_id, item_id, variation_id, quantity, created_at)
			 VALUES ($1, $2, $3, $4, now())`,
			requestID, line.ItemID, line.VariationID, line.Qty); err != nil {
			return err
		}
	}
	return nil
}

const requestColumns = `ir.id, ir.request_code, ir.supplier_id, s.name, ir.status,
	       ir.delivery_days_min, ir.delivery_days_max, COALESCE(ir.notes, ''),
	       ir.email_sent_at, ir.created_by, ir.created_at, ir.updated_at`

func scanRequest(row pgx.Row) (ItemRequest, error) {
	var req ItemRequest
	err := row.Scan(&req.ID, &req.Code, &req.SupplierID, &req.SupplierName, &req.Status,
		&req.DeliveryDaysMin, &req.DeliveryDaysMax, &req.Note,
		&req.EmailSentAt, &req.CreatedBy, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ItemRequest{}, shared.ErrNotFound
	}
	return req, err
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (ItemRequest, error) {
	return scanRequest(t.tx.QueryRow(ctx,
		`SELECT `+requestColumns+`
		   FROM item_requests ir
		   JOIN suppliers s ON s.id = ir.supplier_id
		  WHERE ir.id = $1
		  FOR UPDATE OF ir`, id))
}

const lineQuery = `
	SELECT li.id, li.item_request_id, li.item_id, i.item_code, i.name, li.variation_id, li.quantity
	  FROM item_request_items li
	  JOIN items i ON i.id = li.item_id`

func scanRequestLines(rows pgx.Rows, err error) ([]Line, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ItemID, &l.ItemCode, &l.ItemName,
			&l.VariationID, &l.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *txRepo) Lines(ctx context.Context, requestID int64) ([]Line, error) {
	return scanRequestLines(t.tx.Query(ctx, lineQuery+` WHERE li.item_request_id = $1 ORDER BY li.id`, requestID))
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE item_requests SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

func (t *txRepo) InsertSupplierStock(ctx context.Context, row StockRow) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO supplier_stock (item_request_id, supplier_id, item_id, variation_id, quantity, confirmed_by, confirmed_at, notes)
		 VALUES (NULLIF($1, 0), $2, $3, $4, $5, NULLIF($6, 0), now(), NULLIF($7, ''))
		 RETURNING id`,
		row.RequestID, row.SupplierID, row.ItemID, row.VariationID, row.Qty, row.ConfirmedBy, row.Note).Scan(&id)
	return id, err
}

// List returns item requests newest first, without lines.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]ItemRequest, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+`
		   FROM item_requests ir
		   JOIN suppliers s ON s.id = ir.supplier_id
		  WHERE ($1 = 0 OR ir.supplier_id = $1)
		    AND ($2 = '' OR ir.status = $2)
		  ORDER BY ir.created_at DESC, ir.id DESC
		  LIMIT $3 OFFSET $4`,
		filter.SupplierID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ItemRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Get returns one item request with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (ItemRequest, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx,
		`SELECT `+requestColumns+`
		   FROM item_requests ir
		   JOIN suppliers s ON s.id = ir.supplier_id
		  WHERE ir.id = $1`, id))
	if err != nil {
		return ItemRequest{}, err
	}
	req.Items, err = scanRequestLines(r.pool.Query(ctx, lineQuery+` WHERE li.item_request_id = $1 ORDER BY li.id`, id))
	return req, err
}

// SetNotified moves a freshly created request to NOTIFIED and stamps the
// email time. Runs outside the creating transaction because the email is
// enqueued after commit. Guarded so a late call never demotes a request
// that already moved on.
func (r *Repository) SetNotified(ctx context.Context, id int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE item_requests SET status = $2, email_sent_at = now(), updated_at = now()
		  WHERE id = $1 AND status = $3`, id, StatusNotified, StatusPending)
	return err
}

// ListStock returns the supplier stock pool, newest confirmations first.
func (r *Repository) ListStock(ctx context.Context, supplierID int64) ([]StockRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ss.id, ss.supplier_id, s.name, ss.item_id, i.item_code, i.name, ss.variation_id,
		        ss.quantity, COALESCE(ss.item_request_id, 0), COALESCE(ir.request_code, ''),
		        COALESCE(ss.confirmed_by, 0), ss.confirmed_at, COALESCE(ss.notes, '')
		   FROM supplier_stock ss
		   JOIN suppliers s ON s.id = ss.supplier_id
		   JOIN items i ON i.id = ss.item_id
		   LEFT JOIN item_requests ir ON ir.id = ss.item_request_id
		  WHERE ($1 = 0 OR ss.supplier_id = $1)
		  ORDER BY ss.confirmed_at DESC, ss.id DESC`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockRow
	for rows.Next() {
		var row StockRow
		if err := rows.Scan(&row.ID, &row.SupplierID, &row.SupplierName, &row.ItemID, &row.ItemCode,
			&row.ItemName, &row.VariationID, &row.Qty, &row.RequestID, &row.RequestCode,
			&row.ConfirmedBy, &row.ConfirmedAt, &row.Note); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// PendingOnOrder sums quantity still owed on open supplier orders.
func (r *Repository) PendingOnOrder(ctx context.Context, supplierID int64) ([]PendingRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT so.supplier_id, oi.item_id, i.item_code, i.name, oi.variation_id,
		        SUM(oi.qty_ordered - oi.qty_received)
		   FROM supplier_order_items oi
		   JOIN supplier_orders so ON so.id = oi.supplier_order_id
		   JOIN items i ON i.id = oi.item_id
		  WHERE so.status NOT IN ('RECEIVED', 'CANCELLED')
		    AND ($1 = 0 OR so.supplier_id = $1)
		  GROUP BY so.supplier_id, oi.item_id, i.item_code, i.name, oi.variation_id
		 HAVING SUM(oi.qty_ordered - oi.qty_received) > 0
		  ORDER BY so.supplier_id, oi.item_id`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingRow
	for rows.Next() {
		var row PendingRow
		if err := rows.Scan(&row.SupplierID, &row.ItemID, &row.ItemCode, &row.ItemName,
			&row.VariationID, &row.QtyPending); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
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
