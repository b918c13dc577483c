package requests

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/platform/db"
	"github.com/larder-scm/larder-scm/internal/shared"
	"github.com/larder-scm/larder-scm/internal/stock"
)

// Repository persists branch requests in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional surface the request workflow needs.
// Stock operations run on the same transaction as the request mutation, so
// a failed deduction rolls back the status change with it.
type TxRepository interface {
	RequestCodes(ctx context.Context, year int) ([]string, error)
	InsertRequest(ctx context.Context, req Request) (int64, error)
	InsertLines(ctx context.Context, requestID int64, lines []CreateLine) error
	GetForUpdate(ctx context.Context, id int64) (Request, error)
	Lines(ctx context.Context, requestID int64) ([]Line, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	SetLineApproved(ctx context.Context, lineID int64, qty decimal.Decimal) error
	SetLineFulfilled(ctx context.Context, lineID int64, qty decimal.Decimal) error
	SetApproval(ctx context.Context, requestID, approvedBy int64) error
	SetRejection(ctx context.Context, requestID int64, reason string) error
	InsertStatusChange(ctx context.Context, change StatusChange) error

	StockWarehouse(ctx context.Context) (stock.Location, error)
	StockBalance(ctx context.Context, itemID, variationID, locationID int64) (stock.Balance, error)
	StockDebit(ctx context.Context, itemID, variationID, locationID int64, qty decimal.Decimal) error
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

func (t *txRepo) RequestCodes(ctx context.Context, year int) ([]string, error) {
	// Matches both dashed and undashed forms so legacy codes still
	// count toward the highest suffix.
	rows, err := t.tx.Query(ctx,
		`SELECT request_code FROM requests WHERE request_code LIKE 'REQ-' || $1::text || '%'`, year)
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

func (t *txRepo) InsertRequest(ctx context.Context, req Request) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO requests (request_code, branch_id, status, notes, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 RETURNING id`,
		req.Code, req.BranchID, req.Status, req.Note, req.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepo) InsertLines(ctx context.Context, requestID int64, lines []CreateLine) error {
	for _, line := range lines {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO request_items (request_id, item_id, variation_id, qty_requested)
			 VALUES ($1, $2, $3, $4)`,
			requestID, line.ItemID, line.VariationID, line.QtyRequested); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (Request, error) {
	var req Request
	err := t.tx.QueryRow(ctx,
		`SELECT id, request_code, branch_id, status, COALESCE(notes, ''), created_by,
		        COALESCE(approved_by, 0), approved_at, COALESCE(reject_reason, ''), created_at, updated_at
		   FROM requests WHERE id = $1 FOR UPDATE`, id).
		Scan(&req.ID, &req.Code, &req.BranchID, &req.Status, &req.Note, &req.CreatedBy,
			&req.ApprovedBy, &req.ApprovedAt, &req.RejectReason, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, shared.ErrNotFound
	}
	return req, err
}

func (t *txRepo) Lines(ctx context.Context, requestID int64) ([]Line, error) {
	return scanLines(t.tx.Query(ctx, lineQuery+` WHERE ri.request_id = $1 ORDER BY ri.id`, requestID))
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE requests SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

func (t *txRepo) SetLineApproved(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE request_items SET qty_approved = $2 WHERE id = $1`, lineID, qty)
	return err
}

func (t *txRepo) SetLineFulfilled(ctx context.Context, lineID int64, qty decimal.Decimal) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE request_items SET qty_fulfilled = $2 WHERE id = $1`, lineID, qty)
	return err
}

func (t *txRepo) SetApproval(ctx context.Context, requestID, approvedBy int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE requests SET approved_by = $2, approved_at = now(), reject_reason = NULL WHERE id = $1`,
		requestID, approvedBy)
	return err
}

func (t *txRepo) SetRejection(ctx context.Context, requestID int64, reason string) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE requests SET reject_reason = $2, approved_by = NULL, approved_at = NULL WHERE id = $1`,
		requestID, reason)
	return err
}

func (t *txRepo) InsertStatusChange(ctx context.Context, change StatusChange) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO request_status_history (request_id, from_status, to_status, notes, changed_by, changed_at)
		 VALUES ($1, $2, $3, $4, $5, now())`,
		change.RequestID, change.From, change.To, change.Note, change.ChangedBy)
	return err
}

func (t *txRepo) StockWarehouse(ctx context.Context) (stock.Location, error) {
	return t.stock.EnsureWarehouse(ctx)
}

func (t *txRepo) StockBalance(ctx context.Context, itemID, variationID, locationID int64) (stock.Balance, error) {
	return t.stock.GetBalance(ctx, itemID, variationID, locationID)
}

func (t *txRepo) StockDebit(ctx context.Context, itemID, variationID, locationID int64, qty decimal.Decimal) error {
	return t.stock.Debit(ctx, itemID, variationID, locationID, qty)
}

func (t *txRepo) StockInsertEntry(ctx context.Context, e stock.Entry) error {
	return t.stock.InsertEntry(ctx, e)
}

const lineQuery = `
	SELECT ri.id, ri.request_id, ri.item_id, i.item_code, i.name, ri.variation_id,
	       ri.qty_requested, ri.qty_approved, ri.qty_fulfilled
	  FROM request_items ri
	  JOIN items i ON i.id = ri.item_id`

func scanLines(rows pgx.Rows, err error) ([]Line, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ItemID, &l.ItemCode, &l.ItemName,
			&l.VariationID, &l.QtyRequested, &l.QtyApproved, &l.QtyFulfilled); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// List returns requests newest first, without lines.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Request, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, request_code, branch_id, status, COALESCE(notes, ''), created_by,
		        COALESCE(approved_by, 0), approved_at, COALESCE(reject_reason, ''), created_at, updated_at
		   FROM requests
		  WHERE (cardinality($1::bigint[]) = 0 OR branch_id = ANY($1))
		    AND ($2 = '' OR status = $2)
		  ORDER BY created_at DESC, id DESC
		  LIMIT $3 OFFSET $4`,
		filter.BranchIDs, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reqs []Request
	for rows.Next() {
		var req Request
		if err := rows.Scan(&req.ID, &req.Code, &req.BranchID, &req.Status, &req.Note, &req.CreatedBy,
			&req.ApprovedBy, &req.ApprovedAt, &req.RejectReason, &req.CreatedAt, &req.UpdatedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// Get returns one request with its lines and history.
func (r *Repository) Get(ctx context.Context, id int64) (Request, error) {
	var req Request
	err := r.pool.QueryRow(ctx,
		`SELECT id, request_code, branch_id, status, COALESCE(notes, ''), created_by,
		        COALESCE(approved_by, 0), approved_at, COALESCE(reject_reason, ''), created_at, updated_at
		   FROM requests WHERE id = $1`, id).
		Scan(&req.ID, &req.Code, &req.BranchID, &req.Status, &req.Note, &req.CreatedBy,
			&req.ApprovedBy, &req.ApprovedAt, &req.RejectReason, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, shared.ErrNotFound
	}
	if err != nil {
		return Request{}, err
	}
	req.Items, err = scanLines(r.pool.Query(ctx, lineQuery+` WHERE ri.request_id = $1 ORDER BY ri.id`, id))
	if err != nil {
		return Request{}, err
	}
	req.History, err = r.History(ctx, id)
	return req, err
}

// History lists status transitions oldest first.
func (r *Repository) History(ctx context.Context, requestID int64) ([]StatusChange, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, request_id, from_status, to_status, COALESCE(notes, ''), changed_by, changed_at
		   FROM request_status_history
		  WHERE request_id = $1
		  ORDER BY changed_at, id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var changes []StatusChange
	for rows.Next() {
		var c StatusChange
		if err := rows.Scan(&c.ID, &c.RequestID, &c.From, &c.To, &c.Note, &c.ChangedBy, &c.ChangedAt); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// DeliveredQuantities sums fulfilled quantities per (item, variation) for a
// branch across delivered and completed requests up to the given time.
func (r *Repository) DeliveredQuantities(ctx context.Context, branchID int64, until time.Time) (map[[2]int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT ri.item_id, ri.variation_id, COALESCE(SUM(ri.qty_fulfilled), 0)
		   FROM request_items ri
		   JOIN requests req ON req.id = ri.request_id
		  WHERE req.branch_id = $1
		    AND req.status IN ($2, $3)
		    AND ri.qty_fulfilled IS NOT NULL
		    AND ($4::timestamptz IS NULL OR req.updated_at <= $4)
		  GROUP BY ri.item_id, ri.variation_id`,
		branchID, StatusDelivered, StatusCompleted, nullTime(until))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[[2]int64]decimal.Decimal)
	for rows.Next() {
		var itemID, variationID int64
		var qty decimal.Decimal
		if err := rows.Scan(&itemID, &variationID, &qty); err != nil {
			return nil, err
		}
		out[[2]int64{itemID, variationID}] = qty
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
