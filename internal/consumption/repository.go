package consumption

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/platform/db"
	"github.com/larder-scm/larder-scm/internal/shared"
)

// Repository persists packaging rules and daily consumption records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository is the transactional surface of rule saving and deduction.
type TxRepository interface {
	RuleIDByProduct(ctx context.Context, branchID int64, productName string) (int64, error)
	InsertRule(ctx context.Context, branchID int64, productName string) (int64, error)
	DeleteRuleItems(ctx context.Context, ruleID int64) error
	InsertRuleItem(ctx context.Context, item RuleItem) error
	UpsertDaily(ctx context.Context, row DailyRow) error
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

func (t *txRepo) RuleIDByProduct(ctx context.Context, branchID int64, productName string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`SELECT id FROM branch_packaging_rules WHERE branch_id = $1 AND product_name = $2`,
		branchID, productName).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.ErrNotFound
	}
	return id, err
}

func (t *txRepo) InsertRule(ctx context.Context, branchID int64, productName string) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO branch_packaging_rules (branch_id, product_name, created_at, updated_at)
		 VALUES ($1, $2, now(), now())
		 RETURNING id`, branchID, productName).Scan(&id)
	return id, err
}

func (t *txRepo) DeleteRuleItems(ctx context.Context, ruleID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM branch_packaging_rule_items WHERE rule_id = $1`, ruleID)
	return err
}

func (t *txRepo) InsertRuleItem(ctx context.Context, item RuleItem) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO branch_packaging_rule_items (rule_id, item_id, multiplier)
		 VALUES ($1, $2, $3)`, item.RuleID, item.ItemID, item.Multiplier)
	return err
}

// UpsertDaily accumulates a consumption record; a second run on the same
// day adds to the existing quantity rather than overwriting it.
func (t *txRepo) UpsertDaily(ctx context.Context, row DailyRow) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO item_consumption_daily (date, branch_id, item_id, variation_id, qty_consumed, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, now())
		 ON CONFLICT (date, branch_id, item_id, variation_id, source)
		 DO UPDATE SET qty_consumed = item_consumption_daily.qty_consumed + EXCLUDED.qty_consumed`,
		row.Date, row.BranchID, row.ItemID, row.VariationID, row.QtyConsumed, row.Source)
	return err
}

// Rules returns a branch's rules with their item mappings.
func (r *Repository) Rules(ctx context.Context, branchID int64) ([]Rule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, branch_id, product_name, created_at, updated_at
		   FROM branch_packaging_rules
		  WHERE branch_id = $1
		  ORDER BY product_name`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []Rule
	byID := map[int64]int{}
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.ID, &rule.BranchID, &rule.ProductName, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, err
		}
		byID[rule.ID] = len(rules)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return rules, nil
	}

	itemRows, err := r.pool.Query(ctx,
		`SELECT ri.id, ri.rule_id, ri.item_id, i.item_code, i.name, ri.multiplier
		   FROM branch_packaging_rule_items ri
		   JOIN branch_packaging_rules pr ON pr.id = ri.rule_id
		   JOIN items i ON i.id = ri.item_id
		  WHERE pr.branch_id = $1
		  ORDER BY ri.id`, branchID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item RuleItem
		if err := itemRows.Scan(&item.ID, &item.RuleID, &item.ItemID, &item.ItemCode, &item.ItemName, &item.Multiplier); err != nil {
			return nil, err
		}
		if idx, ok := byID[item.RuleID]; ok {
			rules[idx].Items = append(rules[idx].Items, item)
		}
	}
	return rules, itemRows.Err()
}

// RulesByProduct indexes a branch's rules by exact product name.
func (r *Repository) RulesByProduct(ctx context.Context, branchID int64) (map[string]Rule, error) {
	rules, err := r.Rules(ctx, branchID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Rule, len(rules))
	for _, rule := range rules {
		out[rule.ProductName] = rule
	}
	return out, nil
}

// ConsumedQuantities sums all recorded consumption per (item, variation)
// for a branch, across every source.
func (r *Repository) ConsumedQuantities(ctx context.Context, branchID int64) (map[[2]int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT item_id, variation_id, SUM(qty_consumed)
		   FROM item_consumption_daily
		  WHERE branch_id = $1
		  GROUP BY item_id, variation_id`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[[2]int64]decimal.Decimal{}
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

// Daily lists consumption records for a branch within [from, to].
func (r *Repository) Daily(ctx context.Context, branchID int64, from, to time.Time) ([]DailyRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, date, branch_id, item_id, variation_id, qty_consumed, source, created_at
		   FROM item_consumption_daily
		  WHERE branch_id = $1
		    AND ($2::date IS NULL OR date >= $2)
		    AND ($3::date IS NULL OR date <= $3)
		  ORDER BY date DESC, item_id`, branchID, nullDate(from), nullDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DailyRow
	for rows.Next() {
		var row DailyRow
		if err := rows.Scan(&row.ID, &row.Date, &row.BranchID, &row.ItemID, &row.VariationID,
			&row.QtyConsumed, &row.Source, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ItemCodes resolves display codes for a set of item ids.
func (r *Repository) ItemCodes(ctx context.Context, itemIDs []int64) (map[int64]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, item_code FROM items WHERE id = ANY($1)`, itemIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]string, len(itemIDs))
	for rows.Next() {
		var id int64
		var code string
		if err := rows.Scan(&id, &code); err != nil {
			return nil, err
		}
		out[id] = code
	}
	return out, rows.Err()
}

func nullDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
