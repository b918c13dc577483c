package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/larder-scm/larder-scm/internal/platform/db"
	"github.com/larder-scm/larder-scm/internal/shared"
)

// Repository persists catalog master data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations code allocation and
// supplier item linking need.
type TxRepository interface {
	ItemCodes(ctx context.Context, prefix string) ([]string, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	FindItem(ctx context.Context, id int64) (Item, error)
	FindActiveItemByName(ctx context.Context, name string) (Item, error)
	DefaultBrandID(ctx context.Context) (int64, error)
	ReplaceItemBranches(ctx context.Context, itemID int64, branchIDs []int64) error
	SupplierItemCodes(ctx context.Context, prefix string) ([]string, error)
	InsertSupplierItem(ctx context.Context, item SupplierItem) (int64, error)
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

func (t *txRepo) ItemCodes(ctx context.Context, prefix string) ([]string, error) {
	return scanStrings(t.tx.Query(ctx,
		`SELECT item_code FROM items WHERE item_code LIKE $1 || '-%'`, prefix))
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO items (item_code, name, brand_id, base_unit_id, min_stock_qty, min_order_qty, unit_price, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, now(), now())
		 RETURNING id`,
		item.Code, item.Name, item.BrandID, item.BaseUnitID, item.MinStockQty, item.MinOrderQty, item.UnitPrice).Scan(&id)
	return id, err
}

func (t *txRepo) FindItem(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := t.tx.QueryRow(ctx,
		`SELECT id, item_code, name, brand_id, base_unit_id, min_stock_qty, min_order_qty,
		        unit_price, is_active, created_at, updated_at
		   FROM items WHERE id = $1`, id).
		Scan(&it.ID, &it.Code, &it.Name, &it.BrandID, &it.BaseUnitID, &it.MinStockQty,
			&it.MinOrderQty, &it.UnitPrice, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.ErrNotFound
	}
	return it, err
}

func (t *txRepo) FindActiveItemByName(ctx context.Context, name string) (Item, error) {
	var it Item
	err := t.tx.QueryRow(ctx,
		`SELECT id, item_code, name, brand_id, base_unit_id, min_stock_qty, min_order_qty,
		        unit_price, is_active, created_at, updated_at
		   FROM items WHERE lower(name) = lower($1) AND is_active
		  ORDER BY id LIMIT 1`, name).
		Scan(&it.ID, &it.Code, &it.Name, &it.BrandID, &it.BaseUnitID, &it.MinStockQty,
			&it.MinOrderQty, &it.UnitPrice, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.ErrNotFound
	}
	return it, err
}

func (t *txRepo) DefaultBrandID(ctx context.Context) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM brands ORDER BY id LIMIT 1`).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, shared.Validationf("no brands exist yet")
	}
	return id, err
}

func (t *txRepo) ReplaceItemBranches(ctx context.Context, itemID int64, branchIDs []int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM item_branches WHERE item_id = $1`, itemID); err != nil {
		return err
	}
	for _, branchID := range branchIDs {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO item_branches (item_id, branch_id) VALUES ($1, $2)`, itemID, branchID); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) SupplierItemCodes(ctx context.Context, prefix string) ([]string, error) {
	return scanStrings(t.tx.Query(ctx,
		`SELECT item_code FROM supplier_items WHERE item_code LIKE $1 || '-%'`, prefix))
}

func (t *txRepo) InsertSupplierItem(ctx context.Context, item SupplierItem) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx,
		`INSERT INTO supplier_items (supplier_id, item_id, variation_id, item_code, name, unit_price,
		                             min_order_qty, lead_time_days, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, now())
		 RETURNING id`,
		item.SupplierID, item.ItemID, item.VariationID, item.Code, item.Name,
		item.UnitPrice, item.MinOrderQty, item.LeadTimeDays).Scan(&id)
	return id, err
}

// Brands

func (r *Repository) ListBrands(ctx context.Context) ([]Brand, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, created_at FROM brands ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var brands []Brand
	for rows.Next() {
		var b Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.CreatedAt); err != nil {
			return nil, err
		}
		brands = append(brands, b)
	}
	return brands, rows.Err()
}

func (r *Repository) CreateBrand(ctx context.Context, name string) (Brand, error) {
	var b Brand
	err := r.pool.QueryRow(ctx,
		`INSERT INTO brands (name, created_at) VALUES ($1, now()) RETURNING id, name, created_at`,
		name).Scan(&b.ID, &b.Name, &b.CreatedAt)
	return b, err
}

// Branches

func (r *Repository) ListBranches(ctx context.Context, filter ListFilter) ([]Branch, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, brand_id, name, COALESCE(address, ''), is_active, created_at
		   FROM branches
		  WHERE ($1 = 0 OR brand_id = $1)
		    AND (NOT $2 OR is_active)
		  ORDER BY name`, filter.BrandID, filter.ActiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var branches []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.BrandID, &b.Name, &b.Address, &b.IsActive, &b.CreatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (r *Repository) GetBranch(ctx context.Context, id int64) (Branch, error) {
	var b Branch
	err := r.pool.QueryRow(ctx,
		`SELECT id, brand_id, name, COALESCE(address, ''), is_active, created_at
		   FROM branches WHERE id = $1`, id).
		Scan(&b.ID, &b.BrandID, &b.Name, &b.Address, &b.IsActive, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Branch{}, shared.ErrNotFound
	}
	return b, err
}

func (r *Repository) CreateBranch(ctx context.Context, branch Branch) (Branch, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO branches (brand_id, name, address, is_active, created_at)
		 VALUES ($1, $2, $3, TRUE, now())
		 RETURNING id, created_at`,
		branch.BrandID, branch.Name, branch.Address).Scan(&branch.ID, &branch.CreatedAt)
	branch.IsActive = true
	return branch, err
}

func (r *Repository) UpdateBranch(ctx context.Context, branch Branch) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE branches SET name = $2, address = $3, is_active = $4 WHERE id = $1`,
		branch.ID, branch.Name, branch.Address, branch.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Base units

func (r *Repository) ListBaseUnits(ctx context.Context) ([]BaseUnit, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM base_units ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var units []BaseUnit
	for rows.Next() {
		var u BaseUnit
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *Repository) CreateBaseUnit(ctx context.Context, name string) (BaseUnit, error) {
	var u BaseUnit
	err := r.pool.QueryRow(ctx,
		`INSERT INTO base_units (name) VALUES ($1) RETURNING id, name`, name).Scan(&u.ID, &u.Name)
	return u, err
}

// Items

func (r *Repository) ListItems(ctx context.Context, filter ListFilter) ([]Item, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx,
		`SELECT i.id, i.item_code, i.name, i.brand_id, i.base_unit_id, i.min_stock_qty, i.min_order_qty,
		        i.unit_price, i.is_active, i.created_at, i.updated_at
		   FROM items i
		  WHERE ($1 = '' OR i.name ILIKE '%' || $1 || '%' OR i.item_code ILIKE '%' || $1 || '%')
		    AND (NOT $2 OR i.is_active)
		    AND ($3 = 0 OR i.brand_id = $3)
		    AND ($4 = 0 OR EXISTS (
		          SELECT 1 FROM item_branches ib WHERE ib.item_id = i.id AND ib.branch_id = $4))
		  ORDER BY i.item_code
		  LIMIT $5 OFFSET $6`,
		filter.Search, filter.ActiveOnly, filter.BrandID, filter.BranchID, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.Code, &it.Name, &it.BrandID, &it.BaseUnitID, &it.MinStockQty,
			&it.MinOrderQty, &it.UnitPrice, &it.IsActive, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := r.pool.QueryRow(ctx,
		`SELECT id, item_code, name, brand_id, base_unit_id, min_stock_qty, min_order_qty,
		        unit_price, is_active, created_at, updated_at
		   FROM items WHERE id = $1`, id).
		Scan(&it.ID, &it.Code, &it.Name, &it.BrandID, &it.BaseUnitID, &it.MinStockQty,
			&it.MinOrderQty, &it.UnitPrice, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, shared.ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	it.BranchIDs, err = scanInt64s(r.pool.Query(ctx,
		`SELECT branch_id FROM item_branches WHERE item_id = $1 ORDER BY branch_id`, id))
	return it, err
}

func (r *Repository) UpdateItem(ctx context.Context, item Item) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE items
		    SET name = $2, brand_id = COALESCE(NULLIF($3, 0::bigint), brand_id), base_unit_id = $4,
		        min_stock_qty = $5, min_order_qty = $6, unit_price = $7,
		        is_active = $8, updated_at = now()
		  WHERE id = $1`,
		item.ID, item.Name, item.BrandID, item.BaseUnitID, item.MinStockQty, item.MinOrderQty,
		item.UnitPrice, item.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) SetItemBranches(ctx context.Context, itemID int64, branchIDs []int64) error {
	return r.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.ReplaceItemBranches(ctx, itemID, branchIDs)
	})
}

// Variations

func (r *Repository) ListVariations(ctx context.Context, itemID int64) ([]Variation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, item_id, name, is_active FROM item_variations WHERE item_id = $1 ORDER BY name`,
		itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var variations []Variation
	for rows.Next() {
		var v Variation
		if err := rows.Scan(&v.ID, &v.ItemID, &v.Name, &v.IsActive); err != nil {
			return nil, err
		}
		variations = append(variations, v)
	}
	return variations, rows.Err()
}

func (r *Repository) CreateVariation(ctx context.Context, v Variation) (Variation, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO item_variations (item_id, name, is_active) VALUES ($1, $2, TRUE) RETURNING id`,
		v.ItemID, v.Name).Scan(&v.ID)
	v.IsActive = true
	return v, err
}

func (r *Repository) UpdateVariation(ctx context.Context, v Variation) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE item_variations SET name = $2, is_active = $3 WHERE id = $1`,
		v.ID, v.Name, v.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Supplier categories

func (r *Repository) ListCategories(ctx context.Context) ([]SupplierCategory, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name FROM supplier_categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cats []SupplierCategory
	for rows.Next() {
		var c SupplierCategory
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

func (r *Repository) GetCategory(ctx context.Context, id int64) (SupplierCategory, error) {
	var c SupplierCategory
	err := r.pool.QueryRow(ctx, `SELECT id, name FROM supplier_categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierCategory{}, shared.ErrNotFound
	}
	return c, err
}

func (r *Repository) CreateCategory(ctx context.Context, name string) (SupplierCategory, error) {
	var c SupplierCategory
	err := r.pool.QueryRow(ctx,
		`INSERT INTO supplier_categories (name) VALUES ($1) RETURNING id, name`, name).
		Scan(&c.ID, &c.Name)
	return c, err
}

// Suppliers

func (r *Repository) ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, category_id, name, COALESCE(email, ''), COALESCE(phone, ''),
		        COALESCE(address, ''), is_active, created_at
		   FROM suppliers
		  WHERE ($1 = 0 OR category_id = $1)
		    AND (NOT $2 OR is_active)
		  ORDER BY name`, filter.CategoryID, filter.ActiveOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var suppliers []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.CategoryID, &s.Name, &s.Email, &s.Phone,
			&s.Address, &s.IsActive, &s.CreatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := r.pool.QueryRow(ctx,
		`SELECT id, category_id, name, COALESCE(email, ''), COALESCE(phone, ''),
		        COALESCE(address, ''), is_active, created_at
		   FROM suppliers WHERE id = $1`, id).
		Scan(&s.ID, &s.CategoryID, &s.Name, &s.Email, &s.Phone, &s.Address, &s.IsActive, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Supplier{}, shared.ErrNotFound
	}
	return s, err
}

func (r *Repository) CreateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO suppliers (category_id, name, email, phone, address, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, now())
		 RETURNING id, created_at`,
		s.CategoryID, s.Name, s.Email, s.Phone, s.Address).Scan(&s.ID, &s.CreatedAt)
	s.IsActive = true
	return s, err
}

func (r *Repository) UpdateSupplier(ctx context.Context, s Supplier) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE suppliers
		    SET category_id = $2, name = $3, email = $4, phone = $5, address = $6, is_active = $7
		  WHERE id = $1`,
		s.ID, s.CategoryID, s.Name, s.Email, s.Phone, s.Address, s.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Supplier items

func (r *Repository) ListSupplierItems(ctx context.Context, filter ListFilter) ([]SupplierItem, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, supplier_id, item_id, variation_id, item_code, name, unit_price,
		        min_order_qty, lead_time_days, is_active, created_at
		   FROM supplier_items
		  WHERE ($1 = 0 OR supplier_id = $1)
		    AND (NOT $2 OR is_active)
		    AND ($3 = '' OR name ILIKE '%' || $3 || '%' OR item_code ILIKE '%' || $3 || '%')
		  ORDER BY item_code`, filter.SupplierID, filter.ActiveOnly, filter.Search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SupplierItem
	for rows.Next() {
		var it SupplierItem
		if err := rows.Scan(&it.ID, &it.SupplierID, &it.ItemID, &it.VariationID, &it.Code, &it.Name,
			&it.UnitPrice, &it.MinOrderQty, &it.LeadTimeDays, &it.IsActive, &it.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) GetSupplierItem(ctx context.Context, id int64) (SupplierItem, error) {
	var it SupplierItem
	err := r.pool.QueryRow(ctx,
		`SELECT id, supplier_id, item_id, variation_id, item_code, name, unit_price,
		        min_order_qty, lead_time_days, is_active, created_at
		   FROM supplier_items WHERE id = $1`, id).
		Scan(&it.ID, &it.SupplierID, &it.ItemID, &it.VariationID, &it.Code, &it.Name,
			&it.UnitPrice, &it.MinOrderQty, &it.LeadTimeDays, &it.IsActive, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return SupplierItem{}, shared.ErrNotFound
	}
	return it, err
}

func (r *Repository) UpdateSupplierItem(ctx context.Context, it SupplierItem) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE supplier_items
		    SET name = $2, unit_price = $3, min_order_qty = $4, lead_time_days = $5, is_active = $6
		  WHERE id = $1`,
		it.ID, it.Name, it.UnitPrice, it.MinOrderQty, it.LeadTimeDays, it.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanStrings(rows pgx.Rows, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanInt64s(rows pgx.Rows, err error) ([]int64, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
