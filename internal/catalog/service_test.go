package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/larder-scm/larder-scm/internal/shared"
)

type memoryRepo struct {
	brands        []Brand
	branches      []Branch
	units         []BaseUnit
	items         []Item
	itemBranches  map[int64][]int64
	variations    []Variation
	categories    []SupplierCategory
	suppliers     []Supplier
	supplierItems []SupplierItem

	// failInserts makes the next n item inserts fail with a unique
	// violation, simulating a lost code allocation race.
	failInserts int
	nextID      int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{itemBranches: map[int64][]int64{}}
}

func uniqueViolation() error {
	return &pgconn.PgError{Code: "23505", ConstraintName: "items_item_code_key"}
}

func (r *memoryRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r)
}

func (r *memoryRepo) ItemCodes(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for _, it := range r.items {
		if strings.HasPrefix(it.Code, prefix+"-") {
			out = append(out, it.Code)
		}
	}
	return out, nil
}

func (r *memoryRepo) FindItem(ctx context.Context, id int64) (Item, error) {
	return r.GetItem(ctx, id)
}

func (r *memoryRepo) FindActiveItemByName(ctx context.Context, name string) (Item, error) {
	for _, it := range r.items {
		if it.IsActive && strings.EqualFold(it.Name, name) {
			return it, nil
		}
	}
	return Item{}, shared.ErrNotFound
}

func (r *memoryRepo) DefaultBrandID(ctx context.Context) (int64, error) {
	if len(r.brands) == 0 {
		return 0, shared.Validationf("no brands exist yet")
	}
	return r.brands[0].ID, nil
}

func (r *memoryRepo) InsertItem(ctx context.Context, item Item) (int64, error) {
	if r.failInserts > 0 {
		r.failInserts--
		return 0, uniqueViolation()
	}
	item.ID = r.id()
	item.IsActive = true
	r.items = append(r.items, item)
	return item.ID, nil
}

func (r *memoryRepo) ReplaceItemBranches(ctx context.Context, itemID int64, branchIDs []int64) error {
	r.itemBranches[itemID] = branchIDs
	return nil
}

func (r *memoryRepo) SupplierItemCodes(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	for _, it := range r.supplierItems {
		if strings.HasPrefix(it.Code, prefix+"-") {
			out = append(out, it.Code)
		}
	}
	return out, nil
}

func (r *memoryRepo) InsertSupplierItem(ctx context.Context, item SupplierItem) (int64, error) {
	if r.failInserts > 0 {
		r.failInserts--
		return 0, uniqueViolation()
	}
	item.ID = r.id()
	item.IsActive = true
	r.supplierItems = append(r.supplierItems, item)
	return item.ID, nil
}

func (r *memoryRepo) ListBrands(ctx context.Context) ([]Brand, error) { return r.brands, nil }

func (r *memoryRepo) CreateBrand(ctx context.Context, name string) (Brand, error) {
	b := Brand{ID: r.id(), Name: name}
	r.brands = append(r.brands, b)
	return b, nil
}

func (r *memoryRepo) ListBranches(ctx context.Context, filter ListFilter) ([]Branch, error) {
	return r.branches, nil
}

func (r *memoryRepo) GetBranch(ctx context.Context, id int64) (Branch, error) {
	for _, b := range r.branches {
		if b.ID == id {
			return b, nil
		}
	}
	return Branch{}, shared.ErrNotFound
}

func (r *memoryRepo) CreateBranch(ctx context.Context, branch Branch) (Branch, error) {
	branch.ID = r.id()
	branch.IsActive = true
	r.branches = append(r.branches, branch)
	return branch, nil
}

func (r *memoryRepo) UpdateBranch(ctx context.Context, branch Branch) error {
	for i, b := range r.branches {
		if b.ID == branch.ID {
			r.branches[i] = branch
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memoryRepo) ListBaseUnits(ctx context.Context) ([]BaseUnit, error) { return r.units, nil }

func (r *memoryRepo) CreateBaseUnit(ctx context.Context, name string) (BaseUnit, error) {
	u := BaseUnit{ID: r.id(), Name: name}
	r.units = append(r.units, u)
	return u, nil
}

func (r *memoryRepo) ListItems(ctx context.Context, filter ListFilter) ([]Item, error) {
	return r.items, nil
}

func (r *memoryRepo) GetItem(ctx context.Context, id int64) (Item, error) {
	for _, it := range r.items {
		if it.ID == id {
			it.BranchIDs = r.itemBranches[id]
			return it, nil
		}
	}
	return Item{}, shared.ErrNotFound
}

func (r *memoryRepo) UpdateItem(ctx context.Context, item Item) error {
	for i, it := range r.items {
		if it.ID == item.ID {
			item.Code = it.Code
			r.items[i] = item
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memoryRepo) SetItemBranches(ctx context.Context, itemID int64, branchIDs []int64) error {
	r.itemBranches[itemID] = branchIDs
	return nil
}

func (r *memoryRepo) ListVariations(ctx context.Context, itemID int64) ([]Variation, error) {
	var out []Variation
	for _, v := range r.variations {
		if v.ItemID == itemID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *memoryRepo) CreateVariation(ctx context.Context, v Variation) (Variation, error) {
	v.ID = r.id()
	v.IsActive = true
	r.variations = append(r.variations, v)
	return v, nil
}

func (r *memoryRepo) UpdateVariation(ctx context.Context, v Variation) error {
	for i, existing := range r.variations {
		if existing.ID == v.ID {
			v.ItemID = existing.ItemID
			r.variations[i] = v
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memoryRepo) ListCategories(ctx context.Context) ([]SupplierCategory, error) {
	return r.categories, nil
}

func (r *memoryRepo) GetCategory(ctx context.Context, id int64) (SupplierCategory, error) {
	for _, c := range r.categories {
		if c.ID == id {
			return c, nil
		}
	}
	return SupplierCategory{}, shared.ErrNotFound
}

func (r *memoryRepo) CreateCategory(ctx context.Context, name string) (SupplierCategory, error) {
	c := SupplierCategory{ID: r.id(), Name: name}
	r.categories = append(r.categories, c)
	return c, nil
}

func (r *memoryRepo) ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, error) {
	return r.suppliers, nil
}

func (r *memoryRepo) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	for _, s := range r.suppliers {
		if s.ID == id {
			return s, nil
		}
	}
	return Supplier{}, shared.ErrNotFound
}

func (r *memoryRepo) CreateSupplier(ctx context.Context, s Supplier) (Supplier, error) {
	s.ID = r.id()
	s.IsActive = true
	r.suppliers = append(r.suppliers, s)
	return s, nil
}

func (r *memoryRepo) UpdateSupplier(ctx context.Context, s Supplier) error {
	for i, existing := range r.suppliers {
		if existing.ID == s.ID {
			r.suppliers[i] = s
			return nil
		}
	}
	return shared.ErrNotFound
}

func (r *memoryRepo) ListSupplierItems(ctx context.Context, filter ListFilter) ([]SupplierItem, error) {
	return r.supplierItems, nil
}

func (r *memoryRepo) GetSupplierItem(ctx context.Context, id int64) (SupplierItem, error) {
	for _, it := range r.supplierItems {
		if it.ID == id {
			return it, nil
		}
	}
	return SupplierItem{}, shared.ErrNotFound
}

func (r *memoryRepo) UpdateSupplierItem(ctx context.Context, it SupplierItem) error {
	for i, existing := range r.supplierItems {
		if existing.ID == it.ID {
			it.SupplierID = existing.SupplierID
			it.Code = existing.Code
			r.supplierItems[i] = it
			return nil
		}
	}
	return shared.ErrNotFound
}

func procurementActor() shared.Actor {
	return shared.Actor{UserID: 3, Role: shared.RoleProcurement}
}

func validItem(name string) Item {
	return Item{
		Name:        name,
		BrandID:     1,
		BaseUnitID:  1,
		MinStockQty: decimal.NewFromInt(10),
		MinOrderQty: decimal.NewFromInt(5),
	}
}

func TestCreateItemAllocatesSequentialCodes(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	first, err := svc.CreateItem(ctx, procurementActor(), validItem("Paper Cup 12oz"))
	require.NoError(t, err)
	require.Equal(t, "ITM-0001", first.Code)

	second, err := svc.CreateItem(ctx, procurementActor(), validItem("Paper Cup 16oz"))
	require.NoError(t, err)
	require.Equal(t, "ITM-0002", second.Code)
}

func TestCreateItemRetriesOnCodeCollision(t *testing.T) {
	repo := newMemoryRepo()
	repo.failInserts = 2
	svc := NewService(repo)

	item, err := svc.CreateItem(context.Background(), procurementActor(), validItem("Napkins"))
	require.NoError(t, err)
	require.Equal(t, "ITM-0001", item.Code)
	require.Len(t, repo.items, 1)
}

func TestCreateItemValidatesMinimums(t *testing.T) {
	svc := NewService(newMemoryRepo())
	bad := validItem("Lids")
	bad.MinStockQty = decimal.Zero

	_, err := svc.CreateItem(context.Background(), procurementActor(), bad)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateItemRequiresCatalogRole(t *testing.T) {
	svc := NewService(newMemoryRepo())
	_, err := svc.CreateItem(context.Background(), shared.Actor{Role: shared.RoleWarehouse}, validItem("Straws"))
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func supplierFixture(t *testing.T, svc *Service, category string) Supplier {
	t.Helper()
	ctx := context.Background()
	_, err := svc.CreateBrand(ctx, procurementActor(), "Maa")
	require.NoError(t, err)
	cat, err := svc.CreateCategory(ctx, procurementActor(), category)
	require.NoError(t, err)
	sup, err := svc.CreateSupplier(ctx, procurementActor(), Supplier{CategoryID: cat.ID, Name: "BoxCo"})
	require.NoError(t, err)
	return sup
}

func supplierItemInput(supplierID int64, name string, price float64) SupplierItemInput {
	return SupplierItemInput{
		SupplierID:      supplierID,
		Name:            name,
		UnitPrice:       decimal.NewFromFloat(price),
		MinOrderQty:     decimal.NewFromInt(10),
		ItemBaseUnitID:  1,
		ItemMinStockQty: decimal.NewFromInt(20),
	}
}

func TestCreateSupplierItemUsesCategoryPrefix(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	sup := supplierFixture(t, svc, "Packaging")

	item, err := svc.CreateSupplierItem(ctx, procurementActor(), supplierItemInput(sup.ID, "Burger Box", 1.25))
	require.NoError(t, err)
	require.Equal(t, "PKG-0001", item.Code)

	second, err := svc.CreateSupplierItem(ctx, procurementActor(), supplierItemInput(sup.ID, "Fries Box", 0.80))
	require.NoError(t, err)
	require.Equal(t, "PKG-0002", second.Code)
}

func TestCreateSupplierItemUnlistedCategoryFallsBack(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	sup := supplierFixture(t, svc, "Stationery")

	item, err := svc.CreateSupplierItem(context.Background(), procurementActor(),
		supplierItemInput(sup.ID, "Receipt Rolls", 3))
	require.NoError(t, err)
	require.Equal(t, "STA-0001", item.Code)
}

func TestCreateSupplierItemCreatesMissingItem(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	sup := supplierFixture(t, svc, "Packaging")

	created, err := svc.CreateSupplierItem(ctx, procurementActor(), supplierItemInput(sup.ID, "Burger Box", 1.25))
	require.NoError(t, err)
	require.NotZero(t, created.ItemID)

	item, err := svc.GetItem(ctx, created.ItemID)
	require.NoError(t, err)
	require.Equal(t, "PKG-0001", item.Code)
	require.Equal(t, "Burger Box", item.Name)
	require.Equal(t, repo.brands[0].ID, item.BrandID)
	require.True(t, item.MinOrderQty.Equal(decimal.NewFromInt(10)))
	require.True(t, item.MinStockQty.Equal(decimal.NewFromInt(20)))
	require.True(t, item.UnitPrice.Valid)
	require.True(t, item.UnitPrice.Decimal.Equal(decimal.NewFromFloat(1.25)))
}

func TestCreateSupplierItemLinksExistingItemByName(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	sup := supplierFixture(t, svc, "Packaging")

	existing, err := svc.CreateItem(ctx, procurementActor(), validItem("Burger Box"))
	require.NoError(t, err)

	created, err := svc.CreateSupplierItem(ctx, procurementActor(), supplierItemInput(sup.ID, "burger box", 1.25))
	require.NoError(t, err)
	require.Equal(t, existing.ID, created.ItemID)
	require.Equal(t, existing.Name, created.Name)
	require.Len(t, repo.items, 1)
}

func TestCreateSupplierItemNewItemNeedsUnit(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	sup := supplierFixture(t, svc, "Packaging")

	input := supplierItemInput(sup.ID, "Cup Sleeve", 0.10)
	input.ItemBaseUnitID = 0
	_, err := svc.CreateSupplierItem(context.Background(), procurementActor(), input)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.supplierItems)
}

func TestCreateItemRequiresBrand(t *testing.T) {
	svc := NewService(newMemoryRepo())
	item := validItem("Lids")
	item.BrandID = 0
	_, err := svc.CreateItem(context.Background(), procurementActor(), item)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeactivateItemKeepsCode(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	item, err := svc.CreateItem(ctx, procurementActor(), validItem("Cup Carrier"))
	require.NoError(t, err)

	require.NoError(t, svc.DeactivateItem(ctx, procurementActor(), item.ID))

	got, err := svc.GetItem(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
	require.Equal(t, item.Code, got.Code)
}
