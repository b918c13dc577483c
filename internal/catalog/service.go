package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/codes"
	"github.com/larder-scm/larder-scm/internal/shared"
)

// codeRetries bounds how many times a creation retries after losing a code
// allocation race to a concurrent insert.
const codeRetries = 5

// RepositoryPort abstracts repository usage for Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	ListBrands(ctx context.Context) ([]Brand, error)
	CreateBrand(ctx context.Context, name string) (Brand, error)

	ListBranches(ctx context.Context, filter ListFilter) ([]Branch, error)
	GetBranch(ctx context.Context, id int64) (Branch, error)
	CreateBranch(ctx context.Context, branch Branch) (Branch, error)
	UpdateBranch(ctx context.Context, branch Branch) error

	ListBaseUnits(ctx context.Context) ([]BaseUnit, error)
	CreateBaseUnit(ctx context.Context, name string) (BaseUnit, error)

	ListItems(ctx context.Context, filter ListFilter) ([]Item, error)
	GetItem(ctx context.Context, id int64) (Item, error)
	UpdateItem(ctx context.Context, item Item) error
	SetItemBranches(ctx context.Context, itemID int64, branchIDs []int64) error

	ListVariations(ctx context.Context, itemID int64) ([]Variation, error)
	CreateVariation(ctx context.Context, v Variation) (Variation, error)
	UpdateVariation(ctx context.Context, v Variation) error

	ListCategories(ctx context.Context) ([]SupplierCategory, error)
	GetCategory(ctx context.Context, id int64) (SupplierCategory, error)
	CreateCategory(ctx context.Context, name string) (SupplierCategory, error)

	ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	CreateSupplier(ctx context.Context, s Supplier) (Supplier, error)
	UpdateSupplier(ctx context.Context, s Supplier) error

	ListSupplierItems(ctx context.Context, filter ListFilter) ([]SupplierItem, error)
	GetSupplierItem(ctx context.Context, id int64) (SupplierItem, error)
	UpdateSupplierItem(ctx context.Context, it SupplierItem) error
}

// Service manages catalog master data.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func (s *Service) ListBrands(ctx context.Context) ([]Brand, error) {
	return s.repo.ListBrands(ctx)
}

func (s *Service) CreateBrand(ctx context.Context, actor shared.Actor, name string) (Brand, error) {
	if !actor.CanManageCatalog() {
		return Brand{}, shared.ErrForbidden
	}
	if name == "" {
		return Brand{}, shared.Validationf("brand name is required")
	}
	return s.repo.CreateBrand(ctx, name)
}

func (s *Service) ListBranches(ctx context.Context, filter ListFilter) ([]Branch, error) {
	return s.repo.ListBranches(ctx, filter)
}

func (s *Service) CreateBranch(ctx context.Context, actor shared.Actor, branch Branch) (Branch, error) {
	if !actor.CanManageCatalog() {
		return Branch{}, shared.ErrForbidden
	}
	if branch.Name == "" {
		return Branch{}, shared.Validationf("branch name is required")
	}
	if branch.BrandID == 0 {
		return Branch{}, shared.Validationf("brand is required")
	}
	return s.repo.CreateBranch(ctx, branch)
}

func (s *Service) UpdateBranch(ctx context.Context, actor shared.Actor, branch Branch) error {
	if !actor.CanManageCatalog() {
		return shared.ErrForbidden
	}
	if branch.Name == "" {
		return shared.Validationf("branch name is required")
	}
	return s.repo.UpdateBranch(ctx, branch)
}

func (s *Service) ListBaseUnits(ctx context.Context) ([]BaseUnit, error) {
	return s.repo.ListBaseUnits(ctx)
}

func (s *Service) CreateBaseUnit(ctx context.Context, actor shared.Actor, name string) (BaseUnit, error) {
	if !actor.CanManageCatalog() {
		return BaseUnit{}, shared.ErrForbidden
	}
	if name == "" {
		return BaseUnit{}, shared.Validationf("unit name is required")
	}
	return s.repo.CreateBaseUnit(ctx, name)
}

func (s *Service) ListItems(ctx context.Context, filter ListFilter) ([]Item, error) {
	return s.repo.ListItems(ctx, filter)
}

func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// CreateItem allocates the next ITM code and inserts the item with its
// branch assignments. Losing the code to a concurrent creation retries with
// a fresh number.
func (s *Service) CreateItem(ctx context.Context, actor shared.Actor, item Item) (Item, error) {
	if !actor.CanManageCatalog() {
		return Item{}, shared.ErrForbidden
	}
	if item.Name == "" {
		return Item{}, shared.Validationf("item name is required")
	}
	if item.BrandID == 0 {
		return Item{}, shared.Validationf("brand is required")
	}
	if item.BaseUnitID == 0 {
		return Item{}, shared.Validationf("base unit is required")
	}
	if item.MinStockQty.Sign() <= 0 {
		return Item{}, shared.Validationf("minimum stock quantity must be positive")
	}
	if item.MinOrderQty.Sign() <= 0 {
		return Item{}, shared.Validationf("minimum order quantity must be positive")
	}
	if item.UnitPrice.Valid && item.UnitPrice.Decimal.Sign() < 0 {
		return Item{}, shared.Validationf("unit price must not be negative")
	}
	var lastErr error
	for attempt := 0; attempt < codeRetries; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			existing, err := tx.ItemCodes(ctx, codes.ItemPrefix)
			if err != nil {
				return err
			}
			item.Code = codes.ItemCode(codes.ItemPrefix, codes.MaxSuffix(existing)+1)
			item.ID, err = tx.InsertItem(ctx, item)
			if err != nil {
				return err
			}
			return tx.ReplaceItemBranches(ctx, item.ID, item.BranchIDs)
		})
		if err == nil {
			item.IsActive = true
			return item, nil
		}
		if !codes.IsUniqueViolation(err) {
			return Item{}, err
		}
		lastErr = err
	}
	return Item{}, lastErr
}

func (s *Service) UpdateItem(ctx context.Context, actor shared.Actor, item Item) error {
	if !actor.CanManageCatalog() {
		return shared.ErrForbidden
	}
	if item.Name == "" {
		return shared.Validationf("item name is required")
	}
	if item.MinStockQty.Sign() <= 0 || item.MinOrderQty.Sign() <= 0 {
		return shared.Validationf("minimum quantities must be positive")
	}
	if item.UnitPrice.Valid && item.UnitPrice.Decimal.Sign() < 0 {
		return shared.Validationf("unit price must not be negative")
	}
	if err := s.repo.UpdateItem(ctx, item); err != nil {
		return err
	}
	if item.BranchIDs != nil {
		return s.repo.SetItemBranches(ctx, item.ID, item.BranchIDs)
	}
	return nil
}

// DeactivateItem soft-deletes an item. History and code are retained.
func (s *Service) DeactivateItem(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.CanManageCatalog() {
		return shared.ErrForbidden
	}
	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return err
	}
	item.IsActive = false
	item.BranchIDs = nil
	return s.repo.UpdateItem(ctx, item)
}

func (s *Service) ListVariations(ctx context.Context, itemID int64) ([]Variation, error) {
	return s.repo.ListVariations(ctx, itemID)
}

func (s *Service) CreateVariation(ctx context.Context, actor shared.Actor, v Variation) (Variation, error) {
	if !actor.CanManageCatalog() {
		return Variation{}, shared.ErrForbidden
	}
	if v.ItemID == 0 || v.Name == "" {
		return Variation{}, shared.Validationf("item and variation name are required")
	}
	return s.repo.CreateVariation(ctx, v)
}

func (s *Service) UpdateVariation(ctx context.Context, actor shared.Actor, v Variation) error {
	if !actor.CanManageCatalog() {
		return shared.ErrForbidden
	}
	if v.Name == "" {
		return shared.Validationf("variation name is required")
	}
	return s.repo.UpdateVariation(ctx, v)
}

func (s *Service) ListCategories(ctx context.Context) ([]SupplierCategory, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, actor shared.Actor, name string) (SupplierCategory, error) {
	if !actor.CanManageCatalog() {
		return SupplierCategory{}, shared.ErrForbidden
	}
	if name == "" {
		return SupplierCategory{}, shared.Validationf("category name is required")
	}
	return s.repo.CreateCategory(ctx, name)
}

func (s *Service) ListSuppliers(ctx context.Context, filter ListFilter) ([]Supplier, error) {
	return s.repo.ListSuppliers(ctx, filter)
}

func (s *Service) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	return s.repo.GetSupplier(ctx, id)
}

func (s *Service) CreateSupplier(ctx context.Context, actor shared.Actor, sup Supplier) (Supplier, error) {
	if !actor.CanManageCatalog() {
		return Supplier{}, shared.ErrForbidden
	}
	if sup.Name == "" {
		return Supplier{}, shared.Validationf("supplier name is required")
	}
	if sup.CategoryID == 0 {
		return Supplier{}, shared.Validationf("supplier category is required")
	}
	if _, err := s.repo.GetCategory(ctx, sup.CategoryID); err != nil {
		return Supplier{}, err
	}
	return s.repo.CreateSupplier(ctx, sup)
}

func (s *Service) UpdateSupplier(ctx context.Context, actor shared.Actor, sup Supplier) error {
	if !actor.CanManageCatalog() {
		return shared.ErrForbidden
	}
	if sup.Name == "" {
		return shared.Validationf("supplier name is required")
	}
	return s.repo.UpdateSupplier(ctx, sup)
}

func (s *Service) ListSupplierItems(ctx context.Context, filter ListFilter) ([]SupplierItem, error) {
	return s.repo.ListSupplierItems(ctx, filter)
}

// CreateSupplierItem allocates the next code under the supplier category's
// prefix, e.g. PKG-0007 for a packaging supplier, before inserting. The
// offering is always linked to a warehouse item: an explicit ItemID wins,
// otherwise the name is matched against active items, and a new item is
// created under the same prefix when nothing matches. The new item inherits
// the offering's minimum order quantity and unit price.
func (s *Service) CreateSupplierItem(ctx context.Context, actor shared.Actor, input SupplierItemInput) (SupplierItem, error) {
	if !actor.CanManageCatalog() {
		return SupplierItem{}, shared.ErrForbidden
	}
	if input.ItemID == 0 && input.Name == "" {
		return SupplierItem{}, shared.Validationf("item name is required")
	}
	if input.UnitPrice.Cmp(decimal.Zero) < 0 {
		return SupplierItem{}, shared.Validationf("unit price must not be negative")
	}
	if input.MinOrderQty.Sign() < 0 {
		return SupplierItem{}, shared.Validationf("minimum order quantity must not be negative")
	}
	supplier, err := s.repo.GetSupplier(ctx, input.SupplierID)
	if err != nil {
		return SupplierItem{}, err
	}
	category, err := s.repo.GetCategory(ctx, supplier.CategoryID)
	if err != nil {
		return SupplierItem{}, err
	}
	prefix := codes.CategoryPrefix(category.Name)
	var created SupplierItem
	var lastErr error
	for attempt := 0; attempt < codeRetries; attempt++ {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			item, err := s.resolveSupplierItemTarget(ctx, tx, prefix, input)
			if err != nil {
				return err
			}
			existing, err := tx.SupplierItemCodes(ctx, prefix)
			if err != nil {
				return err
			}
			created = SupplierItem{
				SupplierID:   input.SupplierID,
				ItemID:       item.ID,
				VariationID:  input.VariationID,
				Code:         codes.ItemCode(prefix, codes.MaxSuffix(existing)+1),
				Name:         item.Name,
				UnitPrice:    input.UnitPrice,
				MinOrderQty:  input.MinOrderQty,
				LeadTimeDays: input.LeadTimeDays,
			}
			created.ID, err = tx.InsertSupplierItem(ctx, created)
			return err
		})
		if err == nil {
			created.IsActive = true
			return created, nil
		}
		if !codes.IsUniqueViolation(err) {
			return SupplierItem{}, err
		}
		lastErr = err
	}
	return SupplierItem{}, lastErr
}

// resolveSupplierItemTarget finds or creates the warehouse item a new
// supplier offering points at, inside the same transaction that inserts the
// offering.
func (s *Service) resolveSupplierItemTarget(ctx context.Context, tx TxRepository, prefix string, input SupplierItemInput) (Item, error) {
	if input.ItemID != 0 {
		return tx.FindItem(ctx, input.ItemID)
	}
	item, err := tx.FindActiveItemByName(ctx, input.Name)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Item{}, err
	}
	if input.ItemBaseUnitID == 0 {
		return Item{}, shared.Validationf("base unit is required for a new item")
	}
	if input.ItemMinStockQty.Sign() <= 0 {
		return Item{}, shared.Validationf("minimum stock quantity must be positive for a new item")
	}
	if input.MinOrderQty.Sign() <= 0 {
		return Item{}, shared.Validationf("minimum order quantity must be positive for a new item")
	}
	brandID := input.ItemBrandID
	if brandID == 0 {
		brandID, err = tx.DefaultBrandID(ctx)
		if err != nil {
			return Item{}, err
		}
	}
	existing, err := tx.ItemCodes(ctx, prefix)
	if err != nil {
		return Item{}, err
	}
	item = Item{
		Code:        codes.ItemCode(prefix, codes.MaxSuffix(existing)+1),
		Name:        input.Name,
		BrandID:     brandID,
		BaseUnitID:  input.ItemBaseUnitID,
		MinStockQty: input.ItemMinStockQty,
		MinOrderQty: input.MinOrderQty,
		UnitPrice:   decimal.NewNullDecimal(input.UnitPrice),
		IsActive:    true,
	}
	item.ID, err = tx.InsertItem(ctx, item)
	return item, err
}

func (s *Service) UpdateSupplierItem(ctx context.Context, actor shared.Actor, item SupplierItem) error {
	if !actor.CanManageCatalog() {
		return shared.ErrForbidden
	}
	if item.Name == "" {
		return shared.Validationf("item name is required")
	}
	if item.UnitPrice.Cmp(decimal.Zero) < 0 {
		return shared.Validationf("unit price must not be negative")
	}
	if item.MinOrderQty.Sign() < 0 {
		return shared.Validationf("minimum order quantity must not be negative")
	}
	return s.repo.UpdateSupplierItem(ctx, item)
}
