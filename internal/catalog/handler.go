package catalog

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/platform/httpx"
	"github.com/larder-scm/larder-scm/internal/shared"
)

// Handler wires catalog HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/brands", h.listBrands)
	r.Post("/brands", h.createBrand)

	r.Get("/branches", h.listBranches)
	r.Get("/branches/{id}", h.getBranch)
	r.Post("/branches", h.createBranch)
	r.Put("/branches/{id}", h.updateBranch)

	r.Get("/units", h.listUnits)
	r.Post("/units", h.createUnit)

	r.Get("/items", h.listItems)
	r.Get("/items/{id}", h.getItem)
	r.Post("/items", h.createItem)
	r.Put("/items/{id}", h.updateItem)
	r.Delete("/items/{id}", h.deactivateItem)
	r.Get("/items/{id}/variations", h.listVariations)
	r.Post("/items/{id}/variations", h.createVariation)
	r.Put("/variations/{id}", h.updateVariation)

	r.Get("/supplier-categories", h.listCategories)
	r.Post("/supplier-categories", h.createCategory)

	r.Get("/suppliers", h.listSuppliers)
	r.Get("/suppliers/{id}", h.getSupplier)
	r.Post("/suppliers", h.createSupplier)
	r.Put("/suppliers/{id}", h.updateSupplier)

	r.Get("/supplier-items", h.listSupplierItems)
	r.Post("/supplier-items", h.createSupplierItem)
	r.Put("/supplier-items/{id}", h.updateSupplierItem)
}

func actorOrAbort(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
	}
	return actor, ok
}

func urlID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id
}

func listFilterFromQuery(r *http.Request) ListFilter {
	q := r.URL.Query()
	parse := func(key string) int64 {
		n, _ := strconv.ParseInt(q.Get(key), 10, 64)
		return n
	}
	return ListFilter{
		Search:     q.Get("q"),
		BrandID:    parse("brand_id"),
		BranchID:   parse("branch_id"),
		SupplierID: parse("supplier_id"),
		CategoryID: parse("category_id"),
		ActiveOnly: q.Get("active") == "true",
		Limit:      int(parse("limit")),
		Offset:     int(parse("offset")),
	}
}

type nameRequest struct {
	Name string `json:"name"`
}

func (h *Handler) listBrands(w http.ResponseWriter, r *http.Request) {
	brands, err := h.service.ListBrands(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, brands)
}

func (h *Handler) createBrand(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	brand, err := h.service.CreateBrand(r.Context(), actor, req.Name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, brand)
}

type branchRequest struct {
	BrandID  int64  `json:"brand_id"`
	Name     string `json:"name"`
	Address  string `json:"address"`
	IsActive *bool  `json:"is_active"`
}

func (h *Handler) listBranches(w http.ResponseWriter, r *http.Request) {
	branches, err := h.service.ListBranches(r.Context(), listFilterFromQuery(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, branches)
}

func (h *Handler) getBranch(w http.ResponseWriter, r *http.Request) {
	branch, err := h.service.repo.GetBranch(r.Context(), urlID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, branch)
}

func (h *Handler) createBranch(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req branchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	branch, err := h.service.CreateBranch(r.Context(), actor, Branch{
		BrandID: req.BrandID, Name: req.Name, Address: req.Address,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, branch)
}

func (h *Handler) updateBranch(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req branchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	branch := Branch{ID: urlID(r), BrandID: req.BrandID, Name: req.Name, Address: req.Address, IsActive: true}
	if req.IsActive != nil {
		branch.IsActive = *req.IsActive
	}
	if err := h.service.UpdateBranch(r.Context(), actor, branch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.service.ListBaseUnits(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, units)
}

func (h *Handler) createUnit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	unit, err := h.service.CreateBaseUnit(r.Context(), actor, req.Name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, unit)
}

type itemRequest struct {
	Name        string  `json:"name"`
	BrandID     int64   `json:"brand_id"`
	BaseUnitID  int64   `json:"base_unit_id"`
	MinStockQty string  `json:"min_stock_qty"`
	MinOrderQty string  `json:"min_order_qty"`
	UnitPrice   string  `json:"unit_price"`
	BranchIDs   []int64 `json:"branch_ids"`
	IsActive    *bool   `json:"is_active"`
}

func (req itemRequest) toItem() (Item, error) {
	minStock, err := decimal.NewFromString(req.MinStockQty)
	if err != nil {
		return Item{}, shared.Validationf("invalid minimum stock quantity")
	}
	minOrder, err := decimal.NewFromString(req.MinOrderQty)
	if err != nil {
		return Item{}, shared.Validationf("invalid minimum order quantity")
	}
	item := Item{
		Name:        req.Name,
		BrandID:     req.BrandID,
		BaseUnitID:  req.BaseUnitID,
		MinStockQty: minStock,
		MinOrderQty: minOrder,
		BranchIDs:   req.BranchIDs,
		IsActive:    true,
	}
	if req.UnitPrice != "" {
		price, err := decimal.NewFromString(req.UnitPrice)
		if err != nil {
			return Item{}, shared.Validationf("invalid unit price")
		}
		item.UnitPrice = decimal.NewNullDecimal(price)
	}
	if req.IsActive != nil {
		item.IsActive = *req.IsActive
	}
	return item, nil
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListItems(r.Context(), listFilterFromQuery(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.service.GetItem(r.Context(), urlID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	item, err := req.toItem()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	created, err := h.service.CreateItem(r.Context(), actor, item)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("item created", "item_code", created.Code, "user_id", actor.UserID)
	httpx.JSON(w, http.StatusCreated, created)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	item, err := req.toItem()
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item.ID = urlID(r)
	if err := h.service.UpdateItem(r.Context(), actor, item); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deactivateItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	if err := h.service.DeactivateItem(r.Context(), actor, urlID(r)); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

type variationRequest struct {
	Name     string `json:"name"`
	IsActive *bool  `json:"is_active"`
}

func (h *Handler) listVariations(w http.ResponseWriter, r *http.Request) {
	variations, err := h.service.ListVariations(r.Context(), urlID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, variations)
}

func (h *Handler) createVariation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req variationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	v, err := h.service.CreateVariation(r.Context(), actor, Variation{ItemID: urlID(r), Name: req.Name})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) updateVariation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req variationRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	v := Variation{ID: urlID(r), Name: req.Name, IsActive: true}
	if req.IsActive != nil {
		v.IsActive = *req.IsActive
	}
	if err := h.service.UpdateVariation(r.Context(), actor, v); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.service.ListCategories(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cats)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req nameRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	cat, err := h.service.CreateCategory(r.Context(), actor, req.Name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cat)
}

type supplierRequest struct {
	CategoryID int64  `json:"category_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	IsActive   *bool  `json:"is_active"`
}

func (h *Handler) listSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := h.service.ListSuppliers(r.Context(), listFilterFromQuery(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, suppliers)
}

func (h *Handler) getSupplier(w http.ResponseWriter, r *http.Request) {
	supplier, err := h.service.GetSupplier(r.Context(), urlID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, supplier)
}

func (h *Handler) createSupplier(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req supplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	supplier, err := h.service.CreateSupplier(r.Context(), actor, Supplier{
		CategoryID: req.CategoryID, Name: req.Name, Email: req.Email, Phone: req.Phone, Address: req.Address,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, supplier)
}

func (h *Handler) updateSupplier(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req supplierRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	supplier := Supplier{
		ID: urlID(r), CategoryID: req.CategoryID, Name: req.Name,
		Email: req.Email, Phone: req.Phone, Address: req.Address, IsActive: true,
	}
	if req.IsActive != nil {
		supplier.IsActive = *req.IsActive
	}
	if err := h.service.UpdateSupplier(r.Context(), actor, supplier); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type supplierItemRequest struct {
	SupplierID   int64  `json:"supplier_id"`
	ItemID       int64  `json:"item_id"`
	VariationID  int64  `json:"variation_id"`
	Name         string `json:"name"`
	UnitPrice    string `json:"unit_price"`
	MinOrderQty  string `json:"min_order_qty"`
	LeadTimeDays int    `json:"lead_time_days"`
	IsActive     *bool  `json:"is_active"`

	// used only when the named warehouse item has to be created
	ItemBrandID     int64  `json:"item_brand_id"`
	ItemBaseUnitID  int64  `json:"item_base_unit_id"`
	ItemMinStockQty string `json:"item_min_stock_qty"`
}

func parseQty(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func (h *Handler) listSupplierItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListSupplierItems(r.Context(), listFilterFromQuery(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) createSupplierItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req supplierItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	price, err := parseQty(req.UnitPrice)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid unit price")
		return
	}
	minOrder, err := parseQty(req.MinOrderQty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid minimum order quantity")
		return
	}
	minStock, err := parseQty(req.ItemMinStockQty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid minimum stock quantity")
		return
	}
	item, err := h.service.CreateSupplierItem(r.Context(), actor, SupplierItemInput{
		SupplierID:      req.SupplierID,
		ItemID:          req.ItemID,
		VariationID:     req.VariationID,
		Name:            req.Name,
		UnitPrice:       price,
		MinOrderQty:     minOrder,
		LeadTimeDays:    req.LeadTimeDays,
		ItemBrandID:     req.ItemBrandID,
		ItemBaseUnitID:  req.ItemBaseUnitID,
		ItemMinStockQty: minStock,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("supplier item created", "item_code", item.Code, "supplier_id", item.SupplierID)
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) updateSupplierItem(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrAbort(w, r)
	if !ok {
		return
	}
	var req supplierItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	price, err := parseQty(req.UnitPrice)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid unit price")
		return
	}
	minOrder, err := parseQty(req.MinOrderQty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid minimum order quantity")
		return
	}
	item := SupplierItem{
		ID: urlID(r), Name: req.Name, UnitPrice: price,
		MinOrderQty: minOrder, LeadTimeDays: req.LeadTimeDays, IsActive: true,
	}
	if req.IsActive != nil {
		item.IsActive = *req.IsActive
	}
	if err := h.service.UpdateSupplierItem(r.Context(), actor, item); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "updated"})
}
