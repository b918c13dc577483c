package stock

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/platform/httpx"
	"github.com/larder-scm/larder-scm/internal/shared"
)

// Handler wires HTTP endpoints for warehouse stock.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock/balance", h.handleBalance)
	r.Get("/stock/ledger", h.handleLedger)
	r.Get("/stock/low", h.handleLowStock)
	r.Post("/stock/adjustments", h.handleAdjustment)
}

type adjustmentRequest struct {
	ItemID      int64  `json:"item_id"`
	VariationID int64  `json:"variation_id"`
	Qty         string `json:"qty"`
	Kind        string `json:"kind"`
	Note        string `json:"note"`
}

func (h *Handler) handleAdjustment(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	var req adjustmentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	qty, err := decimal.NewFromString(req.Qty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quantity")
		return
	}
	kind := AdjustmentVariance
	if req.Kind == string(AdjustmentDamage) {
		kind = AdjustmentDamage
	}
	input := AdjustmentInput{
		ItemID:      req.ItemID,
		VariationID: req.VariationID,
		Qty:         qty,
		Kind:        kind,
		Note:        req.Note,
	}
	if err := h.service.PostAdjustment(r.Context(), actor, input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("stock adjustment posted", "item_id", req.ItemID, "qty", req.Qty, "user_id", actor.UserID)
	httpx.JSON(w, http.StatusCreated, map[string]string{"status": "posted"})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	itemID := queryInt64(r, "item_id")
	variationID := queryInt64(r, "variation_id")
	locationID := queryInt64(r, "location_id")
	if itemID == 0 || locationID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "item_id and location_id are required")
		return
	}
	bal, err := h.service.Balance(r.Context(), itemID, variationID, locationID)
	if err != nil {
		if err == ErrBalanceNotFound {
			httpx.JSON(w, http.StatusOK, Balance{ItemID: itemID, VariationID: variationID, LocationID: locationID, QtyOnHand: decimal.Zero})
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	filter := LedgerFilter{
		ItemID:      queryInt64(r, "item_id"),
		VariationID: queryInt64(r, "variation_id"),
		LocationID:  queryInt64(r, "location_id"),
		Limit:       int(queryInt64(r, "limit")),
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse("2006-01-02", from); err == nil {
			filter.From = t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse("2006-01-02", to); err == nil {
			filter.To = t
		}
	}
	entries, err := h.service.Ledger(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.LowStock(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func queryInt64(r *http.Request, key string) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
