package supplierorders

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

// Handler wires supplier order HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs supplier orders handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the authenticated order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/supplier-orders", h.list)
	r.Post("/supplier-orders", h.place)
	r.Get("/supplier-orders/{id}", h.get)
	r.Post("/supplier-orders/{id}/received", h.markReceived)
	r.Post("/supplier-orders/{id}/recreate", h.cancelAndRecreate)
	r.Post("/supplier-orders/{id}/status", h.setStatus)
}

// MountPortalRoutes registers the unauthenticated supplier portal. Tokens
// are the only credential; an unknown token is a plain 404.
func (h *Handler) MountPortalRoutes(r chi.Router) {
	r.Get("/portal/{token}", h.portalView)
	r.Post("/portal/{token}/sign", h.portalSign)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
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

type placeOrderBody struct {
	SupplierID     int64  `json:"supplier_id"`
	HoldAtSupplier bool   `json:"hold_at_supplier"`
	DeliveryDate   string `json:"requested_delivery_date"`
	Lines          []struct {
		ItemID      int64  `json:"item_id"`
		VariationID int64  `json:"variation_id"`
		Qty         string `json:"qty"`
		UnitPrice   string `json:"unit_price"`
	} `json:"lines"`
}

func (h *Handler) place(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body placeOrderBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	input := PlaceInput{SupplierID: body.SupplierID, HoldAtSupplier: body.HoldAtSupplier}
	if body.DeliveryDate != "" {
		d, err := time.Parse("2006-01-02", body.DeliveryDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid delivery date")
			return
		}
		input.DeliveryDate = &d
	}
	for _, line := range body.Lines {
		qty, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quantity")
			return
		}
		price := decimal.Zero
		if line.UnitPrice != "" {
			price, err = decimal.NewFromString(line.UnitPrice)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid unit price")
				return
			}
		}
		input.Lines = append(input.Lines, PlaceLine{
			ItemID: line.ItemID, VariationID: line.VariationID, Qty: qty, UnitPrice: price,
		})
	}
	order, err := h.service.Place(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("supplier order placed", "order_code", order.Code, "supplier_id", order.SupplierID, "user_id", actor.UserID)
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	filter.SupplierID, _ = strconv.ParseInt(q.Get("supplier_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	orders, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, orders)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	order, err := h.service.Get(r.Context(), actor, urlID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) markReceived(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Note string `json:"note"`
	}
	_ = httpx.DecodeJSON(r, &body)
	order, err := h.service.MarkReceived(r.Context(), actor, urlID(r), body.Note)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("supplier order received", "order_code", order.Code, "user_id", actor.UserID)
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) cancelAndRecreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	order, err := h.service.CancelAndRecreate(r.Context(), actor, urlID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("supplier order reissued", "order_code", order.Code, "user_id", actor.UserID)
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Status Status `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	order, err := h.service.SetStatus(r.Context(), actor, urlID(r), body.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) portalView(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.ViewByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) portalSign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SignerName    string `json:"signer_name"`
		SignatureData string `json:"signature_data"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	sig, err := h.service.SignInvoice(r.Context(), chi.URLParam(r, "token"), body.SignerName, body.SignatureData)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("invoice signed", "order_id", sig.OrderID, "signer", sig.SignerName)
	httpx.JSON(w, http.StatusCreated, sig)
}
