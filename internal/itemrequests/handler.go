package itemrequests

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/platform/httpx"
	"github.com/larder-scm/larder-scm/internal/shared"
)

// Handler wires item request HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs item requests handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers item request routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/item-requests", h.list)
	r.Post("/item-requests", h.create)
	r.Get("/item-requests/{id}", h.get)
	r.Post("/item-requests/{id}/status", h.setStatus)
	r.Post("/item-requests/{id}/cancel", h.cancel)
	r.Post("/item-requests/{id}/confirm-stock", h.confirmStock)
	r.Get("/supplier-stock", h.stock)
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

type createBody struct {
	SupplierID      int64  `json:"supplier_id"`
	DeliveryDaysMin int    `json:"delivery_days_min"`
	DeliveryDaysMax int    `json:"delivery_days_max"`
	Note            string `json:"note"`
	Lines           []struct {
		ItemID      int64  `json:"item_id"`
		VariationID int64  `json:"variation_id"`
		Qty         string `json:"qty"`
	} `json:"lines"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body createBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	input := CreateInput{
		SupplierID:      body.SupplierID,
		DeliveryDaysMin: body.DeliveryDaysMin,
		DeliveryDaysMax: body.DeliveryDaysMax,
		Note:            body.Note,
	}
	for _, line := range body.Lines {
		qty, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quantity")
			return
		}
		input.Lines = append(input.Lines, CreateLine{
			ItemID: line.ItemID, VariationID: line.VariationID, Qty: qty,
		})
	}
	req, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("item request created", "request_code", req.Code, "supplier_id", req.SupplierID, "user_id", actor.UserID)
	httpx.JSON(w, http.StatusCreated, req)
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
	reqs, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, reqs)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, err := h.service.Get(r.Context(), actor, urlID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
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
	req, err := h.service.SetStatus(r.Context(), actor, urlID(r), body.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, err := h.service.Cancel(r.Context(), actor, urlID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) confirmStock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, err := h.service.ConfirmStock(r.Context(), actor, urlID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("item request moved to stock", "request_code", req.Code, "user_id", actor.UserID)
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	supplierID, _ := strconv.ParseInt(r.URL.Query().Get("supplier_id"), 10, 64)
	view, err := h.service.Stock(r.Context(), actor, supplierID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}
