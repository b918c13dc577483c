package requests

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/larder-scm/larder-scm/internal/platform/httpx"
	"github.com/larder-scm/larder-scm/internal/shared"
)

// Handler wires branch request HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs requests handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers request routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/requests", h.list)
	r.Post("/requests", h.create)
	r.Get("/requests/{id}", h.get)
	r.Post("/requests/{id}/approve", h.approve)
	r.Post("/requests/{id}/reject", h.reject)
	r.Post("/requests/{id}/ready", h.markReady)
	r.Post("/requests/{id}/out-for-delivery", h.markOutForDelivery)
	r.Post("/requests/{id}/delivered", h.markDelivered)
	r.Post("/requests/{id}/complete", h.complete)
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

type createRequestBody struct {
	BranchID int64  `json:"branch_id"`
	Note     string `json:"note"`
	Lines    []struct {
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
	var body createRequestBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	input := CreateInput{BranchID: body.BranchID, Note: body.Note}
	for _, line := range body.Lines {
		qty, err := decimal.NewFromString(line.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid quantity")
			return
		}
		input.Lines = append(input.Lines, CreateLine{
			ItemID: line.ItemID, VariationID: line.VariationID, QtyRequested: qty,
		})
	}
	req, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("request created", "request_code", req.Code, "branch_id", req.BranchID, "user_id", actor.UserID)
	httpx.JSON(w, http.StatusCreated, req)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	if branchID, _ := strconv.ParseInt(q.Get("branch_id"), 10, 64); branchID != 0 {
		filter.BranchIDs = []int64{branchID}
	}
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

type approveBody struct {
	Note      string `json:"note"`
	Approvals []struct {
		LineID int64  `json:"line_id"`
		Qty    string `json:"qty"`
	} `json:"approvals"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body approveBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	var approvals []Approval
	for _, a := range body.Approvals {
		qty, err := decimal.NewFromString(a.Qty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid approved quantity")
			return
		}
		approvals = append(approvals, Approval{LineID: a.LineID, QtyApproved: qty})
	}
	if err := h.service.Approve(r.Context(), actor, urlID(r), approvals, body.Note); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusWarehouseProcessing)})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.service.Reject(r.Context(), actor, urlID(r), body.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(StatusRejected)})
}

func (h *Handler) markReady(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, StatusReadyForDelivery, h.service.MarkReady)
}

func (h *Handler) markOutForDelivery(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, StatusOutForDelivery, h.service.MarkOutForDelivery)
}

func (h *Handler) markDelivered(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, StatusDelivered, h.service.MarkDelivered)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, StatusCompleted, h.service.Complete)
}

func (h *Handler) simpleTransition(w http.ResponseWriter, r *http.Request, to Status,
	fn func(ctx context.Context, actor shared.Actor, id int64) error) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	id := urlID(r)
	if err := fn(r.Context(), actor, id); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("request status changed", "request_id", id, "to", string(to), "user_id", actor.UserID)
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(to)})
}
