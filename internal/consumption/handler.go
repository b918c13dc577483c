package consumption

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

// Handler wires packaging consumption HTTP endpoints. Uploads arrive as a
// raw CSV body; the parsed draft round-trips as JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs consumption handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers consumption routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/branches/{id}/availability", h.availability)
	r.Get("/branches/{id}/packaging-rules", h.rules)
	r.Put("/branches/{id}/packaging-rules", h.saveRules)
	r.Post("/branches/{id}/packaging-uploads", h.stageUpload)
	r.Get("/branches/{id}/packaging-uploads/{uploadID}", h.draft)
	r.Delete("/branches/{id}/packaging-uploads/{uploadID}", h.cancelDraft)
	r.Post("/branches/{id}/packaging-uploads/{uploadID}/apply", h.applyDraft)
	r.Get("/branches/{id}/consumption", h.daily)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (shared.Actor, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
	}
	return actor, ok
}

func urlBranchID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	rows, err := h.service.Availability(r.Context(), actor, urlBranchID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) rules(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	rules, err := h.service.Rules(r.Context(), actor, urlBranchID(r))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rules)
}

type saveRulesBody struct {
	UploadID string `json:"upload_id"`
	Rules    []struct {
		ProductName string `json:"product_name"`
		Items       []struct {
			ItemID     int64  `json:"item_id"`
			Multiplier string `json:"multiplier"`
		} `json:"items"`
	} `json:"rules"`
}

func (h *Handler) saveRules(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body saveRulesBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	inputs := make([]RuleInput, 0, len(body.Rules))
	for _, rule := range body.Rules {
		input := RuleInput{ProductName: rule.ProductName}
		for _, item := range rule.Items {
			multiplier, err := decimal.NewFromString(item.Multiplier)
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid multiplier")
				return
			}
			input.Items = append(input.Items, RuleItemInput{ItemID: item.ItemID, Multiplier: multiplier})
		}
		inputs = append(inputs, input)
	}
	branchID := urlBranchID(r)
	if err := h.service.SaveRules(r.Context(), actor, branchID, inputs, body.UploadID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("packaging rules saved", "branch_id", branchID, "rules", len(inputs), "user_id", actor.UserID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stageUpload(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	draft, err := h.service.StageUpload(r.Context(), actor, urlBranchID(r), r.Body)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, draft)
}

func (h *Handler) draft(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	draft, err := h.service.Draft(r.Context(), actor, urlBranchID(r), chi.URLParam(r, "uploadID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, draft)
}

func (h *Handler) cancelDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.service.CancelDraft(r.Context(), actor, urlBranchID(r), chi.URLParam(r, "uploadID")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) applyDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	branchID := urlBranchID(r)
	result, err := h.service.ApplyDraft(r.Context(), actor, branchID, chi.URLParam(r, "uploadID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("packaging consumption applied", "branch_id", branchID, "items", len(result.Applied), "user_id", actor.UserID)
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) daily(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	var from, to time.Time
	if raw := q.Get("from"); raw != "" {
		from, _ = time.Parse("2006-01-02", raw)
	}
	if raw := q.Get("to"); raw != "" {
		to, _ = time.Parse("2006-01-02", raw)
	}
	rows, err := h.service.Daily(r.Context(), actor, urlBranchID(r), from, to)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}
