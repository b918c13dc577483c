package auth

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/larder-scm/larder-scm/internal/platform/httpx"
	"github.com/larder-scm/larder-scm/internal/shared"
)

// Handler wires authentication HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	sessions *shared.SessionManager
}

// NewHandler constructs auth handler.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager) *Handler {
	return &Handler{logger: logger, service: service, sessions: sessions}
}

// MountRoutes registers auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/auth/login", h.login)
	r.Post("/auth/logout", h.logout)
	r.Get("/auth/me", h.me)
}

type loginBody struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type actorResponse struct {
	UserID    int64           `json:"user_id"`
	FullName  string          `json:"full_name"`
	Email     string          `json:"email"`
	Role      shared.RoleKind `json:"role"`
	BranchIDs []int64         `json:"branch_ids,omitempty"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	user, err := h.service.Authenticate(r.Context(), body.Email, body.Password)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "session unavailable")
		return
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	expiresAt := time.Now().Add(h.sessions.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("recording session failed", "user_id", user.ID, "error", err)
	}
	actor, err := h.service.ResolveActor(r.Context(), user.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("login", "user_id", user.ID, "role", actor.Role)
	httpx.JSON(w, http.StatusOK, actorResponse{
		UserID:    actor.UserID,
		FullName:  actor.FullName,
		Email:     actor.Email,
		Role:      actor.Role,
		BranchIDs: actor.BranchIDs,
	})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if sess.ID != "" {
			if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
				h.logger.Warn("removing session record failed", "error", err)
			}
		}
		h.sessions.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	httpx.JSON(w, http.StatusOK, actorResponse{
		UserID:    actor.UserID,
		FullName:  actor.FullName,
		Email:     actor.Email,
		Role:      actor.Role,
		BranchIDs: actor.BranchIDs,
	})
}
