package auth

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/larder-scm/larder-scm/internal/platform/httpx"
	"github.com/larder-scm/larder-scm/internal/shared"
)

// Middleware resolves the session's user into an actor and stores it on the
// request context. Requests without a valid login pass through without an
// actor; handlers that need one reject them.
func Middleware(service *Service, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := shared.SessionFromContext(r.Context())
			if sess == nil || sess.User() == "" {
				next.ServeHTTP(w, r)
				return
			}
			userID, err := strconv.ParseInt(sess.User(), 10, 64)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			actor, err := service.ResolveActor(r.Context(), userID)
			if err != nil {
				logger.Warn("resolving actor failed", "user_id", userID, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}

// RequireActor rejects requests that have no authenticated actor.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.ActorFromContext(r.Context()); !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
