package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/racedesk/apiserver/internal/auth"
	"github.com/racedesk/apiserver/types"
)

// Identify resolves the caller of every request through provider and
// stores it in the request context.
func Identify(provider auth.IdentityProvider, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := provider.Identify(r)
			if err != nil {
				if !errors.Is(err, auth.ErrNoIdentity) {
					err = errors.Join(auth.ErrNoIdentity, err)
				}
				respondError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithCaller(r.Context(), caller)))
		})
	}
}

func callerFrom(r *http.Request) (auth.Caller, error) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok {
		return auth.Caller{}, auth.ErrNoIdentity
	}
	return caller, nil
}

// RequireRole rejects callers that do not hold role.
func RequireRole(role types.Role, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := callerFrom(r)
			if err == nil {
				err = auth.AssertRole(caller, role)
			}
			if err != nil {
				respondError(w, r, logger, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
