package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"storefront/internal/gateway"
	"storefront/internal/model"
)

// IdentityObserver is told the resolved identity of each authenticated
// request that carries a client session.
type IdentityObserver func(ctx context.Context, client Client, id gateway.Identity)

// Auth resolves "Authorization: Bearer <token>" to a user and stores the
// identity in the request context. A token that does not resolve is
// rejected with 401; requests without one continue anonymously.
func Auth(auth gateway.Auth, observe IdentityObserver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			client, hasClient := ClientFrom(ctx)

			token, present := bearerToken(r.Header.Get("Authorization"))
			if !present {
				next.ServeHTTP(w, r)
				return
			}
			if token == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "malformed bearer token")
				return
			}

			user, err := auth.GetUser(ctx, token)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) && !errors.Is(err, model.ErrUnauthorized) && !errors.Is(err, model.ErrNotFound) {
					logger.Warn("resolving session failed", slog.String("error", err.Error()))
					writeError(w, apiErr.StatusCode, apiErr.Code, apiErr.Message)
					return
				}
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "session expired or invalid")
				return
			}

			id := gateway.Identity{User: *user, AccessToken: token}
			ctx = gateway.WithUser(ctx, id)
			if hasClient && observe != nil {
				observe(ctx, client, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reports whether an Authorization header was sent and the
// token it carries.
func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}
