package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"pantry-store/internal/apperr"
	"pantry-store/internal/auth"
	"pantry-store/internal/domain"

	"go.uber.org/zap"
)

type contextKey string

const identityKey contextKey = "identity"

// AuthMiddleware resolves the bearer token and stores the caller's identity
// in the request context.
func AuthMiddleware(resolver auth.Resolver, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("Missing authorization header")
				RespondWithError(w, apperr.CodeUnauthenticated, "missing authorization header")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				logger.Debug("Invalid authorization header format")
				RespondWithError(w, apperr.CodeUnauthenticated, "invalid authorization header format")
				return
			}

			identity, err := resolver.Resolve(r.Context(), strings.TrimSpace(token))
			if err != nil {
				logger.Debug("Token validation failed", zap.Error(err))
				if errors.Is(err, auth.ErrTokenExpired) {
					RespondWithError(w, apperr.CodeUnauthenticated, "token expired")
				} else {
					RespondWithError(w, apperr.CodeUnauthenticated, "invalid token")
				}
				return
			}

			logger.Debug("User authenticated",
				zap.String("user_id", identity.UserID.String()),
				zap.String("role", identity.Role),
			)

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// WithIdentity returns ctx carrying identity.
func WithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext returns the authenticated caller, if any.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}
