package middleware

import (
	"net/http"
	"slices"

	"pantry-store/internal/apperr"
	"pantry-store/internal/domain"

	"go.uber.org/zap"
)

// RequireAdmin middleware ensures the user has admin role
func RequireAdmin(logger *zap.Logger) func(http.Handler) http.Handler {
	return RequireRole([]string{domain.RoleAdmin}, logger)
}

// RequireRole middleware ensures the user has one of the specified roles
func RequireRole(allowedRoles []string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				logger.Warn("Identity not found in context", zap.String("path", r.URL.Path))
				RespondWithError(w, apperr.CodeUnauthenticated, "authentication required")
				return
			}

			if !slices.Contains(allowedRoles, identity.Role) {
				logger.Warn("User role not authorized",
					zap.String("user_id", identity.UserID.String()),
					zap.String("role", identity.Role),
					zap.Strings("allowed_roles", allowedRoles),
				)
				RespondWithError(w, apperr.CodeForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
