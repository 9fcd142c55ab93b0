// Package transport exposes the storefront services over JSON/HTTP.
package transport

import (
	"net/http"
	"strconv"

	"pantry-store/internal/apperr"
	"pantry-store/internal/domain"
	"pantry-store/internal/middleware"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Middleware is a chi-compatible middleware.
type Middleware = func(http.Handler) http.Handler

// decode reads and validates the JSON body into v, writing the error
// response itself when that fails.
func decode(w http.ResponseWriter, r *http.Request, v interface{}, logger *zap.Logger) bool {
	if err := middleware.DecodeAndValidate(r, v); err != nil {
		logger.Debug("Request validation failed", zap.String("path", r.URL.Path), zap.Error(err))
		middleware.RespondWithDecodeError(w, err)
		return false
	}
	return true
}

// caller returns the authenticated identity. Routes using it sit behind the
// auth middleware, so a missing identity is answered with 401.
func caller(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		middleware.RespondWithError(w, apperr.CodeUnauthenticated, "authentication required")
		return domain.Identity{}, false
	}
	return identity, true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Newf(apperr.CodeValidation, "%s must be an integer", name).WithDetail("field", name)
	}
	return v, nil
}

func paging(r *http.Request) (page, pageSize int, err error) {
	if page, err = queryInt(r, "page"); err != nil {
		return 0, 0, err
	}
	if pageSize, err = queryInt(r, "page_size"); err != nil {
		return 0, 0, err
	}
	return page, pageSize, nil
}

func parseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.CodeValidation, "%s must be a valid UUID", field).WithDetail("field", field)
	}
	return id, nil
}
