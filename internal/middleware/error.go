package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"pantry-store/internal/apperr"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp string                 `json:"timestamp"`
}

// RespondWithJSON sends a JSON response
func RespondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

// RespondWithError sends a structured error for code using its mapped status.
func RespondWithError(w http.ResponseWriter, code apperr.Code, message string) {
	respondWithErrorDetails(w, code, message, nil)
}

func respondWithErrorDetails(w http.ResponseWriter, code apperr.Code, message string, details map[string]interface{}) {
	meta := apperr.MetadataFor(code)
	if message == "" {
		message = meta.PublicMessage
	}

	RespondWithJSON(w, meta.HTTPStatus, ErrorResponse{
		Error: ErrorDetail{
			Code:      string(code),
			Message:   message,
			Details:   details,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// RespondWithAppError maps err onto the error envelope. Internal errors are
// logged with the request id and reach the caller only as a generic message.
func RespondWithAppError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	code := apperr.CodeOf(err)
	meta := apperr.MetadataFor(code)

	if !meta.Expose {
		logger.Error("Request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondWithErrorDetails(w, code, meta.PublicMessage, nil)
		return
	}

	var (
		message string
		details map[string]interface{}
	)
	if typed := apperr.As(err); typed != nil {
		message = typed.Message()
		details = typed.Details()
	}
	respondWithErrorDetails(w, code, message, details)
}

// RespondWithValidationErrors sends validation error response
func RespondWithValidationErrors(w http.ResponseWriter, errors []ValidationError) {
	details := make(map[string]interface{})
	details["validation_errors"] = errors

	respondWithErrorDetails(w, apperr.CodeValidation, "validation failed", details)
}

// NotFound is the router's fallback for unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	RespondWithError(w, apperr.CodeNotFound, "route not found")
}

// ErrorHandlingMiddleware catches panics and converts them to 500 errors
func ErrorHandlingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					logger.Error("Panic recovered",
						zap.Any("error", err),
						zap.String("request_id", middleware.GetReqID(r.Context())),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
					)

					RespondWithError(w, apperr.CodeInternal, "")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
