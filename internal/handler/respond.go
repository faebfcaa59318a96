// Package handler implements the payment engine's HTTP surface.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/ortegalabs/fieldkeep/internal/domain"
	"github.com/ortegalabs/fieldkeep/internal/middleware"
)

// JSONResponse writes a JSON body with the given status.
func JSONResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// ErrorResponse writes a structured JSON error derived from the domain
// error taxonomy and logs it with request context.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	code := domain.ErrorCode(err)
	message := domain.ErrorMessage(err)
	status := errorCodeToHTTPStatus(code)

	logger := middleware.GetLogger(r.Context())
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"status", status,
	}
	if op := domain.ErrorOp(err); op != "" {
		attrs = append(attrs, "op", op)
	}
	if status >= 500 {
		logger.Error("request failed", attrs...)
	} else {
		logger.Info("request failed", attrs...)
	}

	JSONResponse(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// errorCodeToHTTPStatus maps domain error codes to HTTP status codes.
// Processor rejection is a non-retryable 400; processor unavailability
// surfaces as 500 on synchronous paths so callers treat it as retryable
// server trouble.
func errorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID, domain.EPAYMENT:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.EFORBIDDEN:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ECONFLICT:
		return http.StatusConflict // 409
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	default:
		return http.StatusInternalServerError // 500
	}
}
