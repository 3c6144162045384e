package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/internal/api/response"
)

// OwnerHeader carries the caller identity set by the upstream gateway.
const OwnerHeader = "X-Owner-ID"

// Owner requires a UUID in the X-Owner-ID header and stores it in the request context.
func Owner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if raw == "" {
			response.Error(w, http.StatusUnauthorized, "MISSING_OWNER", "X-Owner-ID header is required", nil)
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil || id == uuid.Nil {
			response.Error(w, http.StatusBadRequest, "INVALID_OWNER", "X-Owner-ID must be a UUID", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetOwnerID(r.Context(), id)))
	})
}
