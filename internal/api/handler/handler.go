// Package handler implements the HTTP endpoints of the rehabtrack API.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/rehabtrack/internal/api/middleware"
	"github.com/kiranshivaraju/rehabtrack/internal/api/response"
)

// Pinger is anything with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ownerOrReject returns the caller set by the Owner middleware, writing 401 when absent.
func ownerOrReject(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "MISSING_OWNER", "X-Owner-ID header is required", nil)
		return id, false
	}
	return id, true
}

// writeError sends err as an error envelope. Cancelled requests get nothing.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := response.FromError(err)
	if p == nil {
		slog.Debug("request canceled", "path", r.URL.Path)
		return
	}
	if p.Internal() {
		slog.Error("unhandled request error", "path", r.URL.Path, "error", err)
	}
	p.Write(w)
}
