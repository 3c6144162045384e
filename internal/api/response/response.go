// Package response writes the rehabtrack API's JSON envelopes and maps
// domain errors onto them.
package response

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/rehabtrack/internal/analytics"
	"github.com/kiranshivaraju/rehabtrack/internal/pipeline"
	"github.com/kiranshivaraju/rehabtrack/internal/store"
)

// Error codes shared by handlers and middleware.
const (
	CodeValidation      = "VALIDATION_FAILED"
	CodeInvalidRange    = "INVALID_RANGE"
	CodeRangeTooLarge   = "RANGE_TOO_LARGE"
	CodePayloadTooLarge = "PAYLOAD_TOO_LARGE"
	CodeProcessing      = "PROCESSING_FAILED"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeInternal        = "INTERNAL_ERROR"
)

type envelope struct {
	Data any `json:"data"`
}

type collectionEnvelope struct {
	Data any            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type PaginationMeta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// NewPage builds the meta block for one page of a listing.
func NewPage(page, limit, total int) PaginationMeta {
	return PaginationMeta{Page: page, Limit: limit, Total: total, HasNext: page*limit < total}
}

// Problem is an error in the shape the client receives.
type Problem struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (p *Problem) Error() string { return p.Code + ": " + p.Message }

// Write sends p as an error envelope.
func (p *Problem) Write(w http.ResponseWriter) {
	Error(w, p.Status, p.Code, p.Message, p.Details)
}

// Internal reports whether p hides an unexpected failure.
func (p *Problem) Internal() bool { return p.Code == CodeInternal }

// FromError maps a domain error onto a Problem. It returns nil when the
// client cancelled the request and nothing should be sent.
func FromError(err error) *Problem {
	var (
		verr  *pipeline.ValidationError
		opErr *pipeline.OpError
		mbErr *http.MaxBytesError
		prob  *Problem
	)
	switch {
	case errors.As(err, &prob):
		return prob
	case errors.As(err, &verr):
		return &Problem{http.StatusUnprocessableEntity, CodeValidation, verr.Error(),
			map[string]string{"field": verr.Field}}
	case errors.Is(err, analytics.ErrInvalidSample):
		return &Problem{http.StatusUnprocessableEntity, CodeValidation, err.Error(), nil}
	case errors.Is(err, analytics.ErrInvalidRange):
		return &Problem{http.StatusBadRequest, CodeInvalidRange, "start must not be after end", nil}
	case errors.Is(err, analytics.ErrRangeTooLarge):
		return &Problem{http.StatusBadRequest, CodeRangeTooLarge, err.Error(), nil}
	case errors.As(err, &mbErr):
		return &Problem{http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Request body too large", nil}
	case errors.As(err, &opErr):
		return &Problem{http.StatusBadGateway, CodeProcessing, "The processing service could not accept the request",
			map[string]string{"op": opErr.Op, "job_id": opErr.JobID, "kind": string(opErr.Kind)}}
	case errors.Is(err, store.ErrNotFound):
		return &Problem{http.StatusNotFound, CodeNotFound, "Resource not found", nil}
	case errors.Is(err, store.ErrDuplicateKey):
		return &Problem{http.StatusConflict, CodeConflict, "Resource already exists", nil}
	case errors.Is(err, context.Canceled):
		return nil
	default:
		return &Problem{http.StatusInternalServerError, CodeInternal, "An unexpected error occurred", nil}
	}
}

func JSON(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func Created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func Accepted(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusAccepted, envelope{Data: data})
}

func Collection(w http.ResponseWriter, data any, meta PaginationMeta) {
	writeJSON(w, http.StatusOK, collectionEnvelope{Data: data, Meta: meta})
}

func Error(w http.ResponseWriter, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{Error: errorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("writing response body failed", "status", status, "error", err)
	}
}
