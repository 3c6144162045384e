package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/internal/analytics"
	"github.com/kiranshivaraju/rehabtrack/internal/api/response"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

const dateLayout = "2006-01-02"

// AnalyticsService defines the interface the sample and analytics handlers depend on.
type AnalyticsService interface {
	Report(ctx context.Context, ownerID, subjectID uuid.UUID, start, end time.Time) (*analytics.Report, error)
	LogPain(ctx context.Context, req analytics.LogPainRequest) (*models.Sample, error)
	History(ctx context.Context, ownerID, subjectID uuid.UUID, limit int) ([]*models.Sample, error)
	Location() *time.Location
}

// NewLogPainHandler returns an http.HandlerFunc for POST /api/v1/samples.
func NewLogPainHandler(svc AnalyticsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerOrReject(w, r)
		if !ok {
			return
		}

		var req struct {
			SubjectID  string `json:"subject_id"`
			Value      int    `json:"value"`
			Note       string `json:"note"`
			RecordedAt string `json:"recorded_at"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		subjectID, err := uuid.Parse(strings.TrimSpace(req.SubjectID))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subject_id must be a UUID", nil)
			return
		}

		var recordedAt time.Time
		if req.RecordedAt != "" {
			recordedAt, err = time.Parse(time.RFC3339, req.RecordedAt)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "recorded_at must be a valid RFC3339 timestamp", nil)
				return
			}
		}

		sample, err := svc.LogPain(r.Context(), analytics.LogPainRequest{
			OwnerID:    ownerID,
			SubjectID:  subjectID,
			Value:      req.Value,
			Note:       req.Note,
			RecordedAt: recordedAt,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.Created(w, sample)
	}
}

// NewListSamplesHandler returns an http.HandlerFunc for GET /api/v1/samples.
// It lists one subject's pain logs, newest first.
func NewListSamplesHandler(svc AnalyticsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerOrReject(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		subjectID, err := uuid.Parse(strings.TrimSpace(q.Get("subject_id")))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subject_id must be a UUID", nil)
			return
		}

		samples, err := svc.History(r.Context(), ownerID, subjectID, queryInt(q.Get("limit"), analytics.DefaultHistoryLimit))
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.JSON(w, samples)
	}
}

// NewAnalyticsHandler returns an http.HandlerFunc for GET /api/v1/analytics.
// start and end are calendar dates (YYYY-MM-DD), both inclusive.
func NewAnalyticsHandler(svc AnalyticsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerOrReject(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		subjectID, err := uuid.Parse(strings.TrimSpace(q.Get("subject_id")))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "subject_id must be a UUID", nil)
			return
		}

		loc := svc.Location()
		start, err := time.ParseInLocation(dateLayout, q.Get("start"), loc)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "start must be a date in YYYY-MM-DD format", nil)
			return
		}
		end, err := time.ParseInLocation(dateLayout, q.Get("end"), loc)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "end must be a date in YYYY-MM-DD format", nil)
			return
		}

		report, err := svc.Report(r.Context(), ownerID, subjectID, start, end)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.JSON(w, report)
	}
}
