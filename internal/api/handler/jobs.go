package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/rehabtrack/internal/api/response"
	"github.com/kiranshivaraju/rehabtrack/internal/pipeline"
	"github.com/kiranshivaraju/rehabtrack/internal/store"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

// JobReader is the read side of the job store.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
}

// ResultReader is the result cache as seen by the job endpoints.
type ResultReader interface {
	Get(ctx context.Context, jobID string) (*models.AnalysisResult, bool, error)
	Set(ctx context.Context, jobID string, result *models.AnalysisResult) error
}

// JobWatcher starts and stops local polling.
type JobWatcher interface {
	Watch(job *models.Job) *pipeline.Handle
	Stop(jobID string) bool
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerOrReject(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		filter := store.JobFilter{OwnerID: ownerID}
		if s := q.Get("status"); s != "" {
			status := models.JobStatus(s)
			if !status.Valid() {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
					"status must be one of uploaded, processing, done, error, timeout", nil)
				return
			}
			filter.Status = status
		}
		filter.Page = queryInt(q.Get("page"), 1)
		filter.Limit = queryInt(q.Get("limit"), 20)
		if filter.Page < 1 {
			filter.Page = 1
		}
		if filter.Limit < 1 || filter.Limit > 100 {
			filter.Limit = 20
		}

		list, total, err := jobs.ListJobs(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}

		response.Collection(w, list, response.NewPage(filter.Page, filter.Limit, total))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// A done job's result is served from the cache when present and written back
// to it otherwise.
func NewGetJobHandler(jobs JobReader, results ResultReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadOwnedJob(w, r, jobs)
		if !ok {
			return
		}

		if job.Status == models.JobStatusDone {
			cached, hit, err := results.Get(r.Context(), job.ID)
			if err != nil {
				slog.Warn("result cache read failed", "job_id", job.ID, "error", err)
			}
			switch {
			case hit:
				job.Result = cached
			case job.Result != nil:
				if err := results.Set(r.Context(), job.ID, job.Result); err != nil {
					slog.Warn("result cache backfill failed", "job_id", job.ID, "error", err)
				}
			}
		}

		response.JSON(w, job)
	}
}

// NewWatchJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/watch.
func NewWatchJobHandler(jobs JobReader, watcher JobWatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadOwnedJob(w, r, jobs)
		if !ok {
			return
		}
		if job.Status.Terminal() {
			response.Error(w, http.StatusConflict, "JOB_TERMINAL",
				"Job has already finished", map[string]string{"status": string(job.Status)})
			return
		}

		watcher.Watch(job)
		response.Accepted(w, job)
	}
}

// NewUnwatchJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}/watch.
// The stored status is left as is; the job resumes on the next discovery scan.
func NewUnwatchJobHandler(jobs JobReader, watcher JobWatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := loadOwnedJob(w, r, jobs)
		if !ok {
			return
		}

		response.JSON(w, map[string]any{
			"job_id":  job.ID,
			"stopped": watcher.Stop(job.ID),
		})
	}
}

// loadOwnedJob resolves {jobID} for the caller. Jobs of other owners read as not found.
func loadOwnedJob(w http.ResponseWriter, r *http.Request, jobs JobReader) (*models.Job, bool) {
	ownerID, ok := ownerOrReject(w, r)
	if !ok {
		return nil, false
	}

	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job id is required", nil)
		return nil, false
	}

	job, err := jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if job.OwnerID != ownerID {
		writeError(w, r, store.ErrNotFound)
		return nil, false
	}
	return job, true
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
