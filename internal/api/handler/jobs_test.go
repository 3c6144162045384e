package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/internal/store"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobsRouter(st *store.MemoryStore, results *fakeResults, watcher *fakeWatcher) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/jobs", NewListJobsHandler(st))
	r.Get("/api/v1/jobs/{jobID}", NewGetJobHandler(st, results))
	r.Post("/api/v1/jobs/{jobID}/watch", NewWatchJobHandler(st, watcher))
	r.Delete("/api/v1/jobs/{jobID}/watch", NewUnwatchJobHandler(st, watcher))
	return r
}

func serve(h http.Handler, method, path string, owner uuid.UUID) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withOwner(httptest.NewRequest(method, path, nil), owner))
	return rec
}

func TestGetJobHandler_Uploaded(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st, testOwner, models.JobStatusUploaded, nil)
	results := newFakeResults()

	rec := serve(jobsRouter(st, results, newFakeWatcher()), http.MethodGet, "/api/v1/jobs/"+job.ID, testOwner)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Job
	decodeData(t, rec, &got)
	assert.Equal(t, models.JobStatusUploaded, got.Status)
	assert.Nil(t, got.Result)
	assert.Zero(t, results.sets)
}

func TestGetJobHandler_DoneBackfillsCache(t *testing.T) {
	st := store.NewMemoryStore()
	result := &models.AnalysisResult{RepCount: 12, Feedback: "steady"}
	job := seedJob(t, st, testOwner, models.JobStatusDone, result)
	results := newFakeResults()
	h := jobsRouter(st, results, newFakeWatcher())

	rec := serve(h, http.MethodGet, "/api/v1/jobs/"+job.ID, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Job
	decodeData(t, rec, &got)
	require.NotNil(t, got.Result)
	assert.Equal(t, 12, got.Result.RepCount)
	assert.Equal(t, 1, results.sets)

	// Second read is served from the cache without another write.
	rec = serve(h, http.MethodGet, "/api/v1/jobs/"+job.ID, testOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, results.sets)
}

func TestGetJobHandler_CacheHitWins(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st, testOwner, models.JobStatusDone, &models.AnalysisResult{RepCount: 3})
	results := newFakeResults()
	results.m[job.ID] = &models.AnalysisResult{RepCount: 3, Feedback: "cached"}

	rec := serve(jobsRouter(st, results, newFakeWatcher()), http.MethodGet, "/api/v1/jobs/"+job.ID, testOwner)

	var got models.Job
	decodeData(t, rec, &got)
	assert.Equal(t, "cached", got.Result.Feedback)
}

func TestGetJobHandler_CacheErrorFallsBackToStore(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st, testOwner, models.JobStatusDone, &models.AnalysisResult{RepCount: 7})
	results := newFakeResults()
	results.getErr = errors.New("redis down")

	rec := serve(jobsRouter(st, results, newFakeWatcher()), http.MethodGet, "/api/v1/jobs/"+job.ID, testOwner)

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Job
	decodeData(t, rec, &got)
	assert.Equal(t, 7, got.Result.RepCount)
}

func TestGetJobHandler_NotFound(t *testing.T) {
	st := store.NewMemoryStore()
	other := seedJob(t, st, uuid.New(), models.JobStatusUploaded, nil)
	h := jobsRouter(st, newFakeResults(), newFakeWatcher())

	for _, id := range []string{"missing", other.ID} {
		rec := serve(h, http.MethodGet, "/api/v1/jobs/"+id, testOwner)
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
		assert.Equal(t, "NOT_FOUND", decode(t, rec).Error.Code)
	}
}

func TestListJobsHandler(t *testing.T) {
	st := store.NewMemoryStore()
	seedJob(t, st, testOwner, models.JobStatusUploaded, nil)
	seedJob(t, st, testOwner, models.JobStatusDone, &models.AnalysisResult{RepCount: 1})
	seedJob(t, st, testOwner, models.JobStatusDone, &models.AnalysisResult{RepCount: 2})
	seedJob(t, st, uuid.New(), models.JobStatusDone, &models.AnalysisResult{RepCount: 3})
	h := jobsRouter(st, newFakeResults(), newFakeWatcher())

	t.Run("all", func(t *testing.T) {
		rec := serve(h, http.MethodGet, "/api/v1/jobs", testOwner)
		require.Equal(t, http.StatusOK, rec.Code)
		var jobs []models.Job
		decodeData(t, rec, &jobs)
		assert.Len(t, jobs, 3)
	})

	t.Run("status filter", func(t *testing.T) {
		rec := serve(h, http.MethodGet, "/api/v1/jobs?status=done", testOwner)
		var jobs []models.Job
		decodeData(t, rec, &jobs)
		assert.Len(t, jobs, 2)
		for _, j := range jobs {
			assert.Equal(t, models.JobStatusDone, j.Status)
		}
	})

	t.Run("pagination", func(t *testing.T) {
		rec := serve(h, http.MethodGet, "/api/v1/jobs?page=1&limit=2", testOwner)
		env := decode(t, rec)
		assert.Equal(t, float64(3), env.Meta["total"])
		assert.Equal(t, true, env.Meta["has_next"])
	})

	t.Run("bad status", func(t *testing.T) {
		rec := serve(h, http.MethodGet, "/api/v1/jobs?status=finished", testOwner)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestWatchJobHandler(t *testing.T) {
	st := store.NewMemoryStore()
	live := seedJob(t, st, testOwner, models.JobStatusProcessing, nil)
	done := seedJob(t, st, testOwner, models.JobStatusDone, &models.AnalysisResult{RepCount: 1})
	watcher := newFakeWatcher()
	h := jobsRouter(st, newFakeResults(), watcher)

	rec := serve(h, http.MethodPost, "/api/v1/jobs/"+live.ID+"/watch", testOwner)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{live.ID}, watcher.watched)

	rec = serve(h, http.MethodPost, "/api/v1/jobs/"+done.ID+"/watch", testOwner)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "JOB_TERMINAL", decode(t, rec).Error.Code)
	assert.Len(t, watcher.watched, 1)
}

func TestUnwatchJobHandler(t *testing.T) {
	st := store.NewMemoryStore()
	job := seedJob(t, st, testOwner, models.JobStatusUploaded, nil)
	watcher := newFakeWatcher()
	watcher.active[job.ID] = true
	h := jobsRouter(st, newFakeResults(), watcher)

	rec := serve(h, http.MethodDelete, "/api/v1/jobs/"+job.ID+"/watch", testOwner)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decodeData(t, rec, &body)
	assert.Equal(t, true, body["stopped"])

	rec = serve(h, http.MethodDelete, "/api/v1/jobs/"+job.ID+"/watch", testOwner)
	decodeData(t, rec, &body)
	assert.Equal(t, false, body["stopped"])

	// Stopping leaves the stored status alone.
	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusUploaded, got.Status)
}
