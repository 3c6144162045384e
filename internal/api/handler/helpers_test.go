package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/rehabtrack/internal/api/middleware"
	"github.com/kiranshivaraju/rehabtrack/internal/pipeline"
	"github.com/kiranshivaraju/rehabtrack/internal/store"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
	"github.com/stretchr/testify/require"
)

var testOwner = uuid.MustParse("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")

func withOwner(r *http.Request, id uuid.UUID) *http.Request {
	return r.WithContext(mw.SetOwnerID(r.Context(), id))
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Meta  map[string]any  `json:"meta"`
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	env := decode(t, rec)
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func seedJob(t *testing.T, st *store.MemoryStore, owner uuid.UUID, status models.JobStatus, result *models.AnalysisResult) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID:          uuid.NewString(),
		OwnerID:     owner,
		SubjectID:   uuid.New(),
		ExerciseRef: "squat",
		Status:      models.JobStatusUploaded,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	require.NoError(t, st.CreateJob(context.Background(), job))
	if status != models.JobStatusUploaded {
		var opts []store.JobUpdateOption
		if result != nil {
			opts = append(opts, store.WithResult(result))
		}
		require.NoError(t, st.UpdateJobStatus(context.Background(), job.ID, status, opts...))
	}
	got, err := st.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	return got
}

// --- fakes ---

type fakeResults struct {
	mu     sync.Mutex
	m      map[string]*models.AnalysisResult
	getErr error
	sets   int
}

func newFakeResults() *fakeResults {
	return &fakeResults{m: make(map[string]*models.AnalysisResult)}
}

func (f *fakeResults) Get(_ context.Context, jobID string) (*models.AnalysisResult, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	r, ok := f.m[jobID]
	return r, ok, nil
}

func (f *fakeResults) Set(_ context.Context, jobID string, result *models.AnalysisResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.m[jobID] = result
	return nil
}

type fakeWatcher struct {
	mu      sync.Mutex
	watched []string
	active  map[string]bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{active: make(map[string]bool)}
}

func (f *fakeWatcher) Watch(job *models.Job) *pipeline.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, job.ID)
	f.active[job.ID] = true
	return nil
}

func (f *fakeWatcher) Stop(jobID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.active[jobID]
	delete(f.active, jobID)
	return was
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }
