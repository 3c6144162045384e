package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/internal/events"
	"github.com/kiranshivaraju/rehabtrack/internal/pipeline"
	"github.com/kiranshivaraju/rehabtrack/internal/processing"
	"github.com/kiranshivaraju/rehabtrack/internal/store"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
	"github.com/stretchr/testify/require"
)

// --- Fake processing client ---

type step struct {
	report *processing.StatusReport
	err    error
}

func statusStep(status models.JobStatus) step {
	return step{report: &processing.StatusReport{Status: status}}
}

func doneStep(reps int) step {
	return step{report: &processing.StatusReport{
		Status: models.JobStatusDone,
		Result: &models.AnalysisResult{RepCount: reps, Metrics: map[string]float64{"rom": float64(reps)}, Feedback: "ok"},
	}}
}

func errorStep(msg string) step {
	return step{report: &processing.StatusReport{Status: models.JobStatusError, Message: msg}}
}

func failStep(sentinel error) step {
	return step{err: fmt.Errorf("%w: boom", sentinel)}
}

type fakeClient struct {
	mu sync.Mutex

	uploadResp *processing.UploadResponse
	uploadErr  error
	uploads    []processing.UploadRequest
	// uploadHook runs after an upload has been accepted.
	uploadHook func()

	triggerErrs []error
	triggers    map[string]int

	steps   map[string][]step
	fetches map[string]int

	// fetchHook runs before every FetchStatus; it may block.
	fetchHook func(ctx context.Context, jobID string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		triggers: make(map[string]int),
		steps:    make(map[string][]step),
		fetches:  make(map[string]int),
	}
}

func (f *fakeClient) script(jobID string, steps ...step) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.steps[jobID] = steps
}

func (f *fakeClient) UploadVideo(_ context.Context, req processing.UploadRequest) (*processing.UploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, req)
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if f.uploadHook != nil {
		f.uploadHook()
	}
	if f.uploadResp != nil {
		return f.uploadResp, nil
	}
	return &processing.UploadResponse{JobID: req.JobID}, nil
}

func (f *fakeClient) TriggerAnalysis(_ context.Context, jobID string, _ processing.JobMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers[jobID]++
	if len(f.triggerErrs) > 0 {
		err := f.triggerErrs[0]
		f.triggerErrs = f.triggerErrs[1:]
		return err
	}
	return nil
}

func (f *fakeClient) FetchStatus(ctx context.Context, jobID string) (*processing.StatusReport, error) {
	if f.fetchHook != nil {
		f.fetchHook(ctx, jobID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.fetches[jobID]
	f.fetches[jobID]++
	steps := f.steps[jobID]
	if len(steps) == 0 {
		return &processing.StatusReport{Status: models.JobStatusProcessing}, nil
	}
	if n >= len(steps) {
		n = len(steps) - 1
	}
	s := steps[n]
	if s.report != nil {
		cp := *s.report
		return &cp, nil
	}
	return nil, s.err
}

func (f *fakeClient) triggerCount(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers[jobID]
}

func (f *fakeClient) fetchCount(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[jobID]
}

// --- Fake result cache ---

type memResults struct {
	mu      sync.Mutex
	results map[string]*models.AnalysisResult
	sets    int
}

func newMemResults() *memResults {
	return &memResults{results: make(map[string]*models.AnalysisResult)}
}

func (m *memResults) Set(_ context.Context, jobID string, r *models.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[jobID] = r
	m.sets++
	return nil
}

func (m *memResults) Invalidate(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, jobID)
	return nil
}

func (m *memResults) get(jobID string) (*models.AnalysisResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[jobID]
	return r, ok
}

func (m *memResults) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

// --- Recording publisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.JobEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev events.JobEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) published() []events.JobEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.JobEvent(nil), r.events...)
}

// --- Store wrappers ---

// ctxStore fails writes whose context is already done, like a database driver.
type ctxStore struct {
	*store.MemoryStore
}

func (s ctxStore) CreateJob(ctx context.Context, job *models.Job) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return s.MemoryStore.CreateJob(ctx, job)
}

// flakyStore fails the first n writes of one status.
type flakyStore struct {
	*store.MemoryStore

	mu     sync.Mutex
	status models.JobStatus
	n      int
}

func (s *flakyStore) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	fail := status == s.status && s.n > 0
	if fail {
		s.n--
	}
	s.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return s.MemoryStore.UpdateJobStatus(ctx, id, status, opts...)
}

// --- helpers ---

type harness struct {
	client  *fakeClient
	store   *store.MemoryStore
	results *memResults
	pub     *recordingPublisher
	poller  *pipeline.Poller
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()
	h := &harness{
		client:  newFakeClient(),
		store:   store.NewMemoryStore(),
		results: newMemResults(),
		pub:     &recordingPublisher{},
	}
	h.poller = pipeline.NewPoller(h.client, h.store, h.results, h.pub, pipeline.PollerConfig{
		Interval:     2 * time.Millisecond,
		MaxAttempts:  maxAttempts,
		ScanInterval: 10 * time.Millisecond,
	}, nil)
	t.Cleanup(h.poller.Shutdown)
	return h
}

// newPoller builds a poller over st that the test shuts down on cleanup.
func newPoller(t *testing.T, client *fakeClient, st store.Store, maxAttempts int) *pipeline.Poller {
	t.Helper()
	p := pipeline.NewPoller(client, st, nil, nil, pipeline.PollerConfig{
		Interval:     2 * time.Millisecond,
		MaxAttempts:  maxAttempts,
		ScanInterval: 10 * time.Millisecond,
	}, nil)
	t.Cleanup(p.Shutdown)
	return p
}

func (h *harness) createJob(t *testing.T) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID:          uuid.NewString(),
		OwnerID:     uuid.New(),
		SubjectID:   uuid.New(),
		ExerciseRef: "squat",
		Status:      models.JobStatusUploaded,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	require.NoError(t, h.store.CreateJob(context.Background(), job))
	return job
}

func (h *harness) job(t *testing.T, id string) *models.Job {
	t.Helper()
	j, err := h.store.GetJob(context.Background(), id)
	require.NoError(t, err)
	return j
}

func wait(t *testing.T, handle *pipeline.Handle) (models.JobStatus, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := handle.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "poll loop did not finish")
	return st, err
}
