package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

// MemoryStore is an in-process Store with the same transition rules as
// PostgresStore. Reads return copies, so callers never observe a job
// half-way through an update.
type MemoryStore struct {
	mu      sync.RWMutex
	jobs    map[string]*models.Job
	samples []*models.Sample
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	if job.Status != models.JobStatusUploaded || job.Result != nil {
		return fmt.Errorf("%w: new jobs start as uploaded without a result", ErrInvalidTransition)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	s.mu.RLock()
	var matched []*models.Job
	for _, j := range s.jobs {
		if j.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		matched = append(matched, copyJob(j))
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		return matched[a].SubmittedAt.After(matched[b].SubmittedAt)
	})

	total := len(matched)
	page, limit := normalizePage(filter.Page, filter.Limit)
	start := (page - 1) * limit
	if start >= total {
		return []*models.Job{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *MemoryStore) ListJobsByStatus(_ context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	want := make(map[models.JobStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	jobs := []*models.Job{}
	for _, j := range s.jobs {
		if want[j.Status] {
			jobs = append(jobs, copyJob(j))
		}
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].SubmittedAt.Before(jobs[b].SubmittedAt)
	})
	return jobs, nil
}

func (s *MemoryStore) MarkTriggered(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job is %s", ErrJobTerminal, j.Status)
	}
	now := time.Now().UTC()
	if j.TriggeredAt == nil {
		j.TriggeredAt = &now
	}
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, id string, status models.JobStatus, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	if err := checkParams(status, params); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	noop, err := checkTransition(j.Status, status)
	if err != nil || noop {
		return err
	}

	now := time.Now().UTC()
	j.Status = status
	j.UpdatedAt = now
	j.Result = copyResult(params.Result)
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		j.ErrorMessage = &msg
	}
	if status.Terminal() {
		j.CompletedAt = &now
	}
	return nil
}

func (s *MemoryStore) CreateSample(_ context.Context, sample *models.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.samples {
		if existing.ID == sample.ID {
			return ErrDuplicateKey
		}
	}
	cp := *sample
	s.samples = append(s.samples, &cp)
	return nil
}

func (s *MemoryStore) ListSamples(_ context.Context, filter SampleFilter) ([]*models.Sample, error) {
	s.mu.RLock()
	samples := []*models.Sample{}
	for _, sm := range s.samples {
		if sm.OwnerID != filter.OwnerID || sm.SubjectID != filter.SubjectID {
			continue
		}
		if !filter.From.IsZero() && sm.RecordedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !sm.RecordedAt.Before(filter.To) {
			continue
		}
		cp := *sm
		samples = append(samples, &cp)
	}
	s.mu.RUnlock()

	sort.SliceStable(samples, func(a, b int) bool {
		if filter.NewestFirst {
			return samples[a].RecordedAt.After(samples[b].RecordedAt)
		}
		return samples[a].RecordedAt.Before(samples[b].RecordedAt)
	})
	if filter.Limit > 0 && len(samples) > filter.Limit {
		samples = samples[:filter.Limit]
	}
	return samples, nil
}

func copyJob(j *models.Job) *models.Job {
	cp := *j
	cp.Result = copyResult(j.Result)
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		cp.ErrorMessage = &msg
	}
	if j.TriggeredAt != nil {
		t := *j.TriggeredAt
		cp.TriggeredAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyResult(r *models.AnalysisResult) *models.AnalysisResult {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Metrics != nil {
		cp.Metrics = make(map[string]float64, len(r.Metrics))
		for k, v := range r.Metrics {
			cp.Metrics[k] = v
		}
	}
	return &cp
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
