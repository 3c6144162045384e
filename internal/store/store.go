package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a status write would move a job
// backwards or skip the result invariant.
var ErrInvalidTransition = errors.New("invalid job status transition")

// ErrJobTerminal is returned for any write against a done, error or timeout job.
var ErrJobTerminal = errors.New("job is in a terminal state")

// Store is the data access interface. All database operations go through here.
// Implementations must return consistent (status, result) pairs and serialize
// status writes per job.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error)
	MarkTriggered(ctx context.Context, id string) error
	UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, opts ...JobUpdateOption) error

	CreateSample(ctx context.Context, sample *models.Sample) error
	ListSamples(ctx context.Context, filter SampleFilter) ([]*models.Sample, error)
}

type JobFilter struct {
	OwnerID uuid.UUID
	Status  models.JobStatus
	Page    int
	Limit   int
}

// SampleFilter selects samples with From <= recorded_at < To. A zero From or
// To leaves that side open. Samples come oldest first unless NewestFirst is
// set; Limit caps the count when positive.
type SampleFilter struct {
	OwnerID     uuid.UUID
	SubjectID   uuid.UUID
	From        time.Time
	To          time.Time
	NewestFirst bool
	Limit       int
}

type jobUpdateParams struct {
	Result       *models.AnalysisResult
	ErrorMessage *string
}

type JobUpdateOption func(*jobUpdateParams)

// WithResult attaches the analysis result. Required for, and only valid with, done.
func WithResult(r *models.AnalysisResult) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = r
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

// ApplyUpdate mirrors a successful UpdateJobStatus onto an in-memory copy of
// the job. The status itself is left to the caller.
func ApplyUpdate(job *models.Job, opts ...JobUpdateOption) {
	p := &jobUpdateParams{}
	for _, opt := range opts {
		opt(p)
	}
	job.Result = p.Result
	if p.ErrorMessage != nil {
		msg := *p.ErrorMessage
		job.ErrorMessage = &msg
	}
}

func normalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, limit
}
