// Package pipeline moves a recorded exercise video through the remote
// analysis service: Coordinator submits it, Poller tracks the resulting job
// until it reaches a terminal status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/internal/processing"
	"github.com/kiranshivaraju/rehabtrack/internal/store"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

const recordTimeout = 10 * time.Second

// Video is the file being submitted. Content is read once.
type Video struct {
	Name    string    `json:"name" validate:"required,max=255"`
	Size    int64     `json:"size" validate:"gt=0"`
	Content io.Reader `json:"content" validate:"required"`
}

// SubmitRequest is one video submission.
type SubmitRequest struct {
	OwnerID     uuid.UUID `json:"owner_id" validate:"required"`
	SubjectID   uuid.UUID `json:"subject_id" validate:"required"`
	ExerciseRef string    `json:"exercise_ref" validate:"required,max=128"`
	Video       Video     `json:"video"`
}

// Watcher starts tracking a recorded job.
type Watcher interface {
	Watch(job *models.Job) *Handle
}

// Coordinator submits videos and records the resulting jobs.
type Coordinator struct {
	client   processing.Client
	store    store.Store
	watcher  Watcher
	validate *structValidator
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator. watcher may be nil, in which case
// recorded jobs are left for the poller's discovery scan.
func NewCoordinator(client processing.Client, st store.Store, watcher Watcher, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		client:   client,
		store:    st,
		watcher:  watcher,
		validate: newStructValidator(),
		logger:   logger,
	}
}

// Submit uploads the video in a single request and records an uploaded job.
// Nothing is recorded when the upload fails, and the upload is never retried.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (*models.Job, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, err
	}

	localID := uuid.NewString()
	resp, err := c.client.UploadVideo(ctx, processing.UploadRequest{
		JobID: localID,
		JobMeta: processing.JobMeta{
			OwnerID:     req.OwnerID,
			SubjectID:   req.SubjectID,
			ExerciseRef: req.ExerciseRef,
		},
		Video: processing.Video{
			Name:    req.Video.Name,
			Size:    req.Video.Size,
			Content: req.Video.Content,
		},
	})
	if err != nil {
		opErr := newOpError("upload", localID, err)
		c.logger.Warn("video upload failed", "job_id", localID, "kind", opErr.Kind, "error", err)
		return nil, opErr
	}

	jobID := localID
	if resp.JobID != "" && resp.JobID != localID {
		c.logger.Info("processing service assigned job id", "local_id", localID, "job_id", resp.JobID)
		jobID = resp.JobID
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:          jobID,
		OwnerID:     req.OwnerID,
		SubjectID:   req.SubjectID,
		ExerciseRef: req.ExerciseRef,
		Status:      models.JobStatusUploaded,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	// The service already holds the video, so the row is written even if the
	// caller has gone away; otherwise the remote job would never be polled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := c.store.CreateJob(recordCtx, job); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("recording job %s: id already in use: %w", jobID, err)
		}
		return nil, fmt.Errorf("recording job %s: %w", jobID, err)
	}

	c.logger.Info("video submitted", "job_id", jobID, "subject_id", req.SubjectID, "exercise_ref", req.ExerciseRef)

	if c.watcher != nil {
		c.watcher.Watch(job)
	}
	return job, nil
}
