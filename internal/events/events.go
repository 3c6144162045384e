// Package events announces terminal job transitions to other services.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

// JobEvent is published once a job reaches a terminal state.
type JobEvent struct {
	JobID        string           `json:"job_id"`
	OwnerID      uuid.UUID        `json:"owner_id"`
	SubjectID    uuid.UUID        `json:"subject_id"`
	ExerciseRef  string           `json:"exercise_ref"`
	Status       models.JobStatus `json:"status"`
	RepCount     *int             `json:"rep_count,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// RoutingKey is "job.<status>", e.g. job.done.
func (e JobEvent) RoutingKey() string {
	return "job." + string(e.Status)
}

// NewJobEvent builds the event for a job's current state.
func NewJobEvent(job *models.Job) JobEvent {
	ev := JobEvent{
		JobID:       job.ID,
		OwnerID:     job.OwnerID,
		SubjectID:   job.SubjectID,
		ExerciseRef: job.ExerciseRef,
		Status:      job.Status,
		OccurredAt:  time.Now().UTC(),
	}
	if job.CompletedAt != nil {
		ev.OccurredAt = job.CompletedAt.UTC()
	}
	if job.Result != nil {
		reps := job.Result.RepCount
		ev.RepCount = &reps
	}
	if job.ErrorMessage != nil {
		ev.ErrorMessage = *job.ErrorMessage
	}
	return ev
}

// Publisher delivers job events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
	Close() error
}

// NoopPublisher drops every event. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, _ JobEvent) error { return nil }
func (NoopPublisher) Close() error                                { return nil }

var _ Publisher = NoopPublisher{}
