// Package models contains shared data models used across the rehabtrack codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a video-analysis job.
type JobStatus string

const (
	JobStatusUploaded   JobStatus = "uploaded"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusError      JobStatus = "error"
	// JobStatusTimeout is local only: the poller gave up observing the job.
	JobStatusTimeout JobStatus = "timeout"
)

// Terminal reports whether no further transitions may occur from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusError, JobStatusTimeout:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusUploaded, JobStatusProcessing, JobStatusDone, JobStatusError, JobStatusTimeout:
		return true
	}
	return false
}

// Job tracks one submitted exercise video. The upload call returns the job;
// the poller drives it to done, error or timeout. Result is set iff Status is done.
type Job struct {
	ID           string          `db:"id"            json:"id"`
	OwnerID      uuid.UUID       `db:"owner_id"      json:"owner_id"`
	SubjectID    uuid.UUID       `db:"subject_id"    json:"subject_id"`
	ExerciseRef  string          `db:"exercise_ref"  json:"exercise_ref"`
	Status       JobStatus       `db:"status"        json:"status"`
	Result       *AnalysisResult `db:"result"        json:"result,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	TriggeredAt  *time.Time      `db:"triggered_at"  json:"triggered_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
	SubmittedAt  time.Time       `db:"submitted_at"  json:"submitted_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}
