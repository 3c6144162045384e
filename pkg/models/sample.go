package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinPainLevel = 1
	MaxPainLevel = 10
)

// Sample is one pain-log entry. Samples are immutable after creation.
type Sample struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	OwnerID    uuid.UUID `db:"owner_id"    json:"owner_id"`
	SubjectID  uuid.UUID `db:"subject_id"  json:"subject_id"`
	Value      int       `db:"value"       json:"value"`
	Note       string    `db:"note"        json:"note"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}
