package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/rehabtrack/internal/store"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

// Report is the pain history of one subject over a date range.
type Report struct {
	Start   time.Time           `json:"start"`
	End     time.Time           `json:"end"`
	Buckets []models.DayBucket  `json:"buckets"`
	Summary models.SummaryStats `json:"summary"`
	Latest  *models.Sample      `json:"latest"`
}

// LogPainRequest records one pain level. A zero RecordedAt means now.
type LogPainRequest struct {
	OwnerID    uuid.UUID `validate:"required"`
	SubjectID  uuid.UUID `validate:"required"`
	Value      int       `validate:"min=1,max=10"`
	Note       string    `validate:"max=2000"`
	RecordedAt time.Time
}

// Service loads samples from the store and aggregates them.
type Service struct {
	store    store.Store
	agg      *Aggregator
	loc      *time.Location
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a Service. Dates are interpreted in loc (UTC if nil).
func NewService(st store.Store, agg *Aggregator, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		agg:      agg,
		loc:      loc,
		validate: validator.New(),
		now:      time.Now,
		logger:   logger,
	}
}

// Location is the zone calendar days are computed in.
func (s *Service) Location() *time.Location { return s.loc }

// Report aggregates the subject's samples between the start and end dates,
// inclusive. The range is checked before the store is queried.
func (s *Service) Report(ctx context.Context, ownerID, subjectID uuid.UUID, start, end time.Time) (*Report, error) {
	start = start.In(s.loc)
	end = end.In(s.loc)
	if err := s.agg.CheckRange(start, end); err != nil {
		return nil, err
	}

	from := midnight(start)
	to := midnight(end).AddDate(0, 0, 1)
	rows, err := s.store.ListSamples(ctx, store.SampleFilter{
		OwnerID:   ownerID,
		SubjectID: subjectID,
		From:      from,
		To:        to,
	})
	if err != nil {
		return nil, fmt.Errorf("loading samples: %w", err)
	}

	samples := make([]models.Sample, len(rows))
	var latest *models.Sample
	for i, r := range rows {
		samples[i] = *r
		if latest == nil || !r.RecordedAt.Before(latest.RecordedAt) {
			latest = r
		}
	}

	buckets, summary, err := s.agg.Aggregate(samples, start, end)
	if err != nil {
		return nil, err
	}
	return &Report{
		Start:   from,
		End:     midnight(end),
		Buckets: buckets,
		Summary: summary,
		Latest:  latest,
	}, nil
}

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// History returns the subject's pain logs, newest first. A limit outside
// 1..MaxHistoryLimit falls back to DefaultHistoryLimit.
func (s *Service) History(ctx context.Context, ownerID, subjectID uuid.UUID, limit int) ([]*models.Sample, error) {
	if limit < 1 || limit > MaxHistoryLimit {
		limit = DefaultHistoryLimit
	}
	samples, err := s.store.ListSamples(ctx, store.SampleFilter{
		OwnerID:     ownerID,
		SubjectID:   subjectID,
		NewestFirst: true,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("loading pain history: %w", err)
	}
	return samples, nil
}

// LogPain validates and stores one sample.
func (s *Service) LogPain(ctx context.Context, req LogPainRequest) (*models.Sample, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, sampleError(err)
	}
	recordedAt := req.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	sample := &models.Sample{
		ID:         uuid.New(),
		OwnerID:    req.OwnerID,
		SubjectID:  req.SubjectID,
		Value:      req.Value,
		Note:       req.Note,
		RecordedAt: recordedAt.UTC(),
	}
	if err := s.store.CreateSample(ctx, sample); err != nil {
		return nil, fmt.Errorf("storing sample: %w", err)
	}
	s.logger.Info("pain logged", "subject_id", sample.SubjectID, "value", sample.Value)
	return sample, nil
}

func sampleError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Value":
		return fmt.Errorf("%w: value must be between %d and %d", ErrInvalidSample, models.MinPainLevel, models.MaxPainLevel)
	case "Note":
		return fmt.Errorf("%w: note must be at most 2000 characters", ErrInvalidSample)
	case "OwnerID":
		return fmt.Errorf("%w: owner_id is required", ErrInvalidSample)
	case "SubjectID":
		return fmt.Errorf("%w: subject_id is required", ErrInvalidSample)
	default:
		return fmt.Errorf("%w: %s failed on '%s' validation", ErrInvalidSample, fe.Field(), fe.Tag())
	}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
