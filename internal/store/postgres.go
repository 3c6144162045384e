package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, owner_id, subject_id, exercise_ref, status, result, error_message,
	triggered_at, completed_at, submitted_at, updated_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	if job.Status != models.JobStatusUploaded || job.Result != nil {
		return fmt.Errorf("%w: new jobs start as uploaded without a result", ErrInvalidTransition)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, owner_id, subject_id, exercise_ref, status, submitted_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.OwnerID, job.SubjectID, job.ExerciseRef, string(job.Status), job.SubmittedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	page, limit := normalizePage(filter.Page, filter.Limit)
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, statuses ...models.JobStatus) ([]*models.Job, error) {
	if len(statuses) == 0 {
		return []*models.Job{}, nil
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ANY($1) ORDER BY submitted_at ASC`, names)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

func (s *PostgresStore) MarkTriggered(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET triggered_at = COALESCE(triggered_at, $2), updated_at = $2
		 WHERE id = $1 AND status IN ('uploaded', 'processing')`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark job triggered: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: job is %s", ErrJobTerminal, current)
}

// UpdateJobStatus applies a forward transition in one conditional statement,
// so a concurrent writer can never interleave between the check and the write.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id string, status models.JobStatus, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	if err := checkParams(status, params); err != nil {
		return err
	}

	var resultJSON []byte
	if params.Result != nil {
		b, err := json.Marshal(params.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		resultJSON = b
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET
		   status = $2,
		   updated_at = $3,
		   result = $4,
		   error_message = COALESCE($5, error_message),
		   completed_at = CASE WHEN $6::boolean THEN $3 ELSE completed_at END
		 WHERE id = $1 AND status = ANY($7)`,
		id, string(status), now, resultJSON, params.ErrorMessage, status.Terminal(), sourcesFor(status))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Nothing matched: explain why from the current row.
	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if _, err := checkTransition(models.JobStatus(current), status); err != nil {
		return err
	}
	// Same status: nothing to write.
	return nil
}

// --- Samples ---

func (s *PostgresStore) CreateSample(ctx context.Context, sample *models.Sample) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pain_samples (id, owner_id, subject_id, value, note, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sample.ID, sample.OwnerID, sample.SubjectID, sample.Value, sample.Note, sample.RecordedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create sample: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSamples(ctx context.Context, filter SampleFilter) ([]*models.Sample, error) {
	conditions := []string{"owner_id = $1", "subject_id = $2"}
	args := []any{filter.OwnerID, filter.SubjectID}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("recorded_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("recorded_at < $%d", len(args)))
	}

	order := "ASC"
	if filter.NewestFirst {
		order = "DESC"
	}
	query := fmt.Sprintf(
		`SELECT id, owner_id, subject_id, value, note, recorded_at
		 FROM pain_samples WHERE %s ORDER BY recorded_at %s, id %s`,
		strings.Join(conditions, " AND "), order, order)
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	samples := []*models.Sample{}
	for rows.Next() {
		var sm models.Sample
		if err := rows.Scan(&sm.ID, &sm.OwnerID, &sm.SubjectID, &sm.Value, &sm.Note, &sm.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, &sm)
	}
	return samples, rows.Err()
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j          models.Job
		status     string
		resultJSON []byte
	)
	err := row.Scan(&j.ID, &j.OwnerID, &j.SubjectID, &j.ExerciseRef, &status, &resultJSON,
		&j.ErrorMessage, &j.TriggeredAt, &j.CompletedAt, &j.SubmittedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	if resultJSON != nil {
		var r models.AnalysisResult
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		j.Result = &r
	}
	return &j, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
