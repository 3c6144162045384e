package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/rehabtrack/internal/events"
	"github.com/kiranshivaraju/rehabtrack/internal/processing"
	"github.com/kiranshivaraju/rehabtrack/internal/store"
	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

// ResultWriter is the part of the result cache the poller writes to.
type ResultWriter interface {
	Set(ctx context.Context, jobID string, result *models.AnalysisResult) error
	Invalidate(ctx context.Context, jobID string) error
}

type discardResults struct{}

func (discardResults) Set(context.Context, string, *models.AnalysisResult) error { return nil }
func (discardResults) Invalidate(context.Context, string) error                  { return nil }

const timeoutWriteTries = 2

// PollerConfig controls the per-job loop and the discovery scan.
type PollerConfig struct {
	Interval     time.Duration
	MaxAttempts  int
	ScanInterval time.Duration
}

// Poller runs one polling loop per watched job until the job reaches a
// terminal status, the attempt ceiling is hit, or the loop is stopped.
type Poller struct {
	client    processing.Client
	store     store.Store
	results   ResultWriter
	publisher events.Publisher
	cfg       PollerConfig
	logger    *slog.Logger

	ctx       context.Context
	cancelAll context.CancelFunc

	mu      sync.Mutex
	handles map[string]*Handle
	closed  bool
	wg      sync.WaitGroup
}

// NewPoller creates a Poller. results and publisher may be nil.
func NewPoller(client processing.Client, st store.Store, results ResultWriter, publisher events.Publisher, cfg PollerConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if results == nil {
		results = discardResults{}
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 200
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		client:    client,
		store:     st,
		results:   results,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancelAll: cancel,
		handles:   make(map[string]*Handle),
	}
}

// Watch starts polling job, or returns the loop already polling it.
// Terminal jobs get a handle that is already finished.
func (p *Poller) Watch(job *models.Job) *Handle {
	h, _ := p.watch(job)
	return h
}

func (p *Poller) watch(job *models.Job) (*Handle, bool) {
	if job.Status.Terminal() {
		status, err := outcomeOf(job)
		return finishedHandle(job.ID, status, err), false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return finishedHandle(job.ID, job.Status, context.Canceled), false
	}
	// A stopped loop may still be unwinding; it gets replaced rather than reused.
	if existing, ok := p.handles[job.ID]; ok && !existing.finished() && !existing.cancelled() {
		return existing, false
	}

	ctx, cancel := context.WithCancel(p.ctx)
	h := newHandle(job.ID, cancel)
	p.handles[job.ID] = h

	snapshot := *job
	p.wg.Add(1)
	go p.run(ctx, h, &snapshot)
	return h, true
}

// ResumePending watches every job the store still has in flight and returns
// how many loops were started.
func (p *Poller) ResumePending(ctx context.Context) (int, error) {
	jobs, err := p.store.ListJobsByStatus(ctx, models.JobStatusUploaded, models.JobStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("listing pending jobs: %w", err)
	}
	started := 0
	for _, job := range jobs {
		if _, ok := p.watch(job); ok {
			started++
		}
	}
	return started, nil
}

// Run resumes pending jobs, then rescans on every ScanInterval until ctx is
// done. It shuts the poller down before returning.
func (p *Poller) Run(ctx context.Context) error {
	defer p.Shutdown()

	p.scan(ctx)
	ticker := time.NewTicker(p.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.scan(ctx)
		}
	}
}

func (p *Poller) scan(ctx context.Context) {
	n, err := p.ResumePending(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Error("pending job scan failed", "error", err)
		}
		return
	}
	if n > 0 {
		p.logger.Info("resumed polling", "jobs", n)
	}
}

// Stop cancels the loop for jobID. It reports whether a running loop was found.
func (p *Poller) Stop(jobID string) bool {
	p.mu.Lock()
	h, ok := p.handles[jobID]
	p.mu.Unlock()
	if !ok || h.finished() || h.cancelled() {
		return false
	}
	h.Stop()
	return true
}

// Active returns the number of loops still running.
func (p *Poller) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, h := range p.handles {
		if !h.finished() {
			n++
		}
	}
	return n
}

// Shutdown stops every loop and waits for them to exit. Later calls to Watch
// return handles that are already cancelled.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	p.closed = true
	handles := make([]*Handle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	p.cancelAll()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, h *Handle, job *models.Job) {
	defer p.wg.Done()

	status, err := p.poll(ctx, h, job)
	h.finish(status, err)

	p.mu.Lock()
	if p.handles[job.ID] == h {
		delete(p.handles, job.ID)
	}
	p.mu.Unlock()
}

// poll is the per-job loop. Every store or cache write goes through h.guard,
// so nothing is written once h.Stop has returned.
func (p *Poller) poll(ctx context.Context, h *Handle, job *models.Job) (models.JobStatus, error) {
	log := p.logger.With("job_id", job.ID)
	meta := processing.JobMeta{OwnerID: job.OwnerID, SubjectID: job.SubjectID, ExerciseRef: job.ExerciseRef}
	current := job.Status
	triggered := job.TriggeredAt != nil

	var invErr error
	if !h.guard(func() { invErr = p.results.Invalidate(ctx, job.ID) }) {
		return current, context.Canceled
	}
	if invErr != nil {
		log.Warn("invalidating cached result failed", "error", invErr)
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return current, context.Canceled
		}

		if attempt > p.cfg.MaxAttempts {
			log.Warn("poll limit reached", "attempts", p.cfg.MaxAttempts)
			return p.expire(ctx, h, job, current, ticker.C, log)
		}

		if current == models.JobStatusUploaded && !triggered {
			if err := p.client.TriggerAnalysis(ctx, job.ID, meta); err != nil {
				if ctx.Err() != nil {
					return current, context.Canceled
				}
				log.Warn("trigger analysis failed", "attempt", attempt, "error", err)
			} else {
				triggered = true
				var markErr error
				if !h.guard(func() { markErr = p.store.MarkTriggered(ctx, job.ID) }) {
					return current, context.Canceled
				}
				if markErr != nil {
					log.Error("recording trigger failed", "error", markErr)
				}
			}
		}

		report, err := p.client.FetchStatus(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				return current, context.Canceled
			}
			log.Warn("status poll failed", "attempt", attempt, "kind", kindOf(err), "error", err)
		} else if opts, write := updateFor(report, current); write {
			st, fin, err := p.finishWith(ctx, h, job, report.Status, log, opts...)
			if fin {
				return st, err
			}
			if st != "" {
				current = st
			}
		}

		select {
		case <-ctx.Done():
			return current, context.Canceled
		case <-ticker.C:
		}
	}
}

// expire writes the timeout status, trying once more on the next tick if the
// store rejects the first write with an error. When both writes fail the row
// stays in flight and the next discovery scan starts a fresh loop for it.
func (p *Poller) expire(ctx context.Context, h *Handle, job *models.Job, current models.JobStatus, tick <-chan time.Time, log *slog.Logger) (models.JobStatus, error) {
	msg := fmt.Sprintf("no terminal status after %d polls", p.cfg.MaxAttempts)
	var lastErr error
	for try := 1; try <= timeoutWriteTries; try++ {
		if try > 1 {
			select {
			case <-ctx.Done():
				return current, context.Canceled
			case <-tick:
			}
		}
		st, fin, err := p.finishWith(ctx, h, job, models.JobStatusTimeout, log, store.WithErrorMessage(msg))
		if fin {
			return st, err
		}
		if st != "" {
			current = st
		}
		lastErr = err
	}
	log.Error("recording timeout failed, leaving job for the next scan", "status", current, "error", lastErr)
	return current, fmt.Errorf("%w: recording timeout: %v", ErrPollTimeout, lastErr)
}

// updateFor returns the store write a status report calls for, if any.
func updateFor(report *processing.StatusReport, current models.JobStatus) ([]store.JobUpdateOption, bool) {
	switch report.Status {
	case models.JobStatusDone:
		return []store.JobUpdateOption{store.WithResult(report.Result)}, true
	case models.JobStatusError:
		return []store.JobUpdateOption{store.WithErrorMessage(report.Message)}, true
	case models.JobStatusProcessing:
		return nil, current == models.JobStatusUploaded
	default:
		return nil, false
	}
}

// finishWith writes the transition to status to. It reports fin=true with the loop's outcome
// when the loop should end: the write landed on a terminal status, the job
// turned out to be terminal already, or the loop was stopped. Otherwise it
// returns the job's current status (empty if unknown) and fin=false.
func (p *Poller) finishWith(ctx context.Context, h *Handle, job *models.Job, to models.JobStatus, log *slog.Logger, opts ...store.JobUpdateOption) (models.JobStatus, bool, error) {
	var writeErr error
	if !h.guard(func() { writeErr = p.store.UpdateJobStatus(ctx, job.ID, to, opts...) }) {
		return job.Status, true, context.Canceled
	}

	switch {
	case writeErr == nil:
		job.Status = to
		if !to.Terminal() {
			return to, false, nil
		}
		return p.terminal(ctx, h, job, opts, log)

	case errors.Is(writeErr, store.ErrInvalidTransition), errors.Is(writeErr, store.ErrJobTerminal):
		fresh, err := p.store.GetJob(ctx, job.ID)
		if err != nil {
			if ctx.Err() != nil {
				return job.Status, true, context.Canceled
			}
			log.Error("re-reading job after rejected write failed", "error", err)
			return "", false, err
		}
		log.Info("write superseded", "wanted", to, "status", fresh.Status)
		if fresh.Status.Terminal() {
			st, err := outcomeOf(fresh)
			return st, true, err
		}
		job.Status = fresh.Status
		return fresh.Status, false, nil

	case errors.Is(writeErr, store.ErrNotFound):
		return job.Status, true, fmt.Errorf("job %s: %w", job.ID, store.ErrNotFound)

	default:
		if ctx.Err() != nil {
			return job.Status, true, context.Canceled
		}
		log.Error("updating job status failed", "status", to, "error", writeErr)
		return "", false, writeErr
	}
}

// terminal runs the side effects of a terminal write this loop performed.
func (p *Poller) terminal(ctx context.Context, h *Handle, job *models.Job, opts []store.JobUpdateOption, log *slog.Logger) (models.JobStatus, bool, error) {
	now := time.Now().UTC()
	final := *job
	final.CompletedAt = &now
	store.ApplyUpdate(&final, opts...)

	if final.Status == models.JobStatusDone {
		var cacheErr error
		h.guard(func() { cacheErr = p.results.Set(ctx, job.ID, final.Result) })
		if cacheErr != nil {
			log.Warn("caching result failed", "error", cacheErr)
		}
	}

	if err := p.publisher.Publish(context.WithoutCancel(ctx), events.NewJobEvent(&final)); err != nil {
		log.Warn("publishing job event failed", "error", err)
	}

	log.Info("job finished", "status", final.Status)
	st, err := outcomeOf(&final)
	return st, true, err
}

// outcomeOf maps a terminal job to the outcome its handle reports.
func outcomeOf(job *models.Job) (models.JobStatus, error) {
	switch job.Status {
	case models.JobStatusDone:
		return job.Status, nil
	case models.JobStatusError:
		msg := "analysis failed"
		if job.ErrorMessage != nil && *job.ErrorMessage != "" {
			msg = *job.ErrorMessage
		}
		return job.Status, &OpError{
			Op:    "analyze",
			JobID: job.ID,
			Kind:  KindRemote,
			Err:   fmt.Errorf("%w: %s", processing.ErrRemote, msg),
		}
	case models.JobStatusTimeout:
		return job.Status, ErrPollTimeout
	default:
		return job.Status, nil
	}
}
