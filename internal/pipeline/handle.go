package pipeline

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

// Handle is the caller's view of one polling loop.
type Handle struct {
	jobID  string
	cancel context.CancelFunc

	// mu is held by the loop for the duration of every store or cache write.
	mu      sync.Mutex
	stopped bool

	done   chan struct{}
	once   sync.Once
	status models.JobStatus
	err    error
}

func newHandle(jobID string, cancel context.CancelFunc) *Handle {
	return &Handle{jobID: jobID, cancel: cancel, done: make(chan struct{})}
}

func finishedHandle(jobID string, status models.JobStatus, err error) *Handle {
	h := newHandle(jobID, func() {})
	h.stopped = true
	h.finish(status, err)
	return h
}

// JobID returns the id of the job being polled.
func (h *Handle) JobID() string { return h.jobID }

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Stop cancels the loop. Once Stop returns the loop performs no further
// writes, although it may take a moment to exit.
func (h *Handle) Stop() {
	h.cancel()
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
}

// Wait blocks until the loop exits or ctx is done and returns the final
// status with its outcome: nil for done, an *OpError for error,
// ErrPollTimeout for timeout and context.Canceled if the loop was stopped.
func (h *Handle) Wait(ctx context.Context) (models.JobStatus, error) {
	select {
	case <-h.done:
		return h.status, h.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (h *Handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Handle) finish(status models.JobStatus, err error) {
	h.once.Do(func() {
		h.status = status
		h.err = err
		close(h.done)
	})
}

// cancelled reports whether Stop has been called.
func (h *Handle) cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// guard runs write unless the handle has been stopped and reports whether it ran.
func (h *Handle) guard(write func()) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	write()
	return true
}
