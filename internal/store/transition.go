package store

import (
	"fmt"

	"github.com/kiranshivaraju/rehabtrack/pkg/models"
)

var validTransitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusUploaded: {
		models.JobStatusProcessing, models.JobStatusDone, models.JobStatusError, models.JobStatusTimeout,
	},
	models.JobStatusProcessing: {
		models.JobStatusDone, models.JobStatusError, models.JobStatusTimeout,
	},
}

// sourcesFor returns every status from which to is directly reachable.
func sourcesFor(to models.JobStatus) []string {
	var from []string
	for src, targets := range validTransitions {
		for _, t := range targets {
			if t == to {
				from = append(from, string(src))
			}
		}
	}
	return from
}

// checkTransition decides whether current -> next may be written. A nil
// error with noop=true means the job already has that status.
func checkTransition(current, next models.JobStatus) (noop bool, err error) {
	if current.Terminal() {
		return false, fmt.Errorf("%w: job is %s", ErrJobTerminal, current)
	}
	if current == next {
		return true, nil
	}
	for _, t := range validTransitions[current] {
		if t == next {
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
}

func checkParams(status models.JobStatus, p *jobUpdateParams) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	if status == models.JobStatusDone && p.Result == nil {
		return fmt.Errorf("%w: done requires a result", ErrInvalidTransition)
	}
	if status != models.JobStatusDone && p.Result != nil {
		return fmt.Errorf("%w: result only allowed with done", ErrInvalidTransition)
	}
	return nil
}
