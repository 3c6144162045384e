package pipeline

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/rehabtrack/internal/processing"
)

// ErrPollTimeout is the outcome of a job that hit the poll attempt ceiling.
var ErrPollTimeout = errors.New("job did not reach a terminal status before the poll limit")

// ValidationError rejects a request before any network action. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Kind classifies a failed remote operation.
type Kind string

const (
	KindTransport Kind = "transport"
	KindRemote    Kind = "remote"
	KindMalformed Kind = "malformed"
)

// OpError is a failed call to the processing service.
type OpError struct {
	Op    string
	JobID string
	Kind  Kind
	Err   error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s job %s: %s: %v", e.Op, e.JobID, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func newOpError(op, jobID string, err error) *OpError {
	return &OpError{Op: op, JobID: jobID, Kind: kindOf(err), Err: err}
}

func kindOf(err error) Kind {
	switch {
	case errors.Is(err, processing.ErrRemote):
		return KindRemote
	case errors.Is(err, processing.ErrMalformedResponse):
		return KindMalformed
	default:
		return KindTransport
	}
}
