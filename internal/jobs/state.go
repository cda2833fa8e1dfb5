package jobs

import (
	"errors"
	"fmt"

	"call-audit-go/internal/types"
)

// ErrTerminal is returned for any transition attempted on a complete or errored job.
var ErrTerminal = errors.New("job is in a terminal state")

// ErrProgressRegression is returned when a transition would lower progress.
var ErrProgressRegression = errors.New("progress must not decrease")

// Transition is one state-machine step issued at a stage boundary.
type Transition struct {
	Status   types.JobStatus
	Progress int
	Step     string
	Message  string
	// Cause is only read for transitions into the error state.
	Cause string
}

// Apply validates t against the job's current state and mutates the job in place.
func Apply(job *types.Job, t Transition) error {
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, job.Status, t.Status)
	}
	if !isValidTransition(job.Status, t.Status) {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, t.Status)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("progress %d out of range", t.Progress)
	}

	if t.Status == types.JobError {
		// keep the last progress so callers can see how far the job got
		if t.Progress > job.Progress {
			job.Progress = t.Progress
		}
		job.Status = types.JobError
		job.ErrorMessage = t.Cause
		if job.ErrorMessage == "" {
			job.ErrorMessage = "unknown error"
		}
		job.StatusMessage = t.Message
		if t.Step != "" {
			job.CurrentStep = t.Step
		}
		return nil
	}

	if t.Progress < job.Progress {
		return fmt.Errorf("%w: %d -> %d", ErrProgressRegression, job.Progress, t.Progress)
	}
	job.Status = t.Status
	job.Progress = t.Progress
	job.CurrentStep = t.Step
	job.StatusMessage = t.Message
	return nil
}

func isValidTransition(from, to types.JobStatus) bool {
	switch from {
	case types.JobPending:
		return to == types.JobProcessing || to == types.JobError
	case types.JobProcessing:
		return to == types.JobProcessing || to == types.JobComplete || to == types.JobError
	default:
		return false
	}
}
