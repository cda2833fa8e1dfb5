package jobs

import (
	"context"
	"errors"

	"call-audit-go/internal/actionable"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

// Store is the slice of the job store the tracker writes through.
type Store interface {
	UpdateJob(ctx context.Context, id string, fn func(*types.Job) error) (types.Job, error)
}

// Tracker applies transitions for a single job and publishes each applied one.
type Tracker struct {
	store  Store
	events *EventBus
	jobID  string
	log    *logger.Logger
}

func NewTracker(store Store, events *EventBus, jobID string, log *logger.Logger) *Tracker {
	return &Tracker{store: store, events: events, jobID: jobID, log: log.WithJob(jobID)}
}

// Advance moves the job to processing at the given progress.
func (t *Tracker) Advance(ctx context.Context, progress int, step, message string) error {
	return t.apply(ctx, Transition{
		Status:   types.JobProcessing,
		Progress: progress,
		Step:     step,
		Message:  message,
	}, nil)
}

// Complete finalizes the job with its audit score.
func (t *Tracker) Complete(ctx context.Context, score int) error {
	return t.apply(ctx, Transition{
		Status:   types.JobComplete,
		Progress: 100,
		Step:     "Complete",
		Message:  "Analysis complete",
	}, func(j *types.Job) {
		j.Score = score
		j.ComplianceStatus = actionable.ComplianceStatus(score)
	})
}

// Fail moves the job to the error state. A job that is already terminal is left alone.
func (t *Tracker) Fail(ctx context.Context, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	err := t.apply(ctx, Transition{
		Status:  types.JobError,
		Message: "Processing failed: " + msg,
		Cause:   msg,
	}, nil)
	if errors.Is(err, ErrTerminal) {
		t.log.WithError(cause).Warn("job already terminal; failure not recorded")
		return nil
	}
	return err
}

func (t *Tracker) apply(ctx context.Context, tr Transition, extra func(*types.Job)) error {
	job, err := t.store.UpdateJob(ctx, t.jobID, func(j *types.Job) error {
		if err := Apply(j, tr); err != nil {
			return err
		}
		if extra != nil {
			extra(j)
		}
		return nil
	})
	if err != nil {
		return err
	}

	t.log.WithField("status", job.Status).
		WithField("progress", job.Progress).
		WithField("step", job.CurrentStep).
		Debug("job transition")

	if t.events != nil {
		t.events.Publish(Event{
			JobID:    job.ID,
			Status:   job.Status,
			Progress: job.Progress,
			Step:     job.CurrentStep,
			Message:  job.StatusMessage,
			Error:    job.ErrorMessage,
		})
	}
	return nil
}
