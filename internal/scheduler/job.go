package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/optrun/internal/backend"
	"github.com/me/optrun/internal/store"
	"github.com/me/optrun/pkg/model"
)

// JobState tracks a job through its lifecycle. Job states are a
// superset view over backend statuses; the terminal states mirror the
// terminal trial states written to storage.
type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobSuccess JobState = "success"
	JobFailure JobState = "failure"
	JobTimeout JobState = "timeout"
)

// IsTerminal reports whether s is a final job state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobSuccess, JobFailure, JobTimeout:
		return true
	}
	return false
}

// Job drives a single trial through its execution backend and records
// the outcome in storage. Backend failures are absorbed into the
// trial's terminal state; only storage errors propagate to the caller.
type Job struct {
	trialID int
	store   store.Store
	backend backend.Backend
	timeout time.Duration
	logger  *slog.Logger

	state     JobState
	handle    backend.Handle
	startedAt time.Time
}

// NewJob returns a pending job for trialID. A timeout of zero disables
// the per-trial deadline.
func NewJob(trialID int, st store.Store, be backend.Backend, timeout time.Duration, logger *slog.Logger) *Job {
	return &Job{
		trialID: trialID,
		store:   st,
		backend: be,
		timeout: timeout,
		logger:  logger.With("component", "job", "trial_id", trialID),
		state:   JobPending,
	}
}

// TrialID returns the trial this job executes.
func (j *Job) TrialID() int { return j.trialID }

// State returns the job's current state.
func (j *Job) State() JobState { return j.state }

// Dispatch submits the trial to the backend and marks it running in
// storage. A submission failure finishes the trial as a failure rather
// than aborting the run; the returned error is non-nil only when
// storage itself misbehaves.
func (j *Job) Dispatch(ctx context.Context) error {
	trial, err := j.store.GetTrial(ctx, j.trialID)
	if err != nil {
		if errors.Is(err, model.ErrTrialNotFound) {
			return &model.CorruptionError{TrialID: j.trialID, Err: err}
		}
		return fmt.Errorf("load trial %d: %w", j.trialID, err)
	}

	handle, err := j.backend.Submit(ctx, j.trialID, trial.Params)
	if err != nil {
		j.logger.Warn("job submission failed", "error", err)
		return j.finish(ctx, JobFailure, model.TrialFailure, nil, err.Error())
	}

	if err := j.store.SetRunning(ctx, j.trialID); err != nil {
		return fmt.Errorf("mark trial %d running: %w", j.trialID, err)
	}
	j.handle = handle
	j.startedAt = time.Now()
	j.state = JobRunning
	j.logger.Debug("job dispatched", "backend", j.backend.Name())
	return nil
}

// Poll advances a running job: it checks the backend, enforces the
// per-trial timeout, and on completion writes the result to storage
// before the job reaches a terminal state. Poll never blocks on the
// backend and is a no-op once the job is terminal.
func (j *Job) Poll(ctx context.Context) error {
	if j.state != JobRunning {
		return nil
	}

	status, err := j.backend.Poll(ctx, j.handle)
	if err != nil {
		j.logger.Warn("job poll failed", "error", err)
		return j.finish(ctx, JobFailure, model.TrialFailure, nil, err.Error())
	}

	switch status {
	case backend.StatusPending, backend.StatusRunning:
		if j.timeout > 0 && time.Since(j.startedAt) > j.timeout {
			j.logger.Warn("job timed out", "timeout", j.timeout)
			if err := j.backend.Cancel(ctx, j.handle); err != nil {
				j.logger.Warn("job cancel failed", "error", err)
			}
			return j.finish(ctx, JobTimeout, model.TrialTimeout, nil, fmt.Sprintf("timed out after %s", j.timeout))
		}
		return nil
	case backend.StatusSuccess:
		objective, err := j.backend.Result(ctx, j.handle)
		if err != nil {
			j.logger.Warn("job result retrieval failed", "error", err)
			return j.finish(ctx, JobFailure, model.TrialFailure, nil, err.Error())
		}
		return j.finish(ctx, JobSuccess, model.TrialFinished, objective, "")
	case backend.StatusTimeout:
		return j.finish(ctx, JobTimeout, model.TrialTimeout, nil, j.backend.Err(ctx, j.handle))
	default:
		return j.finish(ctx, JobFailure, model.TrialFailure, nil, j.backend.Err(ctx, j.handle))
	}
}

// finish records the terminal trial state in storage first, so a crash
// between the write and the state change can only repeat the write.
func (j *Job) finish(ctx context.Context, js JobState, ts model.TrialState, objective []float64, errMsg string) error {
	if err := j.store.SetResult(ctx, j.trialID, ts, objective, errMsg); err != nil {
		return fmt.Errorf("record trial %d result: %w", j.trialID, err)
	}
	j.state = js
	j.logger.Info("job finished", "state", js, "objective", objective)
	return nil
}
