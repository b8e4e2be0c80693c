package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/optrun/internal/backend"
	"github.com/me/optrun/internal/optimizer"
	"github.com/me/optrun/internal/store"
	"github.com/me/optrun/pkg/model"
)

// Config carries the scheduling parameters for one optimization run.
type Config struct {
	TrialNumber  int
	NumWorkers   int
	PollInterval time.Duration
	Timeout      time.Duration
	StallTicks   int
}

// Loop is the optimization control loop. Each tick it admits new trials
// up to the worker budget, dispatches jobs for ready trials, polls
// running jobs, and checks storage for completion. All progress state
// lives in storage; the loop itself only caches the in-flight jobs and
// the sticky exhaustion flag.
type Loop struct {
	store   store.Store
	port    *optimizer.Port
	backend backend.Backend
	cfg     Config
	logger  *slog.Logger

	jobs                   map[int]*Job
	allParametersGenerated bool
	buffer                 *ChangeBuffer
	stallCount             int
	startedAt              time.Time
}

func NewLoop(st store.Store, port *optimizer.Port, be backend.Backend, cfg Config, logger *slog.Logger) *Loop {
	return &Loop{
		store:   st,
		port:    port,
		backend: be,
		cfg:     cfg,
		logger:  logger.With("component", "scheduler"),
		jobs:    make(map[int]*Job),
		buffer:  NewChangeBuffer(),
	}
}

// Resume prepares storage for a restart from checkpoint: every trial at
// or after the checkpoint id is rolled back to ready and then removed,
// and the optimizer position is rebuilt from the surviving terminal
// count. The checkpoint trial must exist.
func (l *Loop) Resume(ctx context.Context, checkpoint int) error {
	if checkpoint <= 0 {
		return &model.ResumeError{Checkpoint: checkpoint, Reason: "checkpoint must be a positive trial id"}
	}
	if _, err := l.store.GetTrial(ctx, checkpoint); err != nil {
		if errors.Is(err, model.ErrTrialNotFound) {
			return &model.ResumeError{Checkpoint: checkpoint, Reason: "checkpoint trial does not exist"}
		}
		return fmt.Errorf("load checkpoint trial %d: %w", checkpoint, err)
	}

	if err := l.store.RollbackToReady(ctx, checkpoint); err != nil {
		return fmt.Errorf("rollback trials from %d: %w", checkpoint, err)
	}
	if err := l.store.DeleteTrialDataAfter(ctx, checkpoint); err != nil {
		return fmt.Errorf("delete trials from %d: %w", checkpoint, err)
	}

	counts, err := l.store.Counts(ctx)
	if err != nil {
		return fmt.Errorf("count trials after rollback: %w", err)
	}
	l.port.Resume(counts.Finished)
	l.logger.Info("resumed from checkpoint", "checkpoint", checkpoint, "finished", counts.Finished)
	return nil
}

// Run ticks the loop at the configured interval until all trials reach
// a terminal state, the context is cancelled, or a fatal error occurs.
// Cancellation is honored only at tick boundaries, so a stop request
// never leaves a half-recorded trial behind.
func (l *Loop) Run(ctx context.Context) error {
	l.startedAt = time.Now()
	l.logger.Info("optimization started",
		"trial_number", l.cfg.TrialNumber, "num_workers", l.cfg.NumWorkers)

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("optimization stopped", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			done, err := l.Tick(ctx)
			if err != nil {
				return err
			}
			if done {
				l.logger.Info("optimization finished", "elapsed", time.Since(l.startedAt).Round(time.Millisecond))
				return nil
			}
		}
	}
}

// Tick runs one scheduling pass and reports whether the run is
// complete. Completion is derived from storage alone: the run is done
// exactly when the terminal trial count reaches the trial budget.
func (l *Loop) Tick(ctx context.Context) (bool, error) {
	counts, err := l.store.Counts(ctx)
	if err != nil {
		return false, fmt.Errorf("count trials: %w", err)
	}

	if err := l.admit(ctx, counts); err != nil {
		return false, err
	}
	if err := l.dispatch(ctx); err != nil {
		return false, err
	}
	if err := l.poll(ctx); err != nil {
		return false, err
	}

	counts, err = l.store.Counts(ctx)
	if err != nil {
		return false, fmt.Errorf("count trials: %w", err)
	}
	l.report(counts)

	if counts.Finished >= l.cfg.TrialNumber {
		return true, nil
	}
	if l.allParametersGenerated && counts.Ready == 0 && counts.Running == 0 {
		l.logger.Info("search space exhausted", "finished", counts.Finished, "trial_number", l.cfg.TrialNumber)
		return true, nil
	}
	if err := l.checkStall(counts); err != nil {
		return false, err
	}
	return false, nil
}

// admit asks the optimizer for new trials until the worker pool or the
// trial budget is exhausted. Optimizer exhaustion sets a sticky flag so
// later ticks do not probe a strategy that already declined.
func (l *Loop) admit(ctx context.Context, counts model.Counts) error {
	pool := l.availablePool(counts)
	if pool == 0 {
		if counts.Total() >= l.cfg.TrialNumber && !l.allParametersGenerated {
			l.allParametersGenerated = true
			l.logger.Info("all parameters generated", "total", counts.Total())
		}
		return nil
	}
	if l.allParametersGenerated && counts.Ready == 0 && counts.Running == 0 {
		return nil
	}

	for i := 0; i < pool; i++ {
		err := l.port.RunOnce(ctx)
		if errors.Is(err, model.ErrNoMoreParameters) {
			if !l.allParametersGenerated {
				l.allParametersGenerated = true
				l.logger.Info("search space exhausted before trial budget")
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("generate trial: %w", err)
		}
	}
	return nil
}

// availablePool is the number of trials that may be admitted this tick,
// bounded by both idle worker capacity and the remaining trial budget.
func (l *Loop) availablePool(counts model.Counts) int {
	byWorkers := l.cfg.NumWorkers - counts.Running - counts.Ready
	byBudget := l.cfg.TrialNumber - counts.Total()
	pool := byWorkers
	if byBudget < pool {
		pool = byBudget
	}
	if pool < 0 {
		pool = 0
	}
	return pool
}

// dispatch creates and submits a job for every ready trial that does
// not have one yet.
func (l *Loop) dispatch(ctx context.Context) error {
	readyIDs, err := l.store.ReadyIDs(ctx)
	if err != nil {
		return fmt.Errorf("list ready trials: %w", err)
	}
	for _, id := range readyIDs {
		if _, ok := l.jobs[id]; ok {
			continue
		}
		job := NewJob(id, l.store, l.backend, l.cfg.Timeout, l.logger)
		if err := job.Dispatch(ctx); err != nil {
			return err
		}
		l.jobs[id] = job
	}
	return nil
}

// poll advances every in-flight job and discards the ones that reached
// a terminal state. Results are already persisted by the time a job is
// dropped from the map.
func (l *Loop) poll(ctx context.Context) error {
	ids := make([]int, 0, len(l.jobs))
	for id := range l.jobs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var terminal []int
	for _, id := range ids {
		job := l.jobs[id]
		if err := job.Poll(ctx); err != nil {
			return err
		}
		key := fmt.Sprintf("trial_%d_state", id)
		l.buffer.Add(key, string(job.State()))
		if l.buffer.HasDifference(key) {
			l.logger.Debug("trial state", "trial_id", id, "state", job.State())
		}
		if job.State().IsTerminal() {
			terminal = append(terminal, id)
			l.buffer.Clear(key)
		}
	}
	for _, id := range terminal {
		delete(l.jobs, id)
	}
	return nil
}

// report logs overall progress, suppressing lines whose counts did not
// change since the previous tick, and estimates the finish time from
// the observed per-trial rate.
func (l *Loop) report(counts model.Counts) {
	l.buffer.Add("counts", counts)
	if !l.buffer.HasDifference("counts") {
		return
	}
	attrs := []any{
		"ready", counts.Ready,
		"running", counts.Running,
		"finished", counts.Finished,
		"trial_number", l.cfg.TrialNumber,
	}
	if counts.Finished > 0 && counts.Finished < l.cfg.TrialNumber {
		perTrial := time.Since(l.startedAt) / time.Duration(counts.Finished)
		eta := time.Now().Add(perTrial * time.Duration(l.cfg.TrialNumber-counts.Finished))
		attrs = append(attrs, "end_estimated", humanize.Time(eta))
	}
	l.logger.Info("progress", attrs...)
}

// checkStall counts consecutive ticks without progress while work is
// still pending and fails the run once the limit is hit. Progress is
// any change in the stored counts.
func (l *Loop) checkStall(counts model.Counts) error {
	l.buffer.Add("stall", counts)
	if l.buffer.HasDifference("stall") {
		l.stallCount = 0
		return nil
	}
	l.stallCount++
	if l.cfg.StallTicks > 0 && l.stallCount >= l.cfg.StallTicks {
		return fmt.Errorf("scheduler stalled: no progress for %d ticks (ready=%d running=%d finished=%d)",
			l.stallCount, counts.Ready, counts.Running, counts.Finished)
	}
	return nil
}
