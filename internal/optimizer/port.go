package optimizer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/me/optrun/internal/store"
	"github.com/me/optrun/pkg/model"
)

// Port drives a Strategy against the trial ledger. Every successful RunOnce
// appends exactly one new trial record in ready state; the scheduler calls it
// once per admitted unit of capacity.
type Port struct {
	store    store.Store
	strategy Strategy
	logger   *slog.Logger
	next     int
}

// NewPort creates a Port positioned at sequence index 0.
func NewPort(st store.Store, strategy Strategy, logger *slog.Logger) *Port {
	return &Port{
		store:    st,
		strategy: strategy,
		logger:   logger.With("component", "optimizer"),
	}
}

// RunOnce draws the next parameter set and registers it as a ready trial with
// the next dense id. model.ErrNoMoreParameters passes through untouched so
// the scheduler can throttle admission without treating it as fatal.
func (p *Port) RunOnce(ctx context.Context) error {
	id, err := p.store.NextTrialID(ctx)
	if err != nil {
		return fmt.Errorf("next trial id: %w", err)
	}

	var params []model.ParameterValue
	if p.next == 0 {
		params, err = p.strategy.GenerateInitial()
	} else {
		params, err = p.strategy.Generate(p.next)
	}
	if err != nil {
		return err
	}

	trial := &model.Trial{ID: id, State: model.TrialReady, Params: params}
	if err := p.store.CreateTrial(ctx, trial); err != nil {
		return fmt.Errorf("register trial %d: %w", id, err)
	}

	p.next++
	p.logger.Debug("trial registered", "trial_id", id, "index", p.next-1)
	return nil
}

// Resume repositions the strategy as if it had already produced finished
// parameter sets. The position derives from the count of committed trials,
// never from elapsed time, so deterministic strategies reproduce identical
// future draws regardless of when the restart occurs.
func (p *Port) Resume(finished int) {
	p.next = finished
	p.logger.Info("optimizer repositioned", "index", finished)
}
