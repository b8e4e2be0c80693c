package store

import (
	"context"

	"github.com/me/optrun/pkg/model"
)

// Store defines the durable trial ledger. It is the single source of truth
// for trial state: every operation is atomic per trial id, and no operation
// ever exposes a partially written record.
type Store interface {
	// Study metadata
	CreateStudy(ctx context.Context, study *model.Study) error
	GetStudy(ctx context.Context) (*model.Study, error)

	// Trial lifecycle
	CreateTrial(ctx context.Context, trial *model.Trial) error
	GetTrial(ctx context.Context, id int) (*model.Trial, error)
	ListTrials(ctx context.Context) ([]*model.Trial, error)
	NextTrialID(ctx context.Context) (int, error)

	// Aggregates
	Counts(ctx context.Context) (model.Counts, error)
	ReadyIDs(ctx context.Context) ([]int, error)

	// State transitions
	SetState(ctx context.Context, id int, state model.TrialState) error
	SetRunning(ctx context.Context, id int) error
	SetResult(ctx context.Context, id int, state model.TrialState, objective []float64, errMsg string) error

	// Resume support. RollbackToReady must be invoked strictly before
	// DeleteTrialDataAfter within one resume operation.
	RollbackToReady(ctx context.Context, checkpoint int) error
	DeleteTrialDataAfter(ctx context.Context, checkpoint int) error

	// Evaluation
	BestTrials(ctx context.Context, goals []model.Goal) ([]*model.Trial, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
