package optimizer

import (
	"fmt"
	"log/slog"

	"github.com/me/optrun/pkg/model"
)

// Strategy draws candidate parameter sets by sequence index. Index-based
// generation is what makes resume cheap: repositioning a strategy is just
// choosing the next index, never replaying wall-clock history.
type Strategy interface {
	// Generate returns the parameter set at the given index. Strategies with
	// a finite space return model.ErrNoMoreParameters once it is exhausted.
	Generate(index int) ([]model.ParameterValue, error)

	// GenerateInitial returns the set for the very first trial of a fresh
	// run. Most strategies delegate to Generate(0); some honor declared
	// initial values instead.
	GenerateInitial() ([]model.ParameterValue, error)
}

// Spec carries everything a strategy constructor needs.
type Spec struct {
	Parameters []model.Parameter
	Seed       int64
}

// Factory constructs a Strategy from a Spec.
type Factory func(spec Spec) (Strategy, error)

// Registry maps algorithm names to their Factory. Registration happens at
// startup before concurrent access, so no mutex is needed.
type Registry struct {
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry creates a Registry with the built-in strategies registered.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With("component", "optimizer-registry"),
	}
	r.Register("random", NewRandom)
	r.Register("grid", NewGrid)
	r.Register("sobol", NewSobol)
	return r
}

// Register adds a Factory under the given algorithm name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
	r.logger.Debug("strategy registered", "algorithm", name)
}

// Resolve constructs the Strategy for the given algorithm name.
func (r *Registry) Resolve(name string, spec Spec) (Strategy, error) {
	f, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("no strategy registered for algorithm %q", name)
	}
	return f(spec)
}
