package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/me/optrun/pkg/model"
)

// Status is the backend-side view of a submitted trial.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

// IsTerminal returns true for statuses no further poll can change.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout:
		return true
	}
	return false
}

// Handle identifies a submitted trial within a backend.
type Handle string

// Backend runs trial workloads. The scheduler only ever polls: no Backend
// method may block on workload completion.
type Backend interface {
	// Name returns the backend type identifier.
	Name() string

	// Submit dispatches one trial and returns a handle for polling.
	Submit(ctx context.Context, trialID int, params []model.ParameterValue) (Handle, error)

	// Poll reports the current status without blocking.
	Poll(ctx context.Context, h Handle) (Status, error)

	// Result returns the objective values; valid only after a terminal poll.
	Result(ctx context.Context, h Handle) ([]float64, error)

	// Err returns the diagnostic message for a failed trial, if any.
	Err(ctx context.Context, h Handle) string

	// Cancel requests termination of a running trial.
	Cancel(ctx context.Context, h Handle) error
}

// Registry maps backend names to their implementations. Registration happens
// at startup before concurrent access, so no mutex is needed.
type Registry struct {
	backends map[string]Backend
	logger   *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		backends: make(map[string]Backend),
		logger:   logger.With("component", "backend-registry"),
	}
}

// Register adds a Backend to the registry, keyed by its Name().
func (r *Registry) Register(b Backend) {
	r.backends[b.Name()] = b
	r.logger.Info("backend registered", "type", b.Name())
}

// Get returns the Backend for the given name or an error if none is registered.
func (r *Registry) Get(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("no backend registered for type %q", name)
	}
	return b, nil
}
