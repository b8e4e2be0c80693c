package model

import (
	"time"
)

// Trial is one evaluation of the objective function under a fixed parameter
// assignment. IDs are assigned densely and monotonically from 0.
type Trial struct {
	ID        int              `json:"id"`
	State     TrialState       `json:"state"`
	Params    []ParameterValue `json:"params,omitempty"`
	Objective []float64        `json:"objective,omitempty"`
	Error     string           `json:"error,omitempty"`
	StartedAt *time.Time       `json:"started_at,omitempty"`
	EndedAt   *time.Time       `json:"ended_at,omitempty"`
}

// ParameterType classifies a hyperparameter's value domain.
type ParameterType string

const (
	ParamFloat       ParameterType = "float"
	ParamInt         ParameterType = "int"
	ParamCategorical ParameterType = "categorical"
)

// Parameter declares one dimension of the search space.
type Parameter struct {
	Name    string        `yaml:"name" json:"name"`
	Type    ParameterType `yaml:"type" json:"type"`
	Lower   float64       `yaml:"lower" json:"lower,omitempty"`
	Upper   float64       `yaml:"upper" json:"upper,omitempty"`
	Choices []string      `yaml:"choices" json:"choices,omitempty"`

	// Step controls grid spacing for numeric parameters; 0 lets the
	// strategy pick its own resolution.
	Step float64 `yaml:"step" json:"step,omitempty"`
}

// ParameterValue is one concrete assignment drawn by a strategy.
type ParameterValue struct {
	Name  string        `json:"name"`
	Type  ParameterType `json:"type"`
	Value any           `json:"value"`
}

// Float returns the value as a float64 for numeric parameter types.
func (v ParameterValue) Float() (float64, bool) {
	switch x := v.Value.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

// Goal is an optimization direction for one objective dimension.
type Goal string

const (
	GoalMinimize Goal = "minimize"
	GoalMaximize Goal = "maximize"
)

// Valid reports whether g is a recognized direction.
func (g Goal) Valid() bool {
	return g == GoalMinimize || g == GoalMaximize
}

// Study records the run-level metadata persisted alongside trials.
type Study struct {
	ID          string    `json:"id"` // uuid
	Name        string    `json:"name"`
	Algorithm   string    `json:"algorithm"`
	TrialNumber int       `json:"trial_number"`
	NumWorkers  int       `json:"num_workers"`
	CreatedAt   time.Time `json:"created_at"`
}

// Counts is the storage-derived aggregate used for admission control.
// Finished counts every terminal trial (finished, failure, timeout).
type Counts struct {
	Ready    int `json:"ready"`
	Running  int `json:"running"`
	Finished int `json:"finished"`
}

// Total returns ready + running + finished.
func (c Counts) Total() int {
	return c.Ready + c.Running + c.Finished
}
