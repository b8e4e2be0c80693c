package config

import (
	"fmt"
	"os"
	"time"

	"github.com/me/optrun/pkg/model"
	"gopkg.in/yaml.v3"
)

// Config is the full study configuration loaded from YAML.
type Config struct {
	Study    StudyConfig    `yaml:"study"`
	Optimize OptimizeConfig `yaml:"optimize"`
	Resource ResourceConfig `yaml:"resource"`
	Generic  GenericConfig  `yaml:"generic"`
}

// StudyConfig names the run and its working directory.
type StudyConfig struct {
	Name      string `yaml:"name"`
	Workspace string `yaml:"workspace"`
}

// OptimizeConfig declares the search space and the trial budget.
type OptimizeConfig struct {
	TrialNumber     int               `yaml:"trial_number"`
	SearchAlgorithm string            `yaml:"search_algorithm"`
	Seed            int64             `yaml:"seed"`
	Goals           []model.Goal      `yaml:"goal"`
	Parameters      []model.Parameter `yaml:"parameters"`
}

// ResourceConfig selects and sizes the execution backend.
type ResourceConfig struct {
	Type       string `yaml:"type"` // backend name: local, expr
	NumWorkers int    `yaml:"num_workers"`

	// TimeoutSeconds bounds each trial's running time. 0 disables the bound.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Command is the objective program for the local backend. Parameters are
	// passed through the environment; the last stdout line is the objective.
	Command string `yaml:"command"`

	// Expression is the JS objective for the expr backend. Parameter names
	// are bound as variables.
	Expression string `yaml:"expression"`
}

// GenericConfig holds ambient settings.
type GenericConfig struct {
	DBPath       string        `yaml:"db_path"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// StallTicks is the number of consecutive ticks with no observable state
	// change (while work is still pending) after which the run aborts.
	StallTicks int `yaml:"stall_ticks"`
}

// UnmarshalYAML accepts human-readable durations like "500ms" for
// poll_interval. Absent or empty fields keep whatever value the target
// already holds, so defaults survive a partial generic section.
func (g *GenericConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		DBPath       string `yaml:"db_path"`
		LogLevel     string `yaml:"log_level"`
		LogFormat    string `yaml:"log_format"`
		PollInterval string `yaml:"poll_interval"`
		StallTicks   int    `yaml:"stall_ticks"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.DBPath != "" {
		g.DBPath = raw.DBPath
	}
	if raw.LogLevel != "" {
		g.LogLevel = raw.LogLevel
	}
	if raw.LogFormat != "" {
		g.LogFormat = raw.LogFormat
	}
	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return fmt.Errorf("generic.poll_interval: %w", err)
		}
		g.PollInterval = d
	}
	if raw.StallTicks != 0 {
		g.StallTicks = raw.StallTicks
	}
	return nil
}

// Default returns a Config with sensible defaults applied.
func Default() Config {
	return Config{
		Study: StudyConfig{
			Name:      "study",
			Workspace: "./work",
		},
		Optimize: OptimizeConfig{
			SearchAlgorithm: "random",
			Goals:           []model.Goal{model.GoalMinimize},
		},
		Resource: ResourceConfig{
			Type:       "local",
			NumWorkers: 1,
		},
		Generic: GenericConfig{
			LogLevel:     "info",
			LogFormat:    "text",
			PollInterval: 500 * time.Millisecond,
			StallTicks:   600,
		},
	}
}

// Load reads a YAML config file, applies defaults and validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions the scheduler cannot
// recover from.
func (c *Config) Validate() error {
	if c.Optimize.TrialNumber <= 0 {
		return fmt.Errorf("optimize.trial_number must be positive, got %d", c.Optimize.TrialNumber)
	}
	if c.Resource.NumWorkers <= 0 {
		return fmt.Errorf("resource.num_workers must be positive, got %d", c.Resource.NumWorkers)
	}
	if len(c.Optimize.Parameters) == 0 {
		return fmt.Errorf("optimize.parameters must declare at least one parameter")
	}
	if len(c.Optimize.Goals) == 0 {
		return fmt.Errorf("optimize.goal must declare at least one direction")
	}
	for _, g := range c.Optimize.Goals {
		if !g.Valid() {
			return fmt.Errorf("optimize.goal: unknown direction %q", g)
		}
	}
	for i, p := range c.Optimize.Parameters {
		if p.Name == "" {
			return fmt.Errorf("optimize.parameters[%d]: name is required", i)
		}
		switch p.Type {
		case model.ParamFloat, model.ParamInt:
			if p.Upper < p.Lower {
				return fmt.Errorf("optimize.parameters[%d] %s: upper %v below lower %v",
					i, p.Name, p.Upper, p.Lower)
			}
		case model.ParamCategorical:
			if len(p.Choices) == 0 {
				return fmt.Errorf("optimize.parameters[%d] %s: categorical needs choices", i, p.Name)
			}
		default:
			return fmt.Errorf("optimize.parameters[%d] %s: unknown type %q", i, p.Name, p.Type)
		}
	}
	switch c.Resource.Type {
	case "local":
		if c.Resource.Command == "" {
			return fmt.Errorf("resource.command is required for the local backend")
		}
	case "expr":
		if c.Resource.Expression == "" {
			return fmt.Errorf("resource.expression is required for the expr backend")
		}
	}
	if c.Generic.PollInterval <= 0 {
		return fmt.Errorf("generic.poll_interval must be positive")
	}
	if c.Generic.StallTicks <= 0 {
		return fmt.Errorf("generic.stall_ticks must be positive")
	}
	return nil
}

// Timeout returns the per-trial running bound, or 0 when disabled.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Resource.TimeoutSeconds) * time.Second
}
