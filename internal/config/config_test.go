package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/me/optrun/pkg/model"
)

const sampleYAML = `
study:
  name: quadratic
  workspace: ./work
optimize:
  trial_number: 30
  search_algorithm: random
  seed: 42
  goal: [minimize]
  parameters:
    - name: x1
      type: float
      lower: 0.0
      upper: 5.0
    - name: x2
      type: float
      lower: 0.0
      upper: 5.0
resource:
  type: expr
  num_workers: 4
  timeout_seconds: 60
  expression: "x1*x1 - 4*x1 + x2*x2 - x2 - x1*x2"
generic:
  log_level: debug
  poll_interval: 100ms
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "study.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Study.Name != "quadratic" {
		t.Errorf("study name = %q", cfg.Study.Name)
	}
	if cfg.Optimize.TrialNumber != 30 || cfg.Optimize.Seed != 42 {
		t.Errorf("optimize section mismatch: %+v", cfg.Optimize)
	}
	if len(cfg.Optimize.Parameters) != 2 || cfg.Optimize.Parameters[1].Upper != 5.0 {
		t.Errorf("parameters mismatch: %+v", cfg.Optimize.Parameters)
	}
	if cfg.Resource.Type != "expr" || cfg.Resource.NumWorkers != 4 {
		t.Errorf("resource mismatch: %+v", cfg.Resource)
	}
	if cfg.Generic.PollInterval != 100*time.Millisecond {
		t.Errorf("poll_interval = %v", cfg.Generic.PollInterval)
	}
	// Defaults survive for fields the file omits.
	if cfg.Generic.LogFormat != "text" || cfg.Generic.StallTicks != 600 {
		t.Errorf("defaults not applied: %+v", cfg.Generic)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Optimize.TrialNumber = 5
		cfg.Optimize.Parameters = []model.Parameter{
			{Name: "x", Type: model.ParamFloat, Lower: 0, Upper: 1},
		}
		cfg.Resource.Type = "expr"
		cfg.Resource.Expression = "x"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"zero trials", func(c *Config) { c.Optimize.TrialNumber = 0 }, "trial_number"},
		{"zero workers", func(c *Config) { c.Resource.NumWorkers = 0 }, "num_workers"},
		{"no parameters", func(c *Config) { c.Optimize.Parameters = nil }, "parameters"},
		{"no goals", func(c *Config) { c.Optimize.Goals = nil }, "goal"},
		{"bad goal", func(c *Config) { c.Optimize.Goals = []model.Goal{"smallest"} }, "direction"},
		{"inverted bounds", func(c *Config) {
			c.Optimize.Parameters[0].Lower = 2
			c.Optimize.Parameters[0].Upper = 1
		}, "below lower"},
		{"categorical without choices", func(c *Config) {
			c.Optimize.Parameters[0] = model.Parameter{Name: "c", Type: model.ParamCategorical}
		}, "choices"},
		{"unknown parameter type", func(c *Config) {
			c.Optimize.Parameters[0].Type = "bool"
		}, "unknown type"},
		{"local without command", func(c *Config) {
			c.Resource.Type = "local"
			c.Resource.Command = ""
		}, "resource.command"},
		{"expr without expression", func(c *Config) { c.Resource.Expression = "" }, "resource.expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	cfg := Default()
	if cfg.Timeout() != 0 {
		t.Errorf("default timeout = %v, want 0 (disabled)", cfg.Timeout())
	}
	cfg.Resource.TimeoutSeconds = 90
	if cfg.Timeout() != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", cfg.Timeout())
	}
}
