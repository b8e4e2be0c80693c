package backend

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/me/optrun/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitTerminal(t *testing.T, b Backend, h Handle) Status {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		status, err := b.Poll(context.Background(), h)
		if err != nil {
			t.Fatalf("poll: %v", err)
		}
		if status.IsTerminal() {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("trial never reached a terminal status")
	return ""
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(NewExprBackend("1", testLogger()))

	if _, err := reg.Get("expr"); err != nil {
		t.Errorf("get expr: %v", err)
	}
	if _, err := reg.Get("slurm"); err == nil {
		t.Error("expected error for unregistered backend")
	}
}

func TestExprBackend_Success(t *testing.T) {
	ctx := context.Background()
	b := NewExprBackend("x1*x1 - 4*x1 + x2*x2 - x2 - x1*x2", testLogger())

	h, err := b.Submit(ctx, 0, []model.ParameterValue{
		{Name: "x1", Type: model.ParamFloat, Value: 2.0},
		{Name: "x2", Type: model.ParamFloat, Value: 1.0},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	status, err := b.Poll(ctx, h)
	if err != nil || status != StatusSuccess {
		t.Fatalf("poll = (%s, %v), want success", status, err)
	}

	objective, err := b.Result(ctx, h)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	// 4 - 8 + 1 - 1 - 2 = -6
	if len(objective) != 1 || objective[0] != -6.0 {
		t.Errorf("objective = %v, want [-6]", objective)
	}
}

func TestExprBackend_MultiObjective(t *testing.T) {
	ctx := context.Background()
	b := NewExprBackend("[x, -x]", testLogger())

	h, err := b.Submit(ctx, 1, []model.ParameterValue{
		{Name: "x", Type: model.ParamFloat, Value: 3.0},
	})
	if err != nil {
		t.Fatal(err)
	}

	objective, err := b.Result(ctx, h)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(objective) != 2 || objective[0] != 3.0 || objective[1] != -3.0 {
		t.Errorf("objective = %v, want [3 -3]", objective)
	}
}

func TestExprBackend_EvaluationError(t *testing.T) {
	ctx := context.Background()
	b := NewExprBackend("undefinedFunction()", testLogger())

	h, err := b.Submit(ctx, 2, nil)
	if err != nil {
		t.Fatalf("submit should absorb evaluation errors, got %v", err)
	}

	status, err := b.Poll(ctx, h)
	if err != nil || status != StatusFailure {
		t.Fatalf("poll = (%s, %v), want failure", status, err)
	}
	if b.Err(ctx, h) == "" {
		t.Error("failure should carry a diagnostic")
	}
	if _, err := b.Result(ctx, h); err == nil {
		t.Error("result on a failed trial should error")
	}
}

func TestExprBackend_UnknownHandle(t *testing.T) {
	b := NewExprBackend("1", testLogger())
	if _, err := b.Poll(context.Background(), "expr-99"); err == nil {
		t.Error("expected error for unknown handle")
	}
}

func TestLocalBackend_Success(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(`echo "computing"; echo "$OPTRUN_PARAM_X1 2.5"`, t.TempDir(), testLogger())

	h, err := b.Submit(ctx, 0, []model.ParameterValue{
		{Name: "x1", Type: model.ParamFloat, Value: 1.5},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if status := waitTerminal(t, b, h); status != StatusSuccess {
		t.Fatalf("status = %s, want success (stderr: %s)", status, b.Err(ctx, h))
	}

	objective, err := b.Result(ctx, h)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(objective) != 2 || objective[0] != 1.5 || objective[1] != 2.5 {
		t.Errorf("objective = %v, want [1.5 2.5]", objective)
	}
}

func TestLocalBackend_NonZeroExit(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(`echo "boom" >&2; exit 3`, t.TempDir(), testLogger())

	h, err := b.Submit(ctx, 1, nil)
	if err != nil {
		t.Fatal(err)
	}

	if status := waitTerminal(t, b, h); status != StatusFailure {
		t.Fatalf("status = %s, want failure", status)
	}
	if msg := b.Err(ctx, h); msg != "boom" {
		t.Errorf("err = %q, want boom", msg)
	}
}

func TestLocalBackend_UnparsableOutput(t *testing.T) {
	b := NewLocalBackend(`echo "not a number"`, t.TempDir(), testLogger())

	h, err := b.Submit(context.Background(), 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	if status := waitTerminal(t, b, h); status != StatusFailure {
		t.Fatalf("status = %s, want failure", status)
	}
}

func TestLocalBackend_Cancel(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBackend(`sleep 60`, t.TempDir(), testLogger())

	h, err := b.Submit(ctx, 3, nil)
	if err != nil {
		t.Fatal(err)
	}

	if status, _ := b.Poll(ctx, h); status != StatusRunning {
		t.Fatalf("status = %s, want running", status)
	}
	if err := b.Cancel(ctx, h); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if status := waitTerminal(t, b, h); status != StatusFailure {
		t.Fatalf("status after cancel = %s, want failure", status)
	}
}

func TestParseObjective(t *testing.T) {
	tests := []struct {
		stdout  string
		want    []float64
		wantErr bool
	}{
		{"1.5\n", []float64{1.5}, false},
		{"log line\n-2 3.5\n", []float64{-2, 3.5}, false},
		{"42\n\n  \n", []float64{42}, false},
		{"", nil, true},
		{"abc\n", nil, true},
	}
	for _, tt := range tests {
		got, err := parseObjective(tt.stdout)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseObjective(%q) err = %v", tt.stdout, err)
			continue
		}
		if err == nil && len(got) != len(tt.want) {
			t.Errorf("parseObjective(%q) = %v, want %v", tt.stdout, got, tt.want)
		}
	}
}
