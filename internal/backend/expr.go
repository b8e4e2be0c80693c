package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dop251/goja"
	"github.com/me/optrun/pkg/model"
)

// ExprBackend evaluates a JavaScript objective expression in-process, with
// each parameter bound as a variable. Evaluation completes within Submit, so
// the first Poll already observes a terminal status. This is the in-process
// equivalent of handing the runner a plain objective function.
type ExprBackend struct {
	expression string
	logger     *slog.Logger

	mu      sync.Mutex
	results map[Handle]*exprResult
}

type exprResult struct {
	status    Status
	objective []float64
	errMsg    string
}

// NewExprBackend creates an ExprBackend for the given expression. The
// expression may evaluate to a number or an array of numbers
// (multi-objective).
func NewExprBackend(expression string, logger *slog.Logger) *ExprBackend {
	return &ExprBackend{
		expression: expression,
		logger:     logger.With("component", "expr-backend"),
		results:    make(map[Handle]*exprResult),
	}
}

// Name returns "expr".
func (b *ExprBackend) Name() string { return "expr" }

// Submit evaluates the expression synchronously and records the outcome.
func (b *ExprBackend) Submit(ctx context.Context, trialID int, params []model.ParameterValue) (Handle, error) {
	h := Handle(fmt.Sprintf("expr-%d", trialID))
	res := &exprResult{}

	objective, err := b.evaluate(params)
	if err != nil {
		res.status = StatusFailure
		res.errMsg = err.Error()
		b.logger.Debug("objective failed", "trial_id", trialID, "error", err)
	} else {
		res.status = StatusSuccess
		res.objective = objective
	}

	b.mu.Lock()
	b.results[h] = res
	b.mu.Unlock()
	return h, nil
}

func (b *ExprBackend) evaluate(params []model.ParameterValue) ([]float64, error) {
	vm := goja.New()
	for _, p := range params {
		if err := vm.Set(p.Name, p.Value); err != nil {
			return nil, fmt.Errorf("bind %s: %w", p.Name, err)
		}
	}

	val, err := vm.RunString(b.expression)
	if err != nil {
		return nil, fmt.Errorf("evaluate objective: %w", err)
	}

	switch exported := val.Export().(type) {
	case float64:
		return []float64{exported}, nil
	case int64:
		return []float64{float64(exported)}, nil
	case []any:
		objective := make([]float64, len(exported))
		for i, item := range exported {
			switch x := item.(type) {
			case float64:
				objective[i] = x
			case int64:
				objective[i] = float64(x)
			default:
				return nil, fmt.Errorf("objective[%d] is not numeric: %v", i, item)
			}
		}
		return objective, nil
	}
	return nil, fmt.Errorf("objective is not numeric: %v", val)
}

// Poll reports the recorded outcome.
func (b *ExprBackend) Poll(ctx context.Context, h Handle) (Status, error) {
	res, err := b.get(h)
	if err != nil {
		return "", err
	}
	return res.status, nil
}

// Result returns the objective values for a successful evaluation.
func (b *ExprBackend) Result(ctx context.Context, h Handle) ([]float64, error) {
	res, err := b.get(h)
	if err != nil {
		return nil, err
	}
	if res.status != StatusSuccess {
		return nil, fmt.Errorf("handle %s: no result in status %s", h, res.status)
	}
	return res.objective, nil
}

// Err returns the evaluation diagnostic, if any.
func (b *ExprBackend) Err(ctx context.Context, h Handle) string {
	res, err := b.get(h)
	if err != nil {
		return ""
	}
	return res.errMsg
}

// Cancel is a no-op: evaluation already completed within Submit.
func (b *ExprBackend) Cancel(ctx context.Context, h Handle) error {
	return nil
}

func (b *ExprBackend) get(h Handle) (*exprResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	res, ok := b.results[h]
	if !ok {
		return nil, fmt.Errorf("unknown handle %s", h)
	}
	return res, nil
}
