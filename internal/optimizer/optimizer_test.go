package optimizer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/me/optrun/internal/store"
	"github.com/me/optrun/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func floatSpec(seed int64) Spec {
	return Spec{
		Seed: seed,
		Parameters: []model.Parameter{
			{Name: "x1", Type: model.ParamFloat, Lower: 0, Upper: 5},
			{Name: "x2", Type: model.ParamFloat, Lower: -1, Upper: 1},
			{Name: "opt", Type: model.ParamCategorical, Choices: []string{"sgd", "adam"}},
		},
	}
}

func TestRandom_Deterministic(t *testing.T) {
	a, err := NewRandom(floatSpec(42))
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewRandom(floatSpec(42))
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		va, _ := a.Generate(i)
		vb, _ := b.Generate(i)
		if !reflect.DeepEqual(va, vb) {
			t.Fatalf("index %d: same seed produced different draws: %v vs %v", i, va, vb)
		}
	}
}

func TestRandom_IndexIndependentOfCallOrder(t *testing.T) {
	s, _ := NewRandom(floatSpec(7))

	forward, _ := s.Generate(5)
	// Drawing other indexes in between must not perturb index 5.
	s.Generate(0)
	s.Generate(9)
	again, _ := s.Generate(5)

	if !reflect.DeepEqual(forward, again) {
		t.Fatalf("index 5 changed between draws: %v vs %v", forward, again)
	}
}

func TestRandom_RespectsBounds(t *testing.T) {
	s, _ := NewRandom(floatSpec(3))
	for i := 0; i < 50; i++ {
		values, err := s.Generate(i)
		if err != nil {
			t.Fatal(err)
		}
		x1, _ := values[0].Float()
		if x1 < 0 || x1 > 5 {
			t.Fatalf("x1 = %v out of [0,5]", x1)
		}
		choice := values[2].Value.(string)
		if choice != "sgd" && choice != "adam" {
			t.Fatalf("unexpected categorical draw %q", choice)
		}
	}
}

func TestGrid_EnumeratesAndExhausts(t *testing.T) {
	spec := Spec{Parameters: []model.Parameter{
		{Name: "n", Type: model.ParamInt, Lower: 1, Upper: 3},
		{Name: "c", Type: model.ParamCategorical, Choices: []string{"a", "b"}},
	}}
	s, err := NewGrid(spec)
	if err != nil {
		t.Fatal(err)
	}
	g := s.(*Grid)
	if g.Total() != 6 {
		t.Fatalf("total = %d, want 6", g.Total())
	}

	seen := make(map[string]bool)
	for i := 0; i < 6; i++ {
		values, err := s.Generate(i)
		if err != nil {
			t.Fatalf("index %d: %v", i, err)
		}
		key := ""
		for _, v := range values {
			key += valueKey(v)
		}
		if seen[key] {
			t.Fatalf("duplicate combination at index %d: %v", i, values)
		}
		seen[key] = true
	}

	if _, err := s.Generate(6); !errors.Is(err, model.ErrNoMoreParameters) {
		t.Fatalf("err = %v, want ErrNoMoreParameters", err)
	}
}

func valueKey(v model.ParameterValue) string {
	return fmt.Sprintf("%s=%v;", v.Name, v.Value)
}

func TestGrid_FloatAxisCoversBounds(t *testing.T) {
	spec := Spec{Parameters: []model.Parameter{
		{Name: "x", Type: model.ParamFloat, Lower: 0, Upper: 9, Step: 3},
	}}
	s, err := NewGrid(spec)
	if err != nil {
		t.Fatal(err)
	}

	first, _ := s.Generate(0)
	last, _ := s.Generate(3)
	f0, _ := first[0].Float()
	f3, _ := last[0].Float()
	if f0 != 0 || f3 != 9 {
		t.Errorf("axis endpoints = %v, %v, want 0 and 9", f0, f3)
	}
}

func TestSobol_UnitSequence(t *testing.T) {
	// With no seed the first axis is the plain Sobol' sequence on [0,1):
	// 0, 1/2, 3/4, 1/4, ...
	s, err := NewSobol(Spec{Parameters: []model.Parameter{
		{Name: "x", Type: model.ParamFloat, Lower: 0, Upper: 1},
	}})
	if err != nil {
		t.Fatal(err)
	}

	want := []float64{0, 0.5, 0.75, 0.25}
	for i, w := range want {
		values, err := s.Generate(i)
		if err != nil {
			t.Fatal(err)
		}
		if x, _ := values[0].Float(); x != w {
			t.Errorf("index %d: x = %v, want %v", i, x, w)
		}
	}
}

func TestSobol_IndexIndependentOfCallOrder(t *testing.T) {
	s, err := NewSobol(floatSpec(7))
	if err != nil {
		t.Fatal(err)
	}

	forward, _ := s.Generate(5)
	// Drawing other indexes in between must not perturb index 5, so a
	// resumed sampler repositions without replaying earlier draws.
	s.Generate(0)
	s.Generate(9)
	again, _ := s.Generate(5)

	if !reflect.DeepEqual(forward, again) {
		t.Fatalf("index 5 changed between draws: %v vs %v", forward, again)
	}

	fresh, err := NewSobol(floatSpec(7))
	if err != nil {
		t.Fatal(err)
	}
	repositioned, _ := fresh.Generate(5)
	if !reflect.DeepEqual(forward, repositioned) {
		t.Fatalf("fresh sampler at index 5 disagrees: %v vs %v", forward, repositioned)
	}
}

func TestSobol_SeedShiftsSequence(t *testing.T) {
	plain, err := NewSobol(floatSpec(0))
	if err != nil {
		t.Fatal(err)
	}
	shifted, err := NewSobol(floatSpec(42))
	if err != nil {
		t.Fatal(err)
	}

	a, _ := plain.Generate(3)
	b, _ := shifted.Generate(3)
	if reflect.DeepEqual(a, b) {
		t.Error("seeded sampler reproduced the unshifted sequence")
	}
}

func TestSobol_RespectsBounds(t *testing.T) {
	s, err := NewSobol(floatSpec(3))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		values, err := s.Generate(i)
		if err != nil {
			t.Fatal(err)
		}
		x1, _ := values[0].Float()
		if x1 < 0 || x1 > 5 {
			t.Fatalf("x1 = %v out of [0,5]", x1)
		}
		choice := values[2].Value.(string)
		if choice != "sgd" && choice != "adam" {
			t.Fatalf("unexpected categorical draw %q", choice)
		}
	}
}

func TestSobol_DimensionLimit(t *testing.T) {
	var params []model.Parameter
	for i := 0; i < len(sobolDims)+2; i++ {
		params = append(params, model.Parameter{
			Name: fmt.Sprintf("x%d", i), Type: model.ParamFloat, Lower: 0, Upper: 1,
		})
	}
	if _, err := NewSobol(Spec{Parameters: params}); err == nil {
		t.Error("expected error beyond the supported dimension count")
	}
}

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry(testLogger())

	if _, err := reg.Resolve("random", floatSpec(1)); err != nil {
		t.Errorf("random: %v", err)
	}
	if _, err := reg.Resolve("grid", floatSpec(1)); err != nil {
		t.Errorf("grid: %v", err)
	}
	if _, err := reg.Resolve("sobol", floatSpec(1)); err != nil {
		t.Errorf("sobol: %v", err)
	}
	if _, err := reg.Resolve("bayes", floatSpec(1)); err == nil {
		t.Error("expected error for unregistered algorithm")
	}
}

func testPortStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPort_RunOnceAppendsReadyTrials(t *testing.T) {
	ctx := context.Background()
	st := testPortStore(t)
	strategy, _ := NewRandom(floatSpec(11))
	port := NewPort(st, strategy, testLogger())

	for i := 0; i < 3; i++ {
		if err := port.RunOnce(ctx); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	c, err := st.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c.Ready != 3 || c.Running != 0 || c.Finished != 0 {
		t.Errorf("counts = %+v, want 3 ready", c)
	}

	trial, err := st.GetTrial(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(trial.Params) != 3 {
		t.Errorf("trial 2 params = %v", trial.Params)
	}
}

func TestPort_ResumeReproducesSequence(t *testing.T) {
	ctx := context.Background()

	// Uninterrupted run of 6 draws.
	full := testPortStore(t)
	strategyA, _ := NewRandom(floatSpec(99))
	portA := NewPort(full, strategyA, testLogger())
	for i := 0; i < 6; i++ {
		if err := portA.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}

	// Interrupted run: 4 draws, then a fresh Port resumed at 4.
	partial := testPortStore(t)
	strategyB, _ := NewRandom(floatSpec(99))
	portB := NewPort(partial, strategyB, testLogger())
	for i := 0; i < 4; i++ {
		if err := portB.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}
	strategyC, _ := NewRandom(floatSpec(99))
	portC := NewPort(partial, strategyC, testLogger())
	portC.Resume(4)
	for i := 0; i < 2; i++ {
		if err := portC.RunOnce(ctx); err != nil {
			t.Fatal(err)
		}
	}

	for id := 0; id < 6; id++ {
		a, err := full.GetTrial(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		b, err := partial.GetTrial(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(a.Params, b.Params) {
			t.Errorf("trial %d diverged after resume: %v vs %v", id, a.Params, b.Params)
		}
	}
}

func TestPort_ExhaustionPassesThrough(t *testing.T) {
	ctx := context.Background()
	st := testPortStore(t)
	strategy, err := NewGrid(Spec{Parameters: []model.Parameter{
		{Name: "c", Type: model.ParamCategorical, Choices: []string{"a", "b"}},
	}})
	if err != nil {
		t.Fatal(err)
	}
	port := NewPort(st, strategy, testLogger())

	for i := 0; i < 2; i++ {
		if err := port.RunOnce(ctx); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if err := port.RunOnce(ctx); !errors.Is(err, model.ErrNoMoreParameters) {
		t.Fatalf("err = %v, want ErrNoMoreParameters", err)
	}
}
