package optimizer

import (
	"fmt"

	"github.com/me/optrun/pkg/model"
)

// defaultGridPoints is the per-dimension resolution for numeric parameters
// that declare no step.
const defaultGridPoints = 10

// Grid enumerates the cartesian product of per-parameter point sets in index
// order. Once every combination has been drawn it reports
// model.ErrNoMoreParameters, which the scheduler absorbs as an admission
// throttle rather than a failure.
type Grid struct {
	params []model.Parameter
	axes   [][]any
	total  int
}

// NewGrid constructs the grid strategy, materializing each axis up front.
func NewGrid(spec Spec) (Strategy, error) {
	if len(spec.Parameters) == 0 {
		return nil, fmt.Errorf("grid: empty parameter space")
	}

	g := &Grid{params: spec.Parameters, total: 1}
	for _, p := range spec.Parameters {
		axis, err := gridAxis(p)
		if err != nil {
			return nil, err
		}
		g.axes = append(g.axes, axis)
		g.total *= len(axis)
	}
	return g, nil
}

// Generate returns the combination at the given index, last axis fastest.
func (g *Grid) Generate(index int) ([]model.ParameterValue, error) {
	if index < 0 || index >= g.total {
		return nil, model.ErrNoMoreParameters
	}

	values := make([]model.ParameterValue, len(g.params))
	rem := index
	for i := len(g.axes) - 1; i >= 0; i-- {
		axis := g.axes[i]
		values[i] = model.ParameterValue{
			Name:  g.params[i].Name,
			Type:  g.params[i].Type,
			Value: axis[rem%len(axis)],
		}
		rem /= len(axis)
	}
	return values, nil
}

// GenerateInitial draws index 0. Declared initial values are ignored for
// grid search: the enumeration order is the whole point.
func (g *Grid) GenerateInitial() ([]model.ParameterValue, error) {
	return g.Generate(0)
}

// Total returns the size of the enumerated space.
func (g *Grid) Total() int {
	return g.total
}

func gridAxis(p model.Parameter) ([]any, error) {
	switch p.Type {
	case model.ParamFloat:
		points := defaultGridPoints
		if p.Step > 0 {
			points = int((p.Upper-p.Lower)/p.Step) + 1
		}
		if points < 1 {
			points = 1
		}
		axis := make([]any, points)
		if points == 1 {
			axis[0] = p.Lower
			return axis, nil
		}
		width := (p.Upper - p.Lower) / float64(points-1)
		for i := range axis {
			axis[i] = p.Lower + float64(i)*width
		}
		return axis, nil
	case model.ParamInt:
		step := int64(1)
		if p.Step >= 1 {
			step = int64(p.Step)
		}
		var axis []any
		for v := int64(p.Lower); v <= int64(p.Upper); v += step {
			axis = append(axis, v)
		}
		if len(axis) == 0 {
			axis = append(axis, int64(p.Lower))
		}
		return axis, nil
	case model.ParamCategorical:
		axis := make([]any, len(p.Choices))
		for i, c := range p.Choices {
			axis[i] = c
		}
		return axis, nil
	}
	return nil, fmt.Errorf("parameter %s: unknown type %q", p.Name, p.Type)
}
