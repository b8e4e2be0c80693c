package optimizer

import (
	"fmt"
	"math/rand"

	"github.com/me/optrun/pkg/model"
)

// Random samples each parameter uniformly within its declared bounds. The
// draw at a given index depends only on the seed and the index, so a resumed
// run reproduces the exact sequence an uninterrupted run would have produced.
type Random struct {
	params []model.Parameter
	seed   int64
}

// NewRandom constructs the random strategy.
func NewRandom(spec Spec) (Strategy, error) {
	if len(spec.Parameters) == 0 {
		return nil, fmt.Errorf("random: empty parameter space")
	}
	return &Random{params: spec.Parameters, seed: spec.Seed}, nil
}

// Generate draws one value per parameter from an index-derived source.
func (o *Random) Generate(index int) ([]model.ParameterValue, error) {
	// Per-index source: mixing the index into the seed keeps draws
	// independent of call order across restarts.
	rng := rand.New(rand.NewSource(o.seed + int64(index)*0x9E3779B9))

	values := make([]model.ParameterValue, 0, len(o.params))
	for _, p := range o.params {
		v, err := sample(p, rng)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// GenerateInitial draws index 0.
func (o *Random) GenerateInitial() ([]model.ParameterValue, error) {
	return o.Generate(0)
}

func sample(p model.Parameter, rng *rand.Rand) (model.ParameterValue, error) {
	switch p.Type {
	case model.ParamFloat:
		v := p.Lower + (p.Upper-p.Lower)*rng.Float64()
		return model.ParameterValue{Name: p.Name, Type: p.Type, Value: v}, nil
	case model.ParamInt:
		span := int64(p.Upper) - int64(p.Lower) + 1
		if span < 1 {
			span = 1
		}
		v := int64(p.Lower) + rng.Int63n(span)
		return model.ParameterValue{Name: p.Name, Type: p.Type, Value: v}, nil
	case model.ParamCategorical:
		v := p.Choices[rng.Intn(len(p.Choices))]
		return model.ParameterValue{Name: p.Name, Type: p.Type, Value: v}, nil
	}
	return model.ParameterValue{}, fmt.Errorf("parameter %s: unknown type %q", p.Name, p.Type)
}
