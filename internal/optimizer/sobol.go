package optimizer

import (
	"fmt"
	"math/rand"

	"github.com/me/optrun/pkg/model"
)

// sobolBits is the bit precision of the generated sequence.
const sobolBits = 32

// sobolDim holds one dimension's primitive polynomial (interior
// coefficients packed into a) and initial direction integers, from the
// Joe and Kuo direction-number tables.
type sobolDim struct {
	a uint32
	m []uint32
}

var sobolDims = []sobolDim{
	{0, []uint32{1}},
	{1, []uint32{1, 3}},
	{1, []uint32{1, 3, 1}},
	{2, []uint32{1, 1, 1}},
	{1, []uint32{1, 1, 3, 3}},
	{4, []uint32{1, 3, 5, 13}},
	{2, []uint32{1, 1, 5, 5, 17}},
	{4, []uint32{1, 1, 5, 5, 5}},
	{7, []uint32{1, 1, 7, 11, 19}},
	{11, []uint32{1, 1, 5, 1, 1}},
	{13, []uint32{1, 1, 1, 3, 11}},
	{14, []uint32{1, 3, 5, 5, 31}},
	{1, []uint32{1, 3, 3, 9, 7, 49}},
	{13, []uint32{1, 1, 1, 15, 21, 21}},
	{16, []uint32{1, 3, 1, 13, 27, 49}},
}

// Sobol draws points from an unscrambled Sobol' sequence and scales each
// coordinate into its parameter's range, value = (upper-lower)*vec[i] +
// lower. A non-zero seed applies a per-dimension digital shift so
// distinct studies explore shifted copies of the sequence. The point at
// a given index is computed directly from the index, so a resumed run
// repositions the sampler with no replaying of earlier draws.
type Sobol struct {
	params []model.Parameter
	vs     [][]uint32
	shift  []uint32
}

// NewSobol constructs the sobol strategy.
func NewSobol(spec Spec) (Strategy, error) {
	n := len(spec.Parameters)
	if n == 0 {
		return nil, fmt.Errorf("sobol: empty parameter space")
	}
	if n > len(sobolDims)+1 {
		return nil, fmt.Errorf("sobol: %d parameters exceeds the supported %d dimensions", n, len(sobolDims)+1)
	}

	o := &Sobol{params: spec.Parameters}
	for d := 0; d < n; d++ {
		o.vs = append(o.vs, sobolDirections(d))
	}
	if spec.Seed != 0 {
		rng := rand.New(rand.NewSource(spec.Seed))
		for d := 0; d < n; d++ {
			o.shift = append(o.shift, rng.Uint32())
		}
	}
	return o, nil
}

// sobolDirections expands one dimension's initial integers into the full
// direction-number table. Dimension 0 is the van der Corput sequence.
func sobolDirections(dim int) []uint32 {
	v := make([]uint32, sobolBits+1)
	if dim == 0 {
		for j := 1; j <= sobolBits; j++ {
			v[j] = 1 << (sobolBits - j)
		}
		return v
	}

	def := sobolDims[dim-1]
	s := len(def.m)
	for j := 1; j <= s; j++ {
		v[j] = def.m[j-1] << (sobolBits - j)
	}
	for j := s + 1; j <= sobolBits; j++ {
		v[j] = v[j-s] ^ (v[j-s] >> uint(s))
		for k := 1; k < s; k++ {
			if (def.a>>uint(s-1-k))&1 == 1 {
				v[j] ^= v[j-k]
			}
		}
	}
	return v
}

// point evaluates the sequence at index across all dimensions. The
// Gray-code form makes the result identical to what sequential
// generation would have produced, independent of call order.
func (o *Sobol) point(index int) []float64 {
	gray := uint32(index) ^ (uint32(index) >> 1)
	out := make([]float64, len(o.vs))
	for d := range o.vs {
		var x uint32
		for j := 0; j < sobolBits && gray>>uint(j) != 0; j++ {
			if (gray>>uint(j))&1 == 1 {
				x ^= o.vs[d][j+1]
			}
		}
		if o.shift != nil {
			x ^= o.shift[d]
		}
		out[d] = float64(x) / (1 << sobolBits)
	}
	return out
}

// Generate returns the scaled point at the given sequence index.
func (o *Sobol) Generate(index int) ([]model.ParameterValue, error) {
	if index < 0 {
		return nil, fmt.Errorf("sobol: negative index %d", index)
	}

	vec := o.point(index)
	values := make([]model.ParameterValue, len(o.params))
	for i, p := range o.params {
		switch p.Type {
		case model.ParamFloat:
			values[i] = model.ParameterValue{
				Name: p.Name, Type: p.Type,
				Value: (p.Upper-p.Lower)*vec[i] + p.Lower,
			}
		case model.ParamInt:
			span := int64(p.Upper) - int64(p.Lower) + 1
			if span < 1 {
				span = 1
			}
			v := int64(p.Lower) + int64(vec[i]*float64(span))
			if v > int64(p.Upper) {
				v = int64(p.Upper)
			}
			values[i] = model.ParameterValue{Name: p.Name, Type: p.Type, Value: v}
		case model.ParamCategorical:
			idx := int(vec[i] * float64(len(p.Choices)))
			if idx >= len(p.Choices) {
				idx = len(p.Choices) - 1
			}
			values[i] = model.ParameterValue{Name: p.Name, Type: p.Type, Value: p.Choices[idx]}
		default:
			return nil, fmt.Errorf("parameter %s: unknown type %q", p.Name, p.Type)
		}
	}
	return values, nil
}

// GenerateInitial draws index 0, the sequence origin (every parameter at
// its lower bound when unshifted).
func (o *Sobol) GenerateInitial() ([]model.ParameterValue, error) {
	return o.Generate(0)
}
