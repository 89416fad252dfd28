package scms

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// HyperplaneSigner projects [mean||cov] of a model onto random unit
// hyperplanes; each hyperplane contributes one bit, set when the projection
// is positive. Models with close parameters share most bits, so the Hamming
// distance between signatures tracks model similarity.
//
// The hyperplanes depend only on dim, bits and seed, so signatures are stable
// across processes. A signer is read-only after construction and safe for
// concurrent use.
type HyperplaneSigner struct {
	dim    int
	bits   int
	planes [][]float64
}

// NewHyperplaneSigner builds bits hyperplanes for models of dimension dim.
func NewHyperplaneSigner(dim, bits int, seed uint64) (*HyperplaneSigner, error) {
	if dim <= 0 || bits <= 0 {
		return nil, fmt.Errorf("scms: signer needs positive dim and bits, got %d and %d", dim, bits)
	}

	width := dim + CovLen(dim)
	rng := rand.New(rand.NewPCG(seed, seed^0xdeadbeef))
	planes := make([][]float64, bits)
	for i := range planes {
		plane := make([]float64, width)
		for j := range plane {
			plane[j] = rng.NormFloat64()
		}
		if norm := floats.Norm(plane, 2); norm > 0 {
			floats.Scale(1/norm, plane)
		}
		planes[i] = plane
	}
	return &HyperplaneSigner{dim: dim, bits: bits, planes: planes}, nil
}

func (h *HyperplaneSigner) Bits() int { return h.bits }

// Sign returns ceil(bits/64) words; unused high bits of the last word are 0.
func (h *HyperplaneSigner) Sign(m *Model) ([]uint64, error) {
	if m.dim != h.dim {
		return nil, &DimensionMismatchError{Left: m.dim, Right: h.dim}
	}

	vec := make([]float64, 0, m.dim+len(m.cov))
	for _, v := range m.mean {
		vec = append(vec, float64(v))
	}
	for _, v := range m.cov {
		vec = append(vec, compress(float64(v)))
	}

	out := make([]uint64, (h.bits+63)/64)
	for i, plane := range h.planes {
		if floats.Dot(plane, vec) > 0 {
			out[i/64] |= 1 << uint(i%64)
		}
	}
	return out, nil
}

// compress keeps large covariance entries from dominating the projection.
func compress(v float64) float64 {
	return math.Copysign(math.Log1p(math.Abs(v)), v)
}
