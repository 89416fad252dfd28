package scms

// Gaussian cluster model (Scms)
//
// A track is summarised by the mean vector and covariance matrix of its
// per-frame coefficient vectors, plus the inverse of that covariance. Both
// matrices are symmetric, so only the upper triangle (diagonal included) is
// stored, row by row:
//
//	(0,0) (0,1) ... (0,d-1) (1,1) (1,2) ... (d-1,d-1)
//
// PackedIndex is the single place that knows this layout; the builder, the
// distance kernels and the codec all go through it.

import "fmt"

// CovLen is the number of packed entries of a dim x dim symmetric matrix.
func CovLen(dim int) int {
	return dim * (dim + 1) / 2
}

// PackedIndex returns the offset of element (i, k) in packed storage.
// Arguments may be given in either order.
func PackedIndex(dim, i, k int) int {
	if k < i {
		i, k = k, i
	}
	return i*dim - (i*i+i)/2 + k
}

// Model is immutable once built and safe for concurrent reads.
type Model struct {
	dim  int
	mean []float32
	cov  []float32
	icov []float32
}

// NewModel validates and copies the given vectors into a Model.
func NewModel(mean, cov, icov []float32) (*Model, error) {
	dim := len(mean)
	if dim == 0 {
		return nil, fmt.Errorf("scms: empty mean vector")
	}
	covlen := CovLen(dim)
	if len(cov) != covlen || len(icov) != covlen {
		return nil, fmt.Errorf("scms: packed matrices need %d entries for dim %d, got cov=%d icov=%d",
			covlen, dim, len(cov), len(icov))
	}

	m := &Model{
		dim:  dim,
		mean: append([]float32(nil), mean...),
		cov:  append([]float32(nil), cov...),
		icov: append([]float32(nil), icov...),
	}
	return m, nil
}

func (m *Model) Dim() int { return m.dim }

// Mean returns a copy of the mean vector.
func (m *Model) Mean() []float32 { return append([]float32(nil), m.mean...) }

// Covariance returns a copy of the packed covariance.
func (m *Model) Covariance() []float32 { return append([]float32(nil), m.cov...) }

// InverseCovariance returns a copy of the packed inverse covariance.
func (m *Model) InverseCovariance() []float32 { return append([]float32(nil), m.icov...) }

// CovarianceAt reads element (i, k) of the full covariance matrix.
func (m *Model) CovarianceAt(i, k int) float32 { return m.cov[PackedIndex(m.dim, i, k)] }

// InverseCovarianceAt reads element (i, k) of the full inverse covariance.
func (m *Model) InverseCovarianceAt(i, k int) float32 { return m.icov[PackedIndex(m.dim, i, k)] }

// Flatten concatenates mean, cov and icov into one sequence.
func (m *Model) Flatten() []float64 {
	out := make([]float64, 0, len(m.mean)+len(m.cov)+len(m.icov))
	for _, part := range [][]float32{m.mean, m.cov, m.icov} {
		for _, v := range part {
			out = append(out, float64(v))
		}
	}
	return out
}

// Equal reports whether both models hold identical values.
func (m *Model) Equal(o *Model) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.dim != o.dim {
		return false
	}
	return equal32(m.mean, o.mean) && equal32(m.cov, o.cov) && equal32(m.icov, o.icov)
}

func equal32(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
