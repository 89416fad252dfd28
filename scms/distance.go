package scms

import (
	"fmt"
	"math"
	"math/bits"
	"strings"

	"findsimilar/dtw"
)

// DistanceKind selects one of the comparison strategies of a Comparer.
type DistanceKind int

const (
	KullbackLeibler DistanceKind = iota
	Cosine
	Hamming
	DTWEuclidean
	DTWSquaredEuclidean
	DTWManhattan
	DTWMaximum
)

var distanceKindNames = map[DistanceKind]string{
	KullbackLeibler:     "kl",
	Cosine:              "cosine",
	Hamming:             "hamming",
	DTWEuclidean:        "dtw-euclidean",
	DTWSquaredEuclidean: "dtw-squared-euclidean",
	DTWManhattan:        "dtw-manhattan",
	DTWMaximum:          "dtw-maximum",
}

// DistanceKinds lists every supported kind in declaration order.
func DistanceKinds() []DistanceKind {
	return []DistanceKind{KullbackLeibler, Cosine, Hamming, DTWEuclidean, DTWSquaredEuclidean, DTWManhattan, DTWMaximum}
}

func (k DistanceKind) String() string {
	if name, ok := distanceKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("DistanceKind(%d)", int(k))
}

// ParseDistanceKind accepts the names produced by String.
func ParseDistanceKind(s string) (DistanceKind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for kind, name := range distanceKindNames {
		if name == s {
			return kind, nil
		}
	}
	if s == "kullback-leibler" {
		return KullbackLeibler, nil
	}
	return 0, fmt.Errorf("unknown distance kind %q", s)
}

func (k DistanceKind) dtwCost() (dtw.Cost, bool) {
	switch k {
	case DTWEuclidean:
		return dtw.Euclidean, true
	case DTWSquaredEuclidean:
		return dtw.SquaredEuclidean, true
	case DTWManhattan:
		return dtw.Manhattan, true
	case DTWMaximum:
		return dtw.Maximum, true
	}
	return 0, false
}

// DTW aligns two flattened models.
type DTW interface {
	Distance(a, b []float64, cost dtw.Cost) (float64, error)
}

// Signer derives a fixed-length bit string from a model for Hamming comparison.
type Signer interface {
	Sign(m *Model) ([]uint64, error)
}

// Comparer owns the scratch buffers reused across distance calls. A Comparer
// must not be shared between goroutines; give each worker its own.
type Comparer struct {
	dim       int
	meanDiff  []float64
	addedIcov []float64

	signer Signer
	dtw    DTW
}

type ComparerOption func(*Comparer)

// WithSigner sets the bit string source used by Hamming.
func WithSigner(s Signer) ComparerOption {
	return func(c *Comparer) { c.signer = s }
}

// WithDTW replaces the default unconstrained aligner.
func WithDTW(d DTW) ComparerOption {
	return func(c *Comparer) { c.dtw = d }
}

// NewComparer preallocates scratch for models of the given dimension.
func NewComparer(dim int, opts ...ComparerOption) *Comparer {
	c := &Comparer{dtw: dtw.Aligner{}}
	c.resize(dim)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Comparer) resize(dim int) {
	if dim == c.dim && c.meanDiff != nil {
		return
	}
	c.dim = dim
	c.meanDiff = make([]float64, dim)
	c.addedIcov = make([]float64, CovLen(dim))
}

// Distance dispatches to the strategy named by kind.
func (c *Comparer) Distance(kind DistanceKind, a, b *Model) (float64, error) {
	switch kind {
	case KullbackLeibler:
		return c.KullbackLeibler(a, b)
	case Cosine:
		return CosineDistance(a, b), nil
	case Hamming:
		return c.hamming(a, b)
	case DTWEuclidean, DTWSquaredEuclidean, DTWManhattan, DTWMaximum:
		cost, _ := kind.dtwCost()
		return c.dtw.Distance(a.Flatten(), b.Flatten(), cost)
	default:
		return 0, &UnsupportedDistanceKindError{Kind: kind}
	}
}

// KullbackLeibler returns the symmetrised KL divergence of two models.
// Identical models score approximately zero; roundoff can make it slightly
// negative.
func (c *Comparer) KullbackLeibler(a, b *Model) (float64, error) {
	if a.dim != b.dim {
		return 0, &DimensionMismatchError{Left: a.dim, Right: b.dim}
	}
	dim := a.dim
	c.resize(dim)

	for i := range c.addedIcov {
		c.addedIcov[i] = float64(a.icov[i]) + float64(b.icov[i])
	}

	var total float64
	for i := 0; i < dim; i++ {
		ii := PackedIndex(dim, i, i)
		total += float64(a.cov[ii])*float64(b.icov[ii]) + float64(b.cov[ii])*float64(a.icov[ii])
		for k := i + 1; k < dim; k++ {
			ik := PackedIndex(dim, i, k)
			total += 2 * (float64(a.cov[ik])*float64(b.icov[ik]) + float64(b.cov[ik])*float64(a.icov[ik]))
		}
	}

	for i := 0; i < dim; i++ {
		c.meanDiff[i] = float64(a.mean[i]) - float64(b.mean[i])
	}

	for i := 0; i < dim; i++ {
		var tmp float64
		for k := 0; k < dim; k++ {
			tmp += c.addedIcov[PackedIndex(dim, i, k)] * c.meanDiff[k]
		}
		total += tmp * c.meanDiff[i]
	}

	return total/4 - float64(dim)/2, nil
}

func (c *Comparer) hamming(a, b *Model) (float64, error) {
	if c.signer == nil {
		return 0, fmt.Errorf("scms: hamming distance needs a signer")
	}
	sa, err := c.signer.Sign(a)
	if err != nil {
		return 0, err
	}
	sb, err := c.signer.Sign(b)
	if err != nil {
		return 0, err
	}
	d, err := HammingDistance(sa, sb)
	return float64(d), err
}

// KLDistance is the allocation-per-call form of Comparer.KullbackLeibler.
func KLDistance(a, b *Model) (float64, error) {
	return NewComparer(a.dim).KullbackLeibler(a, b)
}

// CosineDistance is 1 - cos(mean) + 1 - cos(cov), each cosine taken over the
// shared prefix of the two vectors and defined as 0 when either norm is 0.
func CosineDistance(a, b *Model) float64 {
	return 1 - cosine(a.mean, b.mean) + 1 - cosine(a.cov, b.cov)
}

func cosine(a, b []float32) float64 {
	n := min(len(a), len(b))
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// HammingDistance counts differing bits of two equally long bit strings.
func HammingDistance(a, b []uint64) (int, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Left: len(a), Right: len(b)}
	}
	d := 0
	for i := range a {
		d += bits.OnesCount64(a[i] ^ b[i])
	}
	return d, nil
}

// Distance compares two models with fresh scratch buffers and the default
// aligner. Hamming needs a signer and therefore a Comparer.
func Distance(kind DistanceKind, a, b *Model) (float64, error) {
	return NewComparer(a.dim).Distance(kind, a, b)
}
