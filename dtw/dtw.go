// Package dtw aligns two numeric sequences with dynamic time warping.
package dtw

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Cost selects how per-step differences accumulate along the warping path.
type Cost int

const (
	// Euclidean is the square root of the summed squared differences.
	Euclidean Cost = iota
	SquaredEuclidean
	// Manhattan sums absolute differences.
	Manhattan
	// Maximum is the largest absolute difference on the best path.
	Maximum
)

func (c Cost) String() string {
	switch c {
	case Euclidean:
		return "euclidean"
	case SquaredEuclidean:
		return "squared-euclidean"
	case Manhattan:
		return "manhattan"
	case Maximum:
		return "maximum"
	default:
		return fmt.Sprintf("cost(%d)", int(c))
	}
}

// ParseCost is the inverse of Cost.String.
func ParseCost(s string) (Cost, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "euclidean":
		return Euclidean, nil
	case "squared-euclidean", "squaredeuclidean":
		return SquaredEuclidean, nil
	case "manhattan":
		return Manhattan, nil
	case "maximum", "max":
		return Maximum, nil
	default:
		return 0, fmt.Errorf("unknown dtw cost %q", s)
	}
}

var ErrEmptySequence = errors.New("dtw: empty sequence")

// Aligner computes DTW distances. Window, when positive, restricts the path
// to a Sakoe-Chiba band of that many cells around the scaled diagonal.
type Aligner struct {
	Window int
}

// Distance returns the cost of the cheapest warping path from a to b.
func (al Aligner) Distance(a, b []float64, cost Cost) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptySequence
	}

	var step func(x, y float64) float64
	var combine func(acc, c float64) float64
	switch cost {
	case Euclidean, SquaredEuclidean:
		step = func(x, y float64) float64 { d := x - y; return d * d }
		combine = func(acc, c float64) float64 { return acc + c }
	case Manhattan:
		step = func(x, y float64) float64 { return math.Abs(x - y) }
		combine = func(acc, c float64) float64 { return acc + c }
	case Maximum:
		step = func(x, y float64) float64 { return math.Abs(x - y) }
		combine = math.Max
	default:
		return 0, fmt.Errorf("dtw: unsupported cost %v", cost)
	}

	n, m := len(a), len(b)
	inf := math.Inf(1)
	prev := make([]float64, m+1)
	curr := make([]float64, m+1)
	for j := range prev {
		prev[j] = inf
	}
	prev[0] = 0

	for i := 1; i <= n; i++ {
		lo, hi := 1, m
		if al.Window > 0 {
			center := int(math.Round(float64(i) * float64(m) / float64(n)))
			lo = max(1, center-al.Window)
			hi = min(m, center+al.Window)
		}
		for j := range curr {
			curr[j] = inf
		}
		for j := lo; j <= hi; j++ {
			best := min(prev[j], curr[j-1], prev[j-1])
			if math.IsInf(best, 1) {
				continue
			}
			curr[j] = combine(best, step(a[i-1], b[j-1]))
		}
		prev, curr = curr, prev
	}

	total := prev[m]
	if math.IsInf(total, 1) {
		return 0, fmt.Errorf("dtw: window %d too narrow for lengths %d and %d", al.Window, n, m)
	}
	if cost == Euclidean {
		total = math.Sqrt(total)
	}
	return total, nil
}
