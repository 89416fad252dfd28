package scms

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// maxCondition is the largest covariance condition number accepted before a
// matrix is treated as near-singular.
const maxCondition = 1e12

// Build estimates a model from a dim x frameCount coefficient matrix. Rows
// are coefficients, columns are frames. The covariance is the unbiased
// estimate and is inverted through its Cholesky factorisation; any failure
// yields a ModelConstructionError and no model.
func Build(coefficients [][]float64) (*Model, error) {
	dim := len(coefficients)
	if dim == 0 {
		return nil, &ModelConstructionError{Reason: "no coefficient rows"}
	}
	frames := len(coefficients[0])
	if frames < 2 {
		return nil, &ModelConstructionError{Reason: fmt.Sprintf("need at least 2 frames, got %d", frames)}
	}

	// stat expects observations as rows
	observations := mat.NewDense(frames, dim, nil)
	mean := make([]float32, dim)
	for i, row := range coefficients {
		if len(row) != frames {
			return nil, &ModelConstructionError{Reason: fmt.Sprintf("row %d has %d frames, expected %d", i, len(row), frames)}
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &ModelConstructionError{Reason: fmt.Sprintf("non-finite coefficient at (%d, %d)", i, j)}
			}
			observations.Set(j, i, v)
		}
		mean[i] = float32(stat.Mean(row, nil))
	}

	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, observations, nil)

	var chol mat.Cholesky
	if ok := chol.Factorize(&cov); !ok {
		return nil, &ModelConstructionError{Reason: "covariance is not positive definite"}
	}
	if cond := chol.Cond(); cond > maxCondition || math.IsNaN(cond) {
		return nil, &ModelConstructionError{Reason: fmt.Sprintf("covariance is near-singular (condition %.3g)", cond)}
	}

	var icov mat.SymDense
	if err := chol.InverseTo(&icov); err != nil {
		return nil, &ModelConstructionError{Reason: "covariance inverse failed", Err: err}
	}

	covlen := CovLen(dim)
	packedCov := make([]float32, covlen)
	packedIcov := make([]float32, covlen)
	for i := 0; i < dim; i++ {
		for k := i; k < dim; k++ {
			c, ic := cov.At(i, k), icov.At(i, k)
			if math.IsNaN(ic) || math.IsInf(ic, 0) {
				return nil, &ModelConstructionError{Reason: "inverse covariance is not finite"}
			}
			idx := PackedIndex(dim, i, k)
			packedCov[idx] = float32(c)
			packedIcov[idx] = float32(ic)
		}
	}

	return &Model{dim: dim, mean: mean, cov: packedCov, icov: packedIcov}, nil
}
