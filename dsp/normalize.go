package dsp

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const (
	rmsScale = 10.0
	minRMS   = 0.1
	maxRMS   = 3.0

	// below this many samples the reduction runs on the calling goroutine
	parallelThreshold = 1 << 15
)

// Normalize scales samples in place by their clamped RMS and clips the result
// to [-1, 1]. An all-zero buffer stays all-zero.
func Normalize(samples []float32) {
	if len(samples) == 0 {
		return
	}

	rms := math.Sqrt(sumOfSquares(samples)/float64(len(samples))) * rmsScale
	rms = math.Max(minRMS, math.Min(maxRMS, rms))

	for i, s := range samples {
		v := float64(s) / rms
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		samples[i] = float32(v)
	}
}

func sumOfSquares(samples []float32) float64 {
	if len(samples) < parallelThreshold {
		return partialSumOfSquares(samples)
	}

	chunks := runtime.GOMAXPROCS(0)
	chunkSize := (len(samples) + chunks - 1) / chunks
	partials := make([]float64, chunks)

	var g errgroup.Group
	for c := 0; c < chunks; c++ {
		start := c * chunkSize
		if start >= len(samples) {
			break
		}
		end := min(start+chunkSize, len(samples))
		g.Go(func() error {
			partials[c] = partialSumOfSquares(samples[start:end])
			return nil
		})
	}
	_ = g.Wait()

	var total float64
	for _, p := range partials {
		total += p
	}
	return total
}

func partialSumOfSquares(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return sum
}
