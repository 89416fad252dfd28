// Package mfcc computes mel-frequency cepstral coefficients from power
// spectrogram frames.
package mfcc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// logFloor keeps silent bands finite after the logarithm.
const logFloor = 1e-10

type Config struct {
	SampleRate   int
	WdftSize     int
	Filters      int
	Coefficients int
	LowFreq      float64
	// HighFreq of zero means the Nyquist frequency.
	HighFreq float64
}

// Extractor is read-only after construction and safe for concurrent use.
type Extractor struct {
	cfg     Config
	melBank [][]float64
	dct     [][]float64
}

func New(cfg Config) (*Extractor, error) {
	if cfg.SampleRate <= 0 || cfg.WdftSize <= 0 {
		return nil, fmt.Errorf("mfcc: invalid geometry sampleRate=%d wdftSize=%d", cfg.SampleRate, cfg.WdftSize)
	}
	if cfg.Filters <= 0 || cfg.Coefficients <= 0 || cfg.Coefficients > cfg.Filters {
		return nil, fmt.Errorf("mfcc: need 0 < coefficients (%d) <= filters (%d)", cfg.Coefficients, cfg.Filters)
	}
	if cfg.HighFreq <= 0 {
		cfg.HighFreq = float64(cfg.SampleRate) / 2
	}
	if cfg.LowFreq < 0 || cfg.LowFreq >= cfg.HighFreq {
		return nil, fmt.Errorf("mfcc: invalid frequency range [%g, %g]", cfg.LowFreq, cfg.HighFreq)
	}

	return &Extractor{
		cfg:     cfg,
		melBank: melFilterBank(cfg.Filters, cfg.WdftSize, cfg.SampleRate, cfg.LowFreq, cfg.HighFreq),
		dct:     dctMatrix(cfg.Coefficients, cfg.Filters),
	}, nil
}

// Dim is the number of coefficient rows produced.
func (e *Extractor) Dim() int { return e.cfg.Coefficients }

// Extract maps power frames (each WdftSize/2+1 bins) to a Dim x len(frames)
// coefficient matrix: rows are coefficients, columns are frames.
func (e *Extractor) Extract(frames [][]float64) ([][]float64, error) {
	bins := e.cfg.WdftSize/2 + 1
	out := make([][]float64, e.cfg.Coefficients)
	for c := range out {
		out[c] = make([]float64, len(frames))
	}

	logMel := make([]float64, e.cfg.Filters)
	for t, frame := range frames {
		if len(frame) != bins {
			return nil, fmt.Errorf("mfcc: frame %d has %d bins, expected %d", t, len(frame), bins)
		}
		for m, filter := range e.melBank {
			logMel[m] = math.Log10(math.Max(floats.Dot(filter, frame), logFloor))
		}
		for c, basis := range e.dct {
			out[c][t] = floats.Dot(basis, logMel)
		}
	}
	return out, nil
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// melFilterBank returns [filters][wdftSize/2+1] triangular weights.
func melFilterBank(filters, wdftSize, sampleRate int, lowFreq, highFreq float64) [][]float64 {
	bins := wdftSize/2 + 1
	lowMel, highMel := hzToMel(lowFreq), hzToMel(highFreq)
	step := (highMel - lowMel) / float64(filters+1)

	edges := make([]int, filters+2)
	for i := range edges {
		hz := melToHz(lowMel + float64(i)*step)
		edges[i] = min(int(math.Round(hz*float64(wdftSize)/float64(sampleRate))), bins-1)
	}
	for i := 1; i < len(edges); i++ {
		if edges[i] <= edges[i-1] {
			edges[i] = edges[i-1] + 1
		}
	}

	bank := make([][]float64, filters)
	for m := range bank {
		filter := make([]float64, bins)
		left, center, right := edges[m], edges[m+1], edges[m+2]
		for k := left; k < center && k < bins; k++ {
			filter[k] = float64(k-left) / float64(center-left)
		}
		for k := center; k <= right && k < bins; k++ {
			filter[k] = float64(right-k) / float64(right-center)
		}
		bank[m] = filter
	}
	return bank
}

// dctMatrix holds the orthonormal DCT-II basis, one row per coefficient.
func dctMatrix(coefficients, filters int) [][]float64 {
	basis := make([][]float64, coefficients)
	n := float64(filters)
	for c := range basis {
		row := make([]float64, filters)
		scale := math.Sqrt(2 / n)
		if c == 0 {
			scale = math.Sqrt(1 / n)
		}
		for m := range row {
			row[m] = scale * math.Cos(math.Pi*float64(c)*(float64(m)+0.5)/n)
		}
		basis[c] = row
	}
	return basis
}
