package dsp

import (
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// SpectrogramBuilder cuts a sample buffer into overlapping frames of WdftSize
// samples, Overlap samples apart, and transforms each frame independently.
type SpectrogramBuilder struct {
	WdftSize int
	Overlap  int
	Window   Window
	NewFFT   FFTFactory
	// Workers bounds frame parallelism; zero means GOMAXPROCS.
	Workers int
}

// Width is the number of frames produced for sampleCount samples.
func (b SpectrogramBuilder) Width(sampleCount int) int {
	if b.Overlap <= 0 || sampleCount < b.WdftSize {
		return 0
	}
	return (sampleCount - b.WdftSize) / b.Overlap
}

// Spectrogram returns per-bin power frames of length WdftSize/2+1.
func (b SpectrogramBuilder) Spectrogram(samples []float32) ([][]float64, error) {
	half := float64(b.WdftSize / 2)
	bins := b.WdftSize/2 + 1
	return b.frames(samples, func(spectrum []float64) []float64 {
		frame := make([]float64, bins)
		for k := 0; k < bins; k++ {
			re := spectrum[2*k] / half
			im := spectrum[2*k+1] / half
			frame[k] = re*re + im*im
		}
		return frame
	})
}

// LogSpectrogram returns one frame of len(index)-1 band energies per frame.
func (b SpectrogramBuilder) LogSpectrogram(samples []float32, index LogFrequencyIndex) ([][]float64, error) {
	logBins := len(index) - 1
	if err := index.Validate(logBins); err != nil {
		return nil, err
	}
	if index[logBins] > b.WdftSize {
		return nil, fmt.Errorf("log frequency index reaches bin %d beyond transform size %d", index[logBins], b.WdftSize)
	}
	return b.frames(samples, func(spectrum []float64) []float64 {
		return ExtractLogBins(spectrum, index, b.WdftSize)
	})
}

func (b SpectrogramBuilder) frames(samples []float32, reduce func(spectrum []float64) []float64) ([][]float64, error) {
	if b.WdftSize <= 0 || b.Overlap <= 0 {
		return nil, fmt.Errorf("invalid frame geometry: wdftSize=%d overlap=%d", b.WdftSize, b.Overlap)
	}
	if b.NewFFT == nil {
		return nil, errors.New("no fft implementation configured")
	}

	var coefficients []float64
	if b.Window != nil {
		coefficients = b.Window.Coefficients()
		if len(coefficients) != b.WdftSize {
			return nil, fmt.Errorf("window has %d coefficients, transform size is %d", len(coefficients), b.WdftSize)
		}
	}

	width := b.Width(len(samples))
	out := make([][]float64, width)
	if width == 0 {
		return out, nil
	}

	workers := b.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, width)
	chunk := (width + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < width; start += chunk {
		end := min(start+chunk, width)
		g.Go(func() error {
			transform := b.NewFFT(b.WdftSize)
			for i := start; i < end; i++ {
				spectrum := transform.Forward(samples, i*b.Overlap, b.WdftSize, coefficients)
				out[i] = reduce(spectrum)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
