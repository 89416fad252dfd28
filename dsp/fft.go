package dsp

// Fourier transform backends
//
// Every backend consumes a real frame of `size` samples starting at `offset`,
// multiplied elementwise by the window, and produces the full complex spectrum
// as 2*size interleaved values (even index = real, odd index = imaginary).
// Bins above size/2 are the complex conjugates of their mirror and are filled
// in by backends that only compute the half spectrum.
//
// A backend instance keeps its plan and scratch buffers between calls and is
// therefore not safe for concurrent use; the spectrogram builder asks the
// factory for one instance per worker.

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/fourier"
)

type FFT interface {
	Forward(samples []float32, offset, size int, window []float64) []float64
}

// FFTFactory returns a fresh transform for frames of the given size.
type FFTFactory func(size int) FFT

// NewFFTFactory resolves a backend by name: "gonum", "godsp" or "radix".
func NewFFTFactory(name string) (FFTFactory, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gonum":
		return NewGonumFFT, nil
	case "godsp", "go-dsp":
		return NewDSPFFT, nil
	case "radix":
		return NewRadixFFT, nil
	default:
		return nil, fmt.Errorf("unknown fft implementation %q", name)
	}
}

// windowed copies samples[offset:offset+size] into buf, applying window.
// Samples past the end of the buffer are treated as silence.
func windowed(buf []float64, samples []float32, offset int, window []float64) {
	for i := range buf {
		idx := offset + i
		if idx >= len(samples) {
			buf[i] = 0
			continue
		}
		v := float64(samples[idx])
		if window != nil {
			v *= window[i]
		}
		buf[i] = v
	}
}

func interleave(spectrum []complex128, size int) []float64 {
	out := make([]float64, 2*size)
	for k := 0; k < size; k++ {
		out[2*k] = real(spectrum[k])
		out[2*k+1] = imag(spectrum[k])
	}
	return out
}

type gonumFFT struct {
	size   int
	plan   *fourier.FFT
	frame  []float64
	coeffs []complex128
	full   []complex128
}

// NewGonumFFT returns a transform backed by gonum's real FFT plan.
func NewGonumFFT(size int) FFT {
	return &gonumFFT{
		size:   size,
		plan:   fourier.NewFFT(size),
		frame:  make([]float64, size),
		coeffs: make([]complex128, size/2+1),
		full:   make([]complex128, size),
	}
}

func (g *gonumFFT) Forward(samples []float32, offset, size int, window []float64) []float64 {
	if size != g.size {
		panic(fmt.Sprintf("dsp: gonum fft planned for %d, got %d", g.size, size))
	}
	windowed(g.frame, samples, offset, window)
	g.coeffs = g.plan.Coefficients(g.coeffs, g.frame)

	copy(g.full, g.coeffs)
	for k := len(g.coeffs); k < size; k++ {
		g.full[k] = cmplx.Conj(g.coeffs[size-k])
	}
	return interleave(g.full, size)
}

type dspFFT struct {
	size  int
	frame []float64
}

// NewDSPFFT returns a transform backed by go-dsp's FFTReal.
func NewDSPFFT(size int) FFT {
	return &dspFFT{size: size, frame: make([]float64, size)}
}

func (d *dspFFT) Forward(samples []float32, offset, size int, window []float64) []float64 {
	if size != d.size {
		panic(fmt.Sprintf("dsp: go-dsp fft planned for %d, got %d", d.size, size))
	}
	windowed(d.frame, samples, offset, window)
	return interleave(fft.FFTReal(d.frame), size)
}

type radixFFT struct {
	size    int
	frame   []float64
	buffer  []complex128
	twiddle []complex128
}

// NewRadixFFT returns an in-place iterative radix-2 Cooley-Tukey transform.
// Size must be a power of two. It needs no plan and is mostly useful as a
// reference.
func NewRadixFFT(size int) FFT {
	twiddle := make([]complex128, size/2)
	for k := range twiddle {
		angle := -2 * math.Pi * float64(k) / float64(size)
		twiddle[k] = complex(math.Cos(angle), math.Sin(angle))
	}
	return &radixFFT{
		size:    size,
		frame:   make([]float64, size),
		buffer:  make([]complex128, size),
		twiddle: twiddle,
	}
}

func (r *radixFFT) Forward(samples []float32, offset, size int, window []float64) []float64 {
	if size != r.size {
		panic(fmt.Sprintf("dsp: radix fft planned for %d, got %d", r.size, size))
	}
	windowed(r.frame, samples, offset, window)
	for i, v := range r.frame {
		r.buffer[i] = complex(v, 0)
	}
	r.transform()
	return interleave(r.buffer, size)
}

// transform runs the butterflies over buffer in bit-reversed order.
func (r *radixFFT) transform() {
	n := len(r.buffer)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			r.buffer[i], r.buffer[j] = r.buffer[j], r.buffer[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		half := length / 2
		step := n / length
		for start := 0; start < n; start += length {
			for k := 0; k < half; k++ {
				t := r.twiddle[k*step] * r.buffer[start+k+half]
				u := r.buffer[start+k]
				r.buffer[start+k] = u + t
				r.buffer[start+k+half] = u - t
			}
		}
	}
}
