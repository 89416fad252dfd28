package dsp

import (
	"fmt"
	"strings"

	"github.com/mjibson/go-dsp/window"
)

// Window yields the coefficients multiplied into every analysis frame.
// Implementations must return the same read-only slice on every call.
type Window interface {
	Coefficients() []float64
}

type coefficientWindow struct {
	name         string
	coefficients []float64
}

func (w coefficientWindow) Coefficients() []float64 { return w.coefficients }

func (w coefficientWindow) String() string { return w.name }

var windowFuncs = map[string]func(int) []float64{
	"hann":        window.Hann,
	"hanning":     window.Hann,
	"hamming":     window.Hamming,
	"blackman":    window.Blackman,
	"bartlett":    window.Bartlett,
	"flattop":     window.FlatTop,
	"rectangular": window.Rectangular,
	"none":        window.Rectangular,
}

// NewWindow builds the named window of the given length.
func NewWindow(name string, size int) (Window, error) {
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", size)
	}
	key := strings.ToLower(strings.TrimSpace(name))
	fn, ok := windowFuncs[key]
	if !ok {
		return nil, fmt.Errorf("unknown window function %q", name)
	}
	return coefficientWindow{name: key, coefficients: fn(size)}, nil
}

// WindowFromCoefficients wraps precomputed coefficients.
func WindowFromCoefficients(coefficients []float64) Window {
	return coefficientWindow{name: "custom", coefficients: coefficients}
}
