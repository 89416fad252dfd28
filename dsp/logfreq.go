package dsp

import (
	"errors"
	"fmt"
	"math"
)

// LogFrequencyIndex holds logBins+1 non-decreasing boundaries into the linear
// spectrum. Band i covers bins [index[i], index[i+1]).
type LogFrequencyIndex []int

// Validate checks the length and monotonicity of the table.
func (idx LogFrequencyIndex) Validate(logBins int) error {
	if logBins <= 0 {
		return fmt.Errorf("logBins must be positive, got %d", logBins)
	}
	if len(idx) != logBins+1 {
		return fmt.Errorf("log frequency index has %d entries, expected %d", len(idx), logBins+1)
	}
	if idx[0] < 0 {
		return errors.New("log frequency index starts below zero")
	}
	for i := 1; i < len(idx); i++ {
		if idx[i] < idx[i-1] {
			return fmt.Errorf("log frequency index decreases at %d (%d < %d)", i, idx[i], idx[i-1])
		}
	}
	return nil
}

// LogFrequencyParams selects and parameterises one of the two index algorithms.
type LogFrequencyParams struct {
	SampleRate   int
	WdftSize     int
	MinFrequency float64
	MaxFrequency float64
	LogBins      int
	LogBase      float64
	Dynamic      bool
}

// NewLogFrequencyIndex builds the index table for p.
func NewLogFrequencyIndex(p LogFrequencyParams) (LogFrequencyIndex, error) {
	if p.SampleRate <= 0 || p.WdftSize <= 0 || p.LogBins <= 0 {
		return nil, fmt.Errorf("invalid log frequency parameters: %+v", p)
	}
	if p.MinFrequency <= 0 || p.MaxFrequency <= p.MinFrequency {
		return nil, fmt.Errorf("invalid frequency range [%g, %g]", p.MinFrequency, p.MaxFrequency)
	}

	var idx LogFrequencyIndex
	if p.Dynamic {
		idx = DynamicLogIndex(p.SampleRate, p.WdftSize, p.MinFrequency, p.MaxFrequency, p.LogBins)
	} else {
		if p.LogBase <= 1 {
			return nil, fmt.Errorf("log base must be greater than 1, got %g", p.LogBase)
		}
		idx = StaticLogIndex(p.SampleRate, p.WdftSize, p.MinFrequency, p.MaxFrequency, p.LogBins, p.LogBase)
	}

	if err := idx.Validate(p.LogBins); err != nil {
		return nil, err
	}
	return idx, nil
}

// StaticLogIndex spaces band edges evenly on a log_{logBase} scale.
func StaticLogIndex(sampleRate, wdftSize int, minFreq, maxFreq float64, logBins int, logBase float64) LogFrequencyIndex {
	lnBase := math.Log(logBase)
	logMin := math.Log(minFreq) / lnBase
	logMax := math.Log(maxFreq) / lnBase
	delta := (logMax - logMin) / float64(logBins)

	idx := make(LogFrequencyIndex, logBins+1)
	for i := 0; i <= logBins; i++ {
		freq := math.Pow(logBase, logMin+float64(i)*delta)
		idx[i] = frequencyToIndex(freq, sampleRate, wdftSize)
	}
	return idx
}

func frequencyToIndex(freq float64, sampleRate, wdftSize int) int {
	fraction := freq / (float64(sampleRate) / 2)
	return int(math.RoundToEven(float64(wdftSize/2+1) * fraction))
}

// DynamicLogIndex derives the log base from the frequency range so that the
// band edges land on whole multiples of the lowest band's bin offset.
func DynamicLogIndex(sampleRate, wdftSize int, minFreq, maxFreq float64, logBins int) LogFrequencyIndex {
	logBase, minCoef := dynamicBase(sampleRate, wdftSize, minFreq, maxFreq, logBins)

	idx := make(LogFrequencyIndex, logBins+1)
	for j := 0; j <= logBins; j++ {
		start := math.Floor((math.Pow(logBase, float64(j)) - 1) * minCoef)
		idx[j] = int(start) + int(math.Floor(minCoef))
	}
	return idx
}

// DynamicBandEnds returns the upper edge the dynamic algorithm derives for
// each band, offset the same way as the start edges. Entry j always equals
// index[j+1] of DynamicLogIndex; the last entry lies one band past maxFreq.
func DynamicBandEnds(sampleRate, wdftSize int, minFreq, maxFreq float64, logBins int) []int {
	logBase, minCoef := dynamicBase(sampleRate, wdftSize, minFreq, maxFreq, logBins)

	ends := make([]int, logBins+1)
	for j := 0; j <= logBins; j++ {
		end := math.Floor((math.Pow(logBase, float64(j+1)) - 1) * minCoef)
		ends[j] = int(end) + int(math.Floor(minCoef))
	}
	return ends
}

func dynamicBase(sampleRate, wdftSize int, minFreq, maxFreq float64, logBins int) (float64, float64) {
	logBase := math.Exp(math.Log(maxFreq/minFreq) / float64(logBins))
	minCoef := float64(wdftSize) / float64(sampleRate) * minFreq
	return logBase, minCoef
}

// ExtractLogBins averages the power of the interleaved spectrum over each band.
// An empty band (equal boundaries) contributes zero energy.
func ExtractLogBins(spectrum []float64, index LogFrequencyIndex, wdftSize int) []float64 {
	logBins := len(index) - 1
	half := float64(wdftSize / 2)
	bands := make([]float64, logBins)

	for i := 0; i < logBins; i++ {
		low, high := index[i], index[i+1]
		if high <= low {
			continue
		}
		var sum float64
		for k := low; k < high && 2*k+1 < len(spectrum); k++ {
			re := spectrum[2*k] / half
			im := spectrum[2*k+1] / half
			sum += re*re + im*im
		}
		bands[i] = sum / float64(high-low)
	}
	return bands
}
