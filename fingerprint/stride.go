package fingerprint

import (
	"fmt"
	"math/rand/v2"
)

// Stride decides how many samples separate consecutive fingerprint images.
// A negative Next means images overlap. Random strides carry their own
// generator, so a Stride value should not be shared between goroutines.
type Stride interface {
	First() int
	Next() int
}

// StaticStride skips a fixed number of samples after every image.
type StaticStride struct {
	NextStride  int
	FirstStride int
}

func (s StaticStride) First() int { return s.FirstStride }
func (s StaticStride) Next() int  { return s.NextStride }

// RandomStride skips a uniformly drawn number of samples in [Min, Max).
type RandomStride struct {
	Min, Max    int
	FirstStride int
	rng         *rand.Rand
}

func NewRandomStride(min, max, first int, seed uint64) *RandomStride {
	return &RandomStride{Min: min, Max: max, FirstStride: first, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *RandomStride) First() int { return s.FirstStride }
func (s *RandomStride) Next() int  { return draw(s.rng, s.Min, s.Max) }

// IncrementalStaticStride starts every image IncrementBy samples after the
// start of the previous one.
type IncrementalStaticStride struct {
	IncrementBy           int
	SamplesPerFingerprint int
	FirstStride           int
}

func (s IncrementalStaticStride) First() int { return s.FirstStride }
func (s IncrementalStaticStride) Next() int  { return s.IncrementBy - s.SamplesPerFingerprint }

// IncrementalRandomStride starts every image a random [Min, Max) samples after
// the start of the previous one, and the first image at a random offset too.
type IncrementalRandomStride struct {
	Min, Max              int
	SamplesPerFingerprint int
	rng                   *rand.Rand
}

func NewIncrementalRandomStride(min, max, samplesPerFingerprint int, seed uint64) *IncrementalRandomStride {
	return &IncrementalRandomStride{
		Min:                   min,
		Max:                   max,
		SamplesPerFingerprint: samplesPerFingerprint,
		rng:                   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

func (s *IncrementalRandomStride) First() int { return draw(s.rng, s.Min, s.Max) }
func (s *IncrementalRandomStride) Next() int {
	return draw(s.rng, s.Min, s.Max) - s.SamplesPerFingerprint
}

func draw(rng *rand.Rand, min, max int) int {
	if max <= min {
		return min
	}
	return min + rng.IntN(max-min)
}

// ParseStride builds a stride from its textual form:
// "static:<n>", "random:<min>:<max>", "incremental:<n>" or
// "incremental-random:<min>:<max>".
func ParseStride(policy string, samplesPerFingerprint int, seed uint64) (Stride, error) {
	var a, b int
	if n, _ := fmt.Sscanf(policy, "static:%d", &a); n == 1 {
		return StaticStride{NextStride: a}, nil
	}
	if n, _ := fmt.Sscanf(policy, "random:%d:%d", &a, &b); n == 2 {
		return NewRandomStride(a, b, 0, seed), nil
	}
	if n, _ := fmt.Sscanf(policy, "incremental-random:%d:%d", &a, &b); n == 2 {
		return NewIncrementalRandomStride(a, b, samplesPerFingerprint, seed), nil
	}
	if n, _ := fmt.Sscanf(policy, "incremental:%d", &a); n == 1 {
		return IncrementalStaticStride{IncrementBy: a, SamplesPerFingerprint: samplesPerFingerprint}, nil
	}
	return nil, fmt.Errorf("unrecognised stride %q", policy)
}
