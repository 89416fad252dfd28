package mfcc

import (
	"math"
	"testing"
)

func TestMelConversion(t *testing.T) {
	t.Parallel()

	mel := hzToMel(1000)
	if math.Abs(mel-1000.45) > 1.0 {
		t.Errorf("hzToMel(1000) = %f, want ~1000.45", mel)
	}
	if hz := melToHz(mel); math.Abs(hz-1000) > 1e-6 {
		t.Errorf("melToHz(hzToMel(1000)) = %f, want 1000", hz)
	}
}

func TestFilterBankShape(t *testing.T) {
	t.Parallel()

	bank := melFilterBank(36, 1024, 22050, 20, 11025)
	if len(bank) != 36 {
		t.Fatalf("expected 36 filters, got %d", len(bank))
	}
	for m, filter := range bank {
		if len(filter) != 513 {
			t.Fatalf("filter %d has %d bins", m, len(filter))
		}
		var peak float64
		for _, w := range filter {
			if w < 0 || w > 1 {
				t.Fatalf("filter %d has weight %f outside [0, 1]", m, w)
			}
			peak = math.Max(peak, w)
		}
		if peak != 1 {
			t.Fatalf("filter %d peaks at %f", m, peak)
		}
	}
}

func TestDCTIsOrthonormal(t *testing.T) {
	t.Parallel()

	basis := dctMatrix(8, 8)
	for i := range basis {
		for j := range basis {
			var dot float64
			for k := range basis[i] {
				dot += basis[i][k] * basis[j][k]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(dot-want) > 1e-12 {
				t.Fatalf("<%d,%d> = %f, expected %f", i, j, dot, want)
			}
		}
	}
}

func TestExtractShapeAndFlatSpectrum(t *testing.T) {
	t.Parallel()

	e, err := New(Config{SampleRate: 22050, WdftSize: 1024, Filters: 36, Coefficients: 20, LowFreq: 20})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	frames := make([][]float64, 5)
	for i := range frames {
		frames[i] = make([]float64, 513)
		for k := range frames[i] {
			frames[i][k] = float64(i + 1)
		}
	}

	coeffs, err := e.Extract(frames)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if len(coeffs) != 20 || len(coeffs[0]) != 5 {
		t.Fatalf("unexpected shape %dx%d", len(coeffs), len(coeffs[0]))
	}
	// louder frames raise the energy coefficient
	for t0 := 1; t0 < 5; t0++ {
		if coeffs[0][t0] <= coeffs[0][t0-1] {
			t.Fatalf("c0 not increasing with level at frame %d", t0)
		}
	}

	if _, err := e.Extract([][]float64{make([]float64, 10)}); err == nil {
		t.Fatal("expected error for wrong frame length")
	}
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	bad := []Config{
		{SampleRate: 0, WdftSize: 1024, Filters: 36, Coefficients: 20},
		{SampleRate: 22050, WdftSize: 1024, Filters: 10, Coefficients: 20},
		{SampleRate: 22050, WdftSize: 1024, Filters: 36, Coefficients: 20, LowFreq: 20000, HighFreq: 100},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Errorf("config %d: expected error", i)
		}
	}
}
