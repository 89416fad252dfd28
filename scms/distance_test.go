package scms

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func identityModel(t *testing.T, dim int) *Model {
	t.Helper()
	mean := make([]float32, dim)
	packed := make([]float32, CovLen(dim))
	for i := 0; i < dim; i++ {
		packed[PackedIndex(dim, i, i)] = 1
	}
	m, err := NewModel(mean, packed, packed)
	if err != nil {
		t.Fatalf("NewModel returned error: %v", err)
	}
	return m
}

func builtModel(t *testing.T, seed uint64, dim int) *Model {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed+1))
	m, err := Build(randomCoefficients(rng, dim, 300))
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	return m
}

func TestKLIdentityScenario(t *testing.T) {
	t.Parallel()

	a := identityModel(t, 2)
	b := identityModel(t, 2)
	d, err := KLDistance(a, b)
	if err != nil {
		t.Fatalf("KLDistance returned error: %v", err)
	}
	if math.Abs(d) > 1e-5 {
		t.Fatalf("expected ~0, got %g", d)
	}
}

func TestKLSelfDistanceAndSymmetry(t *testing.T) {
	t.Parallel()

	a := builtModel(t, 1, 8)
	b := builtModel(t, 2, 8)
	c := NewComparer(8)

	self, err := c.KullbackLeibler(a, a)
	if err != nil {
		t.Fatalf("KullbackLeibler returned error: %v", err)
	}
	if math.Abs(self) > 1e-3 {
		t.Fatalf("self distance %g not ~0", self)
	}

	ab, _ := c.KullbackLeibler(a, b)
	ba, _ := c.KullbackLeibler(b, a)
	if math.Abs(ab-ba) > 1e-9*math.Max(1, math.Abs(ab)) {
		t.Fatalf("asymmetric: %g vs %g", ab, ba)
	}
	if ab <= self {
		t.Fatalf("distinct models scored %g, not above self distance %g", ab, self)
	}
}

func TestKLMeanShiftIncreasesDistance(t *testing.T) {
	t.Parallel()

	a := identityModel(t, 2)
	shifted, _ := NewModel([]float32{1, 0}, []float32{1, 0, 1}, []float32{1, 0, 1})
	d, err := KLDistance(a, shifted)
	if err != nil {
		t.Fatalf("KLDistance returned error: %v", err)
	}
	// trace term 4, quadratic term 2*1*1 = 2: (4+2)/4 - 1
	if math.Abs(d-0.5) > 1e-9 {
		t.Fatalf("expected 0.5, got %g", d)
	}
}

func TestDimensionMismatch(t *testing.T) {
	t.Parallel()

	a := identityModel(t, 2)
	b := identityModel(t, 3)
	_, err := KLDistance(a, b)
	var dme *DimensionMismatchError
	if !errors.As(err, &dme) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if dme.Left != 2 || dme.Right != 3 {
		t.Fatalf("unexpected dims in error: %+v", dme)
	}

	if _, err := HammingDistance(make([]uint64, 2), make([]uint64, 3)); !errors.As(err, &dme) {
		t.Fatalf("expected DimensionMismatchError from Hamming, got %v", err)
	}
}

func TestComparerReusedAcrossDimensions(t *testing.T) {
	t.Parallel()

	c := NewComparer(2)
	if _, err := c.KullbackLeibler(identityModel(t, 4), identityModel(t, 4)); err != nil {
		t.Fatalf("KullbackLeibler returned error: %v", err)
	}
	d, err := c.KullbackLeibler(identityModel(t, 2), identityModel(t, 2))
	if err != nil || math.Abs(d) > 1e-9 {
		t.Fatalf("unexpected result %g, %v", d, err)
	}
}

func TestCosineDistance(t *testing.T) {
	t.Parallel()

	a, _ := NewModel([]float32{1, 0}, []float32{1, 0, 1}, []float32{1, 0, 1})
	b, _ := NewModel([]float32{0, 1}, []float32{1, 0, 1}, []float32{1, 0, 1})
	if d := CosineDistance(a, a); math.Abs(d) > 1e-12 {
		t.Fatalf("self cosine distance %g", d)
	}
	if d := CosineDistance(a, b); math.Abs(d-1) > 1e-12 {
		t.Fatalf("orthogonal means: expected 1, got %g", d)
	}

	zero := identityModel(t, 2)
	if d := CosineDistance(a, zero); math.Abs(d-1) > 1e-12 {
		t.Fatalf("zero mean: expected 1, got %g", d)
	}

	// shared prefix across dimensions
	c3, _ := NewModel([]float32{1, 0, 5}, make([]float32, 6), make([]float32, 6))
	if d := CosineDistance(a, c3); math.Abs(d-1) > 1e-12 {
		t.Fatalf("prefix cosine: expected 1, got %g", d)
	}
}

func TestDistanceDispatch(t *testing.T) {
	t.Parallel()

	a := builtModel(t, 3, 6)
	b := builtModel(t, 4, 6)
	signer, err := NewHyperplaneSigner(6, 128, 42)
	if err != nil {
		t.Fatalf("NewHyperplaneSigner returned error: %v", err)
	}
	c := NewComparer(6, WithSigner(signer))

	for _, kind := range DistanceKinds() {
		self, err := c.Distance(kind, a, a)
		if err != nil {
			t.Fatalf("%s: Distance returned error: %v", kind, err)
		}
		other, err := c.Distance(kind, a, b)
		if err != nil {
			t.Fatalf("%s: Distance returned error: %v", kind, err)
		}
		if kind != KullbackLeibler && self != 0 && math.Abs(self) > 1e-9 {
			t.Errorf("%s: self distance %g", kind, self)
		}
		if other < self {
			t.Errorf("%s: other %g below self %g", kind, other, self)
		}
	}

	_, err = c.Distance(DistanceKind(99), a, b)
	var unsupported *UnsupportedDistanceKindError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedDistanceKindError, got %v", err)
	}
}

func TestHammingWithoutSigner(t *testing.T) {
	t.Parallel()

	a := identityModel(t, 2)
	if _, err := Distance(Hamming, a, a); err == nil {
		t.Fatal("expected error without signer")
	}
}

func TestParseDistanceKind(t *testing.T) {
	t.Parallel()

	for _, kind := range DistanceKinds() {
		got, err := ParseDistanceKind(kind.String())
		if err != nil || got != kind {
			t.Fatalf("ParseDistanceKind(%q) = %v, %v", kind.String(), got, err)
		}
	}
	if _, err := ParseDistanceKind("euclid"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func BenchmarkKullbackLeibler(b *testing.B) {
	rng := rand.New(rand.NewPCG(5, 6))
	m1, _ := Build(randomCoefficients(rng, 20, 500))
	m2, _ := Build(randomCoefficients(rng, 20, 500))
	c := NewComparer(20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.KullbackLeibler(m1, m2)
	}
}
