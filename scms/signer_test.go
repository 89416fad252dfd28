package scms

import (
	"errors"
	"testing"
)

func TestSignerDeterministic(t *testing.T) {
	t.Parallel()

	m := builtModel(t, 9, 5)
	s1, _ := NewHyperplaneSigner(5, 100, 3)
	s2, _ := NewHyperplaneSigner(5, 100, 3)

	a, err := s1.Sign(m)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	b, _ := s2.Sign(m)
	if len(a) != 2 {
		t.Fatalf("expected 2 words for 100 bits, got %d", len(a))
	}
	if d, _ := HammingDistance(a, b); d != 0 {
		t.Fatalf("same seed produced %d differing bits", d)
	}
	if a[1]>>36 != 0 {
		t.Fatalf("bits beyond 100 are set: %x", a[1])
	}
}

func TestSignerCloserModelsShareMoreBits(t *testing.T) {
	t.Parallel()

	base, _ := NewModel([]float32{1, 2, 3}, []float32{1, 0.1, 0, 1, 0.2, 1}, []float32{1, 0, 0, 1, 0, 1})
	near, _ := NewModel([]float32{1.05, 2, 3}, []float32{1, 0.1, 0, 1, 0.2, 1}, []float32{1, 0, 0, 1, 0, 1})
	far, _ := NewModel([]float32{-3, 5, -1}, []float32{4, -2, 1, 0.5, 3, 9}, []float32{1, 0, 0, 1, 0, 1})

	signer, _ := NewHyperplaneSigner(3, 512, 17)
	sb, _ := signer.Sign(base)
	sn, _ := signer.Sign(near)
	sf, _ := signer.Sign(far)

	dn, _ := HammingDistance(sb, sn)
	df, _ := HammingDistance(sb, sf)
	if dn >= df {
		t.Fatalf("near model differs in %d bits, far model in %d", dn, df)
	}
}

func TestSignerRejectsOtherDimension(t *testing.T) {
	t.Parallel()

	signer, _ := NewHyperplaneSigner(3, 64, 1)
	_, err := signer.Sign(identityModel(t, 4))
	var dme *DimensionMismatchError
	if !errors.As(err, &dme) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
}
