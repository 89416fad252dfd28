package scms

import "testing"

func TestPackedIndexLayout(t *testing.T) {
	t.Parallel()

	const dim = 4
	seen := make(map[int]bool)
	next := 0
	for i := 0; i < dim; i++ {
		for k := i; k < dim; k++ {
			idx := PackedIndex(dim, i, k)
			if idx != next {
				t.Fatalf("(%d,%d) -> %d, expected row-major offset %d", i, k, idx, next)
			}
			if PackedIndex(dim, k, i) != idx {
				t.Fatalf("(%d,%d) not symmetric", k, i)
			}
			seen[idx] = true
			next++
		}
	}
	if len(seen) != CovLen(dim) {
		t.Fatalf("covered %d offsets, expected %d", len(seen), CovLen(dim))
	}
}

func TestNewModelValidatesLengths(t *testing.T) {
	t.Parallel()

	if _, err := NewModel([]float32{0, 0}, []float32{1, 0, 1}, []float32{1, 0, 1}); err != nil {
		t.Fatalf("NewModel returned error: %v", err)
	}
	if _, err := NewModel([]float32{0, 0}, []float32{1, 0}, []float32{1, 0, 1}); err == nil {
		t.Fatal("expected error for short covariance")
	}
	if _, err := NewModel(nil, nil, nil); err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestModelIsImmutable(t *testing.T) {
	t.Parallel()

	mean := []float32{1, 2}
	m, err := NewModel(mean, []float32{1, 0, 1}, []float32{1, 0, 1})
	if err != nil {
		t.Fatalf("NewModel returned error: %v", err)
	}
	mean[0] = 99
	m.Mean()[1] = 99
	if got := m.Mean(); got[0] != 1 || got[1] != 2 {
		t.Fatalf("model mean changed to %v", got)
	}
}

func TestFlattenOrder(t *testing.T) {
	t.Parallel()

	m, _ := NewModel([]float32{1, 2}, []float32{3, 4, 5}, []float32{6, 7, 8})
	flat := m.Flatten()
	for i, v := range flat {
		if v != float64(i+1) {
			t.Fatalf("flatten[%d] = %f, expected %d", i, v, i+1)
		}
	}
}
