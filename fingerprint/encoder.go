package fingerprint

import (
	"cmp"
	"math"
	"slices"
)

// Encoder turns an image into a sparse wavelet signature: the image is Haar
// decomposed, the TopWavelets largest coefficients by magnitude are kept and
// each coefficient maps to two bits, 10 for positive, 01 for negative and 00
// for everything dropped.
type Encoder struct {
	TopWavelets int
}

// Encode leaves image untouched. All-zero images produce a full-length
// signature with no bits set.
func (e Encoder) Encode(image Image) Signature {
	rows := len(image.Data)
	if rows == 0 {
		return NewSignature(0)
	}
	cols := len(image.Data[0])

	work := make([][]float64, rows)
	for i, row := range image.Data {
		work[i] = append([]float64(nil), row...)
	}
	haarDecompose(work)

	flat := make([]float64, 0, rows*cols)
	for _, row := range work {
		flat = append(flat, row...)
	}

	order := make([]int, len(flat))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(math.Abs(flat[b]), math.Abs(flat[a]))
	})

	sig := NewSignature(2 * len(flat))
	top := min(e.TopWavelets, len(order))
	for _, idx := range order[:top] {
		switch v := flat[idx]; {
		case v > 0:
			sig.Set(2 * idx)
		case v < 0:
			sig.Set(2*idx + 1)
		}
	}
	return sig
}
