package fingerprint

import (
	"math"
	"math/rand/v2"
	"testing"
)

func TestHaarConstantRow(t *testing.T) {
	t.Parallel()

	row := []float64{1, 1, 1, 1}
	decomposeArray(row, make([]float64, 4))
	want := []float64{2, 0, 0, 0}
	for i := range row {
		if math.Abs(row[i]-want[i]) > 1e-12 {
			t.Fatalf("coefficient %d = %f, expected %f", i, row[i], want[i])
		}
	}
}

func TestHaarPreservesEnergy(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(3, 4))
	image := make([][]float64, 16)
	var before float64
	for i := range image {
		image[i] = make([]float64, 8)
		for j := range image[i] {
			v := rng.Float64()
			image[i][j] = v
			before += v * v
		}
	}

	haarDecompose(image)

	var after float64
	for _, row := range image {
		for _, v := range row {
			after += v * v
		}
	}
	if math.Abs(before-after) > 1e-9 {
		t.Fatalf("energy changed from %f to %f", before, after)
	}
}

func randomImage(rng *rand.Rand, rows, cols int) Image {
	data := make([][]float64, rows)
	for i := range data {
		data[i] = make([]float64, cols)
		for j := range data[i] {
			data[i][j] = rng.Float64()
		}
	}
	return Image{Data: data}
}

func TestEncoderKeepsTopWavelets(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(8, 9))
	img := randomImage(rng, 16, 8)
	sig := Encoder{TopWavelets: 20}.Encode(img)
	if sig.Len() != 2*16*8 {
		t.Fatalf("signature has %d bits, expected %d", sig.Len(), 2*16*8)
	}
	if sig.Count() != 20 {
		t.Fatalf("expected 20 set bits, got %d", sig.Count())
	}
	for i := 0; i < sig.Len(); i += 2 {
		if sig.IsSet(i) && sig.IsSet(i+1) {
			t.Fatalf("coefficient %d encoded as both positive and negative", i/2)
		}
	}
	// the approximation coefficient of a positive image is the largest
	if !sig.IsSet(0) {
		t.Fatal("expected the DC coefficient to be kept as positive")
	}
}

func TestEncoderSilentImage(t *testing.T) {
	t.Parallel()

	img := Image{Data: [][]float64{{0, 0}, {0, 0}}}
	sig := (Encoder{TopWavelets: 3}).Encode(img)
	if sig.Count() != 0 {
		t.Fatalf("silent image produced %d bits", sig.Count())
	}
	if sig.Len() != 2*2*2 {
		t.Fatalf("silent image signature has %d bits, expected %d", sig.Len(), 8)
	}
}

func TestEncoderDoesNotMutateImage(t *testing.T) {
	t.Parallel()

	img := Image{Data: [][]float64{{1, 2}, {3, 4}}}
	Encoder{TopWavelets: 2}.Encode(img)
	if img.Data[0][0] != 1 || img.Data[1][1] != 4 {
		t.Fatalf("image modified: %v", img.Data)
	}
}
