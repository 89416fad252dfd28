package fingerprint

// Image is a block of consecutive log-spectrogram frames.
type Image struct {
	Index      int
	StartFrame int
	// Data holds imageLength rows of band energies.
	Data [][]float64
}

// CutLogSpectrogram slices logSpectrogram into images of imageLength frames.
// Strides are given in samples and converted to frames via overlap; the cut
// stops before an image would reach the last frame.
func CutLogSpectrogram(logSpectrogram [][]float64, stride Stride, imageLength, overlap int) []Image {
	if imageLength <= 0 || overlap <= 0 {
		return nil
	}

	width := len(logSpectrogram)
	start := stride.First() / overlap
	if start < 0 {
		start = 0
	}

	var images []Image
	for start+imageLength < width {
		data := make([][]float64, imageLength)
		for i := range data {
			data[i] = append([]float64(nil), logSpectrogram[start+i]...)
		}
		images = append(images, Image{Index: len(images), StartFrame: start, Data: data})

		next := start + imageLength + stride.Next()/overlap
		if next <= start {
			// a stride that would not advance is treated as one frame
			next = start + 1
		}
		start = next
	}
	return images
}
