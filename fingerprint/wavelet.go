package fingerprint

import "math"

var sqrt2 = math.Sqrt(2)

// haarDecompose applies the standard 2-D Haar decomposition in place: every
// row is fully decomposed, then every column.
func haarDecompose(image [][]float64) {
	rows := len(image)
	if rows == 0 {
		return
	}
	cols := len(image[0])

	temp := make([]float64, max(rows, cols))
	for _, row := range image {
		decomposeArray(row, temp)
	}

	column := make([]float64, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			column[r] = image[r][c]
		}
		decomposeArray(column, temp)
		for r := 0; r < rows; r++ {
			image[r][c] = column[r]
		}
	}
}

func decomposeArray(array, temp []float64) {
	h := len(array)
	for h > 1 {
		h /= 2
		for i := 0; i < h; i++ {
			temp[i] = (array[2*i] + array[2*i+1]) / sqrt2
			temp[h+i] = (array[2*i] - array[2*i+1]) / sqrt2
		}
		copy(array[:2*h], temp[:2*h])
	}
}
