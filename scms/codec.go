package scms

import (
	"encoding/binary"
	"math"
)

const headerSize = 4

// EncodedLen is the serialized size of a model of the given dimension.
func EncodedLen(dim int) int {
	return headerSize + 4*(dim+2*CovLen(dim))
}

// Marshal writes dim, mean, cov and icov as little-endian int32/float32
// fields, independent of the host byte order.
func Marshal(m *Model) []byte {
	buf := make([]byte, EncodedLen(m.dim))
	binary.LittleEndian.PutUint32(buf, uint32(int32(m.dim)))
	off := headerSize
	for _, part := range [][]float32{m.mean, m.cov, m.icov} {
		for _, v := range part {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(v))
			off += 4
		}
	}
	return buf
}

// Unmarshal decodes a buffer produced by Marshal. Trailing bytes are ignored.
func Unmarshal(data []byte) (*Model, error) {
	if len(data) < headerSize {
		return nil, &TruncatedModelError{Need: headerSize, Have: len(data)}
	}
	dim := int(int32(binary.LittleEndian.Uint32(data)))
	if dim <= 0 {
		return nil, &TruncatedModelError{Dim: dim}
	}
	// guards the size computation against absurd headers
	if dim > (len(data)-headerSize)/4 {
		return nil, &TruncatedModelError{Dim: dim, Need: EncodedLen(dim), Have: len(data)}
	}
	need := EncodedLen(dim)
	if len(data) < need {
		return nil, &TruncatedModelError{Dim: dim, Need: need, Have: len(data)}
	}

	covlen := CovLen(dim)
	off := headerSize
	read := func(n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		return out
	}

	m := &Model{dim: dim}
	m.mean = read(dim)
	m.cov = read(covlen)
	m.icov = read(covlen)
	return m, nil
}

func (m *Model) MarshalBinary() ([]byte, error) {
	return Marshal(m), nil
}

// UnmarshalBinary populates m in place; it is the only mutation a Model allows.
func (m *Model) UnmarshalBinary(data []byte) error {
	decoded, err := Unmarshal(data)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}
