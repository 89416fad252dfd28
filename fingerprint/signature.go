package fingerprint

import "math/bits"

// Signature is a fixed-length bit string.
type Signature struct {
	words []uint64
	n     int
}

func NewSignature(n int) Signature {
	return Signature{words: make([]uint64, (n+63)/64), n: n}
}

// SignatureFromWords wraps stored words as an n-bit signature.
func SignatureFromWords(words []uint64, n int) Signature {
	return Signature{words: words, n: n}
}

func (s Signature) Len() int         { return s.n }
func (s Signature) Words() []uint64  { return s.words }
func (s Signature) Set(i int)        { s.words[i/64] |= 1 << uint(i%64) }
func (s Signature) IsSet(i int) bool { return s.words[i/64]&(1<<uint(i%64)) != 0 }

// Count is the number of set bits.
func (s Signature) Count() int {
	c := 0
	for _, w := range s.words {
		c += bits.OnesCount64(w)
	}
	return c
}
