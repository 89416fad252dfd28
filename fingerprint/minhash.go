package fingerprint

import (
	"fmt"
	"math/rand/v2"

	"github.com/OneOfOne/xxhash"
)

// permutationLength caps how far a permutation is scanned for the first set
// bit; the position then fits in one byte.
const permutationLength = 255

// MinHasher reduces a signature to Tables hash keys. Each key combines
// KeysPerTable min-hash values, so two signatures share a key only when all
// of those values agree.
type MinHasher struct {
	signatureLen int
	tables       int
	keysPerTable int
	permutations [][]int
}

// NewMinHasher draws tables*keysPerTable permutations from seed. Equal
// arguments always produce the same hasher.
func NewMinHasher(signatureLen, tables, keysPerTable int, seed uint64) (*MinHasher, error) {
	if signatureLen <= 0 || tables <= 0 || keysPerTable <= 0 {
		return nil, fmt.Errorf("invalid min-hash geometry: signature=%d tables=%d keys=%d", signatureLen, tables, keysPerTable)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0xa0761d6478bd642f))
	perms := make([][]int, tables*keysPerTable)
	for i := range perms {
		p := rng.Perm(signatureLen)
		perms[i] = p[:min(permutationLength, signatureLen)]
	}
	return &MinHasher{signatureLen: signatureLen, tables: tables, keysPerTable: keysPerTable, permutations: perms}, nil
}

func (h *MinHasher) Tables() int { return h.tables }

// MinHash returns, per permutation, the position of the first set bit.
// Positions past the scanned prefix read as 255.
func (h *MinHasher) MinHash(sig Signature) ([]byte, error) {
	if sig.Len() != h.signatureLen {
		return nil, fmt.Errorf("signature has %d bits, hasher expects %d", sig.Len(), h.signatureLen)
	}
	out := make([]byte, len(h.permutations))
	for i, perm := range h.permutations {
		out[i] = permutationLength
		for pos, bit := range perm {
			if sig.IsSet(bit) {
				out[i] = byte(pos)
				break
			}
		}
	}
	return out, nil
}

// Keys groups the min-hash values per table and hashes each group together
// with its table number.
func (h *MinHasher) Keys(sig Signature) ([]uint64, error) {
	values, err := h.MinHash(sig)
	if err != nil {
		return nil, err
	}

	keys := make([]uint64, h.tables)
	buf := make([]byte, 1+h.keysPerTable)
	for t := 0; t < h.tables; t++ {
		buf[0] = byte(t)
		copy(buf[1:], values[t*h.keysPerTable:(t+1)*h.keysPerTable])
		keys[t] = xxhash.Checksum64(buf)
	}
	return keys, nil
}
