package stegfs

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
)

// Permutation is a seeded bijection on [0, length). It remaps logical byte
// addresses to physical byte addresses so that adjacent logical bytes are
// dispersed across unrelated physical locations. The same (length, seed)
// pair always produces the same mapping, which is what makes a directory of
// cover files readable again on the next mount.
//
// The mapping is a keyed Fisher-Yates shuffle of a materialized index
// array. The shuffle is driven by the ChaCha20 keystream under a
// BLAKE2b-256 hash of the seed bytes, with rejection sampling for uniform
// draws; this choice is fixed and must not change, or existing cover
// directories become unreadable. The memory cost is 8 bytes per logical
// byte of capacity; At and Range are the entire lookup surface so a
// format-preserving replacement can be dropped in without touching callers.
type Permutation struct {
	indices []int64
}

// NewPermutation constructs the permutation for the given length and seed.
// Construction always succeeds; a zero length yields an empty permutation.
func NewPermutation(length int64, seed []byte) *Permutation {
	p := &Permutation{indices: make([]int64, length)}
	for i := range p.indices {
		p.indices[i] = int64(i)
	}
	if length < 2 {
		return p
	}

	stream := newSeedStream(seed)
	for i := int64(0); i < length; i++ {
		r := stream.intn(uint64(length))
		p.indices[i], p.indices[r] = p.indices[r], p.indices[i]
	}
	return p
}

// Length returns the size of the permutation's domain.
func (p *Permutation) Length() int64 {
	return int64(len(p.indices))
}

// At returns the physical index for logical index i. i must be in
// [0, Length()).
func (p *Permutation) At(i int64) int64 {
	return p.indices[i]
}

// Range returns the physical indices for logical indices i, i+1, ... up to
// n entries or the end of the domain, whichever comes first.
func (p *Permutation) Range(i, n int64) []int64 {
	if i >= int64(len(p.indices)) {
		return nil
	}
	end := i + n
	if end > int64(len(p.indices)) {
		end = int64(len(p.indices))
	}
	out := make([]int64, end-i)
	copy(out, p.indices[i:end])
	return out
}

// seedStream is a deterministic random stream derived from seed bytes: the
// seed is hashed with BLAKE2b-256 into a ChaCha20 key, and the cipher's
// keystream over zeros supplies the random words.
type seedStream struct {
	cipher *chacha20.Cipher
	buf    [512]byte
	pos    int
}

func newSeedStream(seed []byte) *seedStream {
	key := blake2b.Sum256(seed)
	var nonce [chacha20.NonceSize]byte
	cipher, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		// Key and nonce sizes are fixed above; this cannot happen.
		panic(err)
	}
	s := &seedStream{cipher: cipher}
	s.refill()
	return s
}

func (s *seedStream) refill() {
	for i := range s.buf {
		s.buf[i] = 0
	}
	s.cipher.XORKeyStream(s.buf[:], s.buf[:])
	s.pos = 0
}

func (s *seedStream) uint64() uint64 {
	if s.pos+8 > len(s.buf) {
		s.refill()
	}
	v := binary.LittleEndian.Uint64(s.buf[s.pos:])
	s.pos += 8
	return v
}

// intn returns a uniform value in [0, n) using rejection sampling, so no
// value is favored by the modulo bias.
func (s *seedStream) intn(n uint64) int64 {
	// limit is 2^64 mod n. A draw below it belongs to the incomplete
	// final bucket and would bias v % n, so redraw.
	limit := -n % n
	for {
		v := s.uint64()
		if v >= limit {
			return int64(v % n)
		}
	}
}
