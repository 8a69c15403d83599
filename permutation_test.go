package stegfs

import (
	"testing"
)

func TestPermutation_Bijection(t *testing.T) {
	lengths := []int64{1, 2, 3, 7, 8, 111, 1000}
	seeds := [][]byte{[]byte(""), []byte("alpha"), []byte("beta"), {0x00, 0xff, 0x10}}

	for _, length := range lengths {
		for _, seed := range seeds {
			p := NewPermutation(length, seed)

			seen := make([]bool, length)
			for i := int64(0); i < length; i++ {
				v := p.At(i)
				if v < 0 || v >= length {
					t.Fatalf("length=%d seed=%q: At(%d) = %d out of range", length, seed, i, v)
				}
				if seen[v] {
					t.Fatalf("length=%d seed=%q: value %d produced twice", length, seed, v)
				}
				seen[v] = true
			}
		}
	}
}

func TestPermutation_Deterministic(t *testing.T) {
	seed := []byte("the quick brown fox")
	a := NewPermutation(512, seed)
	b := NewPermutation(512, seed)

	for i := int64(0); i < 512; i++ {
		if a.At(i) != b.At(i) {
			t.Fatalf("At(%d): %d != %d for identical (length, seed)", i, a.At(i), b.At(i))
		}
	}
}

func TestPermutation_SeedChangesMapping(t *testing.T) {
	a := NewPermutation(256, []byte("alpha"))
	b := NewPermutation(256, []byte("beta"))

	same := true
	for i := int64(0); i < 256; i++ {
		if a.At(i) != b.At(i) {
			same = false
			break
		}
	}
	if same {
		t.Error("permutations for seeds \"alpha\" and \"beta\" are identical")
	}
}

func TestPermutation_Range(t *testing.T) {
	p := NewPermutation(100, []byte("range"))

	tests := []struct {
		start, n int64
		wantLen  int
	}{
		{0, 10, 10},
		{95, 10, 5}, // truncated at the end
		{0, 100, 100},
		{99, 1, 1},
		{100, 5, 0}, // past the end
		{0, 0, 0},
	}

	for _, tt := range tests {
		got := p.Range(tt.start, tt.n)
		if len(got) != tt.wantLen {
			t.Errorf("Range(%d, %d): got %d values, want %d", tt.start, tt.n, len(got), tt.wantLen)
			continue
		}
		for j, v := range got {
			if v != p.At(tt.start+int64(j)) {
				t.Errorf("Range(%d, %d)[%d] = %d, want At(%d) = %d",
					tt.start, tt.n, j, v, tt.start+int64(j), p.At(tt.start+int64(j)))
			}
		}
	}
}

func TestPermutation_Empty(t *testing.T) {
	p := NewPermutation(0, []byte("empty"))
	if p.Length() != 0 {
		t.Errorf("Length() = %d, want 0", p.Length())
	}
	if got := p.Range(0, 10); len(got) != 0 {
		t.Errorf("Range on empty permutation returned %d values", len(got))
	}
}

func TestPermutation_RangeCopyIsIndependent(t *testing.T) {
	p := NewPermutation(16, []byte("copy"))
	r := p.Range(0, 16)
	r[0] = -1
	if p.At(0) == -1 {
		t.Error("mutating a Range result mutated the permutation")
	}
}
