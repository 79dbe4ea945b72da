package barcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncode8bpIdentity(t *testing.T) {
	a := encode8bp([]byte("ACGTACGT"))
	b := encode8bp([]byte("ACGTACGT"))
	assert.Equal(t, a, b)
	assert.Equal(t, 0, hammingDistance32(a, b))
}

func TestHammingDistance32SingleMismatch(t *testing.T) {
	a := encode8bp([]byte("AAAAAAAA"))
	b := encode8bp([]byte("AAAATAAA"))
	assert.Equal(t, 1, hammingDistance32(a, b))
}

func TestHammingDistance32AllMismatch(t *testing.T) {
	a := encode8bp([]byte("AAAAAAAA"))
	b := encode8bp([]byte("TTTTTTTT"))
	assert.Equal(t, 8, hammingDistance32(a, b))
}

func TestHammingDistanceNIsEquidistant(t *testing.T) {
	a := encode8bp([]byte("AAAAAAAA"))
	n := encode8bp([]byte("NAAAAAAA"))
	assert.Equal(t, 1, hammingDistance32(a, n))
	t2 := encode8bp([]byte("TAAAAAAA"))
	assert.Equal(t, 1, hammingDistance32(t2, n))
}

func TestClosestByHamming32ExactMatch(t *testing.T) {
	candidates := []uint32{
		encode8bp([]byte("AAAAAAAA")),
		encode8bp([]byte("CCCCCCCC")),
		encode8bp([]byte("GGGGGGGG")),
	}
	idx, dist := closestByHamming32(encode8bp([]byte("CCCCCCCC")), candidates)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 0, dist)
}

func TestEncode16bp(t *testing.T) {
	a := encode16bp([]byte("ACGTACGTACGTACGT"))
	b := encode16bp([]byte("ACGTACGTACGTACGT"))
	assert.Equal(t, 0, hammingDistance64(a, b))
}
