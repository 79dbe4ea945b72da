package barcode

import (
	"strings"
	"testing"

	"github.com/antzucaro/matchr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUMICorrector(t *testing.T) {
	known3 := "AAA\nCCC\nGGG\nTTT"
	known4 := "AAAA\nCCCC\nGGGG\nTTTT"

	tests := []struct {
		knownUMIs   string
		umi         string
		expected    string
		distance    int
		correctable bool
	}{
		{known3, "AAA", "AAA", 0, false},
		{known3, "TAA", "AAA", 1, true},
		{known3, "ATA", "AAA", 1, true},
		{known3, "AAT", "AAA", 1, true},
		{known3, "NAA", "AAA", 1, true},

		// Equidistant from AAAA and CCCC: must pass through untouched.
		{known4, "AACC", "AACC", -1, false},
		// Ns count as mismatches against every entry, so AAAA is still
		// the unique closest.
		{known4, "AANN", "AAAA", 2, true},
		{known4, "ANNN", "AAAA", 3, true},
		// All Ns is equidistant from the whole whitelist.
		{known4, "NNNN", "NNNN", -1, false},
		// Wrong length passes through.
		{known4, "AAAAA", "AAAAA", -1, false},
	}

	for _, test := range tests {
		c, err := NewUMICorrector(strings.NewReader(test.knownUMIs))
		require.NoError(t, err)
		correctedUMI, distance, corrected := c.Correct(test.umi)
		assert.Equal(t, test.expected, correctedUMI, "'%s' should have corrected to '%s'", test.umi, test.expected)
		assert.Equal(t, test.distance, distance, "'%s' -> '%s' expected distance %d", test.umi, test.expected, test.distance)
		assert.Equal(t, test.correctable, corrected, "'%s' corrected should be %v", test.umi, test.correctable)
	}
}

// TestUMICorrectorDistanceMatchesHammingReference checks the hot-code
// popcount distance against an independent Hamming implementation for
// plain-base queries that snap unambiguously.
func TestUMICorrectorDistanceMatchesHammingReference(t *testing.T) {
	c, err := NewUMICorrector(strings.NewReader("AAAA\nCCCC\nGGGG\nTTTT"))
	require.NoError(t, err)

	for _, raw := range []string{"AAAT", "AGAA", "CCCA", "TTTG", "GGGG"} {
		corrected, distance, _ := c.Correct(raw)
		require.GreaterOrEqual(t, distance, 0, "query %s unexpectedly ambiguous", raw)
		ref, err := matchr.Hamming(raw, corrected)
		require.NoError(t, err)
		assert.Equal(t, ref, distance, "query %s", raw)
	}
}

func TestNewUMICorrectorRejectsBadWhitelists(t *testing.T) {
	_, err := NewUMICorrector(strings.NewReader(""))
	assert.Error(t, err)

	_, err = NewUMICorrector(strings.NewReader("AAAA\nCCC"))
	assert.Error(t, err)

	_, err = NewUMICorrector(strings.NewReader("AANA"))
	assert.Error(t, err)
}
