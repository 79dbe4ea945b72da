package barcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const atrandiBarcodeTSV = "pos\twell\tseq\n" +
	"p1\tA1\tGTAACCGA\n" +
	"p1\tA2\tTTGGCATC\n" +
	"p2\tA1\tGTAACCGA\n" +
	"p2\tA2\tTTGGCATC\n" +
	"p3\tA1\tGTAACCGA\n" +
	"p3\tA2\tTTGGCATC\n" +
	"p4\tA1\tGTAACCGA\n" +
	"p4\tA2\tTTGGCATC\n"

// TestAtrandiWGSAllPoolsExact resolves all four pools to member A1, giving
// CellID "A1_A1_A1_A1" with distance 0 and the UMI taken from the first
// bases after the trimmed barcode region.
func TestAtrandiWGSAllPoolsExact(t *testing.T) {
	chem, err := NewAtrandiWGS(strings.NewReader(atrandiBarcodeTSV))
	require.NoError(t, err)
	require.Len(t, chem.Pools, 4)

	// R2 layout: four (8bp barcode + 4bp spacer) rounds, then 9bp UMI
	// slack, then gDNA.
	r2 := "GTAACCGA" + "xxxx" + "GTAACCGA" + "xxxx" + "GTAACCGA" + "xxxx" + "GTAACCGA" + "xxxx" + "NNNNNNNNN" + strings.Repeat("T", 10)

	result := chem.Detect([]byte(r2))
	require.True(t, result.OK)
	assert.Equal(t, CellID("A1_A1_A1_A1"), result.Cell)
	assert.Equal(t, 0, result.Score)
	assert.Equal(t, string(r2[chem.UMIFrom:chem.UMITo]), result.UMI)
	assert.Equal(t, []byte(r2[chem.TrimLen:]), result.Trimmed)
}

func TestAtrandiWGSRejectsMissingColumn(t *testing.T) {
	_, err := NewAtrandiWGS(strings.NewReader("pos\twell\n1\tA1\n"))
	assert.Error(t, err)
}
