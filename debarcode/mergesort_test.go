package debarcode

import (
	"testing"

	"github.com/grailbio/bascet/barcode"
	"github.com/grailbio/bascet/encoding/container"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeChunkFile(t *testing.T, path string, cells []string) {
	t.Helper()
	ctx := vcontext.Background()
	f, err := file.Create(ctx, path)
	require.NoError(t, err)
	cw := container.NewWriter(f.Writer(ctx), 6)
	for _, cell := range cells {
		require.NoError(t, cw.Write(container.Record{
			Cell: barcode.CellID(cell),
			R1:   []byte("ACGTACGT"), R2: []byte("TGCATGCA"),
			Q1: []byte("FFFFFFFF"), Q2: []byte("FFFFFFFF"),
			UMI: "AAAAAAAA",
		}))
	}
	require.NoError(t, cw.Close())
	require.NoError(t, f.Close(ctx))
}

func readCells(t *testing.T, path string) []string {
	t.Helper()
	ctx := vcontext.Background()
	f, err := file.Open(ctx, path)
	require.NoError(t, err)
	defer f.Close(ctx)
	recs, err := container.ReadAll(f.Reader(ctx))
	require.NoError(t, err)
	cells := make([]string, len(recs))
	for i, r := range recs {
		cells[i] = string(r.Cell)
	}
	return cells
}

// TestMergesortToTargetSingleShard merges three internally-sorted chunks
// down to one shard in fully sorted cell order, with every input record
// preserved.
func TestMergesortToTargetSingleShard(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	ctx := vcontext.Background()
	chunk1 := dir + "/chunk1.tirp"
	chunk2 := dir + "/chunk2.tirp"
	chunk3 := dir + "/chunk3.tirp"
	writeChunkFile(t, chunk1, []string{"A", "C"})
	writeChunkFile(t, chunk2, []string{"B", "D"})
	writeChunkFile(t, chunk3, []string{"E", "F"})

	final, err := mergesortToTarget(ctx, []string{chunk1, chunk2, chunk3}, 1, dir, 1)
	require.NoError(t, err)
	require.Len(t, final, 1)

	got := readCells(t, final[0])
	assert.Equal(t, []string{"A", "B", "C", "D", "E", "F"}, got)

	// Inputs must have been deleted once merged.
	for _, p := range []string{chunk1, chunk2, chunk3} {
		_, err := file.Open(ctx, p)
		assert.Error(t, err)
	}
}

// TestMergesortToTargetOddCountCarriesFileAcross verifies that an odd
// remaining count carries one file across untouched rather than dropping
// it on the floor.
func TestMergesortToTargetOddCountCarriesFileAcross(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()

	chunk1 := dir + "/c1.tirp"
	chunk2 := dir + "/c2.tirp"
	chunk3 := dir + "/c3.tirp"
	writeChunkFile(t, chunk1, []string{"A"})
	writeChunkFile(t, chunk2, []string{"B"})
	writeChunkFile(t, chunk3, []string{"C"})

	final, err := mergesortToTarget(vcontext.Background(), []string{chunk1, chunk2, chunk3}, 2, dir, 2)
	require.NoError(t, err)
	require.Len(t, final, 2)

	var all []string
	for _, p := range final {
		all = append(all, readCells(t, p)...)
	}
	assert.ElementsMatch(t, []string{"A", "B", "C"}, all)
}
