package container

import (
	"bufio"
	"bytes"
	"io"
	"testing"

	"github.com/grailbio/bascet/barcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(cell string, seq string) Record {
	return Record{
		Cell: barcode.CellID(cell),
		R1:   []byte(seq),
		R2:   []byte(seq),
		Q1:   []byte("FFFF"),
		Q2:   []byte("FFFF"),
		UMI:  "AAAAAAAA",
	}
}

func TestRecordRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	r := rec("A1_A1_A1_A1", "ACGT")
	require.NoError(t, r.WriteTo(bw))
	require.NoError(t, bw.Flush())

	got, err := ParseRecord(buf.String())
	require.NoError(t, err)
	assert.Equal(t, r.Cell, got.Cell)
	assert.Equal(t, r.R1, got.R1)
	assert.Equal(t, r.R2, got.R2)
	assert.Equal(t, r.UMI, got.UMI)
}

func TestParseRecordLengthMismatchRejected(t *testing.T) {
	_, err := ParseRecord("A1\t4\t4\tACG\tACGT\tFFF\tFFFF\tAAAA\n")
	assert.Error(t, err)
}

// TestWriterReaderRoundTripBlockPurity verifies every compressed block
// contains records for exactly one CellID, so a Writer->Reader round trip
// through several cells must reproduce the exact input sequence.
func TestWriterReaderRoundTripBlockPurity(t *testing.T) {
	input := []Record{
		rec("A1_A1_A1_A1", "AAAA"),
		rec("A1_A1_A1_A1", "AAAC"),
		rec("B2_B2_B2_B2", "GGGG"),
		rec("C3_C3_C3_C3", "TTTT"),
		rec("C3_C3_C3_C3", "TTTA"),
	}
	var buf bytes.Buffer
	w := NewWriter(&buf, 6)
	for _, r := range input {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())

	got, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, got, len(input))
	for i := range input {
		assert.Equal(t, input[i].Cell, got[i].Cell)
		assert.Equal(t, input[i].R1, got[i].R1)
	}
}

func TestWriterRejectsOutOfOrderCell(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 6)
	require.NoError(t, w.Write(rec("B2_B2_B2_B2", "AAAA")))
	err := w.Write(rec("A1_A1_A1_A1", "CCCC"))
	assert.Error(t, err)
}

// TestReaderDetectsCellOrderViolation verifies a cell-order violation
// surfaces as an error rather than being silently accepted.
func TestReaderDetectsCellOrderViolation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBlock(&buf, block{cell: []byte("B"), uncompLen: 0, compressed: mustDeflate(t, nil)}))
	require.NoError(t, writeBlock(&buf, block{cell: []byte("A"), uncompLen: 0, compressed: mustDeflate(t, nil)}))
	require.NoError(t, writeBlock(&buf, eofBlock()))

	cr := NewReader(&buf)
	_, err := cr.Next()
	assert.Error(t, err)
}

func mustDeflate(t *testing.T, payload []byte) []byte {
	t.Helper()
	comp, err := deflateBlock(payload, 6)
	require.NoError(t, err)
	return comp
}

// TestMergeTwoStreamsPreservesOrderAndMultiset merges two sorted streams
// and checks the output is fully cell-sorted with the multiset of records
// preserved exactly.
func TestMergeTwoStreamsPreservesOrderAndMultiset(t *testing.T) {
	left := []Record{rec("A", "1111"), rec("C", "3333"), rec("E", "5555")}
	right := []Record{rec("B", "2222"), rec("D", "4444"), rec("F", "6666")}

	var leftBuf, rightBuf bytes.Buffer
	writeAll(t, &leftBuf, left)
	writeAll(t, &rightBuf, right)

	var out bytes.Buffer
	err := Merge([]string{"left", "right"}, []io.Reader{&leftBuf, &rightBuf}, &out)
	require.NoError(t, err)

	got, err := ReadAll(&out)
	require.NoError(t, err)
	require.Len(t, got, 6)

	wantOrder := []string{"A", "B", "C", "D", "E", "F"}
	for i, cell := range wantOrder {
		assert.Equal(t, barcode.CellID(cell), got[i].Cell)
	}
	for i := range got {
		assert.True(t, i == 0 || got[i-1].Cell <= got[i].Cell, "output not sorted at index %d", i)
	}
}

// TestMergeCoalescesSameCellBlocks collides the same cell across two
// streams: the merged output must carry that cell as a single block whose
// payload inflates to every record, proving the compressed byte ranges
// were concatenated losslessly.
func TestMergeCoalescesSameCellBlocks(t *testing.T) {
	left := []Record{rec("B", "1111"), rec("B", "2222")}
	right := []Record{rec("B", "3333"), rec("C", "4444")}

	var leftBuf, rightBuf bytes.Buffer
	writeAll(t, &leftBuf, left)
	writeAll(t, &rightBuf, right)

	var out bytes.Buffer
	require.NoError(t, Merge([]string{"left", "right"}, []io.Reader{&leftBuf, &rightBuf}, &out))

	blockStream := bytes.NewReader(out.Bytes())
	var cells []string
	for {
		b, err := readBlock(blockStream)
		require.NoError(t, err)
		if b.eof {
			break
		}
		cells = append(cells, string(b.cell))
	}
	assert.Equal(t, []string{"B", "C"}, cells, "coalesced cell B should be exactly one block")

	got, err := ReadAll(bytes.NewReader(out.Bytes()))
	require.NoError(t, err)
	require.Len(t, got, 4)
	var r1s []string
	for _, r := range got[:3] {
		assert.Equal(t, barcode.CellID("B"), r.Cell)
		r1s = append(r1s, string(r.R1))
	}
	assert.ElementsMatch(t, []string{"1111", "2222", "3333"}, r1s)
	assert.Equal(t, barcode.CellID("C"), got[3].Cell)
}

func writeAll(t *testing.T, w *bytes.Buffer, records []Record) {
	t.Helper()
	cw := NewWriter(w, 6)
	for _, r := range records {
		require.NoError(t, cw.Write(r))
	}
	require.NoError(t, cw.Close())
}

// TestHistogramMergeAndRoundTrip checks that Merge correctly sums
// per-writer-thread histograms cell by cell, and that the merged counts
// survive a WriteTo/ReadHistogram round trip.
func TestHistogramMergeAndRoundTrip(t *testing.T) {
	h1 := NewHistogram()
	h1.Add("A1_A1_A1_A1", 20)
	h1.Add("B2_B2_B2_B2", 5)
	h2 := NewHistogram()
	h2.Add("B2_B2_B2_B2", 25)
	h2.Add("C3_C3_C3_C3", 1000-20-30)

	merged := NewHistogram()
	merged.Merge(h1)
	merged.Merge(h2)

	assert.Equal(t, int64(20), merged.Count("A1_A1_A1_A1"))
	assert.Equal(t, int64(30), merged.Count("B2_B2_B2_B2"))
	assert.Equal(t, int64(1000), merged.Total())

	var buf bytes.Buffer
	require.NoError(t, merged.WriteTo(&buf))
	back, err := ReadHistogram(&buf)
	require.NoError(t, err)
	assert.Equal(t, merged.Total(), back.Total())
	for _, cell := range merged.Cells() {
		assert.Equal(t, merged.Count(cell), back.Count(cell))
	}
}

func TestIndexRoundTrip(t *testing.T) {
	entries := []IndexEntry{
		{Cell: "A1_A1_A1_A1", Offset: 0},
		{Cell: "B2_B2_B2_B2", Offset: 128},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteIndex(&buf, entries))
	got, err := ReadIndex(&buf)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestIndexingWriterRecordsOneEntryPerCell(t *testing.T) {
	var buf bytes.Buffer
	iw := NewIndexingWriter(&buf, 6)
	require.NoError(t, iw.Write(rec("A", "AAAA")))
	require.NoError(t, iw.Write(rec("A", "AAAC")))
	require.NoError(t, iw.Write(rec("B", "GGGG")))
	require.NoError(t, iw.Close())

	entries := iw.Index()
	require.Len(t, entries, 2)
	assert.Equal(t, barcode.CellID("A"), entries[0].Cell)
	assert.Equal(t, barcode.CellID("B"), entries[1].Cell)
	assert.Equal(t, int64(0), entries[0].Offset)
}
