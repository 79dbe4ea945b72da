package container

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/grailbio/bascet/barcode"
	"github.com/pkg/errors"
)

// IndexEntry records where one cell's block run starts in a container file,
// letting a reader seek straight to a cell instead of scanning from the
// start. A pure-Go stand-in for a tabix sidecar, without a runtime
// dependency on an external binary.
type IndexEntry struct {
	Cell   barcode.CellID
	Offset int64 // byte offset of the cell's first block
}

// WriteIndex writes entries (already in the file's cell order) as a compact
// binary sidecar: count(8) then, per entry, cellLen(2) cell offset(8).
func WriteIndex(w io.Writer, entries []IndexEntry) error {
	bw := bufio.NewWriter(w)
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(entries)))
	if _, err := bw.Write(countBuf[:]); err != nil {
		return err
	}
	for _, e := range entries {
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(e.Cell)))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := bw.WriteString(string(e.Cell)); err != nil {
			return err
		}
		var offBuf [8]byte
		binary.LittleEndian.PutUint64(offBuf[:], uint64(e.Offset))
		if _, err := bw.Write(offBuf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadIndex parses a sidecar written by WriteIndex.
func ReadIndex(r io.Reader) ([]IndexEntry, error) {
	br := bufio.NewReader(r)
	var countBuf [8]byte
	if _, err := io.ReadFull(br, countBuf[:]); err != nil {
		return nil, errors.Wrap(err, "container: reading index count")
	}
	count := binary.LittleEndian.Uint64(countBuf[:])
	entries := make([]IndexEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		var lenBuf [2]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			return nil, errors.Wrap(err, "container: reading index entry length")
		}
		cellLen := binary.LittleEndian.Uint16(lenBuf[:])
		cell := make([]byte, cellLen)
		if _, err := io.ReadFull(br, cell); err != nil {
			return nil, errors.Wrap(err, "container: reading index entry cell")
		}
		var offBuf [8]byte
		if _, err := io.ReadFull(br, offBuf[:]); err != nil {
			return nil, errors.Wrap(err, "container: reading index entry offset")
		}
		entries = append(entries, IndexEntry{
			Cell:   barcode.CellID(cell),
			Offset: int64(binary.LittleEndian.Uint64(offBuf[:])),
		})
	}
	return entries, nil
}

// IndexingWriter wraps a Writer and an underlying io.WriteSeeker-like byte
// counter to record one IndexEntry per cell transition as the container is
// written, for WriteIndex to serialize afterward.
type IndexingWriter struct {
	*Writer
	counted  *countingWriter
	entries  []IndexEntry
	lastCell barcode.CellID
	haveCell bool
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// NewIndexingWriter wraps w, tracking cell-to-offset boundaries as records
// are written so Index() can be called after Close().
func NewIndexingWriter(w io.Writer, level int) *IndexingWriter {
	cw := &countingWriter{w: w}
	iw := &IndexingWriter{counted: cw}
	iw.Writer = NewWriter(cw, level)
	return iw
}

// Write delegates to the wrapped Writer, then records an index boundary on
// every cell transition. The boundary is recorded after the delegated call
// so that, when the transition forces the wrapped Writer to flush the prior
// cell's block first, the recorded offset reflects where the new cell's own
// block actually begins rather than where the prior one did.
func (iw *IndexingWriter) Write(r Record) error {
	isNewCell := !iw.haveCell || r.Cell != iw.lastCell
	if err := iw.Writer.Write(r); err != nil {
		return err
	}
	if isNewCell {
		iw.entries = append(iw.entries, IndexEntry{Cell: r.Cell, Offset: iw.counted.n})
		iw.lastCell, iw.haveCell = r.Cell, true
	}
	return nil
}

// Index returns the accumulated index entries. Call after Close.
func (iw *IndexingWriter) Index() []IndexEntry { return iw.entries }

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// BuildIndex scans a container file block by block (without inflating any
// payload) and records one IndexEntry per cell transition, for producing an
// index sidecar after a merge that didn't build one incrementally (Merge
// itself has no Writer to hook into; see debarcode's mergesort phase).
func BuildIndex(r io.Reader) ([]IndexEntry, error) {
	cr := &countingReader{r: r}
	var entries []IndexEntry
	var lastCell barcode.CellID
	haveCell := false
	for {
		off := cr.n
		b, err := readBlock(cr)
		if err != nil {
			if err == io.EOF {
				return nil, errors.New("container: truncated file, missing EOF marker block")
			}
			return nil, err
		}
		if b.eof {
			return entries, nil
		}
		cell := barcode.CellID(b.cell)
		if !haveCell || cell != lastCell {
			entries = append(entries, IndexEntry{Cell: cell, Offset: off})
			lastCell, haveCell = cell, true
		}
	}
}
