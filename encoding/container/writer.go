package container

import (
	"bufio"
	"bytes"
	"io"

	"github.com/grailbio/bascet/barcode"
	"github.com/pkg/errors"
)

// DefaultMaxBlockBytes bounds how much uncompressed payload accumulates in
// one block before Writer flushes early, even mid-cell. A real single-cell
// library prep rarely puts more than this in one cell, but the bound keeps
// a pathological input from building one unbounded in-memory block.
const DefaultMaxBlockBytes = 1 << 22 // 4 MiB

// Writer emits the cell-sorted, block-compressed container format: every
// compressed block holds records for exactly one cell, so a consumer can
// reconstruct or skip whole blocks of a cell's reads without inflating
// anyone else's.
//
// Records must be supplied in non-decreasing Cell order; Writer enforces
// this so a caller bug can't silently fragment one cell's reads across
// non-adjacent blocks.
type Writer struct {
	w     io.Writer
	level int

	curCell    barcode.CellID
	haveCell   bool
	buf        bytes.Buffer
	lineWriter *bufio.Writer

	hist *Histogram

	err error
}

// NewWriter creates a Writer at the given deflate compression level
// (0..9; see klauspost/compress/flate).
func NewWriter(w io.Writer, level int) *Writer {
	cw := &Writer{w: w, level: level, hist: NewHistogram()}
	cw.lineWriter = bufio.NewWriter(&cw.buf)
	return cw
}

// Histogram returns the running cell -> record-count histogram accumulated
// across every record written so far.
func (cw *Writer) Histogram() *Histogram { return cw.hist }

// Write appends one record. Cell must be >= the previous record's Cell,
// byte-wise; Writer flushes the current block whenever Cell changes.
func (cw *Writer) Write(r Record) error {
	if cw.err != nil {
		return cw.err
	}
	if cw.haveCell && r.Cell < cw.curCell {
		cw.err = errors.Errorf("container: writer received out-of-order cell %q after %q", r.Cell, cw.curCell)
		return cw.err
	}
	if cw.haveCell && r.Cell != cw.curCell {
		if err := cw.flushBlock(); err != nil {
			return err
		}
	}
	cw.curCell = r.Cell
	cw.haveCell = true
	cw.hist.Add(r.Cell, 1)

	if err := r.WriteTo(cw.lineWriter); err != nil {
		cw.err = errors.Wrap(err, "container: buffering record")
		return cw.err
	}
	if err := cw.lineWriter.Flush(); err != nil {
		cw.err = err
		return cw.err
	}
	if cw.buf.Len() >= DefaultMaxBlockBytes {
		return cw.flushBlock()
	}
	return nil
}

// flushBlock compresses and writes out whatever payload is currently
// buffered for the current cell, then resets for the next one. The
// compressed stream's only BFINAL lives in its trailing deflateFinalMarker
// (see deflateBlock), so a merge that coalesces several content blocks
// (see merge.go) clears it by stripping those 5 bytes, never by reparsing
// compressed data.
func (cw *Writer) flushBlock() error {
	if cw.buf.Len() == 0 {
		return nil
	}
	payload := append([]byte(nil), cw.buf.Bytes()...)
	comp, err := deflateBlock(payload, cw.level)
	if err != nil {
		cw.err = err
		return err
	}
	b := block{
		cell:       []byte(cw.curCell),
		uncompLen:  len(payload),
		compressed: comp,
	}
	if err := writeBlock(cw.w, b); err != nil {
		cw.err = err
		return err
	}
	cw.buf.Reset()
	return nil
}

// Close flushes any buffered block and writes the terminal EOF marker. A
// Writer must not be used after Close.
func (cw *Writer) Close() error {
	if cw.err != nil {
		return cw.err
	}
	if err := cw.flushBlock(); err != nil {
		return err
	}
	return writeBlock(cw.w, eofBlock())
}
