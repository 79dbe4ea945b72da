// Package container implements bascet-go's cell-sorted, block-compressed
// container format: the on-disk representation debarcoded read pairs are
// written to, in compressed blocks that each hold a single cell (a large
// cell spans several consecutive blocks), readable either sequentially
// or by seeking directly to a cell via the accompanying index.
package container

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/grailbio/bascet/barcode"
	"github.com/pkg/errors"
)

// Record is one debarcoded read pair, tagged with the cell it was assigned
// to. It is the container format's logical unit; physically, consecutive
// Records for the same Cell are packed into blocks holding only that Cell,
// split when a block reaches the Writer's size bound.
type Record struct {
	Cell barcode.CellID
	R1   []byte
	R2   []byte
	Q1   []byte
	Q2   []byte
	UMI  string
}

// WriteTo appends the record as one tab-separated line, matching the
// classic layout: cell, R1 length tag, R2 length tag, R1 seq, R2 seq, Q1,
// Q2, UMI. The length tags exist so a reader can validate a record without
// scanning for the next tab, and so truncated records are detected early.
func (r Record) WriteTo(w *bufio.Writer) error {
	if _, err := w.WriteString(string(r.Cell)); err != nil {
		return err
	}
	fields := [][]byte{
		[]byte(strconv.Itoa(len(r.R1))),
		[]byte(strconv.Itoa(len(r.R2))),
		r.R1,
		r.R2,
		r.Q1,
		r.Q2,
		[]byte(r.UMI),
	}
	for _, f := range fields {
		if err := w.WriteByte('\t'); err != nil {
			return err
		}
		if _, err := w.Write(f); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}

// ParseRecord parses one line written by WriteTo.
func ParseRecord(line string) (Record, error) {
	line = strings.TrimSuffix(line, "\n")
	parts := strings.Split(line, "\t")
	if len(parts) != 8 {
		return Record{}, errors.Errorf("container: malformed record line, want 8 tab-separated fields, got %d", len(parts))
	}
	r1Len, err := strconv.Atoi(parts[1])
	if err != nil {
		return Record{}, errors.Wrap(err, "container: parsing r1 length tag")
	}
	r2Len, err := strconv.Atoi(parts[2])
	if err != nil {
		return Record{}, errors.Wrap(err, "container: parsing r2 length tag")
	}
	if len(parts[3]) != r1Len || len(parts[4]) != r2Len {
		return Record{}, errors.Errorf("container: length tag mismatch: r1 tag=%d actual=%d, r2 tag=%d actual=%d",
			r1Len, len(parts[3]), r2Len, len(parts[4]))
	}
	return Record{
		Cell: barcode.CellID(parts[0]),
		R1:   []byte(parts[3]),
		R2:   []byte(parts[4]),
		Q1:   []byte(parts[5]),
		Q2:   []byte(parts[6]),
		UMI:  parts[7],
	}, nil
}
