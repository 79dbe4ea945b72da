package container

import (
	"bufio"
	"bytes"
	"io"

	"github.com/grailbio/bascet/barcode"
	"github.com/pkg/errors"
)

// Reader reads a container file sequentially, record by record, inflating
// one block at a time. It verifies each block's cell never decreases, since
// the container format is defined to be cell-sorted.
type Reader struct {
	r io.Reader

	curBlockLines *bufio.Scanner
	curCell       barcode.CellID
	lastCell      barcode.CellID
	haveLast      bool
	done          bool
}

// NewReader wraps r, a container file stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next record, or io.EOF once the file's EOF marker block
// has been consumed.
func (cr *Reader) Next() (Record, error) {
	for {
		if cr.curBlockLines != nil {
			if cr.curBlockLines.Scan() {
				rec, err := ParseRecord(cr.curBlockLines.Text())
				if err != nil {
					return Record{}, err
				}
				rec.Cell = cr.curCell
				return rec, nil
			}
			if err := cr.curBlockLines.Err(); err != nil {
				return Record{}, errors.Wrap(err, "container: reading block payload")
			}
			cr.curBlockLines = nil
		}
		if cr.done {
			return Record{}, io.EOF
		}
		b, err := readBlock(cr.r)
		if err != nil {
			if err == io.EOF {
				return Record{}, errors.New("container: truncated file, missing EOF marker block")
			}
			return Record{}, err
		}
		if b.eof {
			cr.done = true
			continue
		}
		cell := barcode.CellID(b.cell)
		if cr.haveLast && cell < cr.lastCell {
			return Record{}, errors.Errorf("container: cell order violated: %q after %q", cell, cr.lastCell)
		}
		cr.lastCell, cr.haveLast = cell, true
		cr.curCell = cell

		payload, err := inflateBlock(b)
		if err != nil {
			return Record{}, err
		}
		cr.curBlockLines = bufio.NewScanner(bytes.NewReader(payload))
		cr.curBlockLines.Buffer(make([]byte, 0, 64*1024), 16<<20)
	}
}

// ReadAll drains the reader into a slice, for tests and small files.
func ReadAll(r io.Reader) ([]Record, error) {
	cr := NewReader(r)
	var out []Record
	for {
		rec, err := cr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
