package container

import (
	"bufio"
	"io"
	"sort"
	"strconv"

	"github.com/grailbio/bascet/barcode"
	"github.com/pkg/errors"
)

// Histogram tallies record counts per cell. The debarcode pipeline keeps
// one per writer thread and Merges them into the final "<out>.hist"
// sidecar.
type Histogram struct {
	counts map[barcode.CellID]int64
}

// NewHistogram returns an empty histogram.
func NewHistogram() *Histogram {
	return &Histogram{counts: map[barcode.CellID]int64{}}
}

// Add increments cell's count by n.
func (h *Histogram) Add(cell barcode.CellID, n int64) {
	h.counts[cell] += n
}

// Merge folds other's counts into h.
func (h *Histogram) Merge(other *Histogram) {
	for cell, n := range other.counts {
		h.counts[cell] += n
	}
}

// Count returns the tally for one cell.
func (h *Histogram) Count(cell barcode.CellID) int64 { return h.counts[cell] }

// Total returns the sum of every cell's count.
func (h *Histogram) Total() int64 {
	var total int64
	for _, n := range h.counts {
		total += n
	}
	return total
}

// Cells returns every cell with a non-zero count, sorted ascending -
// matching the sort order of the container the histogram was derived from.
func (h *Histogram) Cells() []barcode.CellID {
	cells := make([]barcode.CellID, 0, len(h.counts))
	for cell := range h.counts {
		cells = append(cells, cell)
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i] < cells[j] })
	return cells
}

// WriteTo writes the histogram as two tab-separated columns, cell then
// count, one cell per line, in ascending cell order.
func (h *Histogram) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, cell := range h.Cells() {
		if _, err := bw.WriteString(string(cell)); err != nil {
			return err
		}
		if err := bw.WriteByte('\t'); err != nil {
			return err
		}
		if _, err := bw.WriteString(strconv.FormatInt(h.counts[cell], 10)); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadHistogram parses a histogram file written by WriteTo.
func ReadHistogram(r io.Reader) (*Histogram, error) {
	h := NewHistogram()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		tab := -1
		for i := 0; i < len(line); i++ {
			if line[i] == '\t' {
				tab = i
				break
			}
		}
		if tab < 0 {
			return nil, errors.Errorf("container: malformed histogram line %q", line)
		}
		n, err := strconv.ParseInt(line[tab+1:], 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "container: malformed histogram count in line %q", line)
		}
		h.Add(barcode.CellID(line[:tab]), n)
	}
	return h, sc.Err()
}
