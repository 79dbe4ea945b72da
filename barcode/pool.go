package barcode

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Pool is one position in a combinatorial barcode: an enumerated set of
// known members (name + sequence), an anchor position where an exact match
// is tried first, and a set of fallback positions scanned when the anchor
// doesn't match exactly.
type Pool struct {
	Name string

	names   []string
	seqs8   []uint32 // populated when Width==8
	seqs16  []uint64 // populated when Width==16
	exact   map[uint32]int
	exact16 map[uint64]int

	// Width is the barcode length in bases: 8 or 16.
	Width int

	// AnchorPos is the 0-based offset into the read where an exact lookup
	// is tried first.
	AnchorPos int
	// ScanPos lists every offset (AnchorPos included or not) where a
	// Hamming-nearest fallback scan is performed if the anchor misses.
	ScanPos []int
}

// NewPool creates an empty pool of the given member width (8 or 16 bases).
func NewPool(name string, width int) *Pool {
	if width != 8 && width != 16 {
		panic(fmt.Sprintf("barcode: unsupported pool width %d", width))
	}
	return &Pool{
		Name:    name,
		Width:   width,
		exact:   map[uint32]int{},
		exact16: map[uint64]int{},
	}
}

// Add registers one member sequence under the given name.
func (p *Pool) Add(name, seq string) {
	if len(seq) != p.Width {
		panic(fmt.Sprintf("barcode: pool %s member %s has length %d, want %d", p.Name, name, len(seq), p.Width))
	}
	idx := len(p.names)
	p.names = append(p.names, name)
	if p.Width == 8 {
		packed := encode8bp([]byte(seq))
		p.seqs8 = append(p.seqs8, packed)
		p.exact[packed] = idx
	} else {
		packed := encode16bp([]byte(seq))
		p.seqs16 = append(p.seqs16, packed)
		p.exact16[packed] = idx
	}
}

// Len returns the number of members registered in the pool.
func (p *Pool) Len() int { return len(p.names) }

// NameOf returns the member name at index i, as produced by Detect.
func (p *Pool) NameOf(i int) string { return p.names[i] }

// Detect returns the index of the closest matching member in read, and its
// Hamming distance. It first tries an exact lookup at AnchorPos; failing
// that, it scans every ScanPos position, returning as soon as an exact hit
// is found, else the single closest hit across all scanned positions.
//
// A read too short for every configured position returns index -1: such a
// read carries no decodable barcode, which is an ordinary per-read miss
// (truncated reads do occur in real input), not a caller error.
func (p *Pool) Detect(read []byte) (index int, distance int) {
	if p.AnchorPos+p.Width <= len(read) {
		if i, ok := p.lookupExact(read[p.AnchorPos : p.AnchorPos+p.Width]); ok {
			return i, 0
		}
	}

	bestIndex, bestDist := -1, 1<<30
	for _, pos := range p.ScanPos {
		if pos+p.Width > len(read) {
			continue
		}
		window := read[pos : pos+p.Width]
		var i, d int
		if p.Width == 8 {
			i, d = closestByHamming32(encode8bp(window), p.seqs8)
		} else {
			i, d = closestByHamming64(encode16bp(window), p.seqs16)
		}
		if d == 0 {
			return i, 0
		}
		if d < bestDist {
			bestIndex, bestDist = i, d
		}
	}
	return bestIndex, bestDist
}

// fuzzyHitPositions scans every window of read and returns the offsets at
// which some member matches within maxDist, keeping only the offsets that
// achieve the read's overall minimum distance. Used by Prepare to build the
// per-pool position histogram from sample reads.
func (p *Pool) fuzzyHitPositions(read []byte, maxDist int) []int {
	bestDist := maxDist + 1
	var hits []int
	for pos := 0; pos+p.Width <= len(read); pos++ {
		window := read[pos : pos+p.Width]
		var d int
		if p.Width == 8 {
			_, d = closestByHamming32(encode8bp(window), p.seqs8)
		} else {
			_, d = closestByHamming64(encode16bp(window), p.seqs16)
		}
		if d > maxDist || d > bestDist {
			continue
		}
		if d < bestDist {
			bestDist = d
			hits = hits[:0]
		}
		hits = append(hits, pos)
	}
	return hits
}

func (p *Pool) lookupExact(window []byte) (int, bool) {
	if p.Width == 8 {
		i, ok := p.exact[encode8bp(window)]
		return i, ok
	}
	i, ok := p.exact16[encode16bp(window)]
	return i, ok
}

// BarcodeRow is one row of a tab-separated barcode definition file, matching
// the column layout pos/well/seq used by chemistry barcode lists.
type BarcodeRow struct {
	Pos  string
	Well string
	Seq  string
}

// ReadBarcodeRows parses a tab-separated barcode definition file with header
// columns "pos", "well", "seq". A well name containing ':' or '-' is an
// error, since it would end up inside a CellID.
func ReadBarcodeRows(r io.Reader) ([]BarcodeRow, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "reading barcode rows")
	}
	if len(records) == 0 {
		return nil, errors.New("empty barcode file")
	}
	header := records[0]
	col := map[string]int{}
	for i, h := range header {
		col[h] = i
	}
	for _, want := range []string{"pos", "well", "seq"} {
		if _, ok := col[want]; !ok {
			return nil, errors.Errorf("barcode file missing column %q", want)
		}
	}
	rows := make([]BarcodeRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		if well := rec[col["well"]]; strings.ContainsAny(well, ":-") {
			return nil, errors.Errorf("barcode name %q contains ':' or '-'", well)
		}
		rows = append(rows, BarcodeRow{
			Pos:  rec[col["pos"]],
			Well: rec[col["well"]],
			Seq:  rec[col["seq"]],
		})
	}
	return rows, nil
}
