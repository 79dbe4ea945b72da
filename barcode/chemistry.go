// Package barcode implements combinatorial-barcode matching: decoding a
// read's embedded cell barcode against an ordered sequence of barcode
// pools, with a fast exact-position lookup and a Hamming-nearest fallback
// scan per pool.
package barcode

import (
	"strings"

	"v.io/x/lib/vlog"
)

// CellID identifies one cell, built by joining the matched member name from
// each pool with "_". Colons and dashes are excluded from member names
// (ReadBarcodeRows rejects them), since the resulting CellID ends up as a
// tabix region label in the container format.
type CellID string

// Mate identifies which paired-end read carries the combinatorial barcode.
type Mate int

const (
	MateR1 Mate = iota
	MateR2
)

// Chemistry is a single-cell barcoding scheme: an ordered list of barcode
// pools, the mate that carries them, and the position of the UMI within
// that same mate.
type Chemistry struct {
	Name string

	// Pools are matched in order; each contributes one name to the CellID.
	Pools []*Pool

	// BarcodeMate is which read (R1 or R2) the pools above are matched
	// against.
	BarcodeMate Mate

	// UMIFrom, UMITo bound the UMI within the barcode mate, as a
	// half-open byte range.
	UMIFrom, UMITo int

	// TrimLen is how many leading bytes of the barcode mate are
	// structural (barcode + any spacer/padding) and should be trimmed
	// before the mate is written out as sequencing payload. The UMI
	// window may lie after TrimLen, inside the trimmed payload.
	TrimLen int

	// FixedTrim marks TrimLen as part of the chemistry's definition
	// (e.g. it includes padding that calibration cannot observe), so
	// Prepare leaves it alone. When unset, Prepare recomputes TrimLen
	// from the calibrated pool anchors.
	FixedTrim bool

	// TotalDistanceCutoff rejects a read if the sum of every pool's match
	// distance exceeds it.
	TotalDistanceCutoff int
	// PartDistanceCutoff, combined with AbortEarly, rejects a read as
	// soon as any single pool's match distance exceeds it, without
	// evaluating the remaining pools.
	PartDistanceCutoff int
	AbortEarly         bool

	// UMICorrector, if set, snaps a decoded UMI to the nearest unambiguous
	// whitelist entry.
	UMICorrector *UMICorrector
}

// NumPools returns the number of barcode pools in the chemistry.
func (c *Chemistry) NumPools() int { return len(c.Pools) }

// DetectResult is the outcome of matching one read against a Chemistry.
type DetectResult struct {
	OK   bool
	Cell CellID
	// PackedIndex is the compact per-pool-member-index encoding: up to 4
	// pool-member indices, one per byte, pool
	// 0 in the lowest byte. Downstream stages that only need to compare
	// and eventually sort by cell can carry this instead of the full Cell
	// string; UnpackCellID recovers the string from it plus the
	// Chemistry's Pools.
	PackedIndex uint32
	Score       int
	UMI         string
	Trimmed     []byte // barcode mate with TrimLen bytes removed
}

// Detect matches barcodeMateSeq (the raw sequence of whichever read carries
// the barcode, per c.BarcodeMate) against every pool in order, accumulating
// a total Hamming-distance score. It aborts early (OK=false, without
// evaluating later pools) if AbortEarly is set and any pool's distance
// exceeds PartDistanceCutoff; otherwise it rejects only after seeing every
// pool's result, if the accumulated total exceeds TotalDistanceCutoff.
func (c *Chemistry) Detect(barcodeMateSeq []byte) DetectResult {
	memberIdx := make([]int, 0, len(c.Pools))
	total := 0
	for _, pool := range c.Pools {
		idx, dist := pool.Detect(barcodeMateSeq)
		if idx < 0 {
			// Read too short for any of the pool's positions: no barcode
			// to decode, so the pair is an ordinary miss.
			return DetectResult{OK: false, Cell: c.cellIDOf(memberIdx), PackedIndex: PackIndex(memberIdx), Score: total}
		}
		memberIdx = append(memberIdx, idx)
		total += dist
		if c.AbortEarly && dist > c.PartDistanceCutoff {
			return DetectResult{OK: false, Cell: c.cellIDOf(memberIdx), PackedIndex: PackIndex(memberIdx), Score: total}
		}
	}
	cell := c.cellIDOf(memberIdx)
	packed := PackIndex(memberIdx)
	if total > c.TotalDistanceCutoff {
		return DetectResult{OK: false, Cell: cell, PackedIndex: packed, Score: total}
	}

	result := DetectResult{OK: true, Cell: cell, PackedIndex: packed, Score: total}
	if c.UMITo > c.UMIFrom && c.UMITo <= len(barcodeMateSeq) {
		umi := string(barcodeMateSeq[c.UMIFrom:c.UMITo])
		if c.UMICorrector != nil {
			if corrected, _, ok := c.UMICorrector.Correct(umi); ok {
				umi = corrected
			}
		}
		result.UMI = umi
	}
	if c.TrimLen <= len(barcodeMateSeq) {
		result.Trimmed = barcodeMateSeq[c.TrimLen:]
	}
	return result
}

// cellIDOf joins each pool's matched member name with "_", the same
// delimiter the original combinatorial-barcode decoder used so that the
// result never contains ':' or '-' (both reserved by tabix region syntax).
func (c *Chemistry) cellIDOf(memberIdx []int) CellID {
	parts := make([]string, len(memberIdx))
	for i, idx := range memberIdx {
		if idx < 0 {
			parts[i] = "?"
			continue
		}
		parts[i] = c.Pools[i].NameOf(idx)
	}
	return CellID(strings.Join(parts, "_"))
}

// PackIndex packs up to 4 per-pool member indices into the compact u32
// cell-index encoding: pool 0's index in the lowest byte, pool 3's in the
// highest. UnpackCellID depends on this byte order; do not reorder it.
func PackIndex(memberIdx []int) uint32 {
	var packed uint32
	for i, idx := range memberIdx {
		if i >= 4 {
			break
		}
		packed |= uint32(byte(idx)) << (uint(i) * 8)
	}
	return packed
}

// UnpackCellID recovers the CellID string a PackedIndex stands for, given
// the same Pools slice (in the same order) Detect was run against.
func UnpackCellID(packed uint32, pools []*Pool) CellID {
	parts := make([]string, len(pools))
	for i, p := range pools {
		if i >= 4 {
			break
		}
		memberIdx := byte(packed >> (uint(i) * 8))
		parts[i] = p.NameOf(int(memberIdx))
	}
	return CellID(strings.Join(parts, "_"))
}

// WarnIfNoScanPositions logs (but does not fail) any pool with no usable
// scan positions; Detect reports every read of that length as a miss
// (OK=false) for such a pool.
func (c *Chemistry) WarnIfNoScanPositions(readLen int) {
	for _, p := range c.Pools {
		usable := false
		for _, pos := range p.ScanPos {
			if pos+p.Width <= readLen {
				usable = true
				break
			}
		}
		if !usable {
			vlog.Errorf("barcode: pool %s has no scan position usable for read length %d", p.Name, readLen)
		}
	}
}
