package barcode

import (
	"sort"

	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// prepareMaxDistance is the per-member distance cutoff used when scanning
// sample reads for probable barcode positions.
const prepareMaxDistance = 1

// retainFraction keeps a candidate position only if its histogram count
// clears this fraction of the most common position's count.
const retainFraction = 0.8

// Prepare auto-calibrates every pool's position against a sample of real
// barcode-mate reads, replacing the chemistry's best-guess
// construction-time defaults. For each pool it fuzzily scans every sample
// read (distance <= prepareMaxDistance against any member) and histograms
// the offsets of each read's best hits. The most common offset becomes the
// pool's AnchorPos; every offset whose count clears retainFraction of the
// most common count marks out a contiguous window, and ScanPos becomes
// that full window, so Detect's fallback scan covers every position the
// data showed real support for.
//
// Unless the chemistry pins its trim with FixedTrim, the barcode segment's
// trim length is then recomputed as the furthest calibrated barcode end
// (max AnchorPos + Width over all pools), and a UMI window that sat at the
// old trim boundary moves with it.
//
// A pool whose histogram stays empty (no sample read matched any member at
// any offset) keeps its construction-time positions, and Prepare returns an
// error naming that pool: barcode-free input is an operator problem, not
// something to calibrate around.
//
// Prepare mutates chem in place and is not safe to call concurrently with
// Detect.
func Prepare(chem *Chemistry, sample [][]byte) error {
	var noEvidence []string
	for _, pool := range chem.Pools {
		histogram := map[int]int{}
		for _, read := range sample {
			for _, pos := range pool.fuzzyHitPositions(read, prepareMaxDistance) {
				histogram[pos]++
			}
		}
		if len(histogram) == 0 {
			vlog.Errorf("barcode: prepare found no hits for pool %s in %d sample reads", pool.Name, len(sample))
			noEvidence = append(noEvidence, pool.Name)
			continue
		}

		mode, modeCount := modeOf(histogram)
		cutoff := float64(modeCount) * retainFraction
		first, last := mode, mode
		for pos, cnt := range histogram {
			if float64(cnt) > cutoff {
				if pos < first {
					first = pos
				}
				if pos > last {
					last = pos
				}
			}
		}

		if mode != pool.AnchorPos {
			vlog.VI(1).Infof("barcode: pool %s anchor recalibrated %d -> %d (%d/%d sample hits)", pool.Name, pool.AnchorPos, mode, modeCount, len(sample))
		}
		pool.AnchorPos = mode
		scanPos := make([]int, 0, last-first+1)
		for pos := first; pos <= last; pos++ {
			scanPos = append(scanPos, pos)
		}
		pool.ScanPos = scanPos
		vlog.VI(1).Infof("barcode: pool %s scanning positions %d..%d, anchor %d", pool.Name, first, last, mode)
	}
	if len(noEvidence) > 0 {
		return errors.Errorf("barcode: no barcode evidence for pool(s) %v in %d sample reads; check the barcode definition matches the input chemistry", noEvidence, len(sample))
	}

	if !chem.FixedTrim {
		trim := 0
		for _, pool := range chem.Pools {
			if end := pool.AnchorPos + pool.Width; end > trim {
				trim = end
			}
		}
		if chem.UMITo > chem.UMIFrom && chem.UMIFrom >= chem.TrimLen {
			// The UMI window rides directly behind the trimmed barcode
			// segment; keep its offset relative to the new boundary.
			gap := chem.UMIFrom - chem.TrimLen
			umiLen := chem.UMITo - chem.UMIFrom
			chem.UMIFrom = trim + gap
			chem.UMITo = chem.UMIFrom + umiLen
		}
		if trim != chem.TrimLen {
			vlog.VI(1).Infof("barcode: trim length recalibrated %d -> %d", chem.TrimLen, trim)
		}
		chem.TrimLen = trim
	}
	return nil
}

// modeOf returns the histogram's most common position and its count,
// breaking count ties toward the lowest position so repeated runs over the
// same sample always calibrate identically.
func modeOf(histogram map[int]int) (pos, count int) {
	positions := make([]int, 0, len(histogram))
	for p := range histogram {
		positions = append(positions, p)
	}
	sort.Ints(positions)
	pos, count = positions[0], histogram[positions[0]]
	for _, p := range positions[1:] {
		if histogram[p] > count {
			pos, count = p, histogram[p]
		}
	}
	return pos, count
}
