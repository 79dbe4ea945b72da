package barcode

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// UMICorrector snaps a raw UMI to a whitelist of known UMIs. UMIs here are
// short fixed-length tags read at a fixed offset of the barcode mate, so
// correction runs on the same hot-encoding the barcode pools match with:
// the distance between a raw UMI and a whitelist entry is
// k - popcount(rawCode & knownCode), which treats an N as maximally
// distant from every base. A raw UMI snaps only when exactly one whitelist
// entry is strictly closest to it; a tie leaves it uncorrected, since
// picking a winner would assign reads to the wrong molecule.
type UMICorrector struct {
	k     int
	names []string
	codes []uint64
}

// NewUMICorrector builds a corrector from a whitelist: one UMI per line
// over A/C/G/T, all the same length (at most 16 bases), blank lines
// skipped, case-insensitive.
func NewUMICorrector(whitelist io.Reader) (*UMICorrector, error) {
	c := &UMICorrector{k: -1}
	sc := bufio.NewScanner(whitelist)
	for sc.Scan() {
		umi := strings.ToUpper(strings.TrimSpace(sc.Text()))
		if umi == "" {
			continue
		}
		if c.k < 0 {
			if len(umi) > 16 {
				return nil, errors.Errorf("barcode: whitelist umi %s is longer than 16 bases", umi)
			}
			c.k = len(umi)
		}
		if len(umi) != c.k {
			return nil, errors.Errorf("barcode: whitelist umi %s has length %d, others have length %d", umi, len(umi), c.k)
		}
		for i := 0; i < len(umi); i++ {
			if nt1Lookup[umi[i]] == 0 {
				return nil, errors.Errorf("barcode: invalid base %c in whitelist umi %s", umi[i], umi)
			}
		}
		c.names = append(c.names, umi)
		c.codes = append(c.codes, encodeHot(umi))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "barcode: reading umi whitelist")
	}
	if c.k < 0 {
		return nil, errors.New("barcode: empty umi whitelist")
	}
	return c, nil
}

// encodeHot hot-encodes a sequence of up to 16 bases, 4 bits per base in
// read order, lowest nibble first. Unlike the pools' fixed-width encoders
// it takes any length, since whitelists aren't restricted to 8 or 16bp.
func encodeHot(seq string) uint64 {
	var code uint64
	for i := 0; i < len(seq); i++ {
		code |= uint64(nt1Lookup[seq[i]]) << (4 * uint(i))
	}
	return code
}

// Correct returns the snapped UMI, its distance to the raw one, and
// whether anything changed. A raw UMI of the wrong length, or one
// equidistant from two or more whitelist entries, passes through
// uncorrected with distance -1.
func (c *UMICorrector) Correct(umi string) (correctedUMI string, distance int, corrected bool) {
	if len(umi) != c.k {
		return umi, -1, false
	}
	query := encodeHot(strings.ToUpper(umi))
	bestIdx, bestDist, ties := -1, c.k+1, 0
	for i, code := range c.codes {
		d := c.k - popcount64(query&code)
		if d < bestDist {
			bestIdx, bestDist, ties = i, d, 1
		} else if d == bestDist {
			ties++
		}
	}
	if ties != 1 {
		return umi, -1, false
	}
	return c.names[bestIdx], bestDist, c.names[bestIdx] != umi
}
