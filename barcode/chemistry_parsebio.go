package barcode

import "io"

// NewParseBio builds a Parse Biosciences split-pool chemistry: three
// consecutive 8bp combinatorial barcode pools in R2, followed by a UMI of
// the given length. Unlike Atrandi, each round's barcode pool can fall at a
// chemistry-version-dependent offset, so callers normally run Prepare over a
// read sample before using the chemistry in earnest (see Prepare).
//
// barcodeTSV supplies all three rounds' members via the "pos"/"well"/"seq"
// columns shared with ReadBarcodeRows, with "pos" one of "round1", "round2",
// "round3" (in sequencing order, round1 closest to the read start).
func NewParseBio(barcodeTSV io.Reader, umiLen int) (*Chemistry, error) {
	rows, err := ReadBarcodeRows(barcodeTSV)
	if err != nil {
		return nil, err
	}

	roundOrder := []string{"round1", "round2", "round3"}
	pools := map[string]*Pool{}
	for _, name := range roundOrder {
		pools[name] = NewPool(name, atrandiPoolWidth)
	}
	for _, row := range rows {
		p, ok := pools[row.Pos]
		if !ok {
			continue
		}
		p.Add(row.Well, row.Seq)
	}

	chem := &Chemistry{
		Name:                "parse-bio",
		BarcodeMate:         MateR2,
		TotalDistanceCutoff: 4,
		PartDistanceCutoff:  1,
		AbortEarly:          false,
	}
	// Default anchors assume back-to-back rounds with no spacer; Prepare
	// recalibrates these against real data before first use.
	for i, name := range roundOrder {
		p := pools[name]
		p.AnchorPos = i * atrandiPoolWidth
		p.ScanPos = []int{p.AnchorPos}
		chem.Pools = append(chem.Pools, p)
	}
	chem.TrimLen = 3 * atrandiPoolWidth
	chem.UMIFrom = chem.TrimLen
	chem.UMITo = chem.TrimLen + umiLen
	return chem, nil
}
