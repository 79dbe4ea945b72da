package barcode

import "io"

// atrandiPoolWidth is the width, in bases, of each of the four Atrandi WGS
// barcode pools.
const atrandiPoolWidth = 8

// atrandiSpacerLen is the length of the constant spacer sequence between
// consecutive barcode pools in the Atrandi WGS read layout.
const atrandiSpacerLen = 4

// atrandiUMILen is the UMI length, taken from the bases directly after the
// trimmed barcode region.
const atrandiUMILen = 8

// NewAtrandiWGS builds the Atrandi whole-genome-sequencing chemistry: four
// 8bp barcode pools spaced 12bp apart (8bp barcode + 4bp spacer) at the start
// of R2, an 8bp UMI directly after the trimmed barcode region, and a trim
// length that removes the full barcode region (including a 2bp pad for the
// poly-dA tail) from R2 before it's written out.
//
// barcodeTSV supplies the four pools' members via the "pos"/"well"/"seq"
// columns shared with ReadBarcodeRows; "pos" groups rows into pools in the
// order they're first seen, matching the anchor ordering below.
func NewAtrandiWGS(barcodeTSV io.Reader) (*Chemistry, error) {
	rows, err := ReadBarcodeRows(barcodeTSV)
	if err != nil {
		return nil, err
	}

	pools := map[string]*Pool{}
	order := []string{}
	for _, row := range rows {
		p, ok := pools[row.Pos]
		if !ok {
			p = NewPool(row.Pos, atrandiPoolWidth)
			pools[row.Pos] = p
			order = append(order, row.Pos)
		}
		p.Add(row.Well, row.Seq)
	}

	// 4 pools * (8bp barcode + 4bp spacer), plus 2bp to clear the poly-dA
	// tail left by the Atrandi bead chemistry.
	trimLen := 4*(atrandiPoolWidth+atrandiSpacerLen) + 2
	chem := &Chemistry{
		Name:        "atrandi-wgs",
		BarcodeMate: MateR2,
		UMIFrom:     trimLen,
		UMITo:       trimLen + atrandiUMILen,
		TrimLen:     trimLen,
		// The trailing spacer and dA pad follow the last barcode, so the
		// trim can't be derived from calibrated anchors alone.
		FixedTrim:           true,
		TotalDistanceCutoff: 1,
		PartDistanceCutoff:  1,
		AbortEarly:          false,
	}
	for i, pos := range order {
		p := pools[pos]
		p.AnchorPos = i * (atrandiPoolWidth + atrandiSpacerLen)
		p.ScanPos = []int{p.AnchorPos}
		chem.Pools = append(chem.Pools, p)
	}
	return chem, nil
}
