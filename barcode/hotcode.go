package barcode

import "math/bits"

// Hot-encoding packs each base of a barcode sequence into 4 bits (one-hot
// over A/T/G/C), with N mapped to 0 so it carries equal Hamming distance to
// every base. Packing two hot-encoded bases per byte via nt2Lookup lets an
// 8bp barcode fit in a uint32 and a 16bp barcode fit in a uint64, and turns
// Hamming distance into a single population-count of the bitwise AND.

var nt1Lookup [256]byte

func init() {
	nt1Lookup['A'] = 0b1000
	nt1Lookup['T'] = 0b0100
	nt1Lookup['G'] = 0b0010
	nt1Lookup['C'] = 0b0001
	// N, and anything else, stays 0: equidistant from every base.
}

// nt2Lookup maps a pair of bases, packed as concat(b0,b1) uint16, to a single
// byte holding both bases' 4-bit hot codes.
var nt2Lookup [256 * 256]byte

func init() {
	for n1 := 0; n1 < 256; n1++ {
		for n2 := 0; n2 < 256; n2++ {
			idx := concatU8U16(byte(n1), byte(n2))
			nt2Lookup[idx] = (nt1Lookup[n1] << 4) | nt1Lookup[n2]
		}
	}
}

func concatU8U16(a, b byte) uint16 {
	return uint16(b)<<8 | uint16(a)
}

// encode8bp hot-encodes an 8-base sequence into a uint32, 4 bits per base.
func encode8bp(seq []byte) uint32 {
	_ = seq[7]
	b0 := nt2Lookup[concatU8U16(seq[0], seq[1])]
	b1 := nt2Lookup[concatU8U16(seq[2], seq[3])]
	b2 := nt2Lookup[concatU8U16(seq[4], seq[5])]
	b3 := nt2Lookup[concatU8U16(seq[6], seq[7])]
	return uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16 | uint32(b3)<<24
}

// encode16bp hot-encodes a 16-base sequence into a uint64, 4 bits per base.
func encode16bp(seq []byte) uint64 {
	_ = seq[15]
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = nt2Lookup[concatU8U16(seq[2*i], seq[2*i+1])]
	}
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

// hammingDistance32 returns the Hamming distance between two 8bp hot-encoded
// barcodes: not XOR-popcount, but 8 minus the count of positions where both
// operands agree (popcount of the bitwise AND).
func hammingDistance32(a, b uint32) int {
	return 8 - popcount32(a&b)
}

// hammingDistance64 returns the Hamming distance between two 16bp
// hot-encoded barcodes.
func hammingDistance64(a, b uint64) int {
	return 16 - popcount64(a&b)
}

func popcount32(x uint32) int { return bits.OnesCount32(x) }

func popcount64(x uint64) int { return bits.OnesCount64(x) }

// closestByHamming32 returns the index into candidates of the entry closest
// to query by hammingDistance32, and that distance. It returns as soon as it
// finds an exact match.
func closestByHamming32(query uint32, candidates []uint32) (index int, distance int) {
	best := -1
	bestDist := 1 << 30
	for i, c := range candidates {
		d := hammingDistance32(query, c)
		if d < bestDist {
			best, bestDist = i, d
			if d == 0 {
				break
			}
		}
	}
	return best, bestDist
}

// closestByHamming64 is the 16bp analogue of closestByHamming32.
func closestByHamming64(query uint64, candidates []uint64) (index int, distance int) {
	best := -1
	bestDist := 1 << 30
	for i, c := range candidates {
		d := hammingDistance64(query, c)
		if d < bestDist {
			best, bestDist = i, d
			if d == 0 {
				break
			}
		}
	}
	return best, bestDist
}
