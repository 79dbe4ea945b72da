package fastq

import (
	"bufio"
	"io"
)

// SampleSeqs reads up to n records from a FASTQ stream and returns copies
// of their sequence lines. It exists for the barcode-position calibration
// pass, which needs a small bounded sample of real reads up front and no
// arena machinery behind it; the record-at-a-time hot path stays on
// ArenaScanner.
func SampleSeqs(r io.Reader, n int) ([][]byte, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	seqs := make([][]byte, 0, n)
	for len(seqs) < n {
		if !sc.Scan() {
			break // clean EOF between records
		}
		id := sc.Bytes()
		if len(id) == 0 || id[0] != '@' {
			return nil, ErrInvalid
		}
		if !sc.Scan() {
			return nil, ErrShort
		}
		seqs = append(seqs, append([]byte(nil), sc.Bytes()...))
		if !sc.Scan() {
			return nil, ErrShort
		}
		if unk := sc.Bytes(); len(unk) == 0 || unk[0] != '+' {
			return nil, ErrInvalid
		}
		if !sc.Scan() {
			return nil, ErrShort
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return seqs, nil
}
