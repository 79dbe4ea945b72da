package fastq

import "io"

var newline = []byte{'\n'}

// Writer emits FASTQ records from raw byte-slice fields, so arena-backed
// reads can be written back out (e.g. the salvage path for pairs that
// failed to debarcode) without converting each field to a string first.
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter constructs a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends one record from its four raw field lines. The first write
// error is retained and returned by every subsequent call.
func (w *Writer) Write(id, seq, unk, qual []byte) error {
	w.writeln(id)
	w.writeln(seq)
	w.writeln(unk)
	w.writeln(qual)
	return w.err
}

// WriteRead appends one arena-backed record. The record's slices are only
// read, never retained, so the caller may release it as soon as WriteRead
// returns.
func (w *Writer) WriteRead(r *ArenaRead) error {
	return w.Write(r.ID, r.Seq, r.Unk, r.Qual)
}

func (w *Writer) writeln(line []byte) {
	if w.err != nil {
		return
	}
	if _, w.err = w.w.Write(line); w.err == nil {
		_, w.err = w.w.Write(newline)
	}
}
