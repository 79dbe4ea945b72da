// Package fastq reads and writes FASTQ streams for the debarcode pipeline.
// The read path is arena-backed throughout: ArenaScanner slices records
// directly out of arena-allocated pages, avoiding a per-field allocation on
// every read of what can be a billion-record input. The only non-arena
// entry point is SampleSeqs, which copies a small bounded sample of
// sequence lines for barcode-position calibration.
package fastq

import (
	"bytes"
	"errors"
	"io"

	"github.com/grailbio/bascet/arena"
)

var (
	// ErrShort is returned when a truncated FASTQ record is encountered.
	ErrShort = errors.New("fastq: truncated record")
	// ErrInvalid is returned when a record's structure lines ('@' ID, '+'
	// separator) are malformed.
	ErrInvalid = errors.New("fastq: invalid record")
	// ErrDiscordant is returned when one mate stream ends before the
	// other: the input file pair does not belong together.
	ErrDiscordant = errors.New("fastq: discordant mate streams")
	// ErrLineTooLong is returned when a single FASTQ line doesn't fit
	// within one arena page, so ArenaScanner has no room to carry it
	// forward intact. Raise Budget.ReaderPageBytes if this occurs on real
	// input.
	ErrLineTooLong = errors.New("fastq: line exceeds arena page size")
)

// ArenaRead is one FASTQ record whose four fields are byte slices into one
// or more arena pages, rather than independently heap-allocated strings.
// A record's slices are valid until Release is called, independent of how
// many later records the scanner has since produced.
//
// Each ArenaRead obtained from ArenaScanner.Scan must either be Released
// or have its holds moved out with TakeOwners (as debarcode's debarcodeOne
// does on a match, into a debarcodedRecord). A Release after TakeOwners,
// or a second Release, is a no-op.
type ArenaRead struct {
	ID, Seq, Unk, Qual []byte
	owners             []arena.Slice
}

// Release drops every arena hold this record took. Safe to call on a
// zero-value ArenaRead.
func (r *ArenaRead) Release() {
	for _, o := range r.owners {
		o.Release()
	}
	r.owners = nil
}

// TakeOwners transfers this record's arena holds to the caller, clearing
// them from r so a later r.Release() is a no-op. Used when a record's bytes
// are being forwarded into a longer-lived structure (e.g. a
// debarcode.debarcodedRecord) instead of released outright.
func (r *ArenaRead) TakeOwners() []arena.Slice {
	owners := r.owners
	r.owners = nil
	return owners
}

// ArenaScanner is the package's FASTQ record scanner: it decodes
// decompressed input into pages drawn from an arena.Pool, one page quantum
// at a time, and scans FASTQ records whose fields reference those pages
// directly.
//
// A line that doesn't fit in the remainder of the current page is the one
// case ArenaScanner copies bytes rather than slicing them: fill carries the
// unconsumed tail of the old page forward into the new one before reading
// more, so a record's own four fields are still simple contiguous []byte
// values instead of a multi-part "rope". Records whose lines land in
// different pages (the common case, once per page refill rather than once
// per record) still reference every page they touch, each with its own
// arena.Slice clone in owners.
type ArenaScanner struct {
	r        io.Reader
	pool     *arena.Pool
	pageSize int

	cur     arena.Slice
	haveCur bool
	buf     []byte
	pos     int
	eof     bool
	err     error
}

// NewArenaScanner wraps r, reading pageSize-byte pages from pool as needed.
func NewArenaScanner(r io.Reader, pool *arena.Pool, pageSize int) *ArenaScanner {
	return &ArenaScanner{r: r, pool: pool, pageSize: pageSize}
}

// Err returns the scanning error, if any. Should be checked once Scan
// returns false.
func (s *ArenaScanner) Err() error { return s.err }

// Close releases the scanner's own hold on its current page. Records
// already scanned keep their pages alive through their own clones. Must be
// called once scanning is finished or the page's arena can never be reset.
func (s *ArenaScanner) Close() {
	if s.haveCur {
		s.cur.Release()
		s.haveCur = false
		s.buf = nil
	}
}

// fill reads the next page, carrying forward any bytes left over from an
// in-progress line so no line ends up split across two pages. Releases the
// scanner's own hold on the prior page once its tail has been copied out;
// any ArenaRead already built from that page keeps it alive via its own
// clone.
func (s *ArenaScanner) fill() bool {
	if s.eof {
		return false
	}
	next := s.pool.Alloc(s.pageSize)
	nb := next.Bytes()
	n := 0
	if s.haveCur {
		carry := s.buf[s.pos:]
		if len(carry) >= s.pageSize {
			s.err = ErrLineTooLong
			next.Release()
			return false
		}
		n = copy(nb, carry)
	}
	m, err := io.ReadFull(s.r, nb[n:])
	total := n + m
	if err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			s.eof = true
		} else {
			s.err = err
			next.Release()
			return false
		}
	}
	if total == 0 {
		next.Release()
		return false
	}
	if s.haveCur {
		s.cur.Release()
	}
	s.cur = next
	s.haveCur = true
	s.buf = nb[:total]
	s.pos = 0
	return true
}

// scanLine returns the next newline-terminated line (without the newline),
// refilling pages as needed. The line is always a slice into whatever page
// is current (s.cur) when scanLine returns.
func (s *ArenaScanner) scanLine() ([]byte, bool) {
	for {
		if s.haveCur {
			if idx := bytes.IndexByte(s.buf[s.pos:], '\n'); idx >= 0 {
				line := s.buf[s.pos : s.pos+idx]
				s.pos += idx + 1
				return line, true
			}
			if s.eof {
				if s.pos < len(s.buf) {
					line := s.buf[s.pos:]
					s.pos = len(s.buf)
					return line, true
				}
				return nil, false
			}
		}
		if !s.fill() {
			return nil, false
		}
	}
}

// takeLine reads one line into dst's growing owner list, cloning whichever
// page it came from.
func (s *ArenaScanner) takeLine(dst *ArenaRead) ([]byte, bool) {
	line, ok := s.scanLine()
	if !ok {
		return nil, false
	}
	dst.owners = append(dst.owners, s.cur.Clone())
	return line, true
}

// Scan reads the next record into dst, returning false at EOF or on error
// (check Err to distinguish). dst is reset (its prior owners released) on
// every call. Once Scan returns false, it never returns true again.
func (s *ArenaScanner) Scan(dst *ArenaRead) bool {
	if s.err != nil {
		return false
	}
	dst.Release()

	id, ok := s.takeLine(dst)
	if !ok {
		return false
	}
	if len(id) == 0 || id[0] != '@' {
		s.err = ErrInvalid
		dst.Release()
		return false
	}
	dst.ID = id

	seq, ok := s.takeLine(dst)
	if !ok {
		s.err = ErrShort
		dst.Release()
		return false
	}
	dst.Seq = seq

	unk, ok := s.takeLine(dst)
	if !ok {
		s.err = ErrShort
		dst.Release()
		return false
	}
	if len(unk) == 0 || unk[0] != '+' {
		s.err = ErrInvalid
		dst.Release()
		return false
	}
	dst.Unk = unk

	qual, ok := s.takeLine(dst)
	if !ok {
		s.err = ErrShort
		dst.Release()
		return false
	}
	dst.Qual = qual

	return true
}

// ArenaPairScanner zips a pair of ArenaScanners into a strict lockstep zip
// of (R1 record, R2 record), where a
// one-sided EOF means the input files are mismatched and is an error.
type ArenaPairScanner struct {
	r1, r2 *ArenaScanner
	err    error
}

// NewArenaPairScanner creates a pair scanner from two already-constructed
// ArenaScanners, one per mate stream.
func NewArenaPairScanner(r1, r2 *ArenaScanner) *ArenaPairScanner {
	return &ArenaPairScanner{r1: r1, r2: r2}
}

// Scan reads the next pair into a, b. On a one-sided EOF it releases
// whichever side did succeed and returns false with Err() == ErrDiscordant.
func (p *ArenaPairScanner) Scan(a, b *ArenaRead) bool {
	ok1 := p.r1.Scan(a)
	ok2 := p.r2.Scan(b)
	if ok1 != ok2 {
		p.err = ErrDiscordant
		if ok1 {
			a.Release()
		}
		if ok2 {
			b.Release()
		}
		return false
	}
	return ok1 && ok2
}

// Close releases both underlying scanners' page holds.
func (p *ArenaPairScanner) Close() {
	p.r1.Close()
	p.r2.Close()
}

// Err returns the scanning error, if any, checked after Scan returns false.
func (p *ArenaPairScanner) Err() error {
	if err := p.r1.Err(); err != nil {
		return err
	}
	if err := p.r2.Err(); err != nil {
		return err
	}
	return p.err
}
