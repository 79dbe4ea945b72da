package fastq

import (
	"bytes"
	"strings"
	"testing"

	"github.com/grailbio/bascet/arena"
)

func arenaScanner(s string, pageSize int) *ArenaScanner {
	pool := arena.NewPool(8*pageSize, pageSize)
	return NewArenaScanner(bytes.NewReader([]byte(s)), pool, pageSize)
}

func TestArenaFASTQ(t *testing.T) {
	s := arenaScanner(fq, 1<<16)
	var r ArenaRead
	if !s.Scan(&r) {
		t.Fatal(s.Err())
	}
	if got, want := string(r.ID), fqReads[0].ID; got != want {
		t.Errorf("got ID %q, want %q", got, want)
	}
	if got, want := string(r.Seq), fqReads[0].Seq; got != want {
		t.Errorf("got Seq %q, want %q", got, want)
	}
	if got, want := string(r.Unk), "+"; got != want {
		t.Errorf("got Unk %q, want %q", got, want)
	}
	if got, want := string(r.Qual), strings.Repeat("F", len(fqReads[0].Seq)); got != want {
		t.Errorf("got Qual %q, want %q", got, want)
	}
	r.Release()

	n := 1
	for s.Scan(&r) {
		n++
		r.Release()
	}
	if err := s.Err(); err != nil {
		t.Errorf("unexpected error %v", err)
	}
	if got, want := n, 6; got != want {
		t.Errorf("got %v records, want %v", got, want)
	}
}

// TestArenaFASTQPageBoundary uses page quanta around the size of one record
// (each larger than any single line) so that records straddle page
// boundaries; at 96 bytes, smaller than a whole record, every record spans
// two or more pages. This exercises the path where a record's owners list
// holds clones of several pages at once.
func TestArenaFASTQPageBoundary(t *testing.T) {
	for _, pageSize := range []int{96, 150, 300} {
		s := arenaScanner(fq, pageSize)
		var r ArenaRead
		var n int
		var lastID string
		for s.Scan(&r) {
			n++
			lastID = string(r.ID)
			if len(r.ID) == 0 || r.ID[0] != '@' {
				t.Fatalf("pageSize=%d: malformed ID %q", pageSize, r.ID)
			}
			if len(r.Seq) != len(r.Qual) {
				t.Fatalf("pageSize=%d: seq/qual length mismatch in record %q", pageSize, r.ID)
			}
			r.Release()
		}
		if err := s.Err(); err != nil {
			t.Fatalf("pageSize=%d: unexpected error %v (last record %q)", pageSize, err, lastID)
		}
		if got, want := n, 6; got != want {
			t.Errorf("pageSize=%d: got %v records, want %v", pageSize, got, want)
		}
	}
}

func TestArenaFASTQErrors(t *testing.T) {
	scan := func(input string) error {
		s := arenaScanner(input, 1<<16)
		var r ArenaRead
		for s.Scan(&r) {
			r.Release()
		}
		return s.Err()
	}
	if got, want := scan("12312#"), ErrInvalid; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := scan("@1234\n123"), ErrShort; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestArenaPairScannerDiscordant(t *testing.T) {
	r1 := arenaScanner(fq, 1<<16)
	r2pool := arena.NewPool(8<<16, 1<<16)
	short := NewArenaScanner(bytes.NewReader([]byte("@only\nACGT\n+\nEEEE\n")), r2pool, 1<<16)
	ps := NewArenaPairScanner(r1, short)

	var a, b ArenaRead
	var n int
	for ps.Scan(&a, &b) {
		n++
		a.Release()
		b.Release()
	}
	if got, want := ps.Err(), ErrDiscordant; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if n == 0 {
		t.Error("expected at least one concordant pair before discordance")
	}
}

// TestArenaScannerCloseReleasesPages drains a scanner, closes it, and then
// closes the pool, which blocks until every page's refcount is zero - so
// this test hangs if Close leaves the scanner's last page held.
func TestArenaScannerCloseReleasesPages(t *testing.T) {
	pool := arena.NewPool(4<<16, 1<<16)
	s := NewArenaScanner(bytes.NewReader([]byte(fq)), pool, 1<<16)
	var r ArenaRead
	for s.Scan(&r) {
		r.Release()
	}
	if err := s.Err(); err != nil {
		t.Fatal(err)
	}
	s.Close()
	pool.Close()
}

func TestArenaTakeOwners(t *testing.T) {
	s := arenaScanner(fq, 1<<16)
	var r ArenaRead
	if !s.Scan(&r) {
		t.Fatal(s.Err())
	}
	owners := r.TakeOwners()
	if len(owners) == 0 {
		t.Fatal("expected at least one owner")
	}
	if r.owners != nil {
		t.Error("TakeOwners should clear the record's own owner list")
	}
	// r.Release is now a no-op; the transferred owners must be released by
	// whoever took them.
	r.Release()
	for _, o := range owners {
		o.Release()
	}
}
