package fastq

import (
	"bytes"
	"strings"
	"testing"
)

// fqReads is the fixture shared by the scanner, sampler, and writer tests:
// six barcode-mate reads laid out the way a combinatorial chemistry reads
// them (four 8bp barcodes separated by 4bp linkers).
var fqReads = []struct {
	ID, Seq string
}{
	{"@VH00217:28:AACFL3HM5:1:1101:18340:1000 2:N:0:CGATGT", "GTAACCGATCCTTTGGCATCGGAAGTAACCGACTGATTGGCATC"},
	{"@VH00217:28:AACFL3HM5:1:1101:18510:1000 2:N:0:CGATGT", "TTGGCATCAGGAGTAACCGATTCATTGGCATCGAACGTAACCGA"},
	{"@VH00217:28:AACFL3HM5:1:1101:18672:1000 2:N:0:CGATGT", "GTAACCGANNCTTTGGCATCGGAAGTAACCGACTGAGTAACCGA"},
	{"@VH00217:28:AACFL3HM5:1:1101:18801:1001 2:N:0:CGATGT", "TTGGCATCTCCTGTAACCGAGGAATTGGCATCCTGATTGGCATC"},
	{"@VH00217:28:AACFL3HM5:1:1101:18934:1001 2:N:0:CGATGT", "GTAACCGATCCTTTGGCATCNNNNGTAACCGACTGATTGGCATCAACA"},
	{"@VH00217:28:AACFL3HM5:1:1101:19066:1001 2:N:0:CGATGT", "TTGGCATCTCCTGTAACCGAGGAAGTAACCGACTGAGTAACCGA"},
}

func fastqText() string {
	var b strings.Builder
	for _, r := range fqReads {
		b.WriteString(r.ID)
		b.WriteByte('\n')
		b.WriteString(r.Seq)
		b.WriteString("\n+\n")
		b.WriteString(strings.Repeat("F", len(r.Seq)))
		b.WriteByte('\n')
	}
	return b.String()
}

var fq = fastqText()

func TestSampleSeqs(t *testing.T) {
	seqs, err := SampleSeqs(strings.NewReader(fq), 4)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(seqs), 4; got != want {
		t.Fatalf("got %v seqs, want %v", got, want)
	}
	for i := range seqs {
		if got, want := string(seqs[i]), fqReads[i].Seq; got != want {
			t.Errorf("seq %d: got %q, want %q", i, got, want)
		}
	}
}

func TestSampleSeqsStopsAtEOF(t *testing.T) {
	seqs, err := SampleSeqs(strings.NewReader(fq), 100)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(seqs), len(fqReads); got != want {
		t.Errorf("got %v seqs, want %v", got, want)
	}
}

func TestSampleSeqsErrors(t *testing.T) {
	if _, err := SampleSeqs(strings.NewReader("12312#"), 10); err != ErrInvalid {
		t.Errorf("got %v, want %v", err, ErrInvalid)
	}
	if _, err := SampleSeqs(strings.NewReader("@1234\nACGT"), 10); err != ErrShort {
		t.Errorf("got %v, want %v", err, ErrShort)
	}
	if _, err := SampleSeqs(strings.NewReader("@1234\nACGT\n#\nFFFF\n"), 10); err != ErrInvalid {
		t.Errorf("got %v, want %v", err, ErrInvalid)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, r := range fqReads {
		err := w.Write([]byte(r.ID), []byte(r.Seq), []byte("+"), bytes.Repeat([]byte("F"), len(r.Seq)))
		if err != nil {
			t.Fatal(err)
		}
	}
	if got, want := buf.String(), fq; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
