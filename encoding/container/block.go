package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// The container format borrows its block shape directly from .bgzf (see
// github.com/grailbio/bio/encoding/bgzf): each block is an independent
// deflate stream wrapped in a small fixed header/trailer so a reader can
// skip blocks without inflating them. Two differences from .bgzf:
//
//   - the header's "extra" subfield carries the block's cell identifier
//     (subfield id "ID", length-prefixed) rather than .bgzf's own
//     compressed-size subfield; compressed size is instead stored in the
//     header directly, since we don't need the .bgzf 16-bit virtual-offset
//     trick.
//   - a block has no trailer; its deflate payload is sync-flushed and ends
//     in a fixed 5-byte final marker (deflateFinalMarker), so coalescing
//     consecutive same-cell blocks during a merge (see merge.go) strips
//     that marker and concatenates payloads without re-deflating.
//
// Magic + version let a reader reject anything that isn't one of our own
// containers outright, instead of silently misparsing garbage.

const (
	magic      = "TIRP"
	formatVer  = 1
	extraSubID = "ID"
)

// blockFlag bits.
const (
	flagFinal byte = 1 << iota // BFINAL: last block for the whole file
	flagEOF                    // this block is the terminal empty marker
)

// block is one on-disk compressed unit: a single cell's payload, or a
// zero-length EOF marker.
type block struct {
	cell       []byte // extra field "ID" payload; empty for the EOF marker
	final      bool
	eof        bool
	uncompLen  int
	compressed []byte // deflate stream
}

// writeBlock serializes one block to w.
//
//	magic(4) version(1) flags(1) extraLen(2) uncompLen(4) extra(extraLen) compLen(4) comp(compLen)
func writeBlock(w io.Writer, b block) error {
	var hdr bytes.Buffer
	hdr.WriteString(magic)
	hdr.WriteByte(formatVer)

	var flags byte
	if b.final {
		flags |= flagFinal
	}
	if b.eof {
		flags |= flagEOF
	}
	hdr.WriteByte(flags)

	extra := encodeExtra(b.cell)
	var tmp [4]byte
	binary.LittleEndian.PutUint16(tmp[:2], uint16(len(extra)))
	hdr.Write(tmp[:2])
	binary.LittleEndian.PutUint32(tmp[:4], uint32(b.uncompLen))
	hdr.Write(tmp[:4])
	hdr.Write(extra)

	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(b.compressed)))
	hdr.Write(tmp[:4])

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return errors.Wrap(err, "container: writing block header")
	}
	if _, err := w.Write(b.compressed); err != nil {
		return errors.Wrap(err, "container: writing block payload")
	}
	return nil
}

// readBlock parses one block written by writeBlock, including its
// compressed payload bytes (not yet inflated).
func readBlock(r io.Reader) (block, error) {
	var fixed [10]byte
	if _, err := io.ReadFull(r, fixed[:4]); err != nil {
		if err == io.EOF {
			return block{}, io.EOF
		}
		return block{}, errors.Wrap(err, "container: reading block magic")
	}
	if string(fixed[:4]) != magic {
		return block{}, errors.Errorf("container: bad block magic %q", fixed[:4])
	}
	if _, err := io.ReadFull(r, fixed[4:6]); err != nil {
		return block{}, errors.Wrap(err, "container: reading block flags")
	}
	version := fixed[4]
	if version != formatVer {
		return block{}, errors.Errorf("container: unsupported block version %d", version)
	}
	flags := fixed[5]

	var lens [6]byte
	if _, err := io.ReadFull(r, lens[:]); err != nil {
		return block{}, errors.Wrap(err, "container: reading block lengths")
	}
	extraLen := binary.LittleEndian.Uint16(lens[:2])
	uncompLen := binary.LittleEndian.Uint32(lens[2:6])

	extra := make([]byte, extraLen)
	if _, err := io.ReadFull(r, extra); err != nil {
		return block{}, errors.Wrap(err, "container: reading block extra")
	}
	cell, err := decodeExtra(extra)
	if err != nil {
		return block{}, err
	}

	var compLenBuf [4]byte
	if _, err := io.ReadFull(r, compLenBuf[:]); err != nil {
		return block{}, errors.Wrap(err, "container: reading block compressed length")
	}
	compLen := binary.LittleEndian.Uint32(compLenBuf[:])
	comp := make([]byte, compLen)
	if compLen > 0 {
		if _, err := io.ReadFull(r, comp); err != nil {
			return block{}, errors.Wrap(err, "container: reading block payload")
		}
	}

	return block{
		cell:       cell,
		final:      flags&flagFinal != 0,
		eof:        flags&flagEOF != 0,
		uncompLen:  int(uncompLen),
		compressed: comp,
	}, nil
}

// encodeExtra packs the cell identifier as one gzip-style subfield:
// id(2) len(2) payload(len), the same extra-subfield shape .bgzf uses for
// its BC subfield, but naming our own field.
func encodeExtra(cell []byte) []byte {
	buf := make([]byte, 0, 4+len(cell))
	buf = append(buf, extraSubID[0], extraSubID[1])
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(cell)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, cell...)
	return buf
}

func decodeExtra(extra []byte) ([]byte, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	if len(extra) < 4 || string(extra[:2]) != extraSubID {
		return nil, errors.New("container: extra field missing ID subfield")
	}
	n := binary.LittleEndian.Uint16(extra[2:4])
	if len(extra) < 4+int(n) {
		return nil, errors.New("container: extra field ID subfield truncated")
	}
	return extra[4 : 4+n], nil
}

// deflateFinalMarker is an empty stored deflate block with BFINAL set:
// BFINAL=1, BTYPE=00, pad to the byte boundary, LEN=0, NLEN=^0. Every
// content block's compressed payload ends with exactly these 5 bytes (the
// payload proper is sync-flushed first, so nothing before the marker
// carries BFINAL). A merge coalescing consecutive same-cell blocks strips
// the marker from every part but the last and concatenates the compressed
// bytes as-is: the one BFINAL in the result is the final part's, and no
// payload is ever inflated.
var deflateFinalMarker = []byte{0x01, 0x00, 0x00, 0xff, 0xff}

// deflateBlock compresses payload at the given level into a standalone
// deflate stream (no gzip header/trailer of its own; ours is block.go's),
// sync-flushed and terminated with deflateFinalMarker.
func deflateBlock(payload []byte, level int) ([]byte, error) {
	var out bytes.Buffer
	fw, err := flate.NewWriter(&out, level)
	if err != nil {
		return nil, errors.Wrap(err, "container: creating deflate writer")
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, errors.Wrap(err, "container: compressing block")
	}
	// Flush, not Close: Close would emit its own BFINAL block, which a
	// later blockwise coalesce has no way to clear without reparsing the
	// stream. The sync flush byte-aligns the output with BFINAL still
	// unset everywhere, and the explicit marker terminates it.
	if err := fw.Flush(); err != nil {
		return nil, errors.Wrap(err, "container: flushing deflate writer")
	}
	out.Write(deflateFinalMarker)
	return out.Bytes(), nil
}

func inflateBlock(b block) ([]byte, error) {
	fr := flate.NewReader(bytes.NewReader(b.compressed))
	defer fr.Close()
	out := make([]byte, 0, b.uncompLen)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, fr); err != nil {
		return nil, errors.Wrap(err, "container: inflating block")
	}
	if buf.Len() != b.uncompLen {
		return nil, fmt.Errorf("container: inflated length %d != header length %d", buf.Len(), b.uncompLen)
	}
	return buf.Bytes(), nil
}

// eofBlock is the terminal marker every container file ends with: an
// explicit empty final block, the .bgzf terminator convention, rather than
// relying on plain EOF.
func eofBlock() block {
	return block{final: true, eof: true}
}
