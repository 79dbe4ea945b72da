package container

import (
	"bytes"
	"io"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/bascet/barcode"
	"github.com/pkg/errors"
)

// DefaultMaxCoalesceBytes bounds how much uncompressed payload Merge will
// accumulate into one coalesced run of same-cell blocks drawn from
// different input streams, before flushing what it has and starting a
// fresh run.
const DefaultMaxCoalesceBytes = 1 << 24 // 16 MiB

// blockSource is one input stream to a merge: the next not-yet-consumed
// block, read ahead so its cell is known without touching the payload.
type blockSource struct {
	seq  int // tie-breaker so llrb never sees two equal leaves
	name string
	r    io.Reader
	cur  block
	done bool
}

func newBlockSource(seq int, name string, r io.Reader) (*blockSource, error) {
	s := &blockSource{seq: seq, name: name, r: r}
	if err := s.advance(); err != nil {
		return nil, err
	}
	return s, nil
}

// advance reads the next content block into s.cur, skipping (and consuming)
// the terminal EOF marker. Sets s.done once the stream is exhausted.
func (s *blockSource) advance() error {
	b, err := readBlock(s.r)
	if err != nil {
		if err == io.EOF {
			return errors.Errorf("container: merge input %s: truncated, missing EOF marker block", s.name)
		}
		return errors.Wrapf(err, "container: merge input %s", s.name)
	}
	if b.eof {
		s.done = true
		return nil
	}
	s.cur = b
	return nil
}

func (s *blockSource) cell() barcode.CellID { return barcode.CellID(s.cur.cell) }

// leaf wraps a blockSource for the llrb tournament tree: sources stay
// sorted by their current block's cell, so the smallest is always at the
// tree's minimum and most reads only reshuffle one node.
type leaf struct {
	src *blockSource
}

func (l *leaf) Compare(other llrb.Comparable) int {
	o := other.(*leaf)
	a, b := l.src.cell(), o.src.cell()
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return l.src.seq - o.src.seq
}

// Merge performs a blockwise k-way merge of readers (each already
// cell-sorted, per-file) into dst, writing a single cell-sorted container.
// Payloads are never inflated: a block whose cell is unique at its merge
// position passes through with its compressed bytes untouched, and
// consecutive same-cell blocks are coalesced by concatenating their
// compressed byte ranges (see writeGroup), bounded by
// DefaultMaxCoalesceBytes of accumulated uncompressed size per run.
func Merge(names []string, readers []io.Reader, dst io.Writer) error {
	if len(names) != len(readers) {
		return errors.New("container: merge: names and readers length mismatch")
	}
	tree := llrb.Tree{}
	for i, r := range readers {
		src, err := newBlockSource(i, names[i], r)
		if err != nil {
			return err
		}
		if !src.done {
			tree.Insert(&leaf{src: src})
		}
	}

	for tree.Len() > 0 {
		var top *leaf
		tree.Do(func(item llrb.Comparable) bool {
			top = item.(*leaf)
			return true
		})

		group := [][]byte{top.src.cur.compressed}
		groupLen := top.src.cur.uncompLen
		groupCell := top.src.cell()
		if err := top.src.advance(); err != nil {
			return err
		}
		// DeleteMin, not Delete(top): top's key (top.src.cell()) just
		// changed under advance(), so a key-based Delete could miss the
		// node. DeleteMin needs no key - top was, and still is, the
		// smallest entry in the tree at this point.
		tree.DeleteMin()
		if !top.src.done {
			tree.Insert(top)
		}

		// Coalesce every immediately-following same-cell block, whichever
		// stream it comes from, up to the size bound.
		for {
			var smallest *leaf
			tree.Do(func(item llrb.Comparable) bool {
				smallest = item.(*leaf)
				return true
			})
			if smallest == nil || smallest.src.cell() != groupCell {
				break
			}
			if groupLen+smallest.src.cur.uncompLen > DefaultMaxCoalesceBytes {
				break
			}
			group = append(group, smallest.src.cur.compressed)
			groupLen += smallest.src.cur.uncompLen
			if err := smallest.src.advance(); err != nil {
				return err
			}
			tree.DeleteMin()
			if !smallest.src.done {
				tree.Insert(smallest)
			}
		}

		if err := writeGroup(dst, groupCell, group, groupLen); err != nil {
			return err
		}
	}
	return writeBlock(dst, eofBlock())
}

// writeGroup emits one or more coalesced same-cell blocks as a single
// output block, without touching any compressed payload: every part but
// the last has its trailing deflateFinalMarker stripped (the only BFINAL
// in a content block's stream lives there), and the raw deflate bytes are
// concatenated. The surviving marker on the final part terminates the
// combined stream, so a decoder inflates the whole group as one payload.
func writeGroup(dst io.Writer, cell barcode.CellID, compressedParts [][]byte, uncompLen int) error {
	if len(compressedParts) == 1 {
		return writeBlock(dst, block{
			cell:       []byte(cell),
			uncompLen:  uncompLen,
			compressed: compressedParts[0],
		})
	}
	var comp bytes.Buffer
	for i, part := range compressedParts {
		if i == len(compressedParts)-1 {
			comp.Write(part)
			continue
		}
		if !bytes.HasSuffix(part, deflateFinalMarker) {
			return errors.Errorf("container: cannot coalesce blocks for cell %s: compressed payload lacks the final-block marker", cell)
		}
		comp.Write(part[:len(part)-len(deflateFinalMarker)])
	}
	return writeBlock(dst, block{
		cell:       []byte(cell),
		uncompLen:  uncompLen,
		compressed: comp.Bytes(),
	})
}
