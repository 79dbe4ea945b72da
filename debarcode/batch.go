package debarcode

import (
	"bytes"
	"encoding/binary"

	"github.com/golang/snappy"
	"github.com/grailbio/bascet/arena"
	"github.com/pkg/errors"
)

// debarcodedRecord is one read pair that matched a chemistry's barcode, in
// the form the collector and sort workers pass between each other: the cell
// is carried as the compact packed u32 index, not yet materialized to a full
// CellID string (the sort worker does that, just before sorting). r1/r2/q1/q2
// are slices into owners' arena pages; owners
// must be released once the record has been copied into an encoded batch
// (see runCollector's flush), never before.
type debarcodedRecord struct {
	cellIdx uint32
	r1, r2  []byte
	q1, q2  []byte
	umi     string
	owners  []arena.Slice
}

// release drops every arena hold this record's bytes depend on. Call only
// after the record's bytes have been fully copied elsewhere (e.g.
// encodeBatch).
func (r *debarcodedRecord) release() {
	for _, o := range r.owners {
		o.Release()
	}
	r.owners = nil
}

// encodeBatch serializes one collector-to-sort-worker batch of records into
// a single snappy-compressed block: count(4) then, per record: cellIdx(4)
// r1Len(4) r2Len(4) umiLen(2) r1 r2 q1 q2 umi.
//
// Batches travel through the pipeline snappy-compressed: a lighter-weight
// codec than the final container format's flate blocks. Faster sequential
// encode/decode at the cost of a larger encoded size is the right trade for
// data that lives only a few channel-hops long.
func encodeBatch(records []debarcodedRecord) []byte {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(records)))
	buf.Write(hdr[:])
	for _, r := range records {
		var fixed [14]byte
		binary.LittleEndian.PutUint32(fixed[0:4], r.cellIdx)
		binary.LittleEndian.PutUint32(fixed[4:8], uint32(len(r.r1)))
		binary.LittleEndian.PutUint32(fixed[8:12], uint32(len(r.r2)))
		binary.LittleEndian.PutUint16(fixed[12:14], uint16(len(r.umi)))
		buf.Write(fixed[:])
		buf.Write(r.r1)
		buf.Write(r.r2)
		buf.Write(r.q1)
		buf.Write(r.q2)
		buf.WriteString(r.umi)
	}
	return snappy.Encode(nil, buf.Bytes())
}

// decodeBatch reverses encodeBatch.
func decodeBatch(compressed []byte) ([]debarcodedRecord, error) {
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errors.Wrap(err, "debarcode: snappy-decoding batch")
	}
	if len(raw) < 4 {
		return nil, errors.New("debarcode: truncated batch header")
	}
	count := binary.LittleEndian.Uint32(raw[:4])
	raw = raw[4:]
	records := make([]debarcodedRecord, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(raw) < 14 {
			return nil, errors.New("debarcode: truncated batch record header")
		}
		cellIdx := binary.LittleEndian.Uint32(raw[0:4])
		r1Len := binary.LittleEndian.Uint32(raw[4:8])
		r2Len := binary.LittleEndian.Uint32(raw[8:12])
		umiLen := binary.LittleEndian.Uint16(raw[12:14])
		raw = raw[14:]

		need := int(r1Len) + int(r2Len) + int(r1Len) + int(r2Len) + int(umiLen)
		if len(raw) < need {
			return nil, errors.New("debarcode: truncated batch record payload")
		}
		r1 := raw[:r1Len]
		raw = raw[r1Len:]
		r2 := raw[:r2Len]
		raw = raw[r2Len:]
		q1 := raw[:r1Len]
		raw = raw[r1Len:]
		q2 := raw[:r2Len]
		raw = raw[r2Len:]
		umi := string(raw[:umiLen])
		raw = raw[umiLen:]

		records = append(records, debarcodedRecord{
			cellIdx: cellIdx,
			r1:      r1, r2: r2, q1: q1, q2: q2,
			umi: umi,
		})
	}
	return records, nil
}
