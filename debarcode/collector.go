package debarcode

import (
	"encoding/binary"
	"sync"
	"time"

	"blainsmith.com/go/seahash"
	"v.io/x/lib/vlog"
)

// recordOverheadBytes approximates the per-record framing cost (length
// tags, cell index) encodeBatch adds on top of payload bytes, used only to
// decide when a batch is "full" - it doesn't need to be exact.
const recordOverheadBytes = 18

func recordSize(r debarcodedRecord) int {
	return len(r.r1) + len(r.r2) + len(r.q1) + len(r.q2) + len(r.umi) + recordOverheadBytes
}

// defaultCollectorIdleTimeout bounds how long the collector waits for more
// records before flushing a partial batch, so a slow barcode-matching stage
// can't stall every downstream sort worker waiting on a batch that will
// never fill.
const defaultCollectorIdleTimeout = 4 * time.Second

// liveHistogramShards is the shard count for liveHistogram's running,
// collector-local cell tally, used only for progress logging - the
// authoritative per-cell histogram is built later from the sort workers'
// materialized CellIDs and merged in Pipeline.Run.
const liveHistogramShards = 16

// liveHistogram is a sharded running tally of cells seen by the collector
// so far. Sharding by seahash of the packed cell index keeps per-record
// updates cheap and spreads them across independent locks, so a concurrent
// collector wouldn't serialize on one mutex just to report progress.
type liveHistogram struct {
	shards [liveHistogramShards]struct {
		mu     sync.Mutex
		counts map[uint32]int64
	}
}

func newLiveHistogram() *liveHistogram {
	lh := &liveHistogram{}
	for i := range lh.shards {
		lh.shards[i].counts = make(map[uint32]int64)
	}
	return lh
}

func (lh *liveHistogram) shardFor(cellIdx uint32) int {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], cellIdx)
	h := seahash.New()
	h.Write(b[:])
	return int(h.Sum64() % liveHistogramShards)
}

func (lh *liveHistogram) add(cellIdx uint32) {
	s := &lh.shards[lh.shardFor(cellIdx)]
	s.mu.Lock()
	s.counts[cellIdx]++
	s.mu.Unlock()
}

func (lh *liveHistogram) distinctCells() int {
	n := 0
	for i := range lh.shards {
		lh.shards[i].mu.Lock()
		n += len(lh.shards[i].counts)
		lh.shards[i].mu.Unlock()
	}
	return n
}

// runCollector accumulates debarcodedRecords from in into batches bounded
// by maxBatchBytes (see Budget.SortBufferPerWorker), flushing
// early if idleTimeout elapses with no new record, and always flushing
// whatever remains when in is closed. Each flushed batch is snappy-encoded
// (encodeBatch) before being sent to out, so sort workers receive it ready
// to decode independently of the collector's own memory.
func runCollector(in <-chan debarcodedRecord, out chan<- []byte, maxBatchBytes int64, idleTimeout time.Duration) {
	if idleTimeout <= 0 {
		idleTimeout = defaultCollectorIdleTimeout
	}
	var cur []debarcodedRecord
	var curBytes int64
	live := newLiveHistogram()
	var batchesFlushed int

	flush := func() {
		if len(cur) == 0 {
			return
		}
		out <- encodeBatch(cur)
		// encodeBatch has copied every record's bytes into the
		// snappy-compressed buffer now in flight to a sort worker, so the
		// arena pages backing them can be released for reuse.
		for i := range cur {
			cur[i].release()
		}
		cur = nil
		curBytes = 0
		batchesFlushed++
		if batchesFlushed%64 == 0 {
			vlog.VI(2).Infof("debarcode: collector flushed %d batches, %d distinct cells so far", batchesFlushed, live.distinctCells())
		}
	}

	timer := time.NewTimer(idleTimeout)
	defer timer.Stop()
	for {
		select {
		case r, ok := <-in:
			if !ok {
				flush()
				return
			}
			cur = append(cur, r)
			curBytes += int64(recordSize(r))
			live.add(r.cellIdx)
			if curBytes >= maxBatchBytes {
				flush()
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idleTimeout)
		case <-timer.C:
			flush()
			timer.Reset(idleTimeout)
		}
	}
}
