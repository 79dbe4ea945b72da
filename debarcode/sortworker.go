package debarcode

import (
	"context"
	"sort"

	"github.com/grailbio/bascet/barcode"
	"github.com/grailbio/bascet/encoding/container"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"v.io/x/lib/vlog"
)

// chunkResult is one sort worker's output: a temp container file already
// sorted and block-compressed, plus the histogram it accumulated, ready to
// be fed into the mergesort phase.
type chunkResult struct {
	path string
	hist *container.Histogram
}

// runSortWorker decodes batches from in, materializes each record's full
// CellID (barcode.UnpackCellID, deferred until here so upstream stages only
// carry four bytes per record), stably sorts the batch by Cell, and writes
// one temp container file per batch. Each worker runs independently;
// cross-batch ordering is restored later by the mergesort phase, not here.
func runSortWorker(ctx context.Context, in <-chan []byte, out chan<- chunkResult, pools []*barcode.Pool, tempDir string, level int, epoch int64) error {
	for compressed := range in {
		records, err := decodeBatch(compressed)
		if err != nil {
			return errors.E(err, "debarcode: decoding batch")
		}
		crecords := make([]container.Record, len(records))
		for i, r := range records {
			crecords[i] = container.Record{
				Cell: barcode.UnpackCellID(r.cellIdx, pools),
				R1:   r.r1, R2: r.r2, Q1: r.q1, Q2: r.q2,
				UMI: r.umi,
			}
		}
		sort.SliceStable(crecords, func(i, j int) bool {
			return crecords[i].Cell < crecords[j].Cell
		})

		path := newTempPath(tempDir, epoch, "chunk")
		f, err := file.Create(ctx, path)
		if err != nil {
			return errors.E(err, "debarcode: creating chunk file", path)
		}
		cw := container.NewIndexingWriter(f.Writer(ctx), level)
		for _, r := range crecords {
			if err := cw.Write(r); err != nil {
				f.Close(ctx)
				return errors.E(err, "debarcode: writing chunk", path)
			}
		}
		if err := cw.Close(); err != nil {
			f.Close(ctx)
			return errors.E(err, "debarcode: closing chunk writer", path)
		}
		if err := f.Close(ctx); err != nil {
			return errors.E(err, "debarcode: closing chunk file", path)
		}

		// Chunks are merge fodder, not query targets: only the final merged
		// shards get an index sidecar (see Pipeline.placeOutputs).
		vlog.VI(2).Infof("debarcode: wrote chunk %s (%d records, %d cells)", path, len(crecords), len(cw.Index()))
		out <- chunkResult{path: path, hist: cw.Histogram()}
	}
	return nil
}
