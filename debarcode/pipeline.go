package debarcode

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/grailbio/bascet/arena"
	"github.com/grailbio/bascet/barcode"
	"github.com/grailbio/bascet/encoding/container"
	"github.com/grailbio/bascet/encoding/fastq"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/traverse"
	"v.io/x/lib/vlog"
)

// Pipeline is the top-level staged dataflow: reader -> debarcode workers ->
// collector -> sort workers -> chunk files -> external mergesort, wired with
// bounded channels whose capacities come from Budget.
type Pipeline struct {
	Chemistry *barcode.Chemistry
	Budget    Budget

	R1Paths, R2Paths []string
	OutputPath       string
	TempDir          string
	CompressionLevel int

	// TargetShards is the number of output container files the mergesort
	// phase converges to. 1 produces a single sorted container.
	TargetShards int

	// ExistingChunks, if non-empty, skips the read/debarcode/sort stages
	// entirely and feeds these already-sorted chunk files straight into
	// the mergesort phase (the --skip-debarcode mode).
	ExistingChunks []string

	// SalvagePath, if set, receives read pairs that failed to match any
	// combinatorial barcode, written out as plain interleaved FASTQ
	// instead of being dropped.
	SalvagePath string
}

// Result summarizes a completed pipeline run.
type Result struct {
	OutputPaths []string
	Histogram   *container.Histogram
	NumReads    int64
	NumMatched  int64
}

// pairRecord is one R1/R2 read pair as produced by the reader stage: both
// mates' fields are slices into arena pages, with no ownership of their own
// beyond the lifetime of the backing page. A pair that fails to match (or
// errors) must be released once it is no longer needed; on a match,
// debarcodeOne moves its arena holds into the debarcodedRecord, which the
// collector releases after copying its bytes into a batch.
type pairRecord struct {
	r1, r2 fastq.ArenaRead
}

func (p *pairRecord) release() {
	p.r1.Release()
	p.r2.Release()
}

// Run executes the pipeline end to end.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	p.Budget.Resolve()
	level := p.CompressionLevel

	var chunkPaths []string
	var chunkHists []*container.Histogram
	var numReads, numMatched int64

	if len(p.ExistingChunks) > 0 {
		chunkPaths = p.ExistingChunks
	} else {
		var err error
		chunkPaths, chunkHists, numReads, numMatched, err = p.runDebarcodeStages(ctx, level)
		if err != nil {
			return nil, err
		}
	}

	epoch := timeNowUnix()
	finalPaths, err := mergesortToTarget(ctx, chunkPaths, p.TargetShards, p.TempDir, epoch)
	if err != nil {
		return nil, err
	}

	hist := container.NewHistogram()
	for _, h := range chunkHists {
		hist.Merge(h)
	}

	outputs, err := p.placeOutputs(ctx, finalPaths)
	if err != nil {
		return nil, err
	}

	return &Result{
		OutputPaths: outputs,
		Histogram:   hist,
		NumReads:    numReads,
		NumMatched:  numMatched,
	}, nil
}

// runDebarcodeStages wires reader -> debarcode workers -> collector -> sort
// workers -> chunk files as one concurrent pipeline of bounded channels,
// returning the resulting chunk file paths and per-chunk histograms.
func (p *Pipeline) runDebarcodeStages(ctx context.Context, level int) ([]string, []*container.Histogram, int64, int64, error) {
	pairCh := make(chan pairRecord, p.Budget.DebarcodeThreads*4)
	recordCh := make(chan debarcodedRecord, p.Budget.DebarcodeThreads*4)
	batchCh := make(chan []byte, p.Budget.SortThreads*2)
	resultCh := make(chan chunkResult, p.Budget.WriteThreads*2)

	var numReads, numMatched int64
	epoch := timeNowUnix()

	poolBytes := int(p.Budget.ReaderPoolBytesPerMate())
	pageBytes := int(p.Budget.ReaderPageBytes)
	r1Pool := arena.NewPool(poolBytes, pageBytes)
	r2Pool := arena.NewPool(poolBytes, pageBytes)

	readErrCh := make(chan error, 1)
	go func() {
		readErrCh <- p.runReader(ctx, pairCh, r1Pool, r2Pool, int(p.Budget.ReaderPageBytes))
	}()

	var salvage *salvageWriter
	if p.SalvagePath != "" {
		sw, err := newSalvageWriter(ctx, p.SalvagePath)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		salvage = sw
	}

	workersErrCh := make(chan error, 1)
	go func() {
		workersErrCh <- traverse.Each(p.Budget.DebarcodeThreads, func(wi int) error {
			for pair := range pairCh {
				pair := pair
				atomic.AddInt64(&numReads, 1)
				rec, matched, err := p.debarcodeOne(&pair)
				if err != nil {
					pair.release()
					return err
				}
				if matched {
					atomic.AddInt64(&numMatched, 1)
					recordCh <- rec
					continue
				}
				if salvage != nil {
					if err := salvage.Write(pair); err != nil {
						pair.release()
						return err
					}
				}
				pair.release()
			}
			return nil
		})
		close(recordCh)
	}()

	go func() {
		runCollector(recordCh, batchCh, p.Budget.SortBufferPerWorker(), 0)
		close(batchCh)
	}()

	sortErrCh := make(chan error, 1)
	go func() {
		sortErrCh <- traverse.Each(p.Budget.SortThreads, func(wi int) error {
			return runSortWorker(ctx, batchCh, resultCh, p.Chemistry.Pools, p.TempDir, level, epoch)
		})
		close(resultCh)
	}()

	var chunkPaths []string
	var chunkHists []*container.Histogram
	collectDone := make(chan struct{})
	go func() {
		for r := range resultCh {
			chunkPaths = append(chunkPaths, r.path)
			chunkHists = append(chunkHists, r.hist)
		}
		close(collectDone)
	}()

	var firstErr error
	for _, err := range []error{<-readErrCh, <-workersErrCh, <-sortErrCh} {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	<-collectDone
	if salvage != nil {
		if err := salvage.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	// Every record drawn from r1Pool/r2Pool has by now either been dropped
	// (released by the debarcode worker loop) or folded into a batch and released by the
	// collector (runCollector's flush), so both pools are quiescent.
	r1Pool.Close()
	r2Pool.Close()
	if firstErr != nil {
		return nil, nil, 0, 0, firstErr
	}

	return chunkPaths, chunkHists, atomic.LoadInt64(&numReads), atomic.LoadInt64(&numMatched), nil
}

// runReader scans paired FASTQ streams into arena-backed records, one page
// pool per mate, and sends each pair to out,
// closing out when done regardless of outcome.
func (p *Pipeline) runReader(ctx context.Context, out chan<- pairRecord, r1Pool, r2Pool *arena.Pool, pageSize int) error {
	defer close(out)
	r1, close1, err := OpenMateStream(ctx, p.R1Paths)
	if err != nil {
		return err
	}
	defer close1()
	r2, close2, err := OpenMateStream(ctx, p.R2Paths)
	if err != nil {
		return err
	}
	defer close2()

	ps := fastq.NewArenaPairScanner(
		fastq.NewArenaScanner(r1, r1Pool, pageSize),
		fastq.NewArenaScanner(r2, r2Pool, pageSize),
	)
	defer ps.Close()
	for {
		var rec pairRecord
		if !ps.Scan(&rec.r1, &rec.r2) {
			break
		}
		out <- rec
	}
	if err := ps.Err(); err != nil {
		return errors.E(err, "debarcode: reading paired input")
	}
	return nil
}

// debarcodeOne matches pair against the pipeline's Chemistry, returning the
// compact debarcodedRecord on a match. It trims the barcode-carrying mate's
// structural prefix (barcode + spacer, TrimLen bytes) and leaves the other mate
// untouched; both are slice narrowings of pair's own arena-backed bytes,
// never copies. On a
// match, pair's arena holds are transferred into the returned record's
// owners rather than cloned, so the pages stay pinned for exactly as long
// as the debarcodedRecord is alive. On no match, the caller is responsible
// for releasing pair.
func (p *Pipeline) debarcodeOne(pair *pairRecord) (debarcodedRecord, bool, error) {
	chem := p.Chemistry
	var barcodeSeq, barcodeQual []byte
	var otherSeq, otherQual []byte
	barcodeIsR1 := chem.BarcodeMate == barcode.MateR1
	if barcodeIsR1 {
		barcodeSeq, barcodeQual = pair.r1.Seq, pair.r1.Qual
		otherSeq, otherQual = pair.r2.Seq, pair.r2.Qual
	} else {
		barcodeSeq, barcodeQual = pair.r2.Seq, pair.r2.Qual
		otherSeq, otherQual = pair.r1.Seq, pair.r1.Qual
	}

	det := chem.Detect(barcodeSeq)
	if !det.OK {
		return debarcodedRecord{}, false, nil
	}

	trimmedQual := barcodeQual
	if chem.TrimLen <= len(barcodeQual) {
		trimmedQual = barcodeQual[chem.TrimLen:]
	}

	rec := debarcodedRecord{
		cellIdx: det.PackedIndex,
		umi:     det.UMI,
		owners:  append(pair.r1.TakeOwners(), pair.r2.TakeOwners()...),
	}
	if barcodeIsR1 {
		rec.r1, rec.q1 = det.Trimmed, trimmedQual
		rec.r2, rec.q2 = otherSeq, otherQual
	} else {
		rec.r2, rec.q2 = det.Trimmed, trimmedQual
		rec.r1, rec.q1 = otherSeq, otherQual
	}
	return rec, true, nil
}

// salvageWriter appends read pairs that failed to match any barcode to a
// single plain FASTQ file, mates interleaved R1-then-R2 and unsorted, so an
// operator can triage what the run could not assign to a cell.
type salvageWriter struct {
	f file.File
	w *fastq.Writer
}

func newSalvageWriter(ctx context.Context, path string) (*salvageWriter, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "debarcode: creating salvage file", path)
	}
	return &salvageWriter{f: f, w: fastq.NewWriter(f.Writer(ctx))}, nil
}

func (sw *salvageWriter) Write(pair pairRecord) error {
	if err := sw.w.WriteRead(&pair.r1); err != nil {
		return err
	}
	return sw.w.WriteRead(&pair.r2)
}

func (sw *salvageWriter) Close(ctx context.Context) error {
	return sw.f.Close(ctx)
}

// placeOutputs moves each final merged shard to its public name (OutputPath
// for a single shard, OutputPath.N for several) and writes its index
// sidecar.
func (p *Pipeline) placeOutputs(ctx context.Context, finalPaths []string) ([]string, error) {
	outputs := make([]string, len(finalPaths))
	for i, src := range finalPaths {
		dst := p.OutputPath
		if len(finalPaths) > 1 {
			dst = p.OutputPath + "." + strconv.Itoa(i)
		}
		if err := copyFile(ctx, src, dst); err != nil {
			return nil, err
		}
		if err := file.Remove(ctx, src); err != nil {
			vlog.Errorf("debarcode: removing temp merged shard %s: %v", src, err)
		}
		if err := p.writeIndexSidecar(ctx, dst); err != nil {
			return nil, err
		}
		outputs[i] = dst
	}
	return outputs, nil
}

func copyFile(ctx context.Context, src, dst string) error {
	in, err := file.Open(ctx, src)
	if err != nil {
		return errors.E(err, "debarcode: opening", src)
	}
	defer in.Close(ctx)
	out, err := file.Create(ctx, dst)
	if err != nil {
		return errors.E(err, "debarcode: creating", dst)
	}
	bw := bufio.NewWriter(out.Writer(ctx))
	if _, err := io.Copy(bw, in.Reader(ctx)); err != nil {
		out.Close(ctx)
		return errors.E(err, "debarcode: copying", src, dst)
	}
	if err := bw.Flush(); err != nil {
		out.Close(ctx)
		return errors.E(err, "debarcode: flushing", dst)
	}
	return out.Close(ctx)
}

func (p *Pipeline) writeIndexSidecar(ctx context.Context, containerPath string) error {
	in, err := file.Open(ctx, containerPath)
	if err != nil {
		return errors.E(err, "debarcode: reopening for index", containerPath)
	}
	defer in.Close(ctx)
	entries, err := container.BuildIndex(in.Reader(ctx))
	if err != nil {
		return errors.E(err, "debarcode: building index", containerPath)
	}
	idx, err := file.Create(ctx, containerPath+".idx")
	if err != nil {
		return errors.E(err, "debarcode: creating index sidecar", containerPath)
	}
	if err := container.WriteIndex(idx.Writer(ctx), entries); err != nil {
		idx.Close(ctx)
		return errors.E(err, "debarcode: writing index sidecar", containerPath)
	}
	return idx.Close(ctx)
}
