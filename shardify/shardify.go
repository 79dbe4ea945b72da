// Package shardify re-shards already-sorted containers: it blockwise
// k-way merges N input container files down to M output shards, optionally
// filtering to a given set of cells, while preserving per-cell locality.
package shardify

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync/atomic"

	"github.com/grailbio/bascet/barcode"
	"github.com/grailbio/bascet/encoding/container"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"v.io/x/lib/vlog"
)

// Options configures a Run.
type Options struct {
	Inputs           []string
	OutputPrefix     string
	TargetShards     int
	TempDir          string
	CompressionLevel int

	// Include, if non-empty, restricts the output to these cells only.
	// Cells absent from it are dropped during the filter pass.
	Include []barcode.CellID
}

// Result reports where Run's output shards landed.
type Result struct {
	OutputPaths []string
	Histogram   *container.Histogram
}

var seq int64

func nextTempPath(dir string) string {
	n := atomic.AddInt64(&seq, 1)
	return fmt.Sprintf("%s/shardify-%06d.tirp", dir, n)
}

// Run executes the re-shard: an optional filter pass, then repeated
// pairwise merges (the same engine container.Merge drives debarcode's
// mergesort phase) until exactly opts.TargetShards files remain. Input
// files are never deleted; only temp files this run created are cleaned
// up as rounds complete.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.TargetShards < 1 {
		return nil, errors.New("shardify: TargetShards must be >= 1")
	}
	owned := map[string]bool{}
	paths := opts.Inputs
	if len(opts.Include) > 0 {
		filtered, err := filterAll(ctx, paths, opts.Include, opts.TempDir, opts.CompressionLevel)
		if err != nil {
			return nil, err
		}
		paths = filtered
		for _, p := range filtered {
			owned[p] = true
		}
	}

	final, err := mergeToCount(ctx, paths, opts.TargetShards, opts.TempDir, owned)
	if err != nil {
		return nil, err
	}

	hist := container.NewHistogram()
	outputs := make([]string, len(final))
	for i, src := range final {
		dst := opts.OutputPrefix
		if len(final) > 1 {
			dst = fmt.Sprintf("%s.%d", opts.OutputPrefix, i)
		}
		h, err := placeShard(ctx, src, dst, owned[src])
		if err != nil {
			return nil, err
		}
		hist.Merge(h)
		outputs[i] = dst
	}
	return &Result{OutputPaths: outputs, Histogram: hist}, nil
}

func tallyHistogram(ctx context.Context, path string) (*container.Histogram, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "shardify: opening for histogram", path)
	}
	defer in.Close(ctx)
	hist := container.NewHistogram()
	cr := container.NewReader(in.Reader(ctx))
	for {
		rec, err := cr.Next()
		if err == io.EOF {
			return hist, nil
		}
		if err != nil {
			return nil, errors.E(err, "shardify: reading", path)
		}
		hist.Add(rec.Cell, 1)
	}
}

// filterAll rewrites each input file keeping only records whose Cell is in
// include, producing one temp file per input (order preserved, so the
// result stays cell-sorted within each file).
func filterAll(ctx context.Context, paths []string, include []barcode.CellID, tempDir string, level int) ([]string, error) {
	keep := make(map[barcode.CellID]bool, len(include))
	for _, c := range include {
		keep[c] = true
	}
	out := make([]string, len(paths))
	for i, p := range paths {
		dst, err := filterOne(ctx, p, keep, tempDir, level)
		if err != nil {
			return nil, err
		}
		out[i] = dst
	}
	return out, nil
}

func filterOne(ctx context.Context, path string, keep map[barcode.CellID]bool, tempDir string, level int) (string, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return "", errors.E(err, "shardify: opening", path)
	}
	defer in.Close(ctx)
	dst := nextTempPath(tempDir)
	out, err := file.Create(ctx, dst)
	if err != nil {
		return "", errors.E(err, "shardify: creating", dst)
	}
	cw := container.NewWriter(out.Writer(ctx), level)
	cr := container.NewReader(in.Reader(ctx))
	for {
		rec, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			out.Close(ctx)
			return "", errors.E(err, "shardify: reading", path)
		}
		if !keep[rec.Cell] {
			continue
		}
		if err := cw.Write(rec); err != nil {
			out.Close(ctx)
			return "", errors.E(err, "shardify: writing filtered record")
		}
	}
	if err := cw.Close(); err != nil {
		out.Close(ctx)
		return "", errors.E(err, "shardify: closing filtered writer", dst)
	}
	return dst, out.Close(ctx)
}

// mergeToCount repeatedly pairs down paths until exactly target files
// remain, using the same pairing policy as debarcode's mergesort phase:
// merge the front 2*(count-target) files (bounded to at most count/2 pairs
// per round) and carry the rest untouched. Only paths in owned (temps this
// run created) are deleted once merged away.
func mergeToCount(ctx context.Context, paths []string, target int, tempDir string, owned map[string]bool) ([]string, error) {
	round := 0
	for len(paths) > target {
		count := len(paths)
		nPairs := count - target
		if maxPairs := count / 2; nPairs > maxPairs {
			nPairs = maxPairs
		}
		toMerge := paths[:2*nPairs]
		carry := paths[2*nPairs:]

		vlog.VI(1).Infof("shardify: round %d: %d files -> %d pairs, %d carried", round, count, nPairs, len(carry))

		merged := make([]string, nPairs)
		for i := 0; i < nPairs; i++ {
			a, b := toMerge[2*i], toMerge[2*i+1]
			dst := nextTempPath(tempDir)
			if err := mergePair(ctx, a, b, dst); err != nil {
				return nil, err
			}
			merged[i] = dst
			owned[dst] = true
		}
		for _, p := range toMerge {
			if !owned[p] {
				continue
			}
			if err := file.Remove(ctx, p); err != nil {
				vlog.Errorf("shardify: removing merged-away temp %s: %v", p, err)
			}
		}
		paths = append(merged, carry...)
		round++
	}
	return paths, nil
}

func mergePair(ctx context.Context, a, b, dst string) error {
	fa, err := file.Open(ctx, a)
	if err != nil {
		return errors.E(err, "shardify: opening", a)
	}
	defer fa.Close(ctx)
	fb, err := file.Open(ctx, b)
	if err != nil {
		return errors.E(err, "shardify: opening", b)
	}
	defer fb.Close(ctx)
	out, err := file.Create(ctx, dst)
	if err != nil {
		return errors.E(err, "shardify: creating", dst)
	}
	if err := container.Merge([]string{a, b}, []io.Reader{fa.Reader(ctx), fb.Reader(ctx)}, out.Writer(ctx)); err != nil {
		out.Close(ctx)
		return errors.E(err, "shardify: merging", a, b)
	}
	return out.Close(ctx)
}

// placeShard copies src to dst, rebuilds its index sidecar, and returns its
// histogram (computed by scanning the final file once). removeSrc is set
// when src is a temp file this run created, never for a caller's input.
func placeShard(ctx context.Context, src, dst string, removeSrc bool) (*container.Histogram, error) {
	in, err := file.Open(ctx, src)
	if err != nil {
		return nil, errors.E(err, "shardify: opening", src)
	}
	out, err := file.Create(ctx, dst)
	if err != nil {
		in.Close(ctx)
		return nil, errors.E(err, "shardify: creating", dst)
	}
	if _, err := io.Copy(out.Writer(ctx), in.Reader(ctx)); err != nil {
		in.Close(ctx)
		out.Close(ctx)
		return nil, errors.E(err, "shardify: copying", src, dst)
	}
	if err := in.Close(ctx); err != nil {
		out.Close(ctx)
		return nil, err
	}
	if err := out.Close(ctx); err != nil {
		return nil, err
	}
	if removeSrc {
		if err := file.Remove(ctx, src); err != nil {
			vlog.Errorf("shardify: removing temp merged shard %s: %v", src, err)
		}
	}
	hist, err := tallyHistogram(ctx, dst)
	if err != nil {
		return nil, err
	}
	return hist, writeIndexFor(ctx, dst)
}

func writeIndexFor(ctx context.Context, path string) error {
	in, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "shardify: reopening for index", path)
	}
	defer in.Close(ctx)
	entries, err := container.BuildIndex(in.Reader(ctx))
	if err != nil {
		return errors.E(err, "shardify: building index", path)
	}
	idx, err := file.Create(ctx, path+".idx")
	if err != nil {
		return errors.E(err, "shardify: creating index sidecar", path)
	}
	if err := container.WriteIndex(idx.Writer(ctx), entries); err != nil {
		idx.Close(ctx)
		return errors.E(err, "shardify: writing index sidecar", path)
	}
	return idx.Close(ctx)
}

// SortCells is a small helper for callers building an Include list from a
// comma-separated flag, keeping output deterministic.
func SortCells(cells []barcode.CellID) []barcode.CellID {
	out := append([]barcode.CellID(nil), cells...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
