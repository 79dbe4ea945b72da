package debarcode

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/grailbio/bascet/encoding/container"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"v.io/x/lib/vlog"
)

var tempFileSeq int64

// newTempPath names a temp file with a process-unique epoch-seconds prefix
// plus a monotonic counter, so that readers and writers from distinct
// rounds never collide on a path.
func newTempPath(dir string, epoch int64, label string) string {
	n := atomic.AddInt64(&tempFileSeq, 1)
	return fmt.Sprintf("%s/bascet-%d-%s-%06d.tirp", dir, epoch, label, n)
}

// mergesortToTarget runs the external mergesort phase: repeatedly pair down
// chunk files until exactly targetShards remain, each round merging as many
// pairs as it can toward that target while carrying the rest over untouched.
// An odd remaining count just means one extra file rides along unmerged.
//
// Each completed round deletes its merged-away inputs; on error, whatever
// chunk files exist on disk are left in place so the round is recoverable.
func mergesortToTarget(ctx context.Context, paths []string, targetShards int, tempDir string, epoch int64) ([]string, error) {
	if targetShards < 1 {
		return nil, errors.New("debarcode: targetShards must be >= 1")
	}
	round := 0
	for len(paths) > targetShards {
		count := len(paths)
		nPairs := count - targetShards
		if maxPairs := count / 2; nPairs > maxPairs {
			nPairs = maxPairs
		}
		toMerge := paths[:2*nPairs]
		carry := paths[2*nPairs:]

		vlog.VI(1).Infof("debarcode: mergesort round %d: %d files -> %d pairs, %d carried", round, count, nPairs, len(carry))

		merged := make([]string, nPairs)
		for i := 0; i < nPairs; i++ {
			a, b := toMerge[2*i], toMerge[2*i+1]
			out := newTempPath(tempDir, epoch, fmt.Sprintf("r%d", round))
			if err := mergeTwoFiles(ctx, a, b, out); err != nil {
				return nil, err
			}
			merged[i] = out
		}
		for _, p := range toMerge {
			if err := file.Remove(ctx, p); err != nil {
				vlog.Errorf("debarcode: removing merged-away chunk %s: %v", p, err)
			}
		}
		paths = append(merged, carry...)
		round++
	}
	return paths, nil
}

// mergeTwoFiles blockwise-merges a and b into out.
func mergeTwoFiles(ctx context.Context, a, b, out string) error {
	fa, err := file.Open(ctx, a)
	if err != nil {
		return errors.E(err, "debarcode: opening merge input", a)
	}
	defer fa.Close(ctx)
	fb, err := file.Open(ctx, b)
	if err != nil {
		return errors.E(err, "debarcode: opening merge input", b)
	}
	defer fb.Close(ctx)
	fo, err := file.Create(ctx, out)
	if err != nil {
		return errors.E(err, "debarcode: creating merge output", out)
	}
	if err := container.Merge([]string{a, b}, []io.Reader{fa.Reader(ctx), fb.Reader(ctx)}, fo.Writer(ctx)); err != nil {
		fo.Close(ctx)
		return errors.E(err, "debarcode: merging", a, b)
	}
	return fo.Close(ctx)
}

// timeNowUnix is a seam so callers (and tests) can pin the temp-file epoch
// prefix instead of depending on wall-clock time.
func timeNowUnix() int64 { return time.Now().Unix() }
