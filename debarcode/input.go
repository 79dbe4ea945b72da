package debarcode

import (
	"bufio"
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// OpenMateStream opens paths in order and returns a single reader that
// concatenates their (possibly block-gzipped) decompressed content, plus a
// closer for every underlying file and gzip stream. The files are read
// sequentially, in the order given.
func OpenMateStream(ctx context.Context, paths []string) (io.Reader, func() error, error) {
	var readers []io.Reader
	var files []file.File
	var gzReaders []io.Closer

	closeAll := func() error {
		var first error
		for i := len(gzReaders) - 1; i >= 0; i-- {
			if err := gzReaders[i].Close(); err != nil && first == nil {
				first = err
			}
		}
		for i := len(files) - 1; i >= 0; i-- {
			if err := files[i].Close(ctx); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	for _, p := range paths {
		f, err := file.Open(ctx, p)
		if err != nil {
			closeAll()
			return nil, nil, errors.Wrapf(err, "debarcode: opening %s", p)
		}
		files = append(files, f)
		br := bufio.NewReader(f.Reader(ctx))
		magic, err := br.Peek(2)
		if err != nil && err != io.EOF {
			closeAll()
			return nil, nil, errors.Wrapf(err, "debarcode: reading %s", p)
		}
		if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
			gz, err := gzip.NewReader(br)
			if err != nil {
				closeAll()
				return nil, nil, errors.Wrapf(err, "debarcode: opening gzip stream %s", p)
			}
			gzReaders = append(gzReaders, gz)
			readers = append(readers, gz)
		} else {
			readers = append(readers, br)
		}
	}
	return io.MultiReader(readers...), closeAll, nil
}

// Background returns the root context used for file-backed I/O
// (vcontext.Background()), so callers outside this package don't need
// their own import of vcontext for the common case.
func Background() context.Context { return vcontext.Background() }
