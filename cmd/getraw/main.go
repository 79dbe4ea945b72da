// Command getraw debarcodes paired FASTQ files into a cell-sorted,
// block-compressed container.
//
// Usage:
//
//	getraw atrandi-wgs --r1 a.fastq.gz,b.fastq.gz --r2 c.fastq.gz,d.fastq.gz \
//	    --barcodes barcodes.tsv --out out.tirp
//	getraw parse-bio --subchemistry v2 --r1 ... --r2 ... --barcodes ... --out ...
package main

import (
	"context"
	"os"
	"strings"

	"github.com/grailbio/bascet/barcode"
	"github.com/grailbio/bascet/debarcode"
	"github.com/grailbio/bascet/encoding/fastq"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/vcontext"
	"github.com/spf13/cobra"
	"v.io/x/lib/vlog"
)

type commonFlags struct {
	r1, r2           string
	barcodes         string
	umiWhitelist     string
	out              string
	hist             string
	incomplete       string
	tempDir          string
	targetShards     int
	compressionLevel int
	threads          int
	memBytes         int64
	prepareSample    int
	skipDebarcode    string
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.r1, "r1", "", "comma-separated list of R1 FASTQ paths")
	cmd.Flags().StringVar(&f.r2, "r2", "", "comma-separated list of R2 FASTQ paths")
	cmd.Flags().StringVar(&f.barcodes, "barcodes", "", "barcode definition TSV path")
	cmd.Flags().StringVar(&f.umiWhitelist, "umi-whitelist", "", "optional UMI whitelist (one UMI per line); decoded UMIs snap to their unique closest entry")
	cmd.Flags().StringVar(&f.out, "out", "", "output container path")
	cmd.Flags().StringVar(&f.hist, "hist", "", "cell histogram output path (default <out>.hist)")
	cmd.Flags().StringVar(&f.incomplete, "incomplete", "", "optional path for reads that failed to debarcode")
	cmd.Flags().StringVar(&f.tempDir, "temp-dir", os.TempDir(), "directory for intermediate chunk files")
	cmd.Flags().IntVar(&f.targetShards, "shards", 1, "number of output container files")
	cmd.Flags().IntVar(&f.compressionLevel, "level", 6, "deflate compression level (0-9)")
	cmd.Flags().IntVar(&f.threads, "threads", 0, "total OS threads to apportion across pipeline roles (0 = NumCPU)")
	cmd.Flags().Int64Var(&f.memBytes, "mem-bytes", 0, "total memory budget in bytes (0 = default)")
	cmd.Flags().IntVar(&f.prepareSample, "prepare-sample", 5000, "number of R2 reads sampled to auto-calibrate barcode pool offsets (0 disables)")
	cmd.Flags().StringVar(&f.skipDebarcode, "skip-debarcode", "", "comma-separated list of existing sorted chunk files; skips straight to the mergesort phase")
}

func splitPaths(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func run(ctx context.Context, chem *barcode.Chemistry, f *commonFlags) error {
	if f.umiWhitelist != "" {
		wf, err := file.Open(ctx, f.umiWhitelist)
		if err != nil {
			return err
		}
		corrector, err := barcode.NewUMICorrector(wf.Reader(ctx))
		wf.Close(ctx)
		if err != nil {
			return err
		}
		chem.UMICorrector = corrector
	}
	if f.skipDebarcode == "" && f.prepareSample > 0 {
		if err := calibrate(ctx, chem, splitPaths(f.r2), f.prepareSample); err != nil {
			return err
		}
	}

	budget := debarcode.Budget{TotalThreads: f.threads, TotalMemBytes: f.memBytes}
	pipe := &debarcode.Pipeline{
		Chemistry:        chem,
		Budget:           budget,
		R1Paths:          splitPaths(f.r1),
		R2Paths:          splitPaths(f.r2),
		OutputPath:       f.out,
		TempDir:          f.tempDir,
		CompressionLevel: f.compressionLevel,
		TargetShards:     f.targetShards,
		SalvagePath:      f.incomplete,
		ExistingChunks:   splitPaths(f.skipDebarcode),
	}
	result, err := pipe.Run(ctx)
	if err != nil {
		return err
	}
	vlog.Infof("getraw: %d reads, %d matched, %d output shard(s)", result.NumReads, result.NumMatched, len(result.OutputPaths))

	histPath := f.hist
	if histPath == "" {
		histPath = f.out + ".hist"
	}
	hf, err := file.Create(ctx, histPath)
	if err != nil {
		return err
	}
	if err := result.Histogram.WriteTo(hf.Writer(ctx)); err != nil {
		hf.Close(ctx)
		return err
	}
	return hf.Close(ctx)
}

// calibrate samples the first n reads of the R2 mate stream and runs
// barcode.Prepare to auto-calibrate pool anchor positions.
func calibrate(ctx context.Context, chem *barcode.Chemistry, r2Paths []string, n int) error {
	if len(r2Paths) == 0 {
		return nil
	}
	r, closeAll, err := debarcode.OpenMateStream(ctx, r2Paths[:1])
	if err != nil {
		return err
	}
	defer closeAll()

	sample, err := fastq.SampleSeqs(r, n)
	if err != nil {
		return err
	}
	if err := barcode.Prepare(chem, sample); err != nil {
		return err
	}
	if len(sample) > 0 {
		chem.WarnIfNoScanPositions(len(sample[0]))
	}
	return nil
}

func main() {
	shutdown := grail.Init()
	defer shutdown()

	root := &cobra.Command{
		Use:   "getraw",
		Short: "Debarcode paired single-cell FASTQ into a sorted container",
	}

	atrandiFlags := &commonFlags{}
	atrandiCmd := &cobra.Command{
		Use:   "atrandi-wgs",
		Short: "Atrandi whole-genome-sequencing chemistry (4 pools + UMI)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := vcontext.Background()
			bf, err := file.Open(ctx, atrandiFlags.barcodes)
			if err != nil {
				return err
			}
			defer bf.Close(ctx)
			chem, err := barcode.NewAtrandiWGS(bf.Reader(ctx))
			if err != nil {
				return err
			}
			return run(ctx, chem, atrandiFlags)
		},
	}
	atrandiFlags.register(atrandiCmd)
	root.AddCommand(atrandiCmd)

	parseBioFlags := &commonFlags{}
	umiLen := 8
	parseBioCmd := &cobra.Command{
		Use:   "parse-bio",
		Short: "Parse Biosciences split-pool chemistry (3 pools + UMI)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := vcontext.Background()
			bf, err := file.Open(ctx, parseBioFlags.barcodes)
			if err != nil {
				return err
			}
			defer bf.Close(ctx)
			chem, err := barcode.NewParseBio(bf.Reader(ctx), umiLen)
			if err != nil {
				return err
			}
			return run(ctx, chem, parseBioFlags)
		},
	}
	parseBioFlags.register(parseBioCmd)
	parseBioCmd.Flags().IntVar(&umiLen, "umi-len", 8, "UMI length in bases")
	parseBioCmd.Flags().String("subchemistry", "v2", "named sub-version of the Parse Biosciences chemistry (informational)")
	root.AddCommand(parseBioCmd)

	if err := root.Execute(); err != nil {
		vlog.Fatalf("getraw: %v", err)
	}
}
