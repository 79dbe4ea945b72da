// Command shardify re-shards one or more sorted containers into a
// different number of output shards, optionally restricted to a list of
// cells.
//
// Usage:
//
//	shardify --in a.tirp,b.tirp,c.tirp --out merged --shards 1
//	shardify --in a.tirp --out filtered --shards 1 --include cellA,cellB
package main

import (
	"context"
	"os"
	"strings"

	"github.com/grailbio/bascet/barcode"
	"github.com/grailbio/bascet/shardify"
	"github.com/grailbio/base/grail"
	"github.com/spf13/cobra"
	"v.io/x/lib/vlog"
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	var in, out, tempDir, include string
	var targetShards, level int

	cmd := &cobra.Command{
		Use:   "shardify",
		Short: "Re-shard sorted containers, optionally filtering by cell",
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs := splitNonEmpty(in)
			if len(inputs) == 0 {
				return errUsage("shardify: --in is required")
			}
			if out == "" {
				return errUsage("shardify: --out is required")
			}
			opts := shardify.Options{
				Inputs:           inputs,
				OutputPrefix:     out,
				TargetShards:     targetShards,
				TempDir:          tempDir,
				CompressionLevel: level,
			}
			if include != "" {
				for _, c := range splitNonEmpty(include) {
					opts.Include = append(opts.Include, barcode.CellID(c))
				}
				opts.Include = shardify.SortCells(opts.Include)
			}
			result, err := shardify.Run(context.Background(), opts)
			if err != nil {
				return err
			}
			vlog.Infof("shardify: wrote %d shard(s), %d total records", len(result.OutputPaths), result.Histogram.Total())
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "comma-separated list of input container paths")
	cmd.Flags().StringVar(&out, "out", "", "output prefix (a single file if --shards=1, else prefix.0, prefix.1, ...)")
	cmd.Flags().StringVar(&tempDir, "temp-dir", os.TempDir(), "directory for intermediate merge files")
	cmd.Flags().IntVar(&targetShards, "shards", 1, "number of output container files")
	cmd.Flags().IntVar(&level, "level", 6, "deflate compression level (0-9)")
	cmd.Flags().StringVar(&include, "include", "", "comma-separated list of cells to keep; all cells kept if empty")

	if err := cmd.Execute(); err != nil {
		vlog.Fatalf("shardify: %v", err)
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

type usageError string

func (e usageError) Error() string { return string(e) }

func errUsage(msg string) error { return usageError(msg) }
