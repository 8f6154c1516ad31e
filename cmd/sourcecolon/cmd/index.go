package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sourcecolon/sourcecolon/internal/desc"
	"github.com/sourcecolon/sourcecolon/internal/guru"
	"github.com/sourcecolon/sourcecolon/internal/index"
	"github.com/sourcecolon/sourcecolon/internal/indexer"
	"github.com/sourcecolon/sourcecolon/internal/output"
)

func newIndexCmd() *cobra.Command {
	var (
		sourceRoot string
		dataRoot   string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index the source tree and render cross-references",
		Long: `Walk the source root, analyze every file that is not ignored, add it to
the search index under the data root and, when generate_html is set, store
its cross-reference under <data root>/xref.

Files that fail are reported and skipped; the run continues.`,
		Example: `  sourcecolon index --source ~/src/project --data /var/lib/sourcecolon`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := loadStore()
			if err != nil {
				return err
			}
			if sourceRoot != "" {
				store.SetSourceRoot(sourceRoot)
			}
			if dataRoot != "" {
				if err := store.SetDataRoot(dataRoot); err != nil {
					return err
				}
			}

			reg, err := guru.NewRegistry(store)
			if err != nil {
				return err
			}

			cfg := store.Current()
			sink, err := index.Open(indexPath(cfg.Paths.DataRoot))
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()

			var optimizers []indexer.Optimizer
			if cfg.Paths.DataRoot != "" {
				table, err := desc.Open(descPath(cfg.Paths.DataRoot))
				if err != nil {
					return err
				}
				defer func() { _ = table.Close() }()
				optimizers = append(optimizers, table)
			}

			out := output.New(cmd.OutOrStdout())
			ix, err := indexer.New(indexer.Dependencies{
				Registry:   reg,
				Sink:       sink,
				Optimizers: optimizers,
				Workers:    workers,
				Progress: func(done, total int) {
					out.Progress(done, total, "files")
				},
			})
			if err != nil {
				return err
			}

			res, err := ix.Run(ctx)
			if err != nil {
				return err
			}

			out.Successf("indexed %d of %d files, %d cross-references in %s",
				res.Indexed, res.Files, res.Xrefs, res.Duration.Round(time.Millisecond))
			for _, f := range res.Failures {
				out.Warningf("%s: %v", f.Path, f.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sourceRoot, "source", "s", "", "Source root (overrides paths.source_root)")
	cmd.Flags().StringVarP(&dataRoot, "data", "d", "", "Data root (overrides paths.data_root)")
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "Concurrent analyzers (default: number of CPUs)")

	return cmd
}
