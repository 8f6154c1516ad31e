package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sourcecolon/sourcecolon/internal/analysis"
	"github.com/sourcecolon/sourcecolon/internal/index"
	"github.com/sourcecolon/sourcecolon/internal/output"
)

func newSearchCmd() *cobra.Command {
	var (
		field string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Query the search index",
		Example: `  sourcecolon search main
  sourcecolon search --field defs NewRegistry`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			dataRoot := store.DataRoot()
			if dataRoot == "" {
				return fmt.Errorf("no data root configured; run 'sourcecolon index --data <dir>' first")
			}

			sink, err := index.Open(indexPath(dataRoot))
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()

			hits, err := sink.Search(cmd.Context(), field, strings.Join(args, " "), limit)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if len(hits) == 0 {
				out.Warningf("no matches")
				return nil
			}
			for _, h := range hits {
				out.Status(fmt.Sprintf("%6.3f", h.Score), h.Path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&field, "field", "f", analysis.FieldFull, "Field to search: full, defs, refs or path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")

	return cmd
}
