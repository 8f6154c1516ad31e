package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sourcecolon/sourcecolon/internal/desc"
	"github.com/sourcecolon/sourcecolon/internal/output"
)

func newDescCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "desc",
		Short: "Manage the directory description table",
	}
	cmd.AddCommand(newDescBuildCmd())
	return cmd
}

func newDescBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <file.tsv|->",
		Short: "Load path<TAB>description lines into the description table",
		Long: `Load one-line descriptions shown in directory listings. Each input line
is a source path relative to the source root, a tab and the description.
Blank lines and lines starting with '#' are skipped. Existing entries are
replaced.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := loadStore()
			if err != nil {
				return err
			}
			dataRoot := store.DataRoot()
			if dataRoot == "" {
				return fmt.Errorf("no data root configured")
			}

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				in = f
			}

			table, err := desc.Open(descPath(dataRoot))
			if err != nil {
				return err
			}
			defer func() { _ = table.Close() }()

			n, err := table.LoadTSV(cmd.Context(), in)
			if err != nil {
				return err
			}
			if store.OptimizeDatabase() {
				if err := table.Optimize(cmd.Context()); err != nil {
					return err
				}
			}
			output.New(cmd.OutOrStdout()).Successf("loaded %d descriptions into %s", n, descPath(dataRoot))
			return nil
		},
	}
}
