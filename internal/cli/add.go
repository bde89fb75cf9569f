package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vaultfs/filerepo/internal/pipeline"
)

func newAddCmd(baseDir *string) *cobra.Command {
	var extension string

	cmd := &cobra.Command{
		Use:   "add <source-file>",
		Short: "Add a new file to the repository and commit it",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			r, err := openRepo(*baseDir)
			if err != nil {
				return err
			}
			defer r.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open source: %w", err)
			}
			defer f.Close()

			ext := extension
			if ext == "" {
				ext = filepath.Ext(args[0])
			}

			ctx := context.Background()
			txn := r.BeginTransaction()
			id, path, err := txn.Add(ctx, pipeline.Source{Stream: f}, ext, true, nil)
			if err != nil {
				txn.Dispose(ctx)
				return fmt.Errorf("add: %w", err)
			}
			txn.Commit(ctx)

			fmt.Printf("%s\t%s\n", id, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&extension, "ext", "", "extension to store the file under (defaults to the source file's own extension)")
	return cmd
}
