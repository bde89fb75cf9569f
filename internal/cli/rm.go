package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/pathlayout"
)

func newRmCmd(baseDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a file (marker write now, physical removal on the next clean sweep)",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := fileid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse id: %w", err)
			}

			r, err := openRepo(*baseDir)
			if err != nil {
				return err
			}
			defer r.Close()

			ctx := context.Background()
			txn := r.BeginTransaction()
			if err := txn.Delete(ctx, id); err != nil {
				txn.Dispose(ctx)
				return fmt.Errorf("rm: %w", err)
			}
			txn.Commit(ctx)
			return nil
		},
	}
}

func newRmVariantCmd(baseDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "rm-variant <id> <variant>",
		Short: "Delete a variant (marker write now, physical removal on the next clean sweep)",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := fileid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse id: %w", err)
			}

			r, err := openRepo(*baseDir)
			if err != nil {
				return err
			}
			defer r.Close()

			return r.DeleteVariant(context.Background(), id, pathlayout.VariantID(args[1]))
		},
	}
}
