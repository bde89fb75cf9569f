package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/pathlayout"
)

func newGetCmd(baseDir *string) *cobra.Command {
	var variant string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print the on-disk path to a file or one of its variants",
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
			var path string
			if variant == "" {
				path, err = r.Get(ctx, id)
			} else {
				path, err = r.GetVariant(ctx, id, pathlayout.VariantID(variant))
			}
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			fmt.Println(path)
			return nil
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "look up a variant instead of the main file")
	return cmd
}

func newVariantsCmd(baseDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "variants <id>",
		Short: "List the variant ids stored for a file",
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

			ids, err := r.GetVariantIDs(context.Background(), id)
			if err != nil {
				return fmt.Errorf("variants: %w", err)
			}
			for _, v := range ids {
				fmt.Println(v.String())
			}
			return nil
		},
	}
}
