package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/pathlayout"
	"github.com/vaultfs/filerepo/internal/pipeline"
)

func newAddVariantCmd(baseDir *string) *cobra.Command {
	var getOrAdd, tryAdd bool

	cmd := &cobra.Command{
		Use:   "add-variant <id> <variant>",
		Short: "Derive a variant from a file's main content",
		Long: `Derive a variant from a file's main content. By default the variant must
not already exist; --try reports success without an error if it does,
and --get-or-add returns the existing path instead of failing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			id, err := fileid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse id: %w", err)
			}
			variant, err := pathlayout.NormalizeVariantID(args[1])
			if err != nil {
				return fmt.Errorf("normalize variant: %w", err)
			}

			r, err := openRepo(*baseDir)
			if err != nil {
				return err
			}
			defer r.Close()

			ctx := context.Background()
			pipe := &pipeline.Pipeline{}

			switch {
			case getOrAdd:
				path, err := r.GetOrAddVariant(ctx, id, variant, nil, pipe)
				if err != nil {
					return fmt.Errorf("add-variant: %w", err)
				}
				fmt.Println(path)
			case tryAdd:
				path, justAdded, err := r.TryAddVariant(ctx, id, variant, nil, pipe)
				if err != nil {
					return fmt.Errorf("add-variant: %w", err)
				}
				fmt.Printf("%s\t%t\n", path, justAdded)
			default:
				path, err := r.AddVariant(ctx, id, variant, nil, pipe)
				if err != nil {
					return fmt.Errorf("add-variant: %w", err)
				}
				fmt.Println(path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tryAdd, "try", false, "succeed even if the variant already exists")
	cmd.Flags().BoolVar(&getOrAdd, "get-or-add", false, "return the existing path if the variant already exists")
	return cmd
}
