package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/filerepo"
)

func newCleanCmd(baseDir *string) *cobra.Command {
	var resolve string

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Run the recovery sweep: finalize overdue deletes, adjudicate stale indeterminate markers",
		RunE: func(c *cobra.Command, _ []string) error {
			r, err := openRepo(*baseDir)
			if err != nil {
				return err
			}
			defer r.Close()

			var resolver filerepo.Resolver
			switch resolve {
			case "":
				resolver = nil
			case "keep":
				resolver = func(fileid.FileID) filerepo.Resolution { return filerepo.ResolutionKeep }
			case "delete":
				resolver = func(fileid.FileID) filerepo.Resolution { return filerepo.ResolutionDelete }
			default:
				return fmt.Errorf("--resolve must be \"keep\" or \"delete\", got %q", resolve)
			}

			if err := r.Clean(context.Background(), resolver); err != nil {
				return fmt.Errorf("clean: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resolve, "resolve", "", `verdict for every unresolved indeterminate marker this sweep finds ("keep" or "delete"); leave unset to leave them for a future sweep`)
	return cmd
}
