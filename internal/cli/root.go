// Package cli wires filerepo into a cobra command tree as a thin
// demonstration harness over the library surface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultfs/filerepo/internal/buildinfo"
	"github.com/vaultfs/filerepo/internal/filerepo"
	"github.com/vaultfs/filerepo/internal/filerepoconfig"
)

// NewRoot builds the filerepo command tree.
func NewRoot() *cobra.Command {
	var baseDir string

	cmd := &cobra.Command{
		Use:   "filerepo",
		Short: "Transactional file repository",
		Long:  "filerepo manages a content-addressable, transactional file repository on a local filesystem.",
		RunE:  func(c *cobra.Command, _ []string) error { return c.Help() },
	}
	cmd.PersistentFlags().StringVar(&baseDir, "base-dir", ".", "repository base directory")

	cmd.AddCommand(newAddCmd(&baseDir))
	cmd.AddCommand(newGetCmd(&baseDir))
	cmd.AddCommand(newVariantsCmd(&baseDir))
	cmd.AddCommand(newAddVariantCmd(&baseDir))
	cmd.AddCommand(newRmCmd(&baseDir))
	cmd.AddCommand(newRmVariantCmd(&baseDir))
	cmd.AddCommand(newCleanCmd(&baseDir))
	cmd.AddCommand(newStatCmd(&baseDir))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// openRepo loads configuration for baseDir and opens the repository,
// reporting commit/rollback failures to stderr instead of dropping them,
// the way a CLI-facing caller is expected to wire FailureHandlers.
func openRepo(baseDir string) (*filerepo.Repo, error) {
	opts, _, err := filerepoconfig.Load(baseDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	opts.CommitFailed = func(err error) { fmt.Fprintf(os.Stderr, "commit finalization failed: %v\n", err) }
	opts.RollbackFailed = func(err error) { fmt.Fprintf(os.Stderr, "rollback finalization failed: %v\n", err) }

	r, err := filerepo.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", baseDir, err)
	}
	return r, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(c *cobra.Command, _ []string) {
			fmt.Printf("filerepo version %s\n", buildinfo.GetVersion())
		},
	}
}
