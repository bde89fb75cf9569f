package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultfs/filerepo/internal/fileid"
	"github.com/vaultfs/filerepo/internal/filerepoconfig"
)

type statResult struct {
	BaseDirectory      string `json:"base_directory"`
	ConfigSource       string `json:"config_source"`
	MainFileExists     bool   `json:"main_file_exists,omitempty"`
	VariantCount       int    `json:"variant_count,omitempty"`
	IndeterminateDelay string `json:"indeterminate_delay"`
	DeleteDelay        string `json:"delete_delay"`
}

func newStatCmd(baseDir *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "stat [id]",
		Short: "Report repository configuration, or a single file's presence and variant count",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			opts, src, err := filerepoconfig.Load(*baseDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			res := statResult{
				BaseDirectory:      opts.BaseDirectory,
				ConfigSource:       src.Origin,
				IndeterminateDelay: opts.IndeterminateDelay.String(),
				DeleteDelay:        opts.DeleteDelay.String(),
			}

			if len(args) == 1 {
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
				if _, err := r.Get(ctx, id); err == nil {
					res.MainFileExists = true
				}
				if ids, err := r.GetVariantIDs(ctx, id); err == nil {
					res.VariantCount = len(ids)
				}
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}

			fmt.Printf("base_directory:      %s\n", res.BaseDirectory)
			fmt.Printf("config_source:       %s\n", res.ConfigSource)
			fmt.Printf("indeterminate_delay: %s\n", res.IndeterminateDelay)
			fmt.Printf("delete_delay:        %s\n", res.DeleteDelay)
			if len(args) == 1 {
				fmt.Printf("main_file_exists:    %t\n", res.MainFileExists)
				fmt.Printf("variant_count:       %d\n", res.VariantCount)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit machine-readable JSON")
	return cmd
}
