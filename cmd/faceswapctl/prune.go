package main

import (
	"fmt"

	"github.com/jo-hoe/faceswap/internal/core"
	"github.com/spf13/cobra"
)

func newPruneCmd(options *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Run one retention sweep over results and uploads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if options.config.Retention.EffectiveTTL() <= 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "retention is disabled, nothing to prune")
				return nil
			}

			coreService, err := core.NewCoreService(cmd.Context(), options.config, nil)
			if err != nil {
				return err
			}
			defer coreService.Close()

			report, err := coreService.Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d results, %d upload files, %d result files\n",
				report.Records, report.UploadFiles, report.ResultFiles)
			return nil
		},
	}
}
