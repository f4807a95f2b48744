package main

import (
	"fmt"
	"io"
	"os"

	"github.com/jo-hoe/faceswap/internal/backend/modelfetch"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newFetchModelCmd(options *rootOptions) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "fetch-model",
		Short: "Download the swap model artifact if it is missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			model := options.config.Model
			fetcher := modelfetch.NewFetcher(model.Path, model.URL, model.SHA256)
			if !quiet {
				fetcher.Progress = func(total int64) io.Writer {
					return progressbar.DefaultBytes(total, "Downloading model")
				}
			}
			if err := fetcher.Ensure(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "model ready at %s\n", model.Path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", !isatty.IsTerminal(os.Stderr.Fd()), "disable the progress bar")
	return cmd
}

