package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jo-hoe/faceswap/internal/core"
	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

type rootOptions struct {
	configPath string
	config     *core.ServiceConfig
}

func newRootCmd() *cobra.Command {
	options := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "faceswapctl",
		Short:         "Maintenance commands for the face swap service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			config, err := core.LoadConfig(options.resolveConfigPath())
			if err != nil {
				return err
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.SlogLevel()})))
			options.config = config
			return nil
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.PersistentFlags().StringVar(&options.configPath, "config", "", "path to config.yaml (default: $CONFIG_PATH or ./config.yaml)")

	rootCmd.AddCommand(
		newFetchModelCmd(options),
		newPruneCmd(options),
		newVersionCmd(),
	)
	return rootCmd
}

func (o *rootOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		return configPath
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(cwd, "config.yaml")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
