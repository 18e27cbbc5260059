package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dresswatch/internal/config"
)

var version = "dev"

const defaultConfigPath = "dresswatch.yaml"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "dresswatch",
		Short:         "Dress-code violation detection for camera feeds",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the YAML or JSON config file")

	rootCmd.AddCommand(
		setupInitCommand(&configPath),
		setupServeCommand(&configPath),
		setupExemptionsCommand(&configPath),
		setupVersionCommand(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func setupVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func loadConfig(path string) (*config.Manager, error) {
	path = config.ResolvePath(path)
	manager, err := config.NewManager(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return manager, nil
}
