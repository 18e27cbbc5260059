package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"dresswatch/internal/config"
)

func setupInitCommand(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file to --config",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ResolvePath(*configPath)
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists; use --force to overwrite", path)
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			if err := config.Save(path, config.Starter()); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
