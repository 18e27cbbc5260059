package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"dresswatch/internal/config"
	"dresswatch/internal/normalize"
	"dresswatch/internal/storage"
)

func setupExemptionsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exemptions",
		Short: "Manage the dress-code exemption schedule",
	}
	cmd.AddCommand(
		setupExemptionsListCommand(configPath),
		setupExemptionsAddCommand(configPath),
		setupExemptionsRemoveCommand(configPath),
	)
	return cmd
}

func openStore(ctx context.Context, configPath string) (storage.Store, *config.Config, error) {
	manager, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	cfg := manager.Get()
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.Init(initCtx); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, cfg, nil
}

func setupExemptionsListCommand(configPath *string) *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedule documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			docs, err := store.ListExemptions(cmd.Context())
			if err != nil {
				return err
			}
			loc := cfg.Exemptions.Location()
			now := time.Now().In(loc)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tDRESS CODE\tSTART\tEND\tACTIVE")
			for _, doc := range docs {
				active := false
				if entry, err := normalize.Exemption(doc, cfg.Exemptions.Labels, loc); err == nil {
					active = entry.Active(now)
				}
				if activeOnly && !active {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n", doc.ID, doc.Status, doc.DressCode, doc.StartDate, doc.EndDate, active)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only show entries active today")
	return cmd
}

func setupExemptionsAddCommand(configPath *string) *cobra.Command {
	var id, dressCode, start, end string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Allow a dress code between two dates (MM-DD-YYYY, inclusive)",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			if id == "" {
				id = uuid.NewString()
			}
			doc, err := normalize.Document(id, dressCode, start, end, cfg.Exemptions.Labels, cfg.Exemptions.Location())
			if err != nil {
				return err
			}
			if err := store.SaveExemption(cmd.Context(), doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s: %s %s..%s\n", doc.ID, doc.DressCode, doc.StartDate, doc.EndDate)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Schedule id (generated when empty)")
	cmd.Flags().StringVar(&dressCode, "dress-code", "", "Dress code label, e.g. Cap, Sleeveless, Shorts")
	cmd.Flags().StringVar(&start, "start", "", "First allowed day, MM-DD-YYYY")
	cmd.Flags().StringVar(&end, "end", "", "Last allowed day, MM-DD-YYYY")
	_ = cmd.MarkFlagRequired("dress-code")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func setupExemptionsRemoveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove [id]",
		Short: "Delete a schedule document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.DeleteExemption(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}
