package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fernwake/prodsync/internal/config"
	"github.com/fernwake/prodsync/internal/db"
	"github.com/fernwake/prodsync/internal/syncrun"
)

func newRunsCmd() *cobra.Command {
	var configPath string
	var workspaceID string
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(cmd, configPath, workspaceID, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "prodsync.yaml", "path to config file")
	cmd.Flags().StringVarP(&workspaceID, "workspace", "w", "", "filter by workspace id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "max runs to show")
	return cmd
}

func runRuns(cmd *cobra.Command, configPath, workspaceID string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Store)
	if err != nil {
		return err
	}

	runs, err := syncrun.History(gormDB, workspaceID, limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tWORKSPACE\tSTATUS\tSTARTED\tFEATURES\tRELS\tERRORS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
			r.ID, r.WorkspaceID, r.Status, r.StartedAt.Format(time.RFC3339),
			r.FeaturesCount, r.RelationshipsCount, r.ErrorCount)
	}
	return w.Flush()
}
