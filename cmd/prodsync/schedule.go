package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fernwake/prodsync/internal/config"
	"github.com/fernwake/prodsync/internal/db"
	"github.com/fernwake/prodsync/internal/notify"
	"github.com/fernwake/prodsync/internal/scheduler"
)

func newScheduleCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run scheduled workspace syncs",
		Long:  "Starts the cron scheduler and triggers a sync for each configured workspace on its schedule. Overlapping triggers for the same workspace are skipped.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedule(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "prodsync.yaml", "path to config file")
	return cmd
}

func runSchedule(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Store)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	notifier, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return scheduler.New(gormDB, cfg, notifier).Start(ctx)
}
