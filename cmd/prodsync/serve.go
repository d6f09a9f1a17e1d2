package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fernwake/prodsync/internal/config"
	"github.com/fernwake/prodsync/internal/db"
	"github.com/fernwake/prodsync/internal/notify"
	"github.com/fernwake/prodsync/internal/server"
	"github.com/fernwake/prodsync/internal/syncrun"
)

func newServeCmd() *cobra.Command {
	var configPath string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync invocation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "prodsync.yaml", "path to config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if port == 0 {
		port = cfg.Server.Port
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

	return server.Start(ctx, server.StartOpts{
		DB:            gormDB,
		Port:          port,
		SourceBaseURL: cfg.Source.BaseURL,
		Sync: syncrun.Options{
			BatchSize:   cfg.Sync.BatchSize,
			Concurrency: cfg.Sync.Concurrency,
			Timeout:     cfg.Sync.Timeout(),
		},
		Notifier: notifier,
		Out:      cmd.OutOrStdout(),
	})
}
