package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fernwake/prodsync/internal/collector"
	"github.com/fernwake/prodsync/internal/config"
	"github.com/fernwake/prodsync/internal/db"
	"github.com/fernwake/prodsync/internal/hierarchy"
	"github.com/fernwake/prodsync/internal/notify"
	"github.com/fernwake/prodsync/internal/syncrun"
)

type syncFlags struct {
	configPath   string
	workspaceID  string
	apiKey       string
	productID    string
	initiativeID string
	maxDepth     int
	noInits      bool
	noComponents bool
	noFeatures   bool
}

func newSyncCmd() *cobra.Command {
	var flags syncFlags

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization for a workspace",
		Long:  "Collects the catalog hierarchy from the source API and persists it. The API key is read from --api-key, PRODSYNC_API_KEY, or an interactive prompt.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "prodsync.yaml", "path to config file")
	cmd.Flags().StringVarP(&flags.workspaceID, "workspace", "w", "", "workspace id (required)")
	cmd.Flags().StringVar(&flags.apiKey, "api-key", "", "source API key (prompted if omitted)")
	cmd.Flags().StringVar(&flags.productID, "product", "", "sync a single product by external id")
	cmd.Flags().StringVar(&flags.initiativeID, "initiative", "", "sync a single initiative by external id")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", 1, "sub-feature depth (1-10)")
	cmd.Flags().BoolVar(&flags.noInits, "no-initiatives", false, "skip initiatives")
	cmd.Flags().BoolVar(&flags.noComponents, "no-components", false, "skip components")
	cmd.Flags().BoolVar(&flags.noFeatures, "no-features", false, "skip features")
	cmd.MarkFlagRequired("workspace")
	return cmd
}

func runSync(cmd *cobra.Command, flags syncFlags) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.maxDepth < 1 || flags.maxDepth > 10 {
		return fmt.Errorf("max-depth must be between 1 and 10")
	}

	apiKey, err := resolveAPIKey(cmd, flags.apiKey)
	if err != nil {
		return err
	}

	gormDB, err := db.Connect(cfg.Store)
	if err != nil {
		return err
	}

	notifier, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return err
	}

	filters := collector.Filters{
		ProductID:          flags.productID,
		InitiativeID:       flags.initiativeID,
		IncludeInitiatives: !flags.noInits,
		IncludeComponents:  !flags.noComponents,
		IncludeFeatures:    !flags.noFeatures,
		MaxDepth:           flags.maxDepth,
	}
	opts := syncrun.Options{
		BatchSize:   cfg.Sync.BatchSize,
		Concurrency: cfg.Sync.Concurrency,
		Timeout:     cfg.Sync.Timeout(),
	}

	api := hierarchy.NewClient(cfg.Source.BaseURL, apiKey)
	res, runErr := syncrun.New(gormDB, opts).Run(cmd.Context(), api, flags.workspaceID, filters)
	if res != nil {
		notifier.RunFinished(res.Run)
	}
	if runErr != nil {
		return fmt.Errorf("sync run failed: %w", runErr)
	}

	run := res.Run
	fmt.Fprintf(out, "Run %s completed\n", run.ID)
	fmt.Fprintf(out, "  products:      %d\n", run.ProductsCount)
	fmt.Fprintf(out, "  initiatives:   %d\n", run.InitiativesCount)
	fmt.Fprintf(out, "  components:    %d\n", run.ComponentsCount)
	fmt.Fprintf(out, "  features:      %d (%d sub-features)\n", run.FeaturesCount, run.SubFeaturesCount)
	fmt.Fprintf(out, "  relationships: %d\n", run.RelationshipsCount)
	if run.ErrorCount > 0 {
		fmt.Fprintf(out, "  row errors:    %d\n", run.ErrorCount)
	}
	return nil
}

// resolveAPIKey returns the key from the flag, the environment, or a
// hidden terminal prompt, in that order.
func resolveAPIKey(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("PRODSYNC_API_KEY"); env != "" {
		return env, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "Source API key: ")
	key, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	if len(key) == 0 {
		return "", fmt.Errorf("api key is required")
	}
	return string(key), nil
}
