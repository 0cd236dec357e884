package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/facegate/internal/storage"
)

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Inspect free space and run retention cleanup",
}

var storageHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show free space and the current storage tier",
	Args:  cobra.NoArgs,
	RunE:  runStorageHealth,
}

var storageCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete ledger rows older than the retention age",
	Long: `Run one retention pass now. --older-than overrides the configured
retention age for this run.

Examples:
  facegate storage cleanup
  facegate storage cleanup --older-than 720h`,
	Args: cobra.NoArgs,
	RunE: runStorageCleanup,
}

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(storageHealthCmd, storageCleanupCmd)

	storageHealthCmd.Flags().Bool("json", false, "Output as JSON")
	storageCleanupCmd.Flags().Duration("older-than", 0, "Retention age override (0 uses the configured value)")
}

func runStorageHealth(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	health, err := a.storage.Health(ctx)
	if err != nil {
		return err
	}
	if mustGetBool(cmd, "json") {
		return outputJSON(health)
	}

	fmt.Printf("Tier:      %s\n", health.Tier)
	fmt.Printf("Internal:  %s free\n", humanize.IBytes(uint64(health.AvailableInternalBytes)))
	if health.AvailableExternalBytes != nil {
		fmt.Printf("External:  %s free\n", humanize.IBytes(uint64(*health.AvailableExternalBytes)))
	}
	fmt.Printf("Retention: %s\n", formatDuration(a.storage.Retention()))
	return nil
}

func runStorageCleanup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	retention := mustGetDuration(cmd, "older-than")
	if retention <= 0 {
		retention = a.cfg.Storage.Retention()
	}
	if retention <= 0 {
		return fmt.Errorf("retention is disabled; pass --older-than")
	}

	start := time.Now()
	pruner := storage.NewPruner(a.ledger, storage.PrunerConfig{
		Retention: retention,
		Observer:  a.metrics,
	}, a.logger)
	deleted := pruner.RunOnce(ctx)

	fmt.Printf("Deleted %s rows older than %s (%s)\n",
		humanize.Comma(deleted), formatDuration(retention), formatDuration(time.Since(start)))
	return nil
}
