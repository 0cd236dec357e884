package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/facegate/internal/storage"
	"github.com/kozaktomas/facegate/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the facegate HTTP API.

Capture devices post live embeddings to /api/v1/attendance; enrollment,
ledger queries, storage status and Prometheus metrics are served alongside.
A background pruner removes ledger rows older than the retention age.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides FACEGATE_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides FACEGATE_HOST)")
	serveCmd.Flags().Bool("warm-cache", true, "Load and decrypt all templates before accepting requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.withService(ctx); err != nil {
		return err
	}

	host, port := a.cfg.Web.Host, a.cfg.Web.Port
	if h := mustGetString(cmd, "host"); h != "" {
		host = h
	}
	if p := mustGetInt(cmd, "port"); p > 0 {
		port = p
	}

	if mustGetBool(cmd, "warm-cache") {
		candidates, err := a.cache.All(ctx)
		if err != nil {
			return fmt.Errorf("warming embedding cache: %w", err)
		}
		fmt.Printf("Loaded %d enrollment templates\n", len(candidates))
	}

	health, err := a.storage.Health(ctx)
	if err != nil {
		a.logger.Warn("storage probe failed", "error", err)
	} else {
		fmt.Printf("Storage: %s free (%s)\n", humanize.IBytes(uint64(health.AvailableInternalBytes)), health.Tier)
	}

	pruner := storage.NewPruner(a.ledger, storage.PrunerConfig{
		Retention: a.cfg.Storage.Retention(),
		Interval:  a.cfg.Storage.PruneInterval,
		Observer:  a.metrics,
	}, a.logger)
	pruner.Start(ctx)
	defer pruner.Stop()

	server := web.NewServer(web.Deps{
		Service: a.service,
		Ledger:  a.ledger,
		Storage: a.storage,
		Metrics: a.metrics,
		Logger:  a.logger,
	}, host, port, a.cfg.Web.AllowedOrigins)

	fmt.Printf("Starting facegate on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}
