package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/trendscan/internal/cache"
	"github.com/sawpanic/trendscan/internal/httpapi"
	"github.com/sawpanic/trendscan/internal/metrics"
	"github.com/sawpanic/trendscan/internal/persistence/postgres"
	"github.com/sawpanic/trendscan/internal/report"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the latest run snapshot over HTTP",
		Long: `Starts the read-only HTTP API: /healthz, /snapshot (latest persisted run)
and /metrics. Requires the Postgres backend that scans persist snapshots to.`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "127.0.0.1:8080", "Listen address")
	cmd.Flags().String("postgres-dsn", "", "Postgres DSN holding run snapshots (required)")
	cmd.Flags().String("redis-addr", "", "Redis address for the snapshot cache")
	cmd.Flags().Int("redis-db", 0, "Redis database number")
	cmd.Flags().Duration("cache-ttl", 20*time.Hour, "Cache entry TTL")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	dsn, _ := flags.GetString("postgres-dsn")
	if dsn == "" {
		return fmt.Errorf("--postgres-dsn is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := postgres.Open(ctx, dsn, 10*time.Second, log.Logger)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer repo.Close()
	snapRepo := postgres.NewSnapshotRepository(repo.DB(), 10*time.Second, log.Logger)
	if err := snapRepo.Migrate(ctx); err != nil {
		return err
	}

	checks := map[string]httpapi.HealthChecker{"postgres": repo}
	var snapshots httpapi.SnapshotProvider = snapRepo

	if addr, _ := flags.GetString("redis-addr"); addr != "" {
		db, _ := flags.GetInt("redis-db")
		ttl, _ := flags.GetDuration("cache-ttl")
		c := cache.New(cache.NewClient(addr, db), ttl, log.Logger)
		defer c.Close()
		checks["redis"] = c
		snapshots = &cachedSnapshots{cache: c, repo: snapRepo}
	}

	listenAddr, _ := flags.GetString("addr")
	apiCfg := httpapi.DefaultConfig()
	apiCfg.Addr = listenAddr
	server := httpapi.New(apiCfg, snapshots, checks, metrics.New(), log.Logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// cachedSnapshots reads the latest snapshot from Redis first and falls back
// to Postgres, refilling the cache on the way out.
type cachedSnapshots struct {
	cache *cache.Cache
	repo  *postgres.SnapshotRepository
}

func (c *cachedSnapshots) Latest(ctx context.Context) (report.Snapshot, bool, error) {
	if snap, ok, err := c.cache.GetSnapshot(ctx); err == nil && ok {
		return snap, true, nil
	}
	snap, ok, err := c.repo.Latest(ctx)
	if err != nil || !ok {
		return snap, ok, err
	}
	if err := c.cache.SetSnapshot(ctx, snap); err != nil {
		log.Warn().Err(err).Msg("snapshot cache refill failed")
	}
	return snap, true, nil
}
