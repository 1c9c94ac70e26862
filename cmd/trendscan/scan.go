package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sawpanic/trendscan/internal/application/pipeline"
	"github.com/sawpanic/trendscan/internal/cache"
	"github.com/sawpanic/trendscan/internal/config"
	"github.com/sawpanic/trendscan/internal/datasource"
	"github.com/sawpanic/trendscan/internal/metrics"
	"github.com/sawpanic/trendscan/internal/persistence/csvstate"
	"github.com/sawpanic/trendscan/internal/persistence/postgres"
	"github.com/sawpanic/trendscan/internal/report"
	"github.com/sawpanic/trendscan/internal/state"
	"github.com/sawpanic/trendscan/internal/universe"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one decision pass and print the action card",
		Long: `Loads the universe and broker positions, scans every instrument, manages
stops on held positions, and prints the action card. State changes commit
atomically at the end of the run.`,
		RunE: runScan,
	}
	cmd.Flags().String("universe", "universe.yaml", "Universe sleeve-list YAML")
	cmd.Flags().String("bars-dir", "bars", "Directory of per-symbol daily OHLCV CSV files")
	cmd.Flags().String("positions", "", "Broker positions CSV (symbol,quantity,avg_price,fx_rate)")
	cmd.Flags().Float64("equity", 0, "Account equity in base currency (required)")
	cmd.Flags().Float64("cash", 0, "Free cash in base currency")
	cmd.Flags().String("state", "state/position_state.csv", "CSV state file (ignored with --postgres-dsn)")
	cmd.Flags().String("postgres-dsn", "", "Postgres DSN for state and run snapshots")
	cmd.Flags().String("redis-addr", "", "Redis address for the bar/snapshot cache")
	cmd.Flags().Int("redis-db", 0, "Redis database number")
	cmd.Flags().Duration("cache-ttl", 20*time.Hour, "Cache entry TTL")
	cmd.Flags().String("audit-file", "", "Rotating JSON audit log path")
	cmd.Flags().String("out", "", "Write the action card to this file instead of stdout")
	cmd.Flags().Float64("rps", 4, "Bar source requests per second")
	cmd.Flags().Int("burst", 8, "Bar source request burst")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	configPath, _ := flags.GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	universePath, _ := flags.GetString("universe")
	uni, err := universe.Load(universePath, log.Logger)
	if err != nil {
		return fmt.Errorf("load universe: %w", err)
	}

	equity, _ := flags.GetFloat64("equity")
	if equity <= 0 {
		return fmt.Errorf("--equity must be positive")
	}
	cashAmt, _ := flags.GetFloat64("cash")
	positionsPath, _ := flags.GetString("positions")
	portfolio, err := loadPortfolio(positionsPath, equity, cashAmt)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	repo, snapRepo, closeRepo, err := openStateBackend(ctx, flags)
	if err != nil {
		return err
	}
	defer closeRepo()

	var barCache *cache.Cache
	if addr, _ := flags.GetString("redis-addr"); addr != "" {
		db, _ := flags.GetInt("redis-db")
		ttl, _ := flags.GetDuration("cache-ttl")
		barCache = cache.New(cache.NewClient(addr, db), ttl, log.Logger)
		defer barCache.Close()
	}

	barsDir, _ := flags.GetString("bars-dir")
	rps, _ := flags.GetFloat64("rps")
	burst, _ := flags.GetInt("burst")
	m := metrics.New()
	source := datasource.NewGuarded(
		datasource.NewCSVDir(barsDir, log.Logger),
		barCache,
		datasource.GuardOptions{RequestsPerSecond: rps, Burst: burst},
		log.Logger,
	)
	source.OnCacheHit(m.FetchCacheHits.Inc)

	var audit *report.AuditLog
	if auditPath, _ := flags.GetString("audit-file"); auditPath != "" {
		audit = report.NewAuditLog(auditPath, 50, 5, 180)
		defer audit.Close()
	}

	engine := pipeline.New(cfg, pipeline.Deps{
		Universe: uni,
		Source:   source,
		Repo:     repo,
		Metrics:  m,
		Audit:    audit,
	}, log.Logger)

	res, err := engine.Run(ctx, portfolio)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	card := res.Card.Render()
	if outPath, _ := flags.GetString("out"); outPath != "" {
		if err := os.WriteFile(outPath, []byte(card), 0o644); err != nil {
			return fmt.Errorf("write card: %w", err)
		}
		log.Info().Str("path", outPath).Msg("action card written")
	} else {
		fmt.Println(card)
	}

	snap := res.Snapshot()
	if snapRepo != nil {
		if err := snapRepo.Save(ctx, snap); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}
	if barCache != nil {
		if err := barCache.SetSnapshot(ctx, snap); err != nil {
			log.Warn().Err(err).Msg("snapshot cache write failed")
		}
	}
	return nil
}

// openStateBackend picks Postgres when a DSN is given, CSV otherwise. The
// snapshot repo only exists on the Postgres path.
func openStateBackend(ctx context.Context, flags *pflag.FlagSet) (state.Repository, *postgres.SnapshotRepository, func(), error) {
	dsn, _ := flags.GetString("postgres-dsn")
	if dsn == "" {
		statePath, _ := flags.GetString("state")
		repo, err := csvstate.Open(statePath, log.Logger)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open state file: %w", err)
		}
		return repo, nil, func() {}, nil
	}

	repo, err := postgres.Open(ctx, dsn, 10*time.Second, log.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := repo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, nil, nil, err
	}
	snapRepo := postgres.NewSnapshotRepository(repo.DB(), 10*time.Second, log.Logger)
	if err := snapRepo.Migrate(ctx); err != nil {
		repo.Close()
		return nil, nil, nil, err
	}
	return repo, snapRepo, func() { repo.Close() }, nil
}
