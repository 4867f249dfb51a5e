package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Anyawb/lendrisk/internal/access"
	"github.com/Anyawb/lendrisk/internal/config"
	"github.com/Anyawb/lendrisk/internal/engine"
	"github.com/Anyawb/lendrisk/internal/event"
	"github.com/Anyawb/lendrisk/internal/ledger"
	"github.com/Anyawb/lendrisk/internal/observability"
	"github.com/Anyawb/lendrisk/internal/oracle"
	"github.com/Anyawb/lendrisk/internal/persistence"
	"github.com/Anyawb/lendrisk/internal/query"
	"github.com/Anyawb/lendrisk/internal/resolver"
	"github.com/Anyawb/lendrisk/internal/risk"
	"github.com/Anyawb/lendrisk/internal/server"
	"github.com/Anyawb/lendrisk/internal/viewsync"
)

// Module addresses the in-process ledgers are bound under. External
// deployments override these through the resolver admin API.
const (
	collateralAddr = "mod:collateral-ledger"
	debtAddr       = "mod:debt-ledger"
	viewCacheAddr  = "mod:view-cache"
	priceFeedAddr  = "mod:price-feed"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	log := observability.NewLogger("lendriskd")
	log.Info().Msg("lendrisk starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}
	log.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	log.Info().Msg("migrations applied")

	// --- NATS ---
	nc, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		log.Fatal().Err(err).Msg("jetstream context")
	}
	log.Info().Msg("nats connected")

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Module wiring ---
	// The in-process ledgers register under fixed addresses; the resolver
	// mediates every lookup so modules can be re-pointed at runtime.
	registry := ledger.NewMemoryRegistry()
	registry.Register(ledger.ModuleCollateralLedger, collateralAddr)
	registry.Register(ledger.ModuleDebtLedger, debtAddr)
	registry.Register(ledger.ModuleViewCache, viewCacheAddr)
	registry.Register(ledger.ModulePriceFeed, priceFeedAddr)

	directory := ledger.NewDirectory()
	directory.BindCollateral(collateralAddr, ledger.NewMemoryCollateralLedger())
	directory.BindDebt(debtAddr, ledger.NewMemoryDebtLedger())
	directory.BindPriceFeed(priceFeedAddr, ledger.NewStaticPriceFeed())
	directory.BindViewCache(viewCacheAddr, viewsync.NewPusher(js, 2*time.Second, observability.NewLogger("viewsync")))

	// --- Access control ---
	ctrl, err := access.NewController(cfg.Owner, cfg.Keeper)
	if err != nil {
		log.Fatal().Err(err).Msg("access controller")
	}

	// --- Core services ---
	res := resolver.New(registry, ctrl, cfg.ResolverMaxAge, cfg.MaxBatch, metrics)
	assessor := risk.NewAssessor(res, directory, ctrl, cfg.LiquidationThreshold, cfg.MaxBatch, metrics)

	events := make(chan event.Event, cfg.EventChanSize)
	eng := engine.New(
		ctrl,
		res,
		directory,
		assessor,
		cfg.BonusRateBps,
		cfg.MaxBatch,
		metrics,
		observability.NewLogger("engine"),
		events,
	)

	oraclePolicy := oracle.NewPolicy(metrics, observability.NewLogger("oracle"))
	oracleCfg := oracle.Config{
		MaxPriceAge:      cfg.PriceMaxAge,
		MinPrice:         cfg.PriceMin,
		MaxPrice:         cfg.PriceMax,
		DefaultUnitPrice: cfg.DefaultUnitPrice,
		SettlementAsset:  cfg.SettlementAsset,
	}

	queryService := query.NewService(db)

	// --- HTTP API ---
	httpServer := server.New(cfg.HTTPAddr, &server.Deps{
		Controller: ctrl,
		Resolver:   res,
		Directory:  directory,
		Assessor:   assessor,
		Engine:     eng,
		Oracle:     oraclePolicy,
		OracleCfg:  oracleCfg,
		Query:      queryService,
		Health:     healthChecker,
		Metrics:    metrics,
		Log:        observability.NewLogger("http"),
		Events:     events,
	})

	// --- Start goroutines ---
	errChan := make(chan error, 4)

	// 1. History persistence worker
	persistWorker := persistence.NewWorker(
		db,
		events,
		cfg.PersistBatchSize,
		cfg.PersistFlushEvery,
		metrics,
		observability.NewLogger("persistence"),
	)
	go func() {
		errChan <- persistWorker.Run(ctx)
	}()

	// 2. HTTP API
	go func() {
		errChan <- httpServer.Start(ctx)
	}()

	// 3. Prometheus metrics server
	go func() {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			metricsServer.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Int64("bonus_rate_bps", cfg.BonusRateBps).
		Msg("lendrisk ready")

	// --- Wait for shutdown signal ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errChan:
		if err != nil {
			log.Error().Err(err).Msg("component failed")
		}
	}

	healthChecker.SetReady(false)
	cancel()

	// Give workers a moment to flush.
	drainTimer := time.NewTimer(5 * time.Second)
	defer drainTimer.Stop()
	for i := 0; i < cap(errChan); i++ {
		select {
		case <-errChan:
		case <-drainTimer.C:
			log.Warn().Msg("shutdown drain timed out")
			i = cap(errChan)
		}
	}

	log.Info().Msg("lendrisk stopped")
}
