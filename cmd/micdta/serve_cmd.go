package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/litoral-labs/micdta/pkg/api"
	"github.com/litoral-labs/micdta/pkg/audit"
	"github.com/litoral-labs/micdta/pkg/config"
	"github.com/litoral-labs/micdta/pkg/contracts"
	"github.com/litoral-labs/micdta/pkg/export"
	"github.com/litoral-labs/micdta/pkg/geofence"
	"github.com/litoral-labs/micdta/pkg/ledger"
	"github.com/litoral-labs/micdta/pkg/observability"
	"github.com/litoral-labs/micdta/pkg/orchestrator"
	"github.com/litoral-labs/micdta/pkg/query"
	"github.com/litoral-labs/micdta/pkg/remote"
	"github.com/litoral-labs/micdta/pkg/reset"
	"github.com/litoral-labs/micdta/pkg/voyages"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const idempotencyTTL = 24 * time.Hour

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var listenAddr string
	fs.StringVar(&listenAddr, "listen", "", "Listen address (overrides MICDTA_LISTEN_ADDR)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 2
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		fmt.Fprintf(stderr, "Profile error: %v\n", err)
		return 2
	}
	env, err := profile.Environment(cfg.Environment)
	if err != nil {
		fmt.Fprintf(stderr, "Profile error: %v\n", err)
		return 2
	}

	var client remote.Client
	if env.Sandbox {
		client = remote.NewSandboxClient()
		logger.Info("remote interface: sandbox", "environment", cfg.Environment)
	} else {
		client = remote.NewHTTPClient(env.Endpoint, env.Timeout.Std())
		logger.Info("remote interface: http", "environment", cfg.Environment, "endpoint", env.Endpoint)
	}

	// Ledger backend. Empty database URL keeps everything in memory,
	// which is only suitable for the sandbox environment.
	var (
		lgr       ledger.Ledger
		positions ledger.PositionLog
		db        *sql.DB
	)
	if cfg.DatabaseURL == "" {
		mem := ledger.NewMemoryLedger()
		lgr, positions = mem, mem
		logger.Warn("ledger: in-memory, records are lost on restart")
	} else {
		db, err = sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(stderr, "Database error: %v\n", err)
			return 1
		}
		defer db.Close()
		sq := ledger.NewSQLLedger(db)
		if err := sq.Init(ctx); err != nil {
			fmt.Fprintf(stderr, "Database error: %v\n", err)
			return 1
		}
		lgr, positions = sq, sq
		logger.Info("ledger: sql", "driver", cfg.DatabaseDriver)
	}

	// Voyage catalog: the YAML file is the source of truth; with a
	// database it is imported so the catalog survives restarts.
	catalog, err := voyages.LoadFile(cfg.VoyagesPath)
	if err != nil {
		fmt.Fprintf(stderr, "Voyage catalog error: %v\n", err)
		return 2
	}
	var source contracts.VoyageSource = catalog
	if db != nil {
		store := voyages.NewSQLStore(db)
		if err := store.Init(ctx); err != nil {
			fmt.Fprintf(stderr, "Voyage catalog error: %v\n", err)
			return 1
		}
		if err := store.Import(ctx, catalog); err != nil {
			fmt.Fprintf(stderr, "Voyage catalog error: %v\n", err)
			return 1
		}
		source = store
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Environment = cfg.Environment
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Enabled = cfg.TelemetryEnabled
	obsCfg.Insecure = cfg.Environment != config.EnvProduction
	provider, err := observability.New(ctx, obsCfg)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without", "error", err)
	}
	if provider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = provider.Shutdown(shutdownCtx)
		}()
	}

	exec := orchestrator.New(source, lgr, client,
		orchestrator.WithTimeout(env.Timeout.Std()),
		orchestrator.WithAudit(audit.NewLogger()),
		orchestrator.WithObservability(provider),
		orchestrator.WithLogger(logger),
	)
	resets := reset.NewService(exec, lgr)

	points, err := config.LoadControlPoints(cfg.ControlPointsPath)
	if err != nil {
		fmt.Fprintf(stderr, "Control point error: %v\n", err)
		return 2
	}
	engineOpts := []geofence.EngineOption{}
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rc.Close()
		engineOpts = append(engineOpts, geofence.WithGate(geofence.NewRedisGate(rc, cfg.ForwardInterval)))
		logger.Info("position gate: redis", "addr", cfg.RedisAddr)
	}
	engine := geofence.NewEngine(exec, positions, points, geofence.Config{
		MinInterval:  cfg.ForwardInterval,
		MinDistanceM: cfg.ForwardDistanceM,
	}, engineOpts...)

	facade := query.NewFacade(source, lgr, exec, engine)

	bundles, err := export.NewStoreFromConfig(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Export store error: %v\n", err)
		return 2
	}
	exporter := export.NewExporter(lgr, positions, bundles)

	var replays api.ReplayCache
	if db != nil {
		sqlReplays := api.NewSQLReplayCache(db, idempotencyTTL)
		if err := sqlReplays.Init(); err != nil {
			fmt.Fprintf(stderr, "Replay cache error: %v\n", err)
			return 1
		}
		replays = sqlReplays
	} else {
		replays = api.NewMemoryReplayCache(idempotencyTTL)
	}
	rl := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	server := api.NewServer(facade, exec, resets,
		api.WithPositionEngine(engine),
		api.WithExporter(exporter),
		api.WithServerLogger(logger),
	)
	httpServer := api.NewHTTPServer(cfg.ListenAddr, server.Handler(rl, replays))

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
			return 1
		}
	}
	return 0
}
