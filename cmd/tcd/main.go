// Package main is the entry point for the Transaction Coordinator daemon
// (tcd): the process hosting the Lock Manager, Participant Registry,
// Message Builder, Operation Dispatcher, and Commit/Audit Coordinator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/unc-platform/tc-core/internal/config"
	"github.com/unc-platform/tc-core/internal/coordinator"
	"github.com/unc-platform/tc-core/internal/database/postgres"
	"github.com/unc-platform/tc-core/internal/dispatcher"
	"github.com/unc-platform/tc-core/internal/keytree"
	"github.com/unc-platform/tc-core/internal/lock"
	"github.com/unc-platform/tc-core/internal/message"
	"github.com/unc-platform/tc-core/internal/metrics"
	"github.com/unc-platform/tc-core/internal/registry"
	"github.com/unc-platform/tc-core/internal/store"
	"github.com/unc-platform/tc-core/pkg/logger"
)

const (
	serviceName    = "tcd"
	serviceVersion = "1.0.0"
)

// parentTypes is the static key-type hierarchy §4.5 describes: VTN is a
// root, VBRIDGE nests under VTN, VBR_IF nests under VBRIDGE.
func parentTypes() keytree.ParentTypeTable {
	return keytree.ParentTypeTable{
		"VTN":     keytree.RootKeyType,
		"VBRIDGE": "VTN",
		"VBR_IF":  "VBRIDGE",
	}
}

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		showHelp    = flag.Bool("help", false, "Show help information")
		configPath  = flag.String("config", "", "Path to YAML config file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}
	if *showHelp {
		fmt.Printf("tcd - Transaction Coordinator daemon\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		fmt.Printf("  -config     Path to YAML config file\n")
		fmt.Printf("  -version    Show version information\n")
		fmt.Printf("  -help       Show this help message\n\n")
		fmt.Printf("Environment variables:\n")
		fmt.Printf("  TC_DB_DSN, TC_PHASE_TIMEOUT_MS, TC_LISTEN_ADDR, TC_LOG_LEVEL, TC_LOG_FORMAT, TC_METRICS_ADDR\n")
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Service:    serviceName,
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})

	log.Info("starting transaction coordinator", "service", serviceName, "version", serviceVersion, "environment", cfg.App.Environment)

	ctx := context.Background()

	dbConfig, err := postgres.ParseDSN(cfg.Database.DSN)
	if err != nil {
		log.Error("failed to parse database dsn", "error", err)
		os.Exit(1)
	}
	dbConfig.MaxConns = cfg.Database.MaxConnections
	dbConfig.MinConns = cfg.Database.MinConnections
	if cfg.Database.MaxConnLifetime > 0 {
		dbConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	}
	if cfg.Database.MaxConnIdleTime > 0 {
		dbConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	}
	if cfg.Database.ConnectTimeout > 0 {
		dbConfig.ConnectTimeout = cfg.Database.ConnectTimeout
	}

	pool := postgres.NewPostgresPool(dbConfig, log)
	if err := pool.Connect(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer func() { _ = pool.Disconnect(ctx) }()

	sessionStore := store.NewSessionStore(pool)
	if err := sessionStore.EnsureSchema(ctx); err != nil {
		log.Error("failed to ensure tc_session schema", "error", err)
		os.Exit(1)
	}

	holderCache, closeRedis := buildHolderCache(ctx, cfg, log)
	if closeRedis != nil {
		defer closeRedis()
	}

	lockOpts := []lock.Option{lock.WithPersister(sessionStore), lock.WithLogger(log)}
	if holderCache != nil {
		lockOpts = append(lockOpts, lock.WithHolderPublisher(holderCache))
	}
	locks := lock.NewManager(lockOpts...)

	reg := registry.New()
	builder := message.New(reg, log)

	coordinatorMetrics := metrics.NewCoordinator()

	cac := coordinator.New(locks, reg, builder, coordinatorMetrics, log, coordinator.Config{
		PhaseTimeout: cfg.Lock.PhaseTimeout,
		ParentTypes:  parentTypes(),
	})

	disp := dispatcher.New(cac, locks, coordinatorMetrics, log, dispatcher.Config{
		Workers:   cfg.App.Workers,
		QueueSize: cfg.App.QueueSize,
		RateLimit: cfg.App.RateLimit,
		RateBurst: cfg.App.RateBurst,
		Timeout:   cfg.App.WorkerTimeout,
	})

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	if err := disp.Start(dispatchCtx); err != nil {
		log.Error("failed to start dispatcher", "error", err)
		cancelDispatch()
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler(pool, log))
	registerAdminRoutes(mux, locks, log)
	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      logger.LoggingMiddleware(log)(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("control surface listening", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control http server failed", "error", err)
		}
	}()
	if metricsServer != nil {
		go func() {
			log.Info("metrics listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics http server failed", "error", err)
			}
		}()
	}

	<-quit
	log.Info("shutting down tcd")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("control server forced shutdown", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server forced shutdown", "error", err)
		}
	}
	if err := disp.Stop(); err != nil {
		log.Error("dispatcher stop reported an error", "error", err)
	}
	cancelDispatch()

	log.Info("tcd exited")
}

func healthHandler(pool *postgres.PostgresPool, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pool.Health(ctx); err != nil {
			log.Error("health check failed", "error", err)
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","service":%q,"version":%q}`, serviceName, serviceVersion)
	}
}

// buildHolderCache wires the Redis-backed holder mirror. A nil cache (not
// a fatal error) is returned when Redis is unreachable at startup: the
// in-memory Lock Manager remains the sole arbiter of exclusion (§5)
// regardless, so the daemon runs without the mirror rather than refusing
// to start; show-lock is served from the Lock Manager either way.
func buildHolderCache(ctx context.Context, cfg *config.Config, log *slog.Logger) (*store.HolderCache, func()) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Redis.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unavailable; holder cache disabled", "error", err)
		_ = client.Close()
		return nil, nil
	}

	cache := store.NewHolderCache(client, nil, log)
	return cache, func() { _ = cache.Close() }
}
