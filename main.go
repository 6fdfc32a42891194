package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	aggapp "energy-dashboard/internal/aggregation/application"
	aggregation "energy-dashboard/internal/aggregation/domain"
	cachememory "energy-dashboard/internal/aggregation/infrastructure/memory"
	agghttp "energy-dashboard/internal/aggregation/interfaces/http"
	apihttp "energy-dashboard/internal/api/http"
	"energy-dashboard/internal/audit"
	"energy-dashboard/internal/auth"
	"energy-dashboard/internal/config"
	hierarchy "energy-dashboard/internal/hierarchy/domain"
	hierarchymemory "energy-dashboard/internal/hierarchy/infrastructure/memory"
	hierarchypostgres "energy-dashboard/internal/hierarchy/infrastructure/postgres"
	"energy-dashboard/internal/logging"
	"energy-dashboard/internal/observability/metrics"
	realtimeapp "energy-dashboard/internal/realtime/application"
	realtimehttp "energy-dashboard/internal/realtime/interfaces/http"
	"energy-dashboard/internal/realtime/interfaces/ws"
	"energy-dashboard/internal/telemetry/adapters/resilience"
	telemetry "energy-dashboard/internal/telemetry/domain"
	telemetryinflux "energy-dashboard/internal/telemetry/infrastructure/influx"
	telemetrymemory "energy-dashboard/internal/telemetry/infrastructure/memory"
	telemetrypostgres "energy-dashboard/internal/telemetry/infrastructure/postgres"
)

func main() {
	started := time.Now()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:     cfg.LogLevel,
		Output:    cfg.LogOutput,
		Directory: cfg.LogDirectory,
		MaxAge:    cfg.LogFileMaxAge,
		Name:      "energy-dashboard.log",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}

	var db *sql.DB
	if cfg.NeedsDatabase() {
		db, err = openDB(cfg.DatabaseURL, cfg.DBConnectRetries, logger)
		if err != nil {
			logger.WithError(err).Fatal("db connect error")
		}
		defer db.Close()
	}

	metrics.Init(metrics.DBCollectors(db, logger)...)

	readings, closeReadings, err := buildReadingQuery(cfg, db)
	if err != nil {
		logger.WithError(err).Fatal("reading store error")
	}
	defer closeReadings()
	guarded, err := resilience.NewBreakerQuery(readings, resilience.Settings{
		Name:     cfg.ReadingStore,
		Failures: cfg.BreakerFailures,
		OpenFor:  cfg.BreakerOpenFor,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("breaker error")
	}

	directory, err := buildDirectory(cfg, db)
	if err != nil {
		logger.WithError(err).Fatal("hierarchy error")
	}

	var resolver auth.ScopeResolver = auth.ClaimsScopeResolver{}
	if cfg.ScopeSource == "postgres" {
		resolver, err = auth.NewPostgresScopeResolver(db)
		if err != nil {
			logger.WithError(err).Fatal("scope resolver error")
		}
	}
	authenticator, err := auth.NewAuthenticator([]byte(cfg.JWTSecret), resolver)
	if err != nil {
		logger.WithError(err).Fatal("authenticator error")
	}
	guard, err := auth.NewGuard(directory)
	if err != nil {
		logger.WithError(err).Fatal("guard error")
	}

	var cache aggregation.Cache = cachememory.DisabledCache{}
	if cfg.CacheEnabled {
		memCache := cachememory.NewCache(cfg.CacheTTL, cfg.CacheCleanupInterval)
		defer memCache.Close()
		cache = memCache
	}
	engine, err := aggapp.NewEngine(directory, guarded, aggapp.WithQueryTimeout(cfg.QueryTimeout))
	if err != nil {
		logger.WithError(err).Fatal("aggregation engine error")
	}
	service, err := aggapp.NewService(engine, directory, cache, cfg.CacheTTL, logger)
	if err != nil {
		logger.WithError(err).Fatal("aggregation service error")
	}

	rooms, err := realtimeapp.NewRoomManager(guard, cfg.MaxClientsPerRoom)
	if err != nil {
		logger.WithError(err).Fatal("room manager error")
	}
	broadcaster, err := realtimeapp.NewBroadcaster(rooms, service, realtimeapp.BroadcasterConfig{
		Interval:    cfg.BroadcastInterval,
		RoomTimeout: cfg.RoomTimeout,
		Workers:     cfg.BroadcastWorkers,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("broadcaster error")
	}
	gateway, err := realtimeapp.NewGateway(authenticator, rooms, service, realtimeapp.GatewayConfig{
		BroadcastInterval: cfg.BroadcastInterval,
		DefaultWindow:     aggregation.TimeWindow(cfg.DefaultTimeWindow),
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("gateway error")
	}

	var auditLog audit.Logger = audit.NewLogLogger(logger)
	if db != nil {
		auditLog = audit.NewRepository(db)
	}

	aggHandler, err := agghttp.NewHandler(service, guard, logger,
		agghttp.WithDefaultWindow(aggregation.TimeWindow(cfg.DefaultTimeWindow)),
		agghttp.WithAudit(auditLog),
	)
	if err != nil {
		logger.WithError(err).Fatal("aggregation handler error")
	}
	adminHandler, err := realtimehttp.NewAdminHandler(broadcaster, gateway, auditLog, logger)
	if err != nil {
		logger.WithError(err).Fatal("realtime admin handler error")
	}
	wsHandler, err := ws.NewHandler(gateway, ws.Config{
		AllowedOrigins: cfg.WSAllowedOrigins,
		SendBuffer:     cfg.WSSendBuffer,
		PingInterval:   cfg.WSPingInterval,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("websocket handler error")
	}

	var pinger apihttp.Pinger
	if db != nil {
		pinger = db
	}

	// /ws authenticates during the handshake itself.
	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics", "/ws"}, nil)
	authMiddleware := auth.NewMiddleware(authenticator, policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/aggregation/", aggHandler)
	mux.Handle("/api/v1/realtime/", adminHandler)
	mux.Handle("/ws", wsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", apihttp.NewHealthHandler(pinger, started))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := broadcaster.Start(ctx); err != nil {
		logger.WithError(err).Fatal("broadcaster start error")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apihttp.AccessLog(logger, authMiddleware.Wrap(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":          cfg.HTTPAddr,
			"reading_store": cfg.ReadingStore,
			"hierarchy":     cfg.HierarchySource,
			"cache":         cfg.CacheEnabled,
			"interval":      cfg.BroadcastInterval.String(),
		}).Info("http listening")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	broadcaster.Stop()
	gateway.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown incomplete")
	}
	logger.Info("stopped")
}

// openDB opens the pool and retries the first ping with exponential backoff.
func openDB(dsn string, retries int, logger logrus.FieldLogger) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			logger.WithError(err).WithField("attempt", attempt).Warn("db ping failed")
			return err
		}
		return nil
	}, backoff.WithMaxRetries(bo, uint64(retries)))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func buildReadingQuery(cfg *config.Config, db *sql.DB) (telemetry.ReadingQuery, func(), error) {
	switch cfg.ReadingStore {
	case "postgres":
		return telemetrypostgres.NewReadingQuery(db), func() {}, nil
	case "influx":
		q, err := telemetryinflux.NewReadingQuery(telemetryinflux.Config{
			URL:      cfg.InfluxURL,
			Token:    cfg.InfluxToken,
			Database: cfg.InfluxDatabase,
		})
		if err != nil {
			return nil, nil, err
		}
		return q, func() { _ = q.Close() }, nil
	default:
		return telemetrymemory.NewReadingStore(), func() {}, nil
	}
}

func buildDirectory(cfg *config.Config, db *sql.DB) (hierarchy.Directory, error) {
	if cfg.HierarchySource == "postgres" {
		return hierarchypostgres.NewDirectory(db), nil
	}
	return hierarchymemory.LoadFile(cfg.HierarchyFile)
}
