package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/config"
	"github.com/platinummonkey/fleetauthz/pkg/httputil"
	"github.com/platinummonkey/fleetauthz/pkg/isolation"
	"github.com/platinummonkey/fleetauthz/pkg/middleware"
	"github.com/platinummonkey/fleetauthz/pkg/observability"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
	"github.com/platinummonkey/fleetauthz/pkg/rbac"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	if err := run(context.Background(), cfg, logger); err != nil {
		logger.WithError(err).Error("fleetauthz exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *observability.Logger) error {
	providers, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	if cfg.Database.RunMigrations {
		if err := orgs.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("failed to migrate organizations schema: %w", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = isolation.DialRedis(ctx, cfg.Redis.URL, cfg.Redis.PoolSize)
		if err != nil {
			return err
		}
	}

	dbLogger, err := audit.NewDBLogger(db)
	if err != nil {
		return fmt.Errorf("failed to create audit db logger: %w", err)
	}
	emitter, err := newAuditEmitter(cfg.Audit, dbLogger, metrics)
	if err != nil {
		return err
	}

	directory := orgs.NewPostgresDirectory(db)

	cache := isolation.Cache(isolation.NewLRUCache(cfg.Isolation.CacheSize, cfg.Isolation.CacheTTL))
	if cfg.Isolation.CacheBackend == "redis" {
		cache = isolation.NewRedisCache(redisClient, cfg.Isolation.CacheTTL)
	}
	resolver := isolation.NewResolver(directory,
		isolation.WithCache(cache),
		isolation.WithEmitter(emitter),
		isolation.WithLogger(logger),
		isolation.WithMetrics(metrics),
	)
	directory.OnChange(resolver.OrganizationChanged)
	crossOrg := isolation.NewCrossOrgValidator(resolver,
		isolation.WithCrossOrgEmitter(emitter),
		isolation.WithCrossOrgMetrics(metrics),
	)

	matrix, err := rbac.NewDefaultMatrix()
	if err != nil {
		return fmt.Errorf("invalid access matrix: %w", err)
	}
	engine := rbac.NewEngine(matrix, resolver,
		rbac.WithAuditEmitter(emitter),
		rbac.WithLogger(logger),
		rbac.WithMetrics(metrics),
	)
	logger.WithField("rules", matrix.Len()).Info("Access matrix loaded")

	tokens, err := auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	router := mux.NewRouter()
	router.Use(observability.RecoveryMiddleware(logger))
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	router.Use(audit.NewMiddleware().Handler)
	router.Use(middleware.NewAuthMiddleware(tokens, emitter, false).Handler)
	if cfg.RateLimit.Enabled {
		router.Use(newRateLimiter(bgCtx, cfg.RateLimit, redisClient, emitter, metrics, logger).Handler)
	}

	rbac.NewHandlers(engine, resolver, crossOrg, emitter).RegisterRoutes(router)
	rbac.NewOrganizationHandlers(engine, directory, resolver).RegisterRoutes(router)

	auditRoutes := router.NewRoute().Subrouter()
	auditRoutes.Use(rbac.NewMiddleware(engine).RequireAction(rbac.ActionViewAuditLogs, nil))
	audit.NewHandlers(audit.NewScopedStore(audit.NewDBStore(dbLogger), resolver), emitter).RegisterRoutes(auditRoutes)

	handler := httputil.Chain(
		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
		httputil.TimeoutMiddleware(cfg.Server.RequestTimeout),
		httputil.ContentTypeMiddleware,
		requestLogger(logger),
	)(router)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(handler, "fleetauthz"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}
	healthServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go recordDBStats(bgCtx, db, metrics, logger)

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health-server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("background", func(context.Context) error {
		stopBackground()
		return nil
	})
	// pending audit writes need the database, so they share one step
	shutdown.RegisterShutdownFunc("audit-database", func(context.Context) error {
		return errors.Join(emitter.Close(), db.Close())
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	serveErr := make(chan error, 2)
	go serve(server, "api", logger, serveErr)
	go serve(healthServer, "health", logger, serveErr)

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			logger.WithError(err).Error("Server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

func serve(server *http.Server, name string, logger *observability.Logger, errs chan<- error) {
	defer observability.RecoverPanic(logger, name+" server")

	logger.WithField("addr", server.Addr).Infof("Starting %s server", name)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs <- fmt.Errorf("%s server: %w", name, err)
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newAuditEmitter fans events out to the database and, when a directory is
// configured, to rotating JSON files.
func newAuditEmitter(cfg config.AuditConfig, dbSink *audit.DBLogger, metrics *observability.Metrics) (*audit.Emitter, error) {
	sinks := []audit.Sink{dbSink}

	if cfg.Dir != "" {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.BasePath = cfg.Dir
		fileSink, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit file logger: %w", err)
		}
		sinks = append(sinks, fileSink)
	}

	processLog := logrus.New()
	processLog.SetFormatter(&logrus.JSONFormatter{})

	return audit.NewEmitter(audit.NewMultiLogger(sinks...),
		audit.WithProcessLogger(processLog),
		audit.WithAsync(cfg.Async),
		audit.WithFailureHook(func(event *audit.AuditEvent, err error) {
			metrics.ObserveAuditFailure(string(event.EventType))
		}),
	), nil
}

func newRateLimiter(ctx context.Context, cfg config.RateLimitConfig, client *redis.Client, emitter *audit.Emitter, metrics *observability.Metrics, logger *observability.Logger) *middleware.RateLimitMiddleware {
	userCfg := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.UserRequests,
		WindowDuration:    cfg.Window,
		BurstSize:         cfg.UserBurst,
	}
	anonCfg := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.AnonymousRequests,
		WindowDuration:    cfg.Window,
		BurstSize:         cfg.AnonymousBurst,
	}

	var userLimiter, anonLimiter middleware.Limiter
	if cfg.Backend == "redis" {
		userLimiter = middleware.NewRedisRateLimiter(client, userCfg, "")
		anonLimiter = middleware.NewRedisRateLimiter(client, anonCfg, "")
	} else {
		local := middleware.NewRateLimiter(userCfg)
		local.StartCleanup(ctx)
		anon := middleware.NewRateLimiter(anonCfg)
		anon.StartCleanup(ctx)
		userLimiter, anonLimiter = local, anon
	}

	return middleware.NewRateLimitMiddleware(userLimiter, anonLimiter,
		middleware.WithRateLimitEmitter(emitter),
		middleware.WithRateLimitMetrics(metrics),
		middleware.WithRateLimitLogger(logger),
		middleware.WithFailOpen(cfg.FailOpen),
	)
}

func recordDBStats(ctx context.Context, db *sql.DB, metrics *observability.Metrics, logger *observability.Logger) {
	defer observability.RecoverPanic(logger, "db stats")

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			metrics.RecordDBStats(db.Stats())
		case <-ctx.Done():
			return
		}
	}
}

// requestLogger attaches a logger carrying the active trace to each request
func requestLogger(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLogger := observability.UpdateLoggerWithTraceContext(r.Context(), logger)
			next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), reqLogger)))
		})
	}
}
