package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/PratikDhanave/conversions-gateway/internal/config"
	"github.com/PratikDhanave/conversions-gateway/internal/forwarder"
	"github.com/PratikDhanave/conversions-gateway/internal/httpserver"
	"github.com/PratikDhanave/conversions-gateway/internal/ingest"
	"github.com/PratikDhanave/conversions-gateway/internal/metrics"
	"github.com/PratikDhanave/conversions-gateway/internal/store"
)

// main boots the service: config → logger → DB → schema → pipeline → HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register(prometheus.DefaultRegisterer)

	db, err := store.NewPostgresStore(cfg.DBURL)
	if err != nil {
		logger.Fatal("connecting to postgres", zap.Error(err))
	}
	defer db.Shutdown()

	// Ensure required tables/indexes exist so `docker compose up --build` is enough.
	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.EnsureSchema(schemaCtx)
	cancel()
	if err != nil {
		logger.Fatal("applying schema", zap.Error(err))
	}

	var identities store.IdentityResolver = db
	cached := false
	if cfg.RedisAddr != "" {
		if rdb := newRedis(cfg, logger); rdb != nil {
			defer rdb.Close()
			identities = store.NewCachedIdentities(db, rdb, cfg.IdentityCacheTTL, logger)
			cached = true
		}
	}

	fwd := forwarder.New(forwarder.Options{
		BaseURL:       cfg.UpstreamBaseURL,
		APIVersion:    cfg.UpstreamAPIVersion,
		Timeout:       cfg.UpstreamTimeout,
		TestEventCode: cfg.UpstreamTestEventCode,
	}, logger)
	svc := ingest.NewService(identities, db, fwd, logger)

	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpserver.NewRouter(cfg, db, svc, logger),
		// The write deadline covers a full upstream round trip.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.UpstreamTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server started",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("upstream", cfg.UpstreamBaseURL),
			zap.String("upstream_version", cfg.UpstreamAPIVersion),
			zap.Bool("identity_cache", cached),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
		return
	}
	logger.Info("server shutdown complete")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if cfg.Production() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// newRedis returns nil when Redis is unreachable; identity lookups then go
// straight to postgres.
func newRedis(cfg config.Config, logger *zap.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, identity cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = rdb.Close()
		return nil
	}
	logger.Info("identity cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.IdentityCacheTTL))
	return rdb
}
