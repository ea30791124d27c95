package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := readConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	instanceID := uuid.NewString()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel})).
		With("instance", instanceID)
	slog.SetDefault(logger)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var (
		store domain.AtomicStore
		stats domain.StatsStore
	)
	switch cfg.rateStore {
	case storeRedis:
		rdb, err := connectRedis(ctx, cfg.redisURL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()

		store = infra.NewRedisStore(rdb,
			infra.WithRedisPrefix(cfg.redisPrefix),
			infra.WithRedisTimeout(cfg.redisTimeout),
			infra.WithKeyRetention(cfg.keyRetention),
			infra.WithRedisLogger(logger),
		)
		if cfg.rateStatsEnabled {
			stats = infra.NewRedisStatsStore(rdb,
				infra.WithStatsPrefix(cfg.rateStatsPrefix),
				infra.WithStatsTTL(cfg.rateStatsTTL),
				infra.WithStatsBucket(cfg.rateStatsBucket),
				infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
			)
		}
	default:
		mem := infra.NewMemoryStore(
			infra.WithSweepProbability(cfg.sweepProbability),
			infra.WithCleanupEvery(cfg.cleanupEvery),
		)
		mem.StartJanitor(ctx)
		store = mem
		if cfg.rateStatsEnabled {
			stats = infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.rateStatsTrackKeys))
		}
	}

	var escalation domain.Escalation
	if cfg.escalationFactor > 0 {
		escalation = application.Guard{Factor: cfg.escalationFactor, BlockDuration: cfg.blockDuration}
	}

	identify := ratelimit.DefaultIdentifierFunc(cfg.trustRemoteAddr)
	limiter := ratelimit.New(store,
		ratelimit.WithIdentifierFunc(identify),
		ratelimit.WithEscalation(escalation),
		ratelimit.WithLogger(logger),
		ratelimit.WithWarnInterval(cfg.warnInterval),
	)

	if cfg.rateStore == storeRedis && cfg.cleanupEvery > 0 {
		go runCleanup(ctx, logger, limiter, cfg.cleanupEvery, cfg.keyRetention)
	}

	h := buildRouter(routerDeps{
		cfg:        cfg,
		instanceID: instanceID,
		upstream:   proxy,
		limiter:    limiter,
		stats:      stats,
		concurrency: ratelimit.NewConcurrencyLimiter(ratelimit.ConcurrencyOptions{
			Max:            cfg.concurrencyMax,
			AcquireTimeout: cfg.concurrencyTimeout,
			RetryAfter:     cfg.concurrencyRetryAfter,
		}),
	})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
	logger.Info("rate",
		"enabled", cfg.rateEnabled,
		"store", cfg.rateStore,
		"routes", len(cfg.routes),
		"escalation_factor", cfg.escalationFactor,
		"block_duration", cfg.blockDuration,
		"admin_enabled", cfg.adminToken != "",
	)
	for _, rt := range cfg.routes {
		logger.Debug("rate route", "prefix", rt.prefix, "tier", rt.tier, "namespace", rt.namespace,
			"max", rt.policy.MaxRequests, "window", rt.policy.Window)
	}
	logger.Info("concurrency", "max", cfg.concurrencyMax, "acquire_timeout", cfg.concurrencyTimeout)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping error: %w", err)
	}
	return rdb, nil
}

// runCleanup remove periodicamente chaves de janela antigas do Redis.
func runCleanup(ctx context.Context, logger *slog.Logger, l *ratelimit.Limiter, every, retention time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := l.Cleanup(ctx, retention)
			if err != nil {
				logger.Warn("rate limit cleanup failed", "error", err, "deleted", n)
				continue
			}
			logger.Debug("rate limit cleanup", "deleted", n)
		}
	}
}
