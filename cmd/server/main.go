package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	actionstore "dncproxy/internal/actionlog/store"
	adminhandler "dncproxy/internal/admin/handler"
	adminservice "dncproxy/internal/admin/service"
	"dncproxy/internal/health"
	httpapi "dncproxy/internal/http"
	"dncproxy/internal/mautic"
	"dncproxy/internal/platform/config"
	"dncproxy/internal/platform/httpserver"
	"dncproxy/internal/platform/logger"
	"dncproxy/internal/platform/metrics"
	"dncproxy/internal/platform/redis"
	rlmetrics "dncproxy/internal/ratelimit/metrics"
	ratelimitmw "dncproxy/internal/ratelimit/middleware"
	ratelimit "dncproxy/internal/ratelimit/service"
	"dncproxy/internal/ratelimit/store/bucket"
	"dncproxy/internal/reachability"
	unsubhandler "dncproxy/internal/unsubscribe/handler"
	unsubservice "dncproxy/internal/unsubscribe/service"
)

const (
	janitorInterval = time.Minute
	shutdownTimeout = 30 * time.Second
	adminTimeout    = 10 * time.Second
)

// actionStore is what the orchestrator and the admin gateway need from the
// audit log.
type actionStore interface {
	unsubservice.ActionStore
	adminservice.Querier
}

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal service packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dncproxy:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting dncproxy", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	actions, closeActions, err := buildActionStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeActions()

	limiter, closeLimiter, err := buildLimiter(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	client := mautic.New(mautic.Config{
		BaseURL:  cfg.Mautic.BaseURL,
		Username: cfg.Mautic.Username,
		Password: cfg.Mautic.Password,
		Timeout:  cfg.Mautic.Timeout,
	})
	cache, err := reachability.New(client, cfg.Reachability.TTL,
		reachability.WithLogger(log),
		reachability.WithMetrics(reachability.NewMetrics(reg)),
		reachability.WithProbeTimeout(cfg.Mautic.Timeout),
	)
	if err != nil {
		return fmt.Errorf("reachability cache: %w", err)
	}

	unsubscribe, err := unsubservice.New(client, cache, actions,
		unsubservice.WithLogger(log),
		unsubservice.WithMetrics(unsubservice.NewMetrics(reg)),
		unsubservice.WithUpstreamTimeout(2*cfg.Mautic.Timeout),
	)
	if err != nil {
		return fmt.Errorf("unsubscribe service: %w", err)
	}

	// Without a key the gateway answers 403, so the route is always mounted.
	gateway, err := adminservice.New(actions, cfg.Admin.APIKey, adminservice.WithLogger(log))
	if err != nil {
		return fmt.Errorf("admin gateway: %w", err)
	}
	if !gateway.Enabled() {
		log.Info("admin endpoint disabled, ADMIN_API_KEY not set")
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Logger:         log,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		AdminTimeout:   adminTimeout,
		Unsubscribe:    unsubhandler.New(unsubscribe, log),
		RateLimit:      ratelimitmw.New(limiter, log, ratelimitmw.WithDisabled(cfg.RateLimit.Disabled)).RateLimit,
		Admin:          adminhandler.New(gateway, log),
		Health:         health.New(cache),
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
	})
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Mautic.Timeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		limiter.RunJanitor(gctx, janitorInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		// In-flight unsubscribes finish their audit write before Shutdown returns.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func buildActionStore(ctx context.Context, cfg config.Config, log *slog.Logger) (actionStore, func(), error) {
	if cfg.ActionLog.DSN == "" {
		log.Warn("ACTION_LOG_DB not set, audit records are kept in memory and lost on restart")
		return actionstore.NewInMemoryStore(), func() {}, nil
	}

	db, err := actionstore.Open(ctx, cfg.ActionLog.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open action log: %w", err)
	}
	pg := actionstore.NewPostgres(db)
	if err := pg.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("action log schema: %w", err)
	}
	log.Info("action log ready", "store", "postgres")
	return pg, func() { _ = db.Close() }, nil
}

// buildLimiter uses the shared Redis window when configured, with a local
// window as fallback while Redis is unavailable.
func buildLimiter(ctx context.Context, cfg config.Config, log *slog.Logger, reg prometheus.Registerer) (*ratelimit.Service, func(), error) {
	opts := []ratelimit.Option{
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(rlmetrics.New(reg)),
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	if rc == nil {
		svc, err := ratelimit.New(bucket.New(), cfg.RateLimit.Rate, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("rate limiter: %w", err)
		}
		log.Info("rate limiter ready", "store", "memory", "rate", cfg.RateLimit.Rate.String())
		return svc, func() {}, nil
	}

	opts = append(opts, ratelimit.WithFallback(bucket.New()))
	svc, err := ratelimit.New(bucket.NewRedis(rc.Client), cfg.RateLimit.Rate, opts...)
	if err != nil {
		_ = rc.Close()
		return nil, nil, fmt.Errorf("rate limiter: %w", err)
	}
	log.Info("rate limiter ready", "store", "redis", "rate", cfg.RateLimit.Rate.String())
	return svc, func() { _ = rc.Close() }, nil
}
