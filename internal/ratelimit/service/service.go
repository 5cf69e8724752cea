// Package service implements per-identity admission control for the
// unsubscribe endpoint.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dncproxy/internal/ratelimit/metrics"
	"dncproxy/internal/ratelimit/models"
	"dncproxy/internal/ratelimit/ports"
	"dncproxy/pkg/platform/privacy"
	"dncproxy/pkg/requestcontext"
)

type BucketStore = ports.BucketStore

// Service admits or denies callers by identity. It never performs upstream
// calls; its only side effect is bucket mutation.
type Service struct {
	buckets  BucketStore
	fallback BucketStore
	rate     models.Rate
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithFallback sets a local store used when the primary store errors, so a
// shared-store outage still enforces the limit per process.
func WithFallback(fallback BucketStore) Option {
	return func(s *Service) {
		s.fallback = fallback
	}
}

func New(buckets BucketStore, rate models.Rate, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, errors.New("buckets store is required")
	}
	if rate.Limit <= 0 || rate.Window <= 0 {
		return nil, errors.New("rate must have a positive limit and window")
	}
	svc := &Service{
		buckets: buckets,
		rate:    rate,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Rate returns the configured admission budget.
func (s *Service) Rate() models.Rate {
	return s.rate
}

// Admit consumes one slot for identity if the window has room.
func (s *Service) Admit(ctx context.Context, identity string) (*models.RateLimitResult, error) {
	key := models.NewIdentityKey(identity)
	result, err := s.buckets.Allow(ctx, key, s.rate.Limit, s.rate.Window)
	if err != nil {
		s.metrics.IncrementStoreFailures()
		if s.fallback == nil {
			return nil, err
		}
		s.logger.WarnContext(ctx, "rate limit store failed, using local fallback",
			"request_id", requestcontext.RequestID(ctx),
			"ip_prefix", privacy.AnonymizeIP(identity),
			"error", err,
		)
		result, err = s.fallback.Allow(ctx, key, s.rate.Limit, s.rate.Window)
		if err != nil {
			return nil, err
		}
		result.Degraded = true
	}

	s.metrics.ObserveDecision(result.Allowed)
	if !result.Allowed {
		s.logger.InfoContext(ctx, "rate limit exceeded",
			"request_id", requestcontext.RequestID(ctx),
			"ip_prefix", privacy.AnonymizeIP(identity),
			"limit", result.Limit,
			"retry_after", result.RetryAfter,
		)
	}
	return result, nil
}

// sweeper is implemented by stores that keep process-local buckets.
type sweeper interface {
	Sweep() int
	Len() int
}

// RunJanitor evicts expired local buckets every interval until ctx is done.
// Stores that expire keys themselves are skipped.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	var local []sweeper
	for _, store := range []BucketStore{s.buckets, s.fallback} {
		if sw, ok := store.(sweeper); ok {
			local = append(local, sw)
		}
	}
	if len(local) == 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx, local)
		}
	}
}

func (s *Service) sweep(ctx context.Context, local []sweeper) {
	removed, tracked := 0, 0
	for _, sw := range local {
		removed += sw.Sweep()
		tracked += sw.Len()
	}
	s.metrics.SetTrackedBuckets(tracked)
	if removed > 0 {
		s.logger.DebugContext(ctx, "evicted expired rate limit buckets", "removed", removed, "tracked", tracked)
	}
}
