package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"dncproxy/internal/ratelimit/metrics"
	"dncproxy/internal/ratelimit/models"
	"dncproxy/internal/ratelimit/store/bucket"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*models.RateLimitResult, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) Reset(context.Context, string) error { return nil }

func (failingStore) GetCurrentCount(context.Context, string) (int, error) { return 0, nil }

type ServiceSuite struct {
	suite.Suite
	rate    models.Rate
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.rate = models.Rate{Limit: 5, Window: time.Minute}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *ServiceSuite) TestNew() {
	s.Run("requires store", func() {
		_, err := New(nil, s.rate)
		s.Error(err)
	})
	s.Run("requires positive rate", func() {
		_, err := New(bucket.New(), models.Rate{})
		s.Error(err)
	})
}

func (s *ServiceSuite) TestNPlusOneRequestDenied() {
	svc, err := New(bucket.New(), s.rate, WithLogger(s.logger), WithMetrics(s.metrics))
	s.Require().NoError(err)
	ctx := context.Background()

	for i := range s.rate.Limit {
		result, err := svc.Admit(ctx, "198.51.100.1")
		s.Require().NoError(err)
		s.True(result.Allowed, "request %d should be admitted", i+1)
	}

	result, err := svc.Admit(ctx, "198.51.100.1")
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Positive(result.RetryAfter)

	other, err := svc.Admit(ctx, "198.51.100.2")
	s.Require().NoError(err)
	s.True(other.Allowed, "other identities are unaffected")

	s.Equal(float64(6), testutil.ToFloat64(s.metrics.Decisions.WithLabelValues("allowed")))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.Decisions.WithLabelValues("denied")))
}

func (s *ServiceSuite) TestFallbackOnStoreFailure() {
	svc, err := New(failingStore{}, s.rate,
		WithLogger(s.logger),
		WithMetrics(s.metrics),
		WithFallback(bucket.New()),
	)
	s.Require().NoError(err)

	result, err := svc.Admit(context.Background(), "198.51.100.1")
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.True(result.Degraded)
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.StoreFailures))
}

func (s *ServiceSuite) TestStoreFailureWithoutFallback() {
	svc, err := New(failingStore{}, s.rate, WithLogger(s.logger))
	s.Require().NoError(err)

	_, err = svc.Admit(context.Background(), "198.51.100.1")
	s.Error(err)
}

func (s *ServiceSuite) TestSweepUpdatesTrackedGauge() {
	store := bucket.New()
	svc, err := New(store, s.rate, WithLogger(s.logger), WithMetrics(s.metrics))
	s.Require().NoError(err)

	_, err = svc.Admit(context.Background(), "198.51.100.1")
	s.Require().NoError(err)

	svc.sweep(context.Background(), []sweeper{store})
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.TrackedBuckets))
}

func (s *ServiceSuite) TestRunJanitorReturnsWithoutLocalStores() {
	svc, err := New(failingStore{}, s.rate)
	s.Require().NoError(err)

	done := make(chan struct{})
	go func() {
		svc.RunJanitor(context.Background(), time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		s.Fail("janitor should return immediately when no store is local")
	}
}
