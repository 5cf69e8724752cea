package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type RedisBucketStoreSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	clock  *fakeClock
	store  *RedisBucketStore
	ctx    context.Context
}

func TestRedisBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisBucketStoreSuite))
}

func (s *RedisBucketStoreSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.mr = mr
	s.client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s.clock = newFakeClock()
	s.store = NewRedis(s.client, WithRedisClock(s.clock.Now))
	s.ctx = context.Background()
}

func (s *RedisBucketStoreSuite) TearDownTest() {
	_ = s.client.Close()
	s.mr.Close()
}

func (s *RedisBucketStoreSuite) TestAllowUpToLimitThenDeny() {
	for i := range testLimit {
		result, err := s.store.Allow(s.ctx, "rl:test", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-i-1, result.Remaining)
	}

	result, err := s.store.Allow(s.ctx, "rl:test", testLimit, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(testLimit, result.Limit)
	s.Equal(60, result.RetryAfter)

	count, err := s.store.GetCurrentCount(s.ctx, "rl:test")
	s.Require().NoError(err)
	s.Equal(testLimit, count)
}

func (s *RedisBucketStoreSuite) TestWindowSlides() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "rl:slide", testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.clock.Advance(testWindow + time.Millisecond)

	result, err := s.store.Allow(s.ctx, "rl:slide", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-1, result.Remaining)
}

func (s *RedisBucketStoreSuite) TestKeyExpiresWithWindow() {
	_, err := s.store.Allow(s.ctx, "rl:ttl", testLimit, testWindow)
	s.Require().NoError(err)
	s.Equal(testWindow, s.mr.TTL("rl:ttl"))

	s.mr.FastForward(testWindow)
	s.False(s.mr.Exists("rl:ttl"))
}

func (s *RedisBucketStoreSuite) TestReset() {
	_, err := s.store.Allow(s.ctx, "rl:reset", testLimit, testWindow)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Reset(s.ctx, "rl:reset"))

	count, err := s.store.GetCurrentCount(s.ctx, "rl:reset")
	s.Require().NoError(err)
	s.Equal(0, count)
}

func (s *RedisBucketStoreSuite) TestUnavailableRedisReturnsError() {
	s.mr.Close()
	_, err := s.store.Allow(s.ctx, "rl:down", testLimit, testWindow)
	s.Error(err)
}
