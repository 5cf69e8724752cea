// Package reachability caches whether the upstream CRM answers, so request
// bursts cost at most one upstream probe per TTL.
package reachability

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusReachable   Status = "reachable"
	StatusUnreachable Status = "unreachable"
)

// State is an immutable probe outcome. The cache swaps whole values, so a
// reader never sees a status from one probe and a detail from another.
type State struct {
	Status      Status
	Detail      string
	LastChecked time.Time
}

// Label is the public description: "reachable", "pending", or the failure
// detail such as "HTTP 503" or "connection error: timeout".
func (s State) Label() string {
	switch s.Status {
	case StatusReachable:
		return "reachable"
	case StatusUnreachable:
		if s.Detail != "" {
			return s.Detail
		}
		return "unreachable"
	default:
		return "pending"
	}
}

func (s State) Reachable() bool {
	return s.Status == StatusReachable
}

// Prober checks upstream liveness. A nil error means reachable; otherwise the
// error text becomes the state detail.
type Prober interface {
	Ping(ctx context.Context) error
}

const probeKey = "probe"

// Cache holds the latest State. Fresh reads are a single atomic load and
// never wait on a refresh in progress.
type Cache struct {
	prober       Prober
	ttl          time.Duration
	probeTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
	metrics      *Metrics

	state atomic.Pointer[State]
	group singleflight.Group
}

type Option func(*Cache)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithProbeTimeout bounds each probe call.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Cache) {
		c.probeTimeout = d
	}
}

func New(prober Prober, ttl time.Duration, opts ...Option) (*Cache, error) {
	if prober == nil {
		return nil, errors.New("prober is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	c := &Cache{
		prober:       prober,
		ttl:          ttl,
		probeTimeout: 15 * time.Second,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Check returns the cached state while it is younger than the TTL. Otherwise
// it waits for a refresh; concurrent callers share one in-flight probe. If
// ctx ends first, the last known state is returned, or an unreachable state
// when nothing has been probed yet.
func (c *Cache) Check(ctx context.Context) State {
	if s := c.state.Load(); s != nil && c.fresh(s) {
		return *s
	}

	ch := c.group.DoChan(probeKey, c.refresh)
	select {
	case res := <-ch:
		return res.Val.(State)
	case <-ctx.Done():
		if s := c.state.Load(); s != nil {
			return *s
		}
		return State{Status: StatusUnreachable, Detail: "connection error: " + ctx.Err().Error(), LastChecked: c.now()}
	}
}

// Peek returns the cached state without waiting and starts a background
// refresh when it is stale. Before the first probe completes the state is
// pending.
func (c *Cache) Peek() State {
	s := c.state.Load()
	if s == nil || !c.fresh(s) {
		c.group.DoChan(probeKey, c.refresh)
	}
	if s == nil {
		return State{Status: StatusPending}
	}
	return *s
}

// Age reports how long ago the cached state was probed. ok is false before
// the first probe completes.
func (c *Cache) Age() (age time.Duration, ok bool) {
	s := c.state.Load()
	if s == nil {
		return 0, false
	}
	return c.now().Sub(s.LastChecked), true
}

func (c *Cache) fresh(s *State) bool {
	return c.now().Sub(s.LastChecked) < c.ttl
}

// refresh runs inside the single flight. The probe context is detached from
// every caller so one impatient caller cannot fail the probe for the rest.
func (c *Cache) refresh() (any, error) {
	if s := c.state.Load(); s != nil && c.fresh(s) {
		return *s, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.probeTimeout)
	defer cancel()

	start := c.now()
	err := c.prober.Ping(ctx)
	next := State{Status: StatusReachable, LastChecked: c.now()}
	if err != nil {
		next.Status = StatusUnreachable
		next.Detail = err.Error()
	}

	prev := c.state.Swap(&next)
	c.metrics.ObserveProbe(next.Status, next.LastChecked.Sub(start))
	if prev == nil || prev.Status != next.Status {
		c.logger.Info("upstream reachability changed",
			"status", string(next.Status),
			"detail", next.Detail,
		)
	}
	return next, nil
}

// Metrics records probe outcomes.
type Metrics struct {
	Probes        *prometheus.CounterVec
	ProbeDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Probes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dncproxy_reachability_probes_total",
			Help: "Upstream liveness probes by resulting status",
		}, []string{"status"}),
		ProbeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dncproxy_reachability_probe_duration_seconds",
			Help:    "Upstream liveness probe latency",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveProbe(status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.Probes.WithLabelValues(string(status)).Inc()
	m.ProbeDuration.Observe(d.Seconds())
}
