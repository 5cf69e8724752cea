package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"dncproxy/internal/ratelimit/models"
	liststr "dncproxy/pkg/platform/strings"
)

const (
	DefaultAddr            = ":8000"
	DefaultMauticBaseURL   = "https://engage.wapsol.de"
	DefaultMauticTimeout   = 15 * time.Second
	DefaultAllowedOrigins  = "https://simplify-erp.de,https://www.simplify-erp.de"
	DefaultRateLimit       = "5/minute"
	DefaultReachabilityTTL = 30 * time.Second
)

// Config is the full process configuration.
type Config struct {
	Server       Server
	Mautic       Mautic
	RateLimit    RateLimit
	Redis        RedisConfig
	ActionLog    ActionLog
	Admin        Admin
	Reachability Reachability
	LogLevel     slog.Level
}

// Server captures HTTP server level configuration. Forwarding headers are
// only believed from peers inside TrustedProxies.
type Server struct {
	Addr           string
	AllowedOrigins []string
	TrustedProxies []netip.Prefix
}

// Mautic holds upstream CRM credentials. They never leave the process.
type Mautic struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// RateLimit caps unsubscribe attempts per client IP. Disabled is for local
// development only.
type RateLimit struct {
	Rate     models.Rate
	Disabled bool
}

// RedisConfig enables the shared rate limit store when URL is set.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// ActionLog selects the audit store. An empty DSN means in-memory.
type ActionLog struct {
	DSN string
}

// Admin enables GET /api/actions when APIKey is set.
type Admin struct {
	APIKey string
}

type Reachability struct {
	TTL time.Duration
}

// Load reads an optional .env file, without overriding variables already
// set, then builds the config from the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var errs []error

	cfg := Config{
		Server: Server{
			Addr:           envOr("ADDR", DefaultAddr),
			AllowedOrigins: liststr.SplitList(envOr("ALLOWED_ORIGINS", DefaultAllowedOrigins), ","),
		},
		Mautic: Mautic{
			BaseURL:  strings.TrimRight(envOr("MAUTIC_BASE_URL", DefaultMauticBaseURL), "/"),
			Username: os.Getenv("MAUTIC_USERNAME"),
			Password: os.Getenv("MAUTIC_PASSWORD"),
		},
		Redis: RedisConfig{
			URL:          strings.TrimSpace(os.Getenv("REDIS_URL")),
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		ActionLog: ActionLog{DSN: strings.TrimSpace(os.Getenv("ACTION_LOG_DB"))},
		Admin:     Admin{APIKey: os.Getenv("ADMIN_API_KEY")},
	}

	if u, err := url.Parse(cfg.Mautic.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("MAUTIC_BASE_URL: must be an absolute http(s) URL, got %q", cfg.Mautic.BaseURL))
	}

	var err error
	if cfg.Mautic.Timeout, err = durationOr("MAUTIC_TIMEOUT", DefaultMauticTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Reachability.TTL, err = durationOr("REACHABILITY_TTL", DefaultReachabilityTTL); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimit.Rate, err = models.ParseRate(envOr("RATE_LIMIT", DefaultRateLimit)); err != nil {
		errs = append(errs, fmt.Errorf("RATE_LIMIT: %w", err))
	}
	if cfg.Server.TrustedProxies, err = parsePrefixes(os.Getenv("TRUSTED_PROXIES")); err != nil {
		errs = append(errs, fmt.Errorf("TRUSTED_PROXIES: %w", err))
	}
	if raw := os.Getenv("RATE_LIMIT_DISABLED"); raw != "" {
		if cfg.RateLimit.Disabled, err = strconv.ParseBool(strings.TrimSpace(raw)); err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_DISABLED: %w", err))
		}
	}
	if err = cfg.LogLevel.UnmarshalText([]byte(envOr("LOG_LEVEL", "info"))); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// AdminEnabled reports whether the audit query endpoint is served.
func (c Config) AdminEnabled() bool {
	return c.Admin.APIKey != ""
}

// String renders the config for startup logs with secrets masked.
func (c Config) String() string {
	return fmt.Sprintf(
		"addr=%s mautic_base_url=%s mautic_username=%s mautic_password=%s mautic_timeout=%s "+
			"allowed_origins=%s trusted_proxies=%d rate_limit=%s rate_limit_disabled=%t redis=%t action_log=%s admin_enabled=%t reachability_ttl=%s log_level=%s",
		c.Server.Addr, c.Mautic.BaseURL, mask(c.Mautic.Username), mask(c.Mautic.Password), c.Mautic.Timeout,
		strings.Join(c.Server.AllowedOrigins, ","), len(c.Server.TrustedProxies), c.RateLimit.Rate, c.RateLimit.Disabled, c.Redis.URL != "", c.actionLogKind(),
		c.AdminEnabled(), c.Reachability.TTL, c.LogLevel,
	)
}

func (c Config) actionLogKind() string {
	if c.ActionLog.DSN == "" {
		return "memory"
	}
	return "postgres"
}

func mask(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "***"
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, raw)
	}
	return d, nil
}

// parsePrefixes reads a comma-separated list of CIDRs or bare addresses.
func parsePrefixes(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range liststr.SplitList(raw, ",") {
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
