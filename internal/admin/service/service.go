// Package service is the admin gateway to the audit log. The capability is
// off unless an API key is configured.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"

	"dncproxy/internal/actionlog/models"
	dErrors "dncproxy/pkg/domain-errors"
	"dncproxy/pkg/requestcontext"
)

var (
	ErrForbidden    = dErrors.New(dErrors.CodeForbidden, "admin endpoint is disabled")
	ErrUnauthorized = dErrors.New(dErrors.CodeUnauthorized, "invalid or missing bearer token")
)

// Querier reads the audit log.
type Querier interface {
	Query(ctx context.Context, filter models.Filter, page models.Page) ([]models.ActionRecord, int, error)
}

type Query struct {
	Filter models.Filter
	Page   models.Page
}

// Page is one window of records plus the total number of matches.
type Page struct {
	Actions []models.ActionRecord `json:"actions"`
	Count   int                   `json:"count"`
}

type Gateway struct {
	store   Querier
	keyHash [sha256.Size]byte
	enabled bool
	logger  *slog.Logger
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New builds the gateway. An empty apiKey disables it.
func New(store Querier, apiKey string, opts ...Option) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("action store is required")
	}
	g := &Gateway{
		store:   store,
		enabled: apiKey != "",
		logger:  slog.Default(),
	}
	if g.enabled {
		g.keyHash = sha256.Sum256([]byte(apiKey))
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Gateway) Enabled() bool {
	return g.enabled
}

// Authorize checks token against the configured key in constant time.
// Both sides are hashed first so the comparison does not leak the key length.
func (g *Gateway) Authorize(ctx context.Context, token string) error {
	if !g.enabled {
		return ErrForbidden
	}
	got := sha256.Sum256([]byte(token))
	if token == "" || subtle.ConstantTimeCompare(got[:], g.keyHash[:]) != 1 {
		g.logger.WarnContext(ctx, "admin token mismatch",
			"request_id", requestcontext.RequestID(ctx),
			"client_ip", requestcontext.ClientIP(ctx),
		)
		return ErrUnauthorized
	}
	return nil
}

// Serve authorizes token and returns the requested page, newest first.
func (g *Gateway) Serve(ctx context.Context, token string, q Query) (*Page, error) {
	if err := g.Authorize(ctx, token); err != nil {
		return nil, err
	}
	if q.Filter.Result != "" && !q.Filter.Result.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "result must be one of ok, not_found, error, mautic_unreachable")
	}
	if err := q.Page.Validate(); err != nil {
		return nil, err
	}

	records, total, err := g.store.Query(ctx, q.Filter, q.Page)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to query actions",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to query actions")
	}
	if records == nil {
		records = []models.ActionRecord{}
	}
	return &Page{Actions: records, Count: total}, nil
}
