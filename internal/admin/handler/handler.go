// Package handler exposes GET /api/actions.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"dncproxy/internal/actionlog/models"
	"dncproxy/internal/admin/service"
	dErrors "dncproxy/pkg/domain-errors"
	"dncproxy/pkg/platform/httputil"
	"dncproxy/pkg/requestcontext"
)

// Gateway serves audit queries behind the admin key.
type Gateway interface {
	Authorize(ctx context.Context, token string) error
	Serve(ctx context.Context, token string, q service.Query) (*service.Page, error)
}

type Handler struct {
	gateway Gateway
	logger  *slog.Logger
}

func New(gateway Gateway, logger *slog.Logger) *Handler {
	return &Handler{gateway: gateway, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/api/actions", h.HandleListActions)
}

// HandleListActions authenticates before looking at query parameters, so an
// unauthenticated caller learns nothing about which filters are valid.
func (h *Handler) HandleListActions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	token := bearerToken(r)

	if err := h.gateway.Authorize(ctx, token); err != nil {
		httputil.WriteError(w, err)
		return
	}

	q, err := parseQuery(r.URL.Query())
	if err != nil {
		h.logger.WarnContext(ctx, "invalid actions query",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	page, err := h.gateway.Serve(ctx, token, q)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func parseQuery(values url.Values) (service.Query, error) {
	q := service.Query{
		Filter: models.Filter{Email: strings.TrimSpace(values.Get("email"))},
		Page:   models.Page{Limit: models.DefaultLimit},
	}
	if raw := values.Get("result"); raw != "" {
		result, err := models.ParseResult(raw)
		if err != nil {
			return q, err
		}
		q.Filter.Result = result
	}
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, dErrors.New(dErrors.CodeValidation, "limit must be an integer")
		}
		q.Page.Limit = n
	}
	if raw := values.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, dErrors.New(dErrors.CodeValidation, "offset must be an integer")
		}
		q.Page.Offset = n
	}
	return q, q.Page.Validate()
}
