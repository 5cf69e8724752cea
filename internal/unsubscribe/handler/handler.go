// Package handler exposes POST /api/unsubscribe.
//
// The response collapse from the orchestrator's outcome to the public body
// happens in writeOutcome and nowhere else.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dncproxy/internal/unsubscribe/service"
	"dncproxy/pkg/platform/httputil"
	"dncproxy/pkg/requestcontext"
)

// Processor runs one unsubscribe attempt.
type Processor interface {
	Process(ctx context.Context, req service.Request) (service.Outcome, error)
}

// UnsubscribeRequest is the public request body.
type UnsubscribeRequest struct {
	Email string `json:"email"`
}

func (r *UnsubscribeRequest) Validate() error {
	email, err := service.ValidateEmail(r.Email)
	if err != nil {
		return err
	}
	r.Email = email
	return nil
}

// StatusResponse is the only body a caller ever sees on success or when
// Mautic is down.
type StatusResponse struct {
	Status string `json:"status"`
}

type requestKey struct{}

type Handler struct {
	svc    Processor
	logger *slog.Logger
}

func New(svc Processor, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the route. Body validation runs before limit so malformed
// requests are rejected without consuming the caller's allowance.
func (h *Handler) Register(r chi.Router, limit func(http.Handler) http.Handler) {
	mws := []func(http.Handler) http.Handler{h.DecodeRequest}
	if limit != nil {
		mws = append(mws, limit)
	}
	r.With(mws...).Post("/api/unsubscribe", h.HandleUnsubscribe)
}

// DecodeRequest parses and validates the body, answering 422 on failure.
func (h *Handler) DecodeRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		req, ok := httputil.DecodeAndPrepare[UnsubscribeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, requestKey{}, req)))
	})
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := ctx.Value(requestKey{}).(*UnsubscribeRequest)
	if !ok {
		req, ok = httputil.DecodeAndPrepare[UnsubscribeRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
	}

	outcome, err := h.svc.Process(ctx, service.Request{
		Email:  req.Email,
		Origin: requestcontext.Origin(ctx),
		IP:     requestcontext.ClientIP(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "unsubscribe failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	writeOutcome(w, outcome)
}

func writeOutcome(w http.ResponseWriter, outcome service.Outcome) {
	if outcome.Public() == service.PublicServiceUnavailable {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: "service_unavailable"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}
