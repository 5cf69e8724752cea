// Package health serves liveness endpoints. Both always answer 200 and never
// wait on the upstream.
package health

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dncproxy/internal/reachability"
	"dncproxy/pkg/platform/httputil"
)

// Reachability is the read side of the reachability cache.
type Reachability interface {
	Peek() reachability.State
	Age() (time.Duration, bool)
}

type Response struct {
	Status string `json:"status"`
	Mautic string `json:"mautic"`
}

type DetailResponse struct {
	Status          string   `json:"status"`
	Mautic          string   `json:"mautic"`
	CacheAgeSeconds *float64 `json:"cache_age_seconds"`
}

type Handler struct {
	reach Reachability
}

func New(reach Reachability) *Handler {
	return &Handler{reach: reach}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/health/detail", h.HandleDetail)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state := h.reach.Peek()
	httputil.WriteJSON(w, http.StatusOK, Response{Status: "ok", Mautic: state.Label()})
}

// HandleDetail reports degraded while Mautic is unreachable. The cache age is
// null until the first probe has completed.
func (h *Handler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	state := h.reach.Peek()
	resp := DetailResponse{Status: "ok", Mautic: state.Label()}
	if state.Status == reachability.StatusUnreachable {
		resp.Status = "degraded"
	}
	if age, ok := h.reach.Age(); ok {
		seconds := age.Seconds()
		resp.CacheAgeSeconds = &seconds
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
