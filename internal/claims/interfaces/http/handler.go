package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apihttp "videomonitoring/internal/api/http"
	"videomonitoring/internal/auth"
	claimsapp "videomonitoring/internal/claims/application"
)

// Handler provides account claim endpoints.
type Handler struct {
	service *claimsapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *claimsapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("claims handler: nil service")
	}
	return &Handler{service: service}, nil
}

// Register mounts the claim routes under /api/v1.
func (h *Handler) Register(r chi.Router) {
	r.Route("/accounts/{id}/claim", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/", h.acquire)
		r.Delete("/", h.release)
		r.Post("/heartbeat", h.heartbeat)
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	claim, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if claim == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, claim)
}

func (h *Handler) acquire(w http.ResponseWriter, r *http.Request) {
	claim, err := h.service.Acquire(r.Context(), chi.URLParam(r, "id"), auth.OperatorFromContext(r.Context()))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, claim)
}

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Heartbeat(r.Context(), chi.URLParam(r, "id"), auth.OperatorFromContext(r.Context()))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	released, err := h.service.Release(r.Context(), chi.URLParam(r, "id"), auth.OperatorFromContext(r.Context()))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, map[string]bool{"released": released})
}
