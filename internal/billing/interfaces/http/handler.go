package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apihttp "videomonitoring/internal/api/http"
	"videomonitoring/internal/auth"
	billingapp "videomonitoring/internal/billing/application"
	billing "videomonitoring/internal/billing/domain"
	"videomonitoring/internal/logger"
)

// Handler provides signal ingestion and threshold endpoints.
type Handler struct {
	service *billingapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *billingapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("billing handler: nil service")
	}
	return &Handler{service: service}, nil
}

// RegisterIngest mounts POST /signals on the ingest router.
func (h *Handler) RegisterIngest(r chi.Router) {
	r.Post("/signals", h.submitSignal)
}

// Register mounts the operator-facing billing routes under /api/v1.
func (h *Handler) Register(r chi.Router) {
	for _, kind := range []string{"accounts", "cameras"} {
		entity := entityOf(kind)
		r.Put("/"+kind+"/{id}/thresholds", h.setThresholds(entity))
		r.Post("/"+kind+"/{id}/unsnooze", h.unsnooze(entity))
		r.Post("/"+kind+"/{id}/snooze", h.snooze(entity))
	}
	r.Get("/accounts/{id}/activity", h.activity)
	r.Post("/billing/reset", h.reset)
}

func entityOf(kind string) billing.EntityType {
	if kind == "cameras" {
		return billing.EntityCamera
	}
	return billing.EntityAccount
}

type signalRequest struct {
	CameraID   string    `json:"camera_id"`
	ReceivedAt time.Time `json:"timestamp"`
	MediaRefs  []string  `json:"media_refs"`
}

func (h *Handler) submitSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	req.CameraID = strings.TrimSpace(req.CameraID)
	if req.CameraID == "" {
		apihttp.WriteError(w, fmt.Errorf("%w: camera_id is required", apihttp.ErrBadRequest))
		return
	}

	res, err := h.service.SubmitSignal(r.Context(), billingapp.Signal{
		CameraID:   req.CameraID,
		ReceivedAt: req.ReceivedAt,
		MediaRefs:  req.MediaRefs,
	})
	if err != nil {
		logger.FromContext(r.Context()).Error("submit signal", zap.String("camera_id", req.CameraID), zap.Error(err))
		apihttp.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if res.Accepted {
		status = http.StatusCreated
	}
	apihttp.WriteJSON(w, status, res)
}

func (h *Handler) setThresholds(entity billing.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var th billing.Thresholds
		if err := apihttp.DecodeJSON(r, &th); err != nil {
			apihttp.WriteError(w, err)
			return
		}
		ref := billing.EntityRef{Type: entity, ID: chi.URLParam(r, "id")}
		if err := h.service.SetThresholds(r.Context(), ref, th, auth.OperatorFromContext(r.Context())); err != nil {
			apihttp.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type unsnoozeRequest struct {
	Warning *int64 `json:"warning_threshold"`
	Snooze  *int64 `json:"snooze_threshold"`
}

func (h *Handler) unsnooze(entity billing.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req unsnoozeRequest
		if err := apihttp.DecodeJSON(r, &req); err != nil {
			apihttp.WriteError(w, err)
			return
		}
		if req.Warning == nil || req.Snooze == nil {
			apihttp.WriteError(w, fmt.Errorf("%w: warning_threshold and snooze_threshold are required", apihttp.ErrBadRequest))
			return
		}
		ref := billing.EntityRef{Type: entity, ID: chi.URLParam(r, "id")}
		if err := h.service.Unsnooze(r.Context(), ref, *req.Warning, *req.Snooze, auth.OperatorFromContext(r.Context())); err != nil {
			apihttp.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type snoozeRequest struct {
	Until *time.Time `json:"until"`
}

func (h *Handler) snooze(entity billing.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req snoozeRequest
		if err := apihttp.DecodeJSON(r, &req); err != nil {
			apihttp.WriteError(w, err)
			return
		}
		var until time.Time
		if req.Until != nil {
			until = *req.Until
		}
		ref := billing.EntityRef{Type: entity, ID: chi.URLParam(r, "id")}
		if err := h.service.Snooze(r.Context(), ref, until, auth.OperatorFromContext(r.Context())); err != nil {
			apihttp.WriteError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Activity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.RunMonthlyReset(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("monthly reset", zap.Int("failed", report.Failed), zap.Error(err))
		status, body := apihttp.Classify(err)
		if report.Reset > 0 || report.Skipped > 0 {
			status = http.StatusMultiStatus
		}
		apihttp.WriteJSON(w, status, map[string]any{"report": report, "error": body})
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, report)
}
