package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	alarmapp "videomonitoring/internal/alarms/application"
	alarms "videomonitoring/internal/alarms/domain"
	apihttp "videomonitoring/internal/api/http"
	"videomonitoring/internal/auth"
)

// Handler provides event triage and alarm endpoints.
type Handler struct {
	service *alarmapp.Service
}

// NewHandler constructs a handler.
func NewHandler(service *alarmapp.Service) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	return &Handler{service: service}, nil
}

// Register mounts event and alarm routes under /api/v1.
func (h *Handler) Register(r chi.Router) {
	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.listEvents)
		r.Get("/{id}", h.getEvent)
		r.Post("/{id}/dismiss", h.dismiss)
		r.Post("/{id}/escalate", h.escalate)
	})
	r.Route("/alarms/{id}", func(r chi.Router) {
		r.Get("/", h.getAlarm)
		r.Get("/metrics", h.metrics)
		r.Post("/events", h.link)
		r.Post("/hold", h.hold)
		r.Post("/unhold", h.unhold)
		r.Post("/resolve", h.resolve)
	})
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := apihttp.ParseIntQuery(r, "limit")
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	q := r.URL.Query()
	list, err := h.service.ListEvents(r.Context(), alarms.EventFilter{
		AccountID: q.Get("account_id"),
		CameraID:  q.Get("camera_id"),
		Status:    alarms.EventStatus(strings.ToLower(q.Get("status"))),
		Limit:     limit,
	})
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if list == nil {
		list = []alarms.Event{}
	}
	apihttp.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.service.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) dismiss(w http.ResponseWriter, r *http.Request) {
	ev, err := h.service.Dismiss(r.Context(), chi.URLParam(r, "id"), auth.OperatorFromContext(r.Context()))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, ev)
}

func (h *Handler) escalate(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.Escalate(r.Context(), chi.URLParam(r, "id"), auth.OperatorFromContext(r.Context()))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Linked {
		status = http.StatusOK
	}
	apihttp.WriteJSON(w, status, res)
}

func (h *Handler) getAlarm(w http.ResponseWriter, r *http.Request) {
	alarm, err := h.service.GetAlarm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, alarm)
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.Metrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, m)
}

type linkRequest struct {
	EventID string `json:"event_id"`
}

func (h *Handler) link(w http.ResponseWriter, r *http.Request) {
	var req linkRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	if req.EventID == "" {
		apihttp.WriteError(w, fmt.Errorf("%w: event_id is required", apihttp.ErrBadRequest))
		return
	}
	alarm, err := h.service.Link(r.Context(), chi.URLParam(r, "id"), req.EventID, auth.OperatorFromContext(r.Context()))
	h.writeAlarm(w, alarm, err)
}

func (h *Handler) hold(w http.ResponseWriter, r *http.Request) {
	alarm, err := h.service.Hold(r.Context(), chi.URLParam(r, "id"), auth.OperatorFromContext(r.Context()))
	h.writeAlarm(w, alarm, err)
}

func (h *Handler) unhold(w http.ResponseWriter, r *http.Request) {
	alarm, err := h.service.Unhold(r.Context(), chi.URLParam(r, "id"), auth.OperatorFromContext(r.Context()))
	h.writeAlarm(w, alarm, err)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
	Notes      string `json:"notes"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := apihttp.DecodeJSON(r, &req); err != nil {
		apihttp.WriteError(w, err)
		return
	}
	alarm, err := h.service.Resolve(r.Context(), chi.URLParam(r, "id"), auth.OperatorFromContext(r.Context()), req.Resolution, req.Notes)
	h.writeAlarm(w, alarm, err)
}

func (h *Handler) writeAlarm(w http.ResponseWriter, alarm *alarms.Alarm, err error) {
	if err != nil {
		apihttp.WriteError(w, err)
		return
	}
	apihttp.WriteJSON(w, http.StatusOK, alarm)
}
