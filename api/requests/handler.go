// Package requests exposes emergency request intake, status, donor responses
// and cancellation over HTTP.
package requests

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilianp07/bloodlink/core/arbiter"
	"github.com/kilianp07/bloodlink/core/dispatch"
	"github.com/kilianp07/bloodlink/core/model"
)

// Manager is the part of dispatch.Manager used by the handlers.
type Manager interface {
	SubmitRequest(ctx context.Context, s dispatch.Submission) (string, error)
	Status(id string) (dispatch.Status, error)
	Requests() []dispatch.Status
	Respond(ctx context.Context, donorID, requestID string, d model.Decision) (arbiter.Verdict, error)
	Cancel(ctx context.Context, id string) error
}

// Handler serves the /api/requests routes.
type Handler struct {
	m Manager
}

// NewHandler creates a Handler.
func NewHandler(m Manager) *Handler { return &Handler{m: m} }

// Routes mounts the handlers on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.Submit)
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/responses", h.Respond)
	r.Post("/{id}/cancel", h.Cancel)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var ve *dispatch.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Error(), Field: ve.Field})
	case errors.Is(err, dispatch.ErrUnknownRequest):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, arbiter.ErrNotNotified):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error()})
	case errors.Is(err, dispatch.ErrTerminal), errors.Is(err, arbiter.ErrConflictingResponse):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, dispatch.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

// Submit handles POST /api/requests.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var s dispatch.Submission
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	id, err := h.m.SubmitRequest(r.Context(), s)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.m.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/api/requests/"+id)
	writeJSON(w, http.StatusCreated, st)
}

// List handles GET /api/requests. The optional status query parameter
// filters on the lifecycle state; active=true keeps non terminal requests.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	want := model.Status(r.URL.Query().Get("status"))
	active := r.URL.Query().Get("active") == "true"
	out := []dispatch.Status{}
	for _, st := range h.m.Requests() {
		if want != "" && st.Status != want {
			continue
		}
		if active && st.Status.Terminal() {
			continue
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /api/requests/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.m.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type responseBody struct {
	DonorID  string `json:"donor_id"`
	Decision string `json:"decision"`
}

// Respond handles POST /api/requests/{id}/responses.
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	var body responseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}
	if body.DonorID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "donor_id is required", Field: "donor_id"})
		return
	}
	d, err := model.ParseDecision(body.Decision)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Field: "decision"})
		return
	}
	v, err := h.m.Respond(r.Context(), body.DonorID, chi.URLParam(r, "id"), d)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Cancel handles POST /api/requests/{id}/cancel.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.m.Cancel(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.m.Status(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
