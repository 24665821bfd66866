package aegisisolate

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/AegisIsolate/internal/app/isolation"
	"github.com/ghalamif/AegisIsolate/internal/ports"
)

type policyView struct {
	Enabled        bool   `json:"enabled"`
	Threshold      uint64 `json:"threshold"`
	IsolationLimit uint64 `json:"isolation_limit"`
	Cycle          string `json:"cycle"`
}

type submitResponse struct {
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// Handler serves metrics, health, policy and unit state, and accepts
// classified errors over HTTP.
func (e *Engine) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(e.promReg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/policy", e.handlePolicy)
	r.Get("/units", e.handleUnits)
	r.Get("/units/{id}", e.handleUnit)
	r.Post("/errors", e.handleSubmit)

	return r
}

func (e *Engine) handlePolicy(w http.ResponseWriter, r *http.Request) {
	pol := e.Policy()
	writeJSON(w, http.StatusOK, policyView{
		Enabled:        e.Enabled(),
		Threshold:      pol.Threshold,
		IsolationLimit: pol.IsolationLimit,
		Cycle:          pol.Cycle.String(),
	})
}

func (e *Engine) handleUnits(w http.ResponseWriter, r *http.Request) {
	units := e.Units()
	if units == nil {
		units = []UnitSnapshot{}
	}
	writeJSON(w, http.StatusOK, units)
}

func (e *Engine) handleUnit(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid unit id", http.StatusBadRequest)
		return
	}
	snap, ok := e.Unit(id)
	if !ok {
		http.Error(w, "unknown unit", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (e *Engine) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var ce ClassifiedError
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ce); err != nil {
		http.Error(w, "invalid classified error: "+err.Error(), http.StatusBadRequest)
		return
	}
	if ce.Source == "" {
		ce.Source = "http"
	}
	if ce.Kind == Corrected && ce.Magnitude == 0 {
		ce.Magnitude = 1
	}

	outcome, err := e.Submit(&ce)
	resp := submitResponse{Outcome: outcome}
	status := http.StatusOK
	switch {
	case errors.Is(err, isolation.ErrDisabled):
		status = http.StatusServiceUnavailable
	case err != nil:
		status = http.StatusUnprocessableEntity
	}
	if err != nil {
		resp.Error = err.Error()
		e.obs.LogWarn("http_submission_rejected", ports.F("unit", ce.UnitID), ports.F("error", err.Error()))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
