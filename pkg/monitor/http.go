package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
	"github.com/synaptica-ai/trainwatch/pkg/training"
)

const defaultHistoryLimit = 10

// HistoryLister returns past sessions, newest first.
type HistoryLister interface {
	History(ctx context.Context, limit int) ([]training.SessionSummary, error)
}

// HTTPHandler exposes the registry to the dashboard.
type HTTPHandler struct {
	registry *Registry
	history  HistoryLister
	maxBody  int64
}

func NewHTTPHandler(registry *Registry, history HistoryLister, maxBody int64) *HTTPHandler {
	return &HTTPHandler{registry: registry, history: history, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/training/sessions", h.handleLaunch).Methods(http.MethodPost)
	router.HandleFunc("/training/sessions", h.handleList).Methods(http.MethodGet)
	router.HandleFunc("/training/history", h.handleHistory).Methods(http.MethodGet)
	router.HandleFunc("/training/sessions/{id}", h.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/training/sessions/{id}", h.handleDetach).Methods(http.MethodDelete)
	router.HandleFunc("/training/sessions/{id}/series/{metric}", h.handleSeries).Methods(http.MethodGet)
	router.HandleFunc("/training/sessions/{id}/stop", h.handleStop).Methods(http.MethodPost)
}

func (h *HTTPHandler) handleLaunch(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var params training.LaunchParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		logger.Log.WithError(err).Warn("invalid training launch payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.registry.Launch(r.Context(), params)
	if err != nil {
		var launchErr *training.LaunchError
		switch {
		case training.IsValidationError(err):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.As(err, &launchErr):
			http.Error(w, err.Error(), http.StatusBadGateway)
		case errors.Is(err, ErrRegistryClosed):
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
		default:
			logger.Log.WithError(err).Error("failed to launch training session")
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": h.registry.List(),
	})
}

func (h *HTTPHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		http.Error(w, "history not available", http.StatusNotImplemented)
		return
	}

	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = defaultHistoryLimit
	}

	sessions, err := h.history.History(r.Context(), limit)
	if err != nil {
		logger.Log.WithError(err).Error("failed to load training history")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":   sessions,
		"totalCount": len(sessions),
	})
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	summary, ok := h.registry.Get(id)
	if !ok {
		http.Error(w, "training session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *HTTPHandler) handleSeries(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	points, err := h.registry.Snapshot(vars["id"], vars["metric"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": vars["id"],
		"metric":    vars["metric"],
		"points":    points,
	})
}

func (h *HTTPHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := h.registry.Stop(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotMonitored) {
			http.Error(w, "training session not monitored", http.StatusNotFound)
			return
		}
		logger.WithSession(id).WithError(err).Error("failed to stop training session")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleDetach tears a session down locally without stopping the job.
func (h *HTTPHandler) handleDetach(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.registry.Teardown(id) {
		http.Error(w, "training session not monitored", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Error("failed to write response")
	}
}
