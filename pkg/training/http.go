package training

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/synaptica-ai/trainwatch/pkg/common/logger"
)

// HTTPHandler serves the backend boundary contract for a Simulator.
type HTTPHandler struct {
	sim     *Simulator
	maxBody int64
}

func NewHTTPHandler(sim *Simulator, maxBody int64) *HTTPHandler {
	return &HTTPHandler{sim: sim, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc(pathStart, h.handleStart).Methods(http.MethodPost)
	router.HandleFunc(pathProgress+"{id}", h.handleProgress).Methods(http.MethodGet)
	router.HandleFunc(pathStop+"{id}", h.handleStop).Methods(http.MethodPost)
	router.HandleFunc(pathHistory, h.handleHistory).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var params LaunchParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		logger.Log.WithError(err).Warn("invalid training launch payload")
		writeEnvelope(w, http.StatusBadRequest, envelope{Error: "invalid request body"})
		return
	}

	result, err := h.sim.Launch(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if IsValidationError(err) {
			status = http.StatusBadRequest
		}
		writeEnvelope(w, status, envelope{Error: err.Error()})
		return
	}

	writeData(w, http.StatusOK, map[string]interface{}{
		"sessionId":                result.SessionID,
		"estimatedDurationMinutes": result.EstimatedDurationMinutes,
	}, "Training started successfully")
}

func (h *HTTPHandler) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	progress, err := h.sim.Progress(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	writeData(w, http.StatusOK, progress, "")
}

func (h *HTTPHandler) handleStop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	result, err := h.sim.Stop(r.Context(), id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	if !result.Success {
		writeEnvelope(w, http.StatusConflict, envelope{Error: "training session already finished"})
		return
	}
	writeData(w, http.StatusOK, result, "Training stopped")
}

func (h *HTTPHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	sessions := h.sim.History(limit)
	writeData(w, http.StatusOK, map[string]interface{}{
		"sessions":   sessions,
		"totalCount": len(sessions),
	}, "")
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrSessionNotFound) {
		writeEnvelope(w, http.StatusNotFound, envelope{Error: "training session not found"})
		return
	}
	logger.Log.WithError(err).Error("training simulator request failed")
	writeEnvelope(w, http.StatusInternalServerError, envelope{Error: "internal error"})
}

func writeData(w http.ResponseWriter, status int, data interface{}, message string) {
	payload, err := json.Marshal(data)
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, envelope{Error: "encode response"})
		return
	}
	writeEnvelope(w, status, envelope{Success: true, Data: payload, Message: message})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logger.Log.WithError(err).Error("failed to write training response")
	}
}
