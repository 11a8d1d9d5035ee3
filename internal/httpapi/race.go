package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"duckrace/server/internal/arena"
	"duckrace/server/internal/logging"
	"duckrace/server/internal/race"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RaceHandler simulates the race described by the JSON body and returns the outcome.
func (h *HandlerSet) RaceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.LoggerFromContext(r.Context()).With(logging.String("handler", "race"))
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}
		if h.races == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "race simulation is unavailable"})
			return
		}

		//1.- Bound the body before decoding so oversized rosters fail fast.
		var req arena.Request
		body := http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body must be a JSON race description", Message: err.Error()})
			return
		}

		//2.- Precondition failures are the caller's fault; anything else is ours.
		outcome, err := h.races.Run(r.Context(), req)
		switch {
		case err == nil:
		case errors.Is(err, arena.ErrInvalidRequest):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		default:
			if errors.Is(err, race.ErrInvalidConfig) {
				reqLogger.Error("race tuning rejected", logging.Error(err))
			} else {
				reqLogger.Error("race simulation failed", logging.Error(err))
			}
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Race simulation failed", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	}
}

// ModesHandler lists the race modes and their tunings.
func (h *HandlerSet) ModesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
			return
		}
		if h.races == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "race simulation is unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, h.races.Modes())
	}
}

// cors mirrors allowed origins back to browsers and answers preflight requests.
// An empty allow list admits every origin.
func (h *HandlerSet) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			switch {
			case len(h.allowedOrigins) == 0:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case slices.Contains(h.allowedOrigins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Trace-ID")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
