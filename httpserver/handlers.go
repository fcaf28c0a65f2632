package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/isdmx/safeeval/evaluation"
)

// OutcomeHeader tells callers which kind of result the body holds, so an
// infrastructure failure can be told apart from a failing program.
const OutcomeHeader = "X-Evaluation-Outcome"

const pingTimeout = 2 * time.Second

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, evaluation.ErrorResponse(msg))
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// --- Handlers ---

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)

	var req evaluation.Request
	if err := decodeJSON(r, &req); err != nil {
		w.Header().Set(OutcomeHeader, string(evaluation.OutcomeValidationError))
		// A field of the wrong type is as unusable as a missing one.
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			writeError(w, http.StatusBadRequest, evaluation.ErrMissingFields.Message)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	resp, err := s.evaluator.Evaluate(r.Context(), req)
	w.Header().Set(OutcomeHeader, string(evaluation.OutcomeOf(resp, err)))

	var validationErr *evaluation.ValidationError
	switch {
	case errors.As(err, &validationErr):
		writeError(w, http.StatusBadRequest, validationErr.Message)
	case err != nil:
		s.logger.Error("evaluation failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Server error: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, resp)
	}
}

type healthResponse struct {
	Status     string `json:"status"`
	APIVersion string `json:"api_version,omitempty"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	ping, err := s.runtime.Ping(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", APIVersion: ping.APIVersion})
}
