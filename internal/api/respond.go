package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/shard-coordinator/internal/jobs"
)

const maxBodyBytes = 1 << 20

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case jobs.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrNoJobAvailable), errors.Is(err, jobs.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, jobs.ErrAlreadyCompleted), errors.Is(err, jobs.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrBadInput), errors.Is(err, jobs.ErrInvalidClass):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Internal errors are logged and
// hidden from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error(op+" failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
		msg = op + " failed"
	}
	writeError(w, status, msg)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", jobs.ErrBadInput, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeRawJSON(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
