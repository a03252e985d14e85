package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"healthsurvey/internal/service"
	"healthsurvey/internal/transport/rest/middleware"
)

// Helper functions
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the service error taxonomy onto HTTP statuses
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var rlErr *service.RateLimitError
	var verr *service.ValidationError

	switch {
	case errors.Is(err, service.ErrAuthenticationRequired):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.As(err, &rlErr):
		w.Header().Set("Retry-After", strconv.Itoa(rlErr.RetrySeconds()))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":       "too many requests",
			"retry_after": rlErr.RetrySeconds(),
		})
	case errors.As(err, &verr):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"message": "The given data was invalid.",
			"errors":  verr.Errors,
		})
	default:
		logger.Error("request failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"path", r.URL.Path,
			"error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func callerFrom(r *http.Request) service.Caller {
	return service.Caller{
		UserID:    middleware.GetUserID(r.Context()),
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}
