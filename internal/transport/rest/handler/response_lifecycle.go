package handler

import (
	"log/slog"
	"net/http"

	"healthsurvey/internal/service"

	"github.com/gorilla/mux"
)

// ResponseHandler opens, versions and reads survey responses
type ResponseHandler struct {
	draftSvc *service.DraftService
	logger   *slog.Logger
}

// NewResponseHandler creates a new response handler
func NewResponseHandler(draftSvc *service.DraftService, logger *slog.Logger) *ResponseHandler {
	return &ResponseHandler{draftSvc: draftSvc, logger: logger}
}

// StartOrResume handles POST /v1/centers/{centerId}/surveys/{surveyId}/responses
func (h *ResponseHandler) StartOrResume(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	resp, created, err := h.draftSvc.StartOrResume(r.Context(), callerFrom(r), vars["centerId"], vars["surveyId"])
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// Get handles GET /v1/responses/{id}
func (h *ResponseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	resp, err := h.draftSvc.GetResponse(r.Context(), callerFrom(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// NewVersion handles POST /v1/responses/{id}/versions
func (h *ResponseHandler) NewVersion(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	resp, err := h.draftSvc.StartNewVersion(r.Context(), callerFrom(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// Sweep handles POST /v1/admin/sweep
func (h *ResponseHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.draftSvc.RequestSweep(r.Context(), callerFrom(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"expired": n})
}
