package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"healthsurvey/internal/service"

	"github.com/gorilla/mux"
)

// DraftHandler serves the draft, submit and progress endpoints of a response
type DraftHandler struct {
	draftSvc *service.DraftService
	logger   *slog.Logger
}

// NewDraftHandler creates a new draft handler
func NewDraftHandler(draftSvc *service.DraftService, logger *slog.Logger) *DraftHandler {
	return &DraftHandler{draftSvc: draftSvc, logger: logger}
}

func decodeAnswers(w http.ResponseWriter, r *http.Request) ([]service.AnswerEntry, bool) {
	var req answersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	return req.entries(), true
}

// SaveDraft handles POST /v1/responses/{id}/draft
func (h *DraftHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entries, ok := decodeAnswers(w, r)
	if !ok {
		return
	}

	n, err := h.draftSvc.SaveDraft(r.Context(), callerFrom(r), id, entries)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"saved": true, "count": n})
}

// GetDraft handles GET /v1/responses/{id}/draft
func (h *DraftHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	snap, err := h.draftSvc.GetDraft(r.Context(), callerFrom(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newDraftResponse(snap))
}

// DiscardDraft handles DELETE /v1/responses/{id}/draft
func (h *DraftHandler) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	resp, err := h.draftSvc.Discard(r.Context(), callerFrom(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": resp.Status})
}

// Submit handles POST /v1/responses/{id}/submit
func (h *DraftHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entries, ok := decodeAnswers(w, r)
	if !ok {
		return
	}

	resp, err := h.draftSvc.BulkSubmit(r.Context(), callerFrom(r), id, entries)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   resp.Status,
		"response": resp,
	})
}

// Progress handles GET /v1/responses/{id}/progress
func (h *DraftHandler) Progress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	p, err := h.draftSvc.Progress(r.Context(), callerFrom(r), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newProgressResponse(p))
}
