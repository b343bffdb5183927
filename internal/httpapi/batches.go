package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type createBatchRequest struct {
	ItemIDs []string `json:"item_ids"`
}

func (h *Handler) createBatch(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err == nil {
		err = requireMaker(actor)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	var in createBatchRequest
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	view, err := h.batches.Create(r.Context(), actor.ID, in.ItemIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBatch(view))
}

func (h *Handler) getBatch(w http.ResponseWriter, r *http.Request) {
	view, err := h.batches.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatch(view))
}

// approveBatch answers 422 with per-item failures when any member fails;
// nothing in the batch changes in that case.
func (h *Handler) approveBatch(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := h.batches.Approve(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatch(view))
}

type commentsRequest struct {
	Comments string `json:"comments"`
}

func (h *Handler) rejectBatch(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in commentsRequest
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	view, err := h.batches.Reject(r.Context(), chi.URLParam(r, "id"), actor, in.Comments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatch(view))
}
