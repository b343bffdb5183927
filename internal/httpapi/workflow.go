package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/workflow"
)

type createItemRequest struct {
	ActionKind string      `json:"action_kind"`
	Payload    payloadJSON `json:"payload"`
	Draft      bool        `json:"draft"` // keep the item as DRAFT instead of submitting it
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err == nil {
		err = requireMaker(actor)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	var in createItemRequest
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	payload, err := in.Payload.model()
	if err != nil {
		writeError(w, err)
		return
	}

	kind := models.ActionKind(strings.ToUpper(in.ActionKind))
	item, err := h.workflow.Create(r.Context(), kind, payload, actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !in.Draft {
		if item, err = h.workflow.Submit(r.Context(), item.ID, actor.ID); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, toItem(item))
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.workflow.List(r.Context(), models.ItemFilter{
		State:      models.ItemState(strings.ToUpper(q.Get("state"))),
		MakerID:    q.Get("maker_id"),
		ActionKind: models.ActionKind(strings.ToUpper(q.Get("action_kind"))),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItems(items))
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := h.workflow.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := h.workflow.History(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		itemJSON
		History []transitionJSON `json:"history"`
	}{toItem(item), toTransitions(history)})
}

func (h *Handler) updateDraft(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in payloadJSON
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	payload, err := in.model()
	if err != nil {
		writeError(w, err)
		return
	}
	item, err := h.workflow.UpdateDraft(r.Context(), chi.URLParam(r, "id"), payload, actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(item))
}

func (h *Handler) submitItem(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	item, err := h.workflow.Submit(r.Context(), chi.URLParam(r, "id"), actor.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(item))
}

type resolveRequest struct {
	Decision      string `json:"decision"`
	Comments      string `json:"comments"`
	ExpectedState string `json:"expected_state"`
}

func (h *Handler) resolveItem(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in resolveRequest
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.workflow.Resolve(r.Context(), workflow.ResolveRequest{
		ItemID:        chi.URLParam(r, "id"),
		Decision:      models.Decision(strings.ToUpper(in.Decision)),
		Actor:         actor,
		Comments:      in.Comments,
		ExpectedState: models.ItemState(strings.ToUpper(in.ExpectedState)),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(item))
}
