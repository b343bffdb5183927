package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/backoffice-ledger/internal/allotment"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
)

type createIPORequest struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	IssueSize           int64           `json:"issue_size"`
	PricePerShare       decimal.Decimal `json:"price_per_share"`
	SettlementAccountID string          `json:"settlement_account_id"`
}

func (h *Handler) createIPO(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireMaker(actor); err != nil {
		writeError(w, err)
		return
	}
	var in createIPORequest
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	price, err := models.ParseAmount(in.PricePerShare)
	if err != nil {
		writeError(w, err)
		return
	}
	ipo, err := h.allotment.CreateIPO(r.Context(), allotment.CreateIPORequest{
		ID:                  in.ID,
		Name:                in.Name,
		IssueSize:           in.IssueSize,
		PricePerShare:       price,
		SettlementAccountID: in.SettlementAccountID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toIPO(ipo))
}

func (h *Handler) getIPO(w http.ResponseWriter, r *http.Request) {
	ipo, err := h.allotment.GetIPO(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIPO(ipo))
}

type applyRequest struct {
	CustomerID string `json:"customer_id"`
	AccountID  string `json:"account_id"`
	Quantity   int64  `json:"quantity"`
}

func (h *Handler) applyIPO(w http.ResponseWriter, r *http.Request) {
	if _, err := actorFrom(r); err != nil {
		writeError(w, err)
		return
	}
	var in applyRequest
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	app, err := h.allotment.Apply(r.Context(), allotment.ApplyRequest{
		IPOID:      chi.URLParam(r, "id"),
		CustomerID: in.CustomerID,
		AccountID:  in.AccountID,
		Quantity:   in.Quantity,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toApplication(app))
}

func (h *Handler) listApplications(w http.ResponseWriter, r *http.Request) {
	apps, err := h.allotment.Applications(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplications(apps))
}

func (h *Handler) closeSubscription(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ipo, err := h.allotment.CloseSubscription(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toIPO(ipo))
}

func (h *Handler) planAllotment(w http.ResponseWriter, r *http.Request) {
	plan, err := h.allotment.Plan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAllocations(plan))
}

func (h *Handler) runAllotment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	summary, err := h.allotment.Run(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummary(summary))
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.allotment.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummary(summary))
}

func (h *Handler) verifyApplication(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	app, err := h.allotment.Verify(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplication(app))
}

func (h *Handler) rejectApplication(w http.ResponseWriter, r *http.Request) {
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
	app, err := h.allotment.Reject(r.Context(), chi.URLParam(r, "id"), actor, in.Comments)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toApplication(app))
}
