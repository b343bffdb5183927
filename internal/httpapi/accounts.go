package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/backoffice-ledger/internal/ledger"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

type openAccountRequest struct {
	ID               string          `json:"id"`
	OwnerKind        string          `json:"owner_kind"`
	Type             string          `json:"type"`
	Name             string          `json:"name"`
	TransactionLimit decimal.Decimal `json:"transaction_limit"`
}

// openAccount opens an account outside the KYC workflow, so only a checker
// may call it.
func (h *Handler) openAccount(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := requireChecker(actor); err != nil {
		writeError(w, err)
		return
	}
	var in openAccountRequest
	if err := decode(r, &in); err != nil {
		writeError(w, err)
		return
	}
	limit, err := models.ParseAmount(in.TransactionLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	account, err := h.ledger.OpenAccount(r.Context(), ledger.OpenAccountRequest{
		ID:               in.ID,
		OwnerKind:        models.OwnerKind(in.OwnerKind),
		Type:             models.AccountType(in.Type),
		Name:             in.Name,
		TransactionLimit: limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccount(account))
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.ledger.ListAccounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]accountJSON, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccount(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) getAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.GetAccount(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccount(account))
}

// getStatement accepts RFC 3339 start and end query parameters. A missing
// start means the beginning of the ledger, a missing end means now.
func (h *Handler) getStatement(w http.ResponseWriter, r *http.Request) {
	start, err := parseTime(r, "start")
	if err != nil {
		writeError(w, err)
		return
	}
	end, err := parseTime(r, "end")
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.ledger.Statement(r.Context(), chi.URLParam(r, "id"), start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatement(st))
}

func parseTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, xerrors.Invalid(name, "must be an RFC 3339 timestamp")
	}
	return t, nil
}
