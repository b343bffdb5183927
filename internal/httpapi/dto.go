package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/backoffice-ledger/internal/allotment"
	"github.com/sheikh-saqib/backoffice-ledger/internal/batch"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
)

type accountJSON struct {
	ID               string          `json:"id"`
	OwnerKind        string          `json:"owner_kind"`
	Type             string          `json:"type"`
	Name             string          `json:"name"`
	Balance          decimal.Decimal `json:"balance"`
	HeldBalance      decimal.Decimal `json:"held_balance"`
	Available        decimal.Decimal `json:"available"`
	TransactionLimit decimal.Decimal `json:"transaction_limit"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func toAccount(a models.Account) accountJSON {
	return accountJSON{
		ID:               a.ID,
		OwnerKind:        string(a.OwnerKind),
		Type:             string(a.Type),
		Name:             a.Name,
		Balance:          models.FormatAmount(a.Balance),
		HeldBalance:      models.FormatAmount(a.HeldBalance),
		Available:        models.FormatAmount(a.Available()),
		TransactionLimit: models.FormatAmount(a.TransactionLimit),
		Active:           a.Active,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

type entryJSON struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Kind          string          `json:"kind"`
	RelatedItemID string          `json:"related_item_id,omitempty"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func toEntries(entries []models.LedgerEntry) []entryJSON {
	out := make([]entryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryJSON{
			ID:            e.ID,
			AccountID:     e.AccountID,
			Amount:        models.FormatAmount(e.Amount),
			Kind:          string(e.Kind),
			RelatedItemID: e.RelatedItemID,
			BalanceAfter:  models.FormatAmount(e.BalanceAfter),
			Description:   e.Description,
			CreatedAt:     e.CreatedAt,
		})
	}
	return out
}

type statementJSON struct {
	AccountID      string          `json:"account_id"`
	Start          time.Time       `json:"start"`
	End            time.Time       `json:"end"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Entries        []entryJSON     `json:"entries"`
}

func toStatement(s models.Statement) statementJSON {
	return statementJSON{
		AccountID:      s.AccountID,
		Start:          s.Start,
		End:            s.End,
		OpeningBalance: models.FormatAmount(s.OpeningBalance),
		ClosingBalance: models.FormatAmount(s.ClosingBalance),
		Entries:        toEntries(s.Entries),
	}
}

// payloadJSON is the wire form of models.Payload with decimal amounts.
type payloadJSON struct {
	AccountID       string            `json:"account_id,omitempty"`
	SourceAccountID string            `json:"source_account_id,omitempty"`
	Amount          decimal.Decimal   `json:"amount"`
	Limit           decimal.Decimal   `json:"limit"`
	CustomerID      string            `json:"customer_id,omitempty"`
	CustomerName    string            `json:"customer_name,omitempty"`
	Description     string            `json:"description,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
}

func (p payloadJSON) model() (models.Payload, error) {
	amount, err := models.ParseAmount(p.Amount)
	if err != nil {
		return models.Payload{}, err
	}
	limit, err := models.ParseAmount(p.Limit)
	if err != nil {
		return models.Payload{}, err
	}
	return models.Payload{
		AccountID:       p.AccountID,
		SourceAccountID: p.SourceAccountID,
		Amount:          amount,
		Limit:           limit,
		CustomerID:      p.CustomerID,
		CustomerName:    p.CustomerName,
		Description:     p.Description,
		Fields:          p.Fields,
	}, nil
}

func fromPayload(p models.Payload) payloadJSON {
	return payloadJSON{
		AccountID:       p.AccountID,
		SourceAccountID: p.SourceAccountID,
		Amount:          models.FormatAmount(p.Amount),
		Limit:           models.FormatAmount(p.Limit),
		CustomerID:      p.CustomerID,
		CustomerName:    p.CustomerName,
		Description:     p.Description,
		Fields:          p.Fields,
	}
}

type itemJSON struct {
	ID          string      `json:"id"`
	ActionKind  string      `json:"action_kind"`
	Payload     payloadJSON `json:"payload"`
	State       string      `json:"state"`
	MakerID     string      `json:"maker_id"`
	CheckerID   string      `json:"checker_id,omitempty"`
	Comments    string      `json:"comments,omitempty"`
	Revision    int         `json:"revision"`
	CreatedAt   time.Time   `json:"created_at"`
	SubmittedAt *time.Time  `json:"submitted_at,omitempty"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
}

func toItem(i models.WorkflowItem) itemJSON {
	return itemJSON{
		ID:          i.ID,
		ActionKind:  string(i.ActionKind),
		Payload:     fromPayload(i.Payload),
		State:       string(i.State),
		MakerID:     i.MakerID,
		CheckerID:   i.CheckerID,
		Comments:    i.Comments,
		Revision:    i.Revision,
		CreatedAt:   i.CreatedAt,
		SubmittedAt: i.SubmittedAt,
		ResolvedAt:  i.ResolvedAt,
	}
}

func toItems(items []models.WorkflowItem) []itemJSON {
	out := make([]itemJSON, 0, len(items))
	for _, i := range items {
		out = append(out, toItem(i))
	}
	return out
}

type transitionJSON struct {
	Revision int       `json:"revision"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to"`
	ActorID  string    `json:"actor_id"`
	Comments string    `json:"comments,omitempty"`
	At       time.Time `json:"at"`
}

func toTransitions(ts []models.Transition) []transitionJSON {
	out := make([]transitionJSON, 0, len(ts))
	for _, t := range ts {
		out = append(out, transitionJSON{
			Revision: t.Revision,
			From:     string(t.From),
			To:       string(t.To),
			ActorID:  t.ActorID,
			Comments: t.Comments,
			At:       t.At,
		})
	}
	return out
}

type batchJSON struct {
	ID          string          `json:"id"`
	MakerID     string          `json:"maker_id"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CheckerID   string          `json:"checker_id,omitempty"`
	Comments    string          `json:"comments,omitempty"`
	Items       []itemJSON      `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}

func toBatch(v batch.View) batchJSON {
	return batchJSON{
		ID:          v.Batch.ID,
		MakerID:     v.Batch.MakerID,
		Status:      string(v.Status),
		TotalAmount: models.FormatAmount(v.TotalAmount),
		CheckerID:   v.Batch.CheckerID,
		Comments:    v.Batch.Comments,
		Items:       toItems(v.Items),
		CreatedAt:   v.Batch.CreatedAt,
		ResolvedAt:  v.Batch.ResolvedAt,
	}
}

type ipoJSON struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	IssueSize           int64           `json:"issue_size"`
	PricePerShare       decimal.Decimal `json:"price_per_share"`
	SettlementAccountID string          `json:"settlement_account_id"`
	Status              string          `json:"status"`
	CreatedAt           time.Time       `json:"created_at"`
	AllottedAt          *time.Time      `json:"allotted_at,omitempty"`
}

func toIPO(i models.IPO) ipoJSON {
	return ipoJSON{
		ID:                  i.ID,
		Name:                i.Name,
		IssueSize:           i.IssueSize,
		PricePerShare:       models.FormatAmount(i.PricePerShare),
		SettlementAccountID: i.SettlementAccountID,
		Status:              string(i.Status),
		CreatedAt:           i.CreatedAt,
		AllottedAt:          i.AllottedAt,
	}
}

type applicationJSON struct {
	ID             string          `json:"id"`
	IPOID          string          `json:"ipo_id"`
	CustomerID     string          `json:"customer_id"`
	AccountID      string          `json:"account_id"`
	Quantity       int64           `json:"quantity"`
	Amount         decimal.Decimal `json:"amount"`
	Status         string          `json:"status"`
	SharesAllotted int64           `json:"shares_allotted"`
	AmountSettled  decimal.Decimal `json:"amount_settled"`
	Sequence       int64           `json:"sequence"`
	SubmittedAt    time.Time       `json:"submitted_at"`
	VerifiedBy     string          `json:"verified_by,omitempty"`
	Comments       string          `json:"comments,omitempty"`
}

func toApplication(a models.IPOApplication) applicationJSON {
	return applicationJSON{
		ID:             a.ID,
		IPOID:          a.IPOID,
		CustomerID:     a.CustomerID,
		AccountID:      a.AccountID,
		Quantity:       a.Quantity,
		Amount:         models.FormatAmount(a.Amount),
		Status:         string(a.Status),
		SharesAllotted: a.SharesAllotted,
		AmountSettled:  models.FormatAmount(a.AmountSettled),
		Sequence:       a.Sequence,
		SubmittedAt:    a.SubmittedAt,
		VerifiedBy:     a.VerifiedBy,
		Comments:       a.Comments,
	}
}

func toApplications(apps []models.IPOApplication) []applicationJSON {
	out := make([]applicationJSON, 0, len(apps))
	for _, a := range apps {
		out = append(out, toApplication(a))
	}
	return out
}

type allocationJSON struct {
	ApplicationID string `json:"application_id"`
	Requested     int64  `json:"requested"`
	Shares        int64  `json:"shares"`
}

func toAllocations(plan []allotment.Allocation) []allocationJSON {
	out := make([]allocationJSON, 0, len(plan))
	for _, a := range plan {
		out = append(out, allocationJSON{ApplicationID: a.ApplicationID, Requested: a.Requested, Shares: a.Shares})
	}
	return out
}

type summaryJSON struct {
	IPOID               string          `json:"ipo_id"`
	TotalApplications   int             `json:"total_applications"`
	TotalAllotted       int             `json:"total_allotted"`
	TotalSharesAllotted int64           `json:"total_shares_allotted"`
	TotalAmountSettled  decimal.Decimal `json:"total_amount_settled"`
	ComputedAt          time.Time       `json:"computed_at"`
}

func toSummary(s models.AllotmentSummary) summaryJSON {
	return summaryJSON{
		IPOID:               s.IPOID,
		TotalApplications:   s.TotalApplications,
		TotalAllotted:       s.TotalAllotted,
		TotalSharesAllotted: s.TotalSharesAllotted,
		TotalAmountSettled:  models.FormatAmount(s.TotalAmountSettled),
		ComputedAt:          s.ComputedAt,
	}
}
