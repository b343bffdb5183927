package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicItemTransitioned   = "workflow.item_transitioned"
	TopicEntryPosted        = "ledger.entry_posted"
	TopicBatchResolved      = "batch.resolved"
	TopicAllotmentCompleted = "allotment.completed"
)

type ItemTransitioned struct {
	ItemID     string    `json:"item_id"`
	ActionKind string    `json:"action_kind"`
	Revision   int       `json:"revision"`
	FromState  string    `json:"from_state"`
	ToState    string    `json:"to_state"`
	ActorID    string    `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
}

type EntryPosted struct {
	EntryID       string          `json:"entry_id"`
	AccountID     string          `json:"account_id"`
	Kind          string          `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	RelatedItemID string          `json:"related_item_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type BatchResolved struct {
	BatchID     string          `json:"batch_id"`
	Status      string          `json:"status"`
	ItemIDs     []string        `json:"item_ids"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ActorID     string          `json:"actor_id"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

type AllotmentCompleted struct {
	IPOID               string          `json:"ipo_id"`
	TotalApplications   int             `json:"total_applications"`
	TotalAllotted       int             `json:"total_allotted"`
	TotalSharesAllotted int64           `json:"total_shares_allotted"`
	TotalAmountSettled  decimal.Decimal `json:"total_amount_settled"`
	ActorID             string          `json:"actor_id"`
	OccurredAt          time.Time       `json:"occurred_at"`
}

// Key returns the id events are partitioned by, so all events about one
// entity keep their order on a broker.
func (e ItemTransitioned) Key() string { return e.ItemID }

func (e EntryPosted) Key() string { return e.AccountID }

func (e BatchResolved) Key() string { return e.BatchID }

func (e AllotmentCompleted) Key() string { return e.IPOID }
