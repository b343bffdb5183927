package models

import "time"

// ActionKind is the kind of change a workflow item proposes.
type ActionKind string

const (
	ActionDeposit         ActionKind = "DEPOSIT"
	ActionWithdrawal      ActionKind = "WITHDRAWAL"
	ActionLimitChange     ActionKind = "LIMIT_CHANGE"
	ActionKYCSubmission   ActionKind = "KYC_SUBMISSION"
	ActionCapitalTransfer ActionKind = "CAPITAL_TRANSFER"
)

func (k ActionKind) Valid() bool {
	switch k {
	case ActionDeposit, ActionWithdrawal, ActionLimitChange, ActionKYCSubmission, ActionCapitalTransfer:
		return true
	}
	return false
}

// ItemState is the position of a workflow item in the maker-checker machine.
type ItemState string

const (
	StateDraft    ItemState = "DRAFT"
	StatePending  ItemState = "PENDING"
	StateApproved ItemState = "APPROVED"
	StateRejected ItemState = "REJECTED"
	StateReturned ItemState = "RETURNED"
)

func (s ItemState) Valid() bool {
	switch s {
	case StateDraft, StatePending, StateApproved, StateRejected, StateReturned:
		return true
	}
	return false
}

// Terminal reports whether no transition may leave this state.
func (s ItemState) Terminal() bool {
	return s == StateApproved || s == StateRejected
}

// Editable reports whether the maker may still change the payload.
func (s ItemState) Editable() bool {
	return s == StateDraft || s == StateReturned
}

// Decision is a checker's verdict on a pending item.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
	DecisionReturn  Decision = "RETURN"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionReject, DecisionReturn:
		return true
	}
	return false
}

// Target is the state a decision moves a pending item to.
func (d Decision) Target() ItemState {
	switch d {
	case DecisionApprove:
		return StateApproved
	case DecisionReject:
		return StateRejected
	default:
		return StateReturned
	}
}

// Payload carries the requester-supplied fields of a workflow item.
// Which fields are required depends on the ActionKind.
type Payload struct {
	AccountID       string            `json:"account_id,omitempty"`
	SourceAccountID string            `json:"source_account_id,omitempty"`
	Amount          int64             `json:"amount,omitempty"` // minor units
	Limit           int64             `json:"limit,omitempty"`  // minor units
	CustomerID      string            `json:"customer_id,omitempty"`
	CustomerName    string            `json:"customer_name,omitempty"`
	Description     string            `json:"description,omitempty"`
	Fields          map[string]string `json:"fields,omitempty"`
}

// WorkflowItem is one maker-checker request.
type WorkflowItem struct {
	ID          string
	ActionKind  ActionKind
	Payload     Payload
	State       ItemState
	MakerID     string
	CheckerID   string // empty until resolved
	Comments    string
	Revision    int   // incremented each time the item is returned for rework
	Version     int64 // bumped on every write, used for compare-and-swap
	CreatedAt   time.Time
	SubmittedAt *time.Time
	ResolvedAt  *time.Time
}

// Transition is one audit trail record of a state change.
type Transition struct {
	ItemID   string
	Revision int
	From     ItemState
	To       ItemState
	ActorID  string
	Comments string
	At       time.Time
}

// ItemUpdate is a compare-and-swap write: it only applies while the stored
// item is still in ExpectedState at ExpectedVersion.
type ItemUpdate struct {
	Item            WorkflowItem
	ExpectedState   ItemState
	ExpectedVersion int64
	Transition      *Transition
}

// ItemFilter narrows item listings; zero fields match everything.
type ItemFilter struct {
	State      ItemState
	MakerID    string
	ActionKind ActionKind
}
