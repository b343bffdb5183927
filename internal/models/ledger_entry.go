package models

import (
	"time"
)

// EntryKind classifies a ledger entry.
type EntryKind string

const (
	EntryDeposit            EntryKind = "DEPOSIT"
	EntryWithdrawal         EntryKind = "WITHDRAWAL"
	EntryTransfer           EntryKind = "TRANSFER"
	EntryAllotment          EntryKind = "ALLOTMENT"
	EntryReversal           EntryKind = "REVERSAL"
	EntrySettlement         EntryKind = "SETTLEMENT"
	EntryFee                EntryKind = "FEE"
	EntryCoreCapitalDeposit EntryKind = "CORE_CAPITAL_DEPOSIT"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntryDeposit, EntryWithdrawal, EntryTransfer, EntryAllotment,
		EntryReversal, EntrySettlement, EntryFee, EntryCoreCapitalDeposit:
		return true
	}
	return false
}

// LedgerEntry represents a single ledger record for an account.
// Entries are never updated once written.
type LedgerEntry struct {
	ID             string    // unique identifier
	AccountID      string    // which account this entry belongs to
	Amount         int64     // minor units (positive or negative)
	Kind           EntryKind // what caused the entry
	RelatedItemID  string    // workflow item, application or entry this entry settles
	TransactionKey string    // idempotency key of the change that wrote it, if any
	BalanceAfter   int64     // account balance right after this entry
	Description    string
	CreatedAt      time.Time // timestamp
}

// Statement is the slice of an account's entries in [Start, End).
type Statement struct {
	AccountID      string
	Start          time.Time
	End            time.Time
	OpeningBalance int64
	ClosingBalance int64
	Entries        []LedgerEntry
}
