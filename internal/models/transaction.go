package models

import "time"

// Transaction records that a keyed ledger change was applied, so that the
// same key is never applied twice.
type Transaction struct {
	Key       string
	EntryIDs  []string
	CreatedAt time.Time
}

// Commit is everything one ledger change writes. Stores apply it atomically:
// either all accounts, entries and transactions are written or none are.
type Commit struct {
	Transactions []Transaction
	Accounts     []Account // new snapshots of every touched account
	Entries      []LedgerEntry
}
