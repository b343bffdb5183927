package interfaces

import (
	"context"
	"time"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
)

type LedgerStore interface {
	CreateAccount(ctx context.Context, account models.Account) error
	GetAccount(ctx context.Context, accountId string) (models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)
	// SaveAccount persists account attributes (active flag, limit, held balance).
	// Balance itself only ever changes through Commit.
	SaveAccount(ctx context.Context, account models.Account) error

	// TransactionExists reports whether a keyed change was committed.
	TransactionExists(ctx context.Context, idempotencyKey string) (bool, error)
	GetTransaction(ctx context.Context, idempotencyKey string) (models.Transaction, error)
	Commit(ctx context.Context, commit models.Commit) error

	GetEntry(ctx context.Context, entryId string) (models.LedgerEntry, error)
	GetEntriesByAccount(ctx context.Context, accountId string) ([]models.LedgerEntry, error)
	GetEntriesInRange(ctx context.Context, accountId string, start, end time.Time) ([]models.LedgerEntry, error)
	// GetLedgerEntries returns every entry in posting order.
	GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error)
}
