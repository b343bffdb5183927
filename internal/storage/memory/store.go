package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	interfaces "github.com/sheikh-saqib/backoffice-ledger/internal/interfaces"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

// Store is an in-memory implementation of every persistence port.
// Everything it hands out is a copy, so callers can't modify internal state.
type Store struct {
	mu sync.RWMutex // protects everything below

	accounts     map[string]models.Account
	entries      []models.LedgerEntry          // append-only, in posting order
	entryIndex   map[string]int                // entry id -> position in entries
	transactions map[string]models.Transaction // keyed by idempotency key

	items       map[string]models.WorkflowItem
	transitions map[string][]models.Transition // item id -> audit trail, oldest first

	batches     map[string]models.Batch
	batchOfItem map[string]string // item id -> batch id

	ipos      map[string]models.IPO
	apps      map[string]models.IPOApplication
	appsByIPO map[string][]string // ipo id -> application ids in submission order
	summaries map[string]models.AllotmentSummary
}

// NewStore creates and returns an empty Store
func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]models.Account),
		entries:      make([]models.LedgerEntry, 0),
		entryIndex:   make(map[string]int),
		transactions: make(map[string]models.Transaction),
		items:        make(map[string]models.WorkflowItem),
		transitions:  make(map[string][]models.Transition),
		batches:      make(map[string]models.Batch),
		batchOfItem:  make(map[string]string),
		ipos:         make(map[string]models.IPO),
		apps:         make(map[string]models.IPOApplication),
		appsByIPO:    make(map[string][]string),
		summaries:    make(map[string]models.AllotmentSummary),
	}
}

// CreateAccount stores a new account. Ids are unique.
func (m *Store) CreateAccount(ctx context.Context, account models.Account) error {
	m.mu.Lock()         // lock to prevent concurrent writes
	defer m.mu.Unlock() // unlock automatically when function exits

	if _, exists := m.accounts[account.ID]; exists {
		return xerrors.ErrAccountExists
	}
	m.accounts[account.ID] = account
	return nil
}

func (m *Store) GetAccount(ctx context.Context, accountId string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, exists := m.accounts[accountId]
	if !exists {
		return models.Account{}, xerrors.ErrAccountNotFound
	}
	return account, nil
}

func (m *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		result = append(result, a)
	}
	// map order is random; callers expect a stable listing
	slices.SortFunc(result, func(a, b models.Account) int { return compareStrings(a.ID, b.ID) })
	return result, nil
}

func (m *Store) SaveAccount(ctx context.Context, account models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.accounts[account.ID]
	if !exists {
		return xerrors.ErrAccountNotFound
	}
	// balance is owned by Commit
	account.Balance = current.Balance
	m.accounts[account.ID] = account
	return nil
}

// TransactionExists reports whether a keyed change was committed.
func (m *Store) TransactionExists(ctx context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()         // readers may share the lock
	defer m.mu.RUnlock() // release when the lookup is done

	_, exists := m.transactions[idempotencyKey]
	return exists, nil
}

func (m *Store) GetTransaction(ctx context.Context, idempotencyKey string) (models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, exists := m.transactions[idempotencyKey]
	if !exists {
		return models.Transaction{}, xerrors.ErrNotFound
	}
	tx.EntryIDs = slices.Clone(tx.EntryIDs) // don't hand out the stored slice
	return tx, nil
}

// Commit writes the whole change under one lock, so readers see all of it or none of it.
func (m *Store) Commit(ctx context.Context, commit models.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// validate everything first so a failed commit writes nothing
	for _, tx := range commit.Transactions {
		if _, exists := m.transactions[tx.Key]; exists {
			return xerrors.ErrConflict // key already applied
		}
	}
	for _, a := range commit.Accounts {
		if _, exists := m.accounts[a.ID]; !exists {
			return xerrors.ErrAccountNotFound
		}
	}

	for _, tx := range commit.Transactions {
		tx.EntryIDs = slices.Clone(tx.EntryIDs)
		m.transactions[tx.Key] = tx
	}
	for _, a := range commit.Accounts {
		m.accounts[a.ID] = a
	}
	for _, e := range commit.Entries {
		m.entryIndex[e.ID] = len(m.entries) // position the entry is about to take
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *Store) GetEntry(ctx context.Context, entryId string) (models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, exists := m.entryIndex[entryId]
	if !exists {
		return models.LedgerEntry{}, xerrors.ErrEntryNotFound
	}
	return m.entries[idx], nil
}

// GetLedgerEntries returns a copy of all ledger entries stored in memory.
func (m *Store) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// copy so external code can't modify internal state
	copied := make([]models.LedgerEntry, len(m.entries))
	copy(copied, m.entries)
	return copied, nil
}

func (m *Store) GetEntriesByAccount(ctx context.Context, accountId string) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == accountId {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Store) GetEntriesInRange(ctx context.Context, accountId string, start, end time.Time) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID != accountId {
			continue
		}
		if e.CreatedAt.Before(start) || !e.CreatedAt.Before(end) {
			continue // outside [start, end)
		}
		result = append(result, e)
	}
	return result, nil
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Compile-time check: ensure Store implements every port.
var (
	_ interfaces.LedgerStore   = (*Store)(nil)
	_ interfaces.WorkflowStore = (*Store)(nil)
	_ interfaces.BatchStore    = (*Store)(nil)
	_ interfaces.IPOStore      = (*Store)(nil)
)
