package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/backoffice-ledger/internal/interfaces"
	"github.com/sheikh-saqib/backoffice-ledger/internal/lock"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models/events"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

// Ledger owns accounts and their entries. Every balance change goes through
// Apply, which serializes writers per account and commits atomically.
type Ledger struct {
	store     interfaces.LedgerStore    // storage implementation (memory, postgres, ...)
	publisher interfaces.EventPublisher // optional, nil skips entry events
	logger    *zap.Logger               // structured logger, no-op by default
	locks     *lock.Keyed               // one mutex per account id
	now       func() time.Time          // clock, overridden in tests
	newID     func() string             // entry and account id generator
}

type Option func(*Ledger)

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// NewLedger creates a Ledger on top of the given storage implementation.
func NewLedger(store interfaces.LedgerStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: zap.NewNop(),
		locks:  lock.NewKeyed(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OpenAccountRequest describes a new account. ID is generated when empty.
type OpenAccountRequest struct {
	ID               string
	OwnerKind        models.OwnerKind
	Type             models.AccountType
	Name             string
	TransactionLimit int64
}

func (l *Ledger) OpenAccount(ctx context.Context, req OpenAccountRequest) (models.Account, error) {
	if !req.OwnerKind.Valid() {
		return models.Account{}, xerrors.Invalid("owner_kind", "is not a known owner kind")
	}
	if !req.Type.Valid() {
		return models.Account{}, xerrors.Invalid("type", "is not a known account type")
	}
	if req.TransactionLimit < 0 {
		return models.Account{}, xerrors.Invalid("transaction_limit", "must not be negative")
	}
	if req.ID == "" {
		req.ID = l.newID() // caller did not pick an id
	}

	now := l.now()
	account := models.Account{
		ID:               req.ID,
		OwnerKind:        req.OwnerKind,
		Type:             req.Type,
		Name:             req.Name,
		TransactionLimit: req.TransactionLimit,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := l.store.CreateAccount(ctx, account); err != nil {
		return models.Account{}, fmt.Errorf("open account %s: %w", req.ID, err)
	}
	l.logger.Info("account opened",
		zap.String("account_id", account.ID),
		zap.String("owner_kind", string(account.OwnerKind)),
		zap.String("type", string(account.Type)))
	return account, nil
}

func (l *Ledger) GetAccount(ctx context.Context, accountId string) (models.Account, error) {
	return l.store.GetAccount(ctx, accountId)
}

func (l *Ledger) ListAccounts(ctx context.Context) ([]models.Account, error) {
	return l.store.ListAccounts(ctx)
}

// Deactivate stops an account from taking new postings or holds.
// Accounts are never deleted.
func (l *Ledger) Deactivate(ctx context.Context, accountId string) (models.Account, error) {
	return l.updateAccount(ctx, accountId, func(a *models.Account) error {
		a.Active = false
		return nil
	})
}

// SetTransactionLimit caps the amount of a single withdrawal-class request; 0 removes the cap.
func (l *Ledger) SetTransactionLimit(ctx context.Context, accountId string, limit int64) (models.Account, error) {
	if limit < 0 {
		return models.Account{}, xerrors.Invalid("limit", "must not be negative")
	}
	return l.updateAccount(ctx, accountId, func(a *models.Account) error {
		a.TransactionLimit = limit
		return nil
	})
}

func (l *Ledger) updateAccount(ctx context.Context, accountId string, mutate func(*models.Account) error) (models.Account, error) {
	unlock := l.locks.Lock(accountId)
	defer unlock()

	account, err := l.store.GetAccount(ctx, accountId)
	if err != nil {
		return models.Account{}, err
	}
	if err := mutate(&account); err != nil {
		return models.Account{}, err
	}
	account.UpdatedAt = l.now()
	if err := l.store.SaveAccount(ctx, account); err != nil {
		return models.Account{}, err
	}
	return account, nil
}

// Post appends one entry to an account. A negative amount fails with
// ErrInsufficientFunds when it exceeds the available balance, unless the
// account type may go negative.
func (l *Ledger) Post(ctx context.Context, accountId string, amount int64, kind models.EntryKind, relatedItemId string) (models.LedgerEntry, error) {
	entries, err := l.Apply(ctx, Change{Instructions: []Instruction{
		{Action: ActionPost, AccountID: accountId, Amount: amount, Kind: kind, RelatedItemID: relatedItemId},
	}})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return entries[0], nil
}

// Hold reserves part of the available balance. It never writes an entry.
func (l *Ledger) Hold(ctx context.Context, accountId string, amount int64) error {
	_, err := l.Apply(ctx, Change{Instructions: []Instruction{
		{Action: ActionHold, AccountID: accountId, Amount: amount},
	}})
	return err
}

// Release returns held funds to the available balance. It never writes an entry.
func (l *Ledger) Release(ctx context.Context, accountId string, amount int64) error {
	_, err := l.Apply(ctx, Change{Instructions: []Instruction{
		{Action: ActionRelease, AccountID: accountId, Amount: amount},
	}})
	return err
}

// Reverse posts the opposite of an entry. An entry can be reversed once.
func (l *Ledger) Reverse(ctx context.Context, entryId, relatedItemId string) (models.LedgerEntry, error) {
	original, err := l.store.GetEntry(ctx, entryId) // the entry being undone
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if relatedItemId == "" {
		relatedItemId = original.ID
	}
	entries, err := l.Apply(ctx, Change{
		Key: "reversal:" + original.ID,
		Instructions: []Instruction{{
			Action:        ActionPost,
			AccountID:     original.AccountID,
			Amount:        -original.Amount,
			Kind:          models.EntryReversal,
			RelatedItemID: relatedItemId,
			Description:   "reversal of " + original.ID,
		}},
	})
	if err != nil {
		return models.LedgerEntry{}, err
	}
	return entries[0], nil
}

func (l *Ledger) Entries(ctx context.Context, accountId string) ([]models.LedgerEntry, error) {
	if _, err := l.store.GetAccount(ctx, accountId); err != nil {
		return nil, err
	}
	return l.store.GetEntriesByAccount(ctx, accountId)
}

// Statement returns the entries of an account in [start, end) along with the
// balances on either side of the window.
func (l *Ledger) Statement(ctx context.Context, accountId string, start, end time.Time) (models.Statement, error) {
	if end.IsZero() {
		end = l.now()
	}
	if !start.Before(end) {
		return models.Statement{}, xerrors.Invalid("start", "must be before end")
	}
	if _, err := l.store.GetAccount(ctx, accountId); err != nil {
		return models.Statement{}, err
	}

	before, err := l.store.GetEntriesInRange(ctx, accountId, time.Time{}, start)
	if err != nil {
		return models.Statement{}, err
	}
	within, err := l.store.GetEntriesInRange(ctx, accountId, start, end)
	if err != nil {
		return models.Statement{}, err
	}

	// opening balance is the fold of everything before the window
	st := models.Statement{AccountID: accountId, Start: start, End: end, Entries: within}
	for _, e := range before {
		st.OpeningBalance += e.Amount
	}
	st.ClosingBalance = st.OpeningBalance
	for _, e := range within {
		st.ClosingBalance += e.Amount
	}
	return st, nil
}

// Verify checks that the cached balance equals the fold of the account's
// entries and that the held balance is consistent.
func (l *Ledger) Verify(ctx context.Context, accountId string) error {
	unlock := l.locks.Lock(accountId)
	defer unlock()

	account, err := l.store.GetAccount(ctx, accountId)
	if err != nil {
		return err
	}
	entries, err := l.store.GetEntriesByAccount(ctx, accountId)
	if err != nil {
		return err
	}

	var sum int64 // running balance, must match every entry's balance_after
	for _, e := range entries {
		sum += e.Amount
		if e.BalanceAfter != sum {
			return fmt.Errorf("%w: account %s entry %s balance_after %d, fold %d",
				xerrors.ErrInvariantViolated, accountId, e.ID, e.BalanceAfter, sum)
		}
	}
	return checkAccount(account, sum)
}

// checkAccount compares the cached balances of an account with the fold of
// its entries.
func checkAccount(account models.Account, fold int64) error {
	if fold != account.Balance {
		return fmt.Errorf("%w: account %s balance %d, fold of entries %d",
			xerrors.ErrInvariantViolated, account.ID, account.Balance, fold)
	}
	if account.HeldBalance < 0 {
		return fmt.Errorf("%w: account %s held balance %d", xerrors.ErrInvariantViolated, account.ID, account.HeldBalance)
	}
	if !account.Type.MayGoNegative() && account.Available() < 0 {
		return fmt.Errorf("%w: account %s available balance %d", xerrors.ErrInvariantViolated, account.ID, account.Available())
	}
	return nil
}

// VerifyAll folds the whole ledger in posting order and checks every account
// against its entries. Entries of unknown accounts are reported too.
func (l *Ledger) VerifyAll(ctx context.Context) error {
	accounts, err := l.store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	unlock := l.locks.LockAll(ids...) // hold writers off for a consistent snapshot
	defer unlock()

	// re-read under the locks
	accounts, err = l.store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	entries, err := l.store.GetLedgerEntries(ctx)
	if err != nil {
		return err
	}

	folds := make(map[string]int64, len(accounts)) // account id -> running balance
	known := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		known[a.ID] = struct{}{}
	}

	var errs []error
	for _, e := range entries {
		if _, ok := known[e.AccountID]; !ok {
			errs = append(errs, fmt.Errorf("%w: entry %s posts to unknown account %s",
				xerrors.ErrInvariantViolated, e.ID, e.AccountID))
			continue
		}
		folds[e.AccountID] += e.Amount
		if e.BalanceAfter != folds[e.AccountID] {
			errs = append(errs, fmt.Errorf("%w: account %s entry %s balance_after %d, fold %d",
				xerrors.ErrInvariantViolated, e.AccountID, e.ID, e.BalanceAfter, folds[e.AccountID]))
		}
	}
	for _, a := range accounts {
		if err := checkAccount(a, folds[a.ID]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Applied reports whether a keyed change has been committed.
func (l *Ledger) Applied(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	return l.store.TransactionExists(ctx, key)
}

func (l *Ledger) publishEntries(ctx context.Context, entries []models.LedgerEntry) {
	if l.publisher == nil {
		return
	}
	for _, e := range entries {
		event := events.EntryPosted{
			EntryID:       e.ID,
			AccountID:     e.AccountID,
			Kind:          string(e.Kind),
			Amount:        models.FormatAmount(e.Amount),
			BalanceAfter:  models.FormatAmount(e.BalanceAfter),
			RelatedItemID: e.RelatedItemID,
			OccurredAt:    e.CreatedAt,
		}
		if err := l.publisher.Publish(ctx, events.TopicEntryPosted, event); err != nil {
			l.logger.Error("publish entry posted",
				zap.String("entry_id", e.ID),
				zap.Error(err))
		}
	}
}
