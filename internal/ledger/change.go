package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

type Action int

const (
	ActionPost Action = iota + 1
	ActionHold
	ActionRelease
)

func (a Action) String() string {
	switch a {
	case ActionPost:
		return "post"
	case ActionHold:
		return "hold"
	case ActionRelease:
		return "release"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// Instruction is one step of a Change. Amount is signed for posts and
// positive for holds and releases.
type Instruction struct {
	Action        Action
	AccountID     string
	Amount        int64
	Kind          models.EntryKind // posts only
	RelatedItemID string
	Description   string
}

// Change is a group of instructions applied all together or not at all.
// A non-empty Key makes the change exactly-once: a key that was already
// applied is skipped and its original entries are returned.
type Change struct {
	Key          string
	Instructions []Instruction
}

// Apply evaluates every change against the current balances and commits them
// as one unit. Account locks are taken in ascending id order, so concurrent
// multi-account changes cannot deadlock.
func (l *Ledger) Apply(ctx context.Context, changes ...Change) ([]models.LedgerEntry, error) {
	if err := validateKeys(changes); err != nil {
		return nil, err
	}

	unlock := l.locks.LockAll(accountIDs(changes)...)
	defer unlock()

	// checked under the account locks so that two racing callers with the
	// same key can't both get past it
	applied, pending, err := l.splitApplied(ctx, changes)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return applied, nil
	}

	commit, err := l.plan(ctx, pending)
	if err != nil {
		return nil, err
	}
	if err := l.store.Commit(ctx, commit); err != nil {
		return nil, fmt.Errorf("commit ledger change: %w", err)
	}

	for _, tx := range commit.Transactions {
		l.logger.Debug("ledger change applied",
			zap.String("key", tx.Key),
			zap.Int("entries", len(tx.EntryIDs)))
	}
	l.publishEntries(ctx, commit.Entries)
	return append(applied, commit.Entries...), nil
}

// Check runs the same evaluation as Apply without taking account locks and
// without committing. A nil result means Apply would succeed on the current
// balances.
func (l *Ledger) Check(ctx context.Context, changes ...Change) error {
	if err := validateKeys(changes); err != nil {
		return err
	}
	_, pending, err := l.splitApplied(ctx, changes)
	if err != nil {
		return err
	}
	_, err = l.plan(ctx, pending)
	return err
}

func validateKeys(changes []Change) error {
	seen := make(map[string]struct{}, len(changes))
	for _, c := range changes {
		if len(c.Instructions) == 0 {
			return xerrors.Invalid("instructions", "must not be empty")
		}
		if c.Key == "" {
			continue
		}
		if _, dup := seen[c.Key]; dup {
			return xerrors.Invalid("key", "appears twice in one apply: "+c.Key)
		}
		seen[c.Key] = struct{}{}
	}
	return nil
}

func accountIDs(changes []Change) []string {
	var ids []string
	for _, c := range changes {
		for _, in := range c.Instructions {
			ids = append(ids, in.AccountID)
		}
	}
	return ids
}

func (l *Ledger) splitApplied(ctx context.Context, changes []Change) ([]models.LedgerEntry, []Change, error) {
	var applied []models.LedgerEntry
	pending := make([]Change, 0, len(changes))
	for _, c := range changes {
		if c.Key == "" {
			pending = append(pending, c)
			continue
		}
		tx, err := l.store.GetTransaction(ctx, c.Key)
		if errors.Is(err, xerrors.ErrNotFound) {
			pending = append(pending, c)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		for _, id := range tx.EntryIDs {
			e, err := l.store.GetEntry(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			applied = append(applied, e)
		}
	}
	return applied, pending, nil
}

// plan evaluates the changes on scratch copies of the accounts and returns
// what a successful commit would write.
func (l *Ledger) plan(ctx context.Context, changes []Change) (models.Commit, error) {
	now := l.now()
	scratch := make(map[string]*models.Account)
	var order []string

	load := func(id string) (*models.Account, error) {
		if a, ok := scratch[id]; ok {
			return a, nil
		}
		a, err := l.store.GetAccount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", id, err)
		}
		scratch[id] = &a
		order = append(order, id)
		return &a, nil
	}

	var commit models.Commit
	for _, c := range changes {
		var entryIDs []string
		for _, in := range c.Instructions {
			account, err := load(in.AccountID)
			if err != nil {
				return models.Commit{}, err
			}
			if err := execute(account, in); err != nil {
				return models.Commit{}, fmt.Errorf("%s %d on account %s: %w", in.Action, in.Amount, in.AccountID, err)
			}
			if in.Action != ActionPost {
				continue
			}
			entry := models.LedgerEntry{
				ID:             l.newID(),
				AccountID:      in.AccountID,
				Amount:         in.Amount,
				Kind:           in.Kind,
				RelatedItemID:  in.RelatedItemID,
				TransactionKey: c.Key,
				BalanceAfter:   account.Balance,
				Description:    in.Description,
				CreatedAt:      now,
			}
			commit.Entries = append(commit.Entries, entry)
			entryIDs = append(entryIDs, entry.ID)
		}
		if c.Key != "" {
			commit.Transactions = append(commit.Transactions, models.Transaction{
				Key:       c.Key,
				EntryIDs:  entryIDs,
				CreatedAt: now,
			})
		}
	}

	for _, id := range order {
		a := *scratch[id]
		a.UpdatedAt = now
		commit.Accounts = append(commit.Accounts, a)
	}
	return commit, nil
}

// execute applies one instruction to an account, enforcing the balance rules.
func execute(account *models.Account, in Instruction) error {
	switch in.Action {
	case ActionPost:
		if !in.Kind.Valid() {
			return xerrors.Invalid("kind", "is not a known entry kind")
		}
		if in.Amount == 0 {
			return xerrors.Invalid("amount", "must not be zero")
		}
		if in.Amount == math.MinInt64 {
			return xerrors.Invalid("amount", "is out of range") // has no positive counterpart
		}
		if !account.Active {
			return xerrors.ErrAccountInactive
		}
		if in.Amount < 0 && !account.Type.MayGoNegative() && account.Available() < -in.Amount {
			return xerrors.ErrInsufficientFunds
		}
		if overflows(account.Balance, in.Amount) {
			return xerrors.Invalid("amount", "would overflow the account balance")
		}
		account.Balance += in.Amount
	case ActionHold:
		if in.Amount <= 0 {
			return xerrors.Invalid("amount", "must be positive")
		}
		if !account.Active {
			return xerrors.ErrAccountInactive
		}
		if account.Available() < in.Amount {
			return xerrors.ErrInsufficientAvailable
		}
		if overflows(account.HeldBalance, in.Amount) {
			return xerrors.Invalid("amount", "would overflow the held balance")
		}
		account.HeldBalance += in.Amount
	case ActionRelease:
		if in.Amount <= 0 {
			return xerrors.Invalid("amount", "must be positive")
		}
		if account.HeldBalance < in.Amount {
			return xerrors.ErrInsufficientHeld
		}
		account.HeldBalance -= in.Amount
	default:
		return xerrors.Invalid("action", "is not a known ledger action")
	}
	return nil
}

// overflows reports whether a+b falls outside int64.
func overflows(a, b int64) bool {
	if b > 0 {
		return a > math.MaxInt64-b
	}
	return a < math.MinInt64-b
}
