package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	interfaces "github.com/sheikh-saqib/backoffice-ledger/internal/interfaces" // the ports implemented below
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

//go:embed schema.sql
var schema string

// Store implements every persistence port on PostgreSQL through database/sql
// and the lib/pq driver.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db: db,
	}
}

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Migrate creates the tables if they do not exist yet.
func (p *Store) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

// withTx runs fn in a transaction and rolls back when fn fails.
func (p *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			dbTx.Rollback()
		}
	}()

	if err = fn(dbTx); err != nil {
		return err
	}
	return dbTx.Commit()
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

const accountColumns = `id, owner_kind, type, name, balance, held_balance, transaction_limit, active, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.OwnerKind, &a.Type, &a.Name, &a.Balance, &a.HeldBalance,
		&a.TransactionLimit, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, err
}

func (p *Store) CreateAccount(ctx context.Context, account models.Account) error {
	const query = `INSERT INTO accounts (` + accountColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

	_, err := p.db.ExecContext(ctx, query, account.ID, account.OwnerKind, account.Type, account.Name,
		account.Balance, account.HeldBalance, account.TransactionLimit, account.Active,
		account.CreatedAt, account.UpdatedAt)
	if isUniqueViolation(err) {
		return xerrors.ErrAccountExists
	}
	return err
}

func (p *Store) GetAccount(ctx context.Context, accountId string) (models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	account, err := scanAccount(p.db.QueryRowContext(ctx, query, accountId))
	if err == sql.ErrNoRows {
		return models.Account{}, xerrors.ErrAccountNotFound
	}
	return account, err
}

func (p *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	const query = `SELECT ` + accountColumns + ` FROM accounts ORDER BY id`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SaveAccount leaves balance alone; it only changes through Commit.
func (p *Store) SaveAccount(ctx context.Context, account models.Account) error {
	const query = `UPDATE accounts
	SET owner_kind = $2, type = $3, name = $4, held_balance = $5, transaction_limit = $6, active = $7, updated_at = $8
	WHERE id = $1`

	res, err := p.db.ExecContext(ctx, query, account.ID, account.OwnerKind, account.Type, account.Name,
		account.HeldBalance, account.TransactionLimit, account.Active, account.UpdatedAt)
	if err != nil {
		return err
	}
	return expectOne(res, xerrors.ErrAccountNotFound)
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func (p *Store) TransactionExists(ctx context.Context, idempotencyKey string) (bool, error) {
	const query = `select 1 from transactions where idempotency_key = $1 Limit 1`

	var exists int
	err := p.db.QueryRowContext(ctx, query, idempotencyKey).Scan(&exists)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (p *Store) GetTransaction(ctx context.Context, idempotencyKey string) (models.Transaction, error) {
	const query = `SELECT idempotency_key, entry_ids, created_at FROM transactions WHERE idempotency_key = $1`

	var tx models.Transaction
	err := p.db.QueryRowContext(ctx, query, idempotencyKey).Scan(&tx.Key, pq.Array(&tx.EntryIDs), &tx.CreatedAt)
	if err == sql.ErrNoRows {
		return models.Transaction{}, xerrors.ErrNotFound
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, err
}

// Commit writes the idempotency keys, account snapshots and entries of one
// ledger change in a single database transaction.
func (p *Store) Commit(ctx context.Context, commit models.Commit) error {
	return p.withTx(ctx, func(dbTx *sql.Tx) error {
		for _, t := range commit.Transactions {
			const query = `INSERT INTO transactions (idempotency_key, entry_ids, created_at) VALUES ($1,$2,$3)`
			if _, err := dbTx.ExecContext(ctx, query, t.Key, pq.Array(t.EntryIDs), t.CreatedAt); err != nil {
				if isUniqueViolation(err) {
					return xerrors.ErrConflict
				}
				return err
			}
		}

		for _, a := range commit.Accounts {
			const query = `UPDATE accounts SET balance = $2, held_balance = $3, updated_at = $4 WHERE id = $1`
			res, err := dbTx.ExecContext(ctx, query, a.ID, a.Balance, a.HeldBalance, a.UpdatedAt)
			if err != nil {
				return err
			}
			if err := expectOne(res, xerrors.ErrAccountNotFound); err != nil {
				return err
			}
		}

		for _, e := range commit.Entries {
			if err := p.saveEntry(ctx, dbTx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Store) saveEntry(ctx context.Context, dbTx *sql.Tx, e models.LedgerEntry) error {
	const query = `INSERT INTO ledger_entries
	(id, account_id, amount, kind, related_item_id, transaction_key, balance_after, description, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := dbTx.ExecContext(ctx, query, e.ID, e.AccountID, e.Amount, e.Kind, e.RelatedItemID,
		e.TransactionKey, e.BalanceAfter, e.Description, e.CreatedAt)
	return err
}

const entryColumns = `id, account_id, amount, kind, related_item_id, transaction_key, balance_after, description, created_at`

func scanEntry(row scanner) (models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Kind, &e.RelatedItemID,
		&e.TransactionKey, &e.BalanceAfter, &e.Description, &e.CreatedAt)
	e.CreatedAt = e.CreatedAt.UTC()
	return e, err
}

func (p *Store) queryEntries(ctx context.Context, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (p *Store) GetEntry(ctx context.Context, entryId string) (models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries WHERE id = $1`

	entry, err := scanEntry(p.db.QueryRowContext(ctx, query, entryId))
	if err == sql.ErrNoRows {
		return models.LedgerEntry{}, xerrors.ErrEntryNotFound
	}
	return entry, err
}

// entries come back in posting order (seq)
func (p *Store) GetLedgerEntries(ctx context.Context) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries ORDER BY seq`
	return p.queryEntries(ctx, query)
}

func (p *Store) GetEntriesByAccount(ctx context.Context, accountId string) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE account_id = $1 ORDER BY seq`
	return p.queryEntries(ctx, query, accountId)
}

func (p *Store) GetEntriesInRange(ctx context.Context, accountId string, start, end time.Time) ([]models.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM ledger_entries
	WHERE account_id = $1 AND created_at >= $2 AND created_at < $3 ORDER BY seq`
	return p.queryEntries(ctx, query, accountId, start, end)
}

var (
	_ interfaces.LedgerStore   = (*Store)(nil)
	_ interfaces.WorkflowStore = (*Store)(nil)
	_ interfaces.BatchStore    = (*Store)(nil)
	_ interfaces.IPOStore      = (*Store)(nil)
)
