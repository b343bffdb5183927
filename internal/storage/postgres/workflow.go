package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

const itemColumns = `id, action_kind, payload, state, maker_id, checker_id, comments, revision, version, created_at, submitted_at, resolved_at`

func scanItem(row scanner) (models.WorkflowItem, error) {
	var (
		it                    models.WorkflowItem
		payload               []byte
		submitted, resolvedAt sql.NullTime
	)
	err := row.Scan(&it.ID, &it.ActionKind, &payload, &it.State, &it.MakerID, &it.CheckerID,
		&it.Comments, &it.Revision, &it.Version, &it.CreatedAt, &submitted, &resolvedAt)
	if err != nil {
		return models.WorkflowItem{}, err
	}
	if err := json.Unmarshal(payload, &it.Payload); err != nil {
		return models.WorkflowItem{}, fmt.Errorf("decode payload of item %s: %w", it.ID, err)
	}
	it.CreatedAt = it.CreatedAt.UTC()
	it.SubmittedAt = timePtr(submitted)
	it.ResolvedAt = timePtr(resolvedAt)
	return it, nil
}

func (p *Store) CreateItem(ctx context.Context, item models.WorkflowItem) error {
	const query = `INSERT INTO workflow_items (` + itemColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, query, item.ID, item.ActionKind, payload, item.State, item.MakerID,
		item.CheckerID, item.Comments, item.Revision, item.Version, item.CreatedAt,
		nullTime(item.SubmittedAt), nullTime(item.ResolvedAt))
	if isUniqueViolation(err) {
		return xerrors.ErrConflict
	}
	return err
}

func (p *Store) GetItem(ctx context.Context, itemId string) (models.WorkflowItem, error) {
	const query = `SELECT ` + itemColumns + ` FROM workflow_items WHERE id = $1`

	item, err := scanItem(p.db.QueryRowContext(ctx, query, itemId))
	if err == sql.ErrNoRows {
		return models.WorkflowItem{}, xerrors.ErrItemNotFound
	}
	return item, err
}

func (p *Store) ListItems(ctx context.Context, filter models.ItemFilter) ([]models.WorkflowItem, error) {
	var (
		where []string
		args  []any
	)
	add := func(column string, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("state", string(filter.State))
	add("maker_id", filter.MakerID)
	add("action_kind", string(filter.ActionKind))

	query := `SELECT ` + itemColumns + ` FROM workflow_items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.WorkflowItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateItems compare-and-swaps every item on (state, version) inside one
// transaction; a single mismatch rolls all of them back.
func (p *Store) UpdateItems(ctx context.Context, updates ...models.ItemUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return p.withTx(ctx, func(dbTx *sql.Tx) error {
		for _, u := range updates {
			if err := p.updateItem(ctx, dbTx, u); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Store) updateItem(ctx context.Context, dbTx *sql.Tx, u models.ItemUpdate) error {
	const query = `UPDATE workflow_items
	SET payload = $2, state = $3, checker_id = $4, comments = $5, revision = $6, version = $7,
	    submitted_at = $8, resolved_at = $9
	WHERE id = $1 AND state = $10 AND version = $11`

	it := u.Item
	payload, err := json.Marshal(it.Payload)
	if err != nil {
		return err
	}
	res, err := dbTx.ExecContext(ctx, query, it.ID, payload, it.State, it.CheckerID, it.Comments,
		it.Revision, it.Version, nullTime(it.SubmittedAt), nullTime(it.ResolvedAt),
		u.ExpectedState, u.ExpectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := dbTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_items WHERE id = $1)`, it.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return xerrors.ErrItemNotFound
		}
		return xerrors.ErrStaleState
	}

	if t := u.Transition; t != nil {
		const insert = `INSERT INTO workflow_transitions (item_id, revision, from_state, to_state, actor_id, comments, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
		if _, err := dbTx.ExecContext(ctx, insert, t.ItemID, t.Revision, t.From, t.To, t.ActorID, t.Comments, t.At); err != nil {
			return err
		}
	}
	return nil
}

func (p *Store) ListTransitions(ctx context.Context, itemId string) ([]models.Transition, error) {
	if _, err := p.GetItem(ctx, itemId); err != nil {
		return nil, err
	}

	const query = `SELECT item_id, revision, from_state, to_state, actor_id, comments, at
	FROM workflow_transitions WHERE item_id = $1 ORDER BY seq`

	rows, err := p.db.QueryContext(ctx, query, itemId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []models.Transition
	for rows.Next() {
		var t models.Transition
		if err := rows.Scan(&t.ItemID, &t.Revision, &t.From, &t.To, &t.ActorID, &t.Comments, &t.At); err != nil {
			return nil, err
		}
		t.At = t.At.UTC()
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// CreateBatch relies on the unique item_id of batch_items to keep an item in
// one batch at most.
func (p *Store) CreateBatch(ctx context.Context, batch models.Batch) error {
	return p.withTx(ctx, func(dbTx *sql.Tx) error {
		const query = `INSERT INTO batches (id, maker_id, rejected, checker_id, comments, created_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
		_, err := dbTx.ExecContext(ctx, query, batch.ID, batch.MakerID, batch.Rejected, batch.CheckerID,
			batch.Comments, batch.CreatedAt, nullTime(batch.ResolvedAt))
		if isUniqueViolation(err) {
			return xerrors.ErrConflict
		}
		if err != nil {
			return err
		}

		for i, id := range batch.ItemIDs {
			const member = `INSERT INTO batch_items (batch_id, item_id, position) VALUES ($1,$2,$3)`
			if _, err := dbTx.ExecContext(ctx, member, batch.ID, id, i); err != nil {
				if isUniqueViolation(err) {
					return xerrors.ErrItemAlreadyBatched
				}
				return err
			}
		}
		return nil
	})
}

func (p *Store) GetBatch(ctx context.Context, batchId string) (models.Batch, error) {
	const query = `SELECT id, maker_id, rejected, checker_id, comments, created_at, resolved_at
	FROM batches WHERE id = $1`

	var (
		b          models.Batch
		resolvedAt sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, query, batchId).Scan(&b.ID, &b.MakerID, &b.Rejected, &b.CheckerID,
		&b.Comments, &b.CreatedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return models.Batch{}, xerrors.ErrBatchNotFound
	}
	if err != nil {
		return models.Batch{}, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	b.ResolvedAt = timePtr(resolvedAt)

	rows, err := p.db.QueryContext(ctx, `SELECT item_id FROM batch_items WHERE batch_id = $1 ORDER BY position`, batchId)
	if err != nil {
		return models.Batch{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return models.Batch{}, err
		}
		b.ItemIDs = append(b.ItemIDs, id)
	}
	return b, rows.Err()
}

// BatchOfItem returns the id of the batch holding an item, or "" when the
// item is not batched.
func (p *Store) BatchOfItem(ctx context.Context, itemId string) (string, error) {
	var batchId string
	err := p.db.QueryRowContext(ctx, `SELECT batch_id FROM batch_items WHERE item_id = $1`, itemId).Scan(&batchId)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return batchId, err
}

// SaveBatch updates the resolution fields; membership is fixed at creation.
func (p *Store) SaveBatch(ctx context.Context, batch models.Batch) error {
	const query = `UPDATE batches SET rejected = $2, checker_id = $3, comments = $4, resolved_at = $5 WHERE id = $1`

	res, err := p.db.ExecContext(ctx, query, batch.ID, batch.Rejected, batch.CheckerID, batch.Comments, nullTime(batch.ResolvedAt))
	if err != nil {
		return err
	}
	return expectOne(res, xerrors.ErrBatchNotFound)
}
