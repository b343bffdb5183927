package memory

import (
	"context"
	"maps"
	"slices"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

func cloneItem(it models.WorkflowItem) models.WorkflowItem {
	it.Payload.Fields = maps.Clone(it.Payload.Fields)
	return it
}

func (m *Store) CreateItem(ctx context.Context, item models.WorkflowItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[item.ID]; exists {
		return xerrors.ErrConflict
	}
	m.items[item.ID] = cloneItem(item)
	return nil
}

func (m *Store) GetItem(ctx context.Context, itemId string) (models.WorkflowItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, exists := m.items[itemId]
	if !exists {
		return models.WorkflowItem{}, xerrors.ErrItemNotFound
	}
	return cloneItem(item), nil
}

func (m *Store) ListItems(ctx context.Context, filter models.ItemFilter) ([]models.WorkflowItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []models.WorkflowItem
	for _, it := range m.items {
		if filter.State != "" && it.State != filter.State {
			continue
		}
		if filter.MakerID != "" && it.MakerID != filter.MakerID {
			continue
		}
		if filter.ActionKind != "" && it.ActionKind != filter.ActionKind {
			continue
		}
		result = append(result, cloneItem(it))
	}
	slices.SortFunc(result, func(a, b models.WorkflowItem) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return compareStrings(a.ID, b.ID)
	})
	return result, nil
}

// UpdateItems checks every expectation before writing anything.
func (m *Store) UpdateItems(ctx context.Context, updates ...models.ItemUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range updates {
		current, exists := m.items[u.Item.ID]
		if !exists {
			return xerrors.ErrItemNotFound
		}
		if current.State != u.ExpectedState || current.Version != u.ExpectedVersion {
			return xerrors.ErrStaleState
		}
	}
	for _, u := range updates {
		m.items[u.Item.ID] = cloneItem(u.Item)
		if u.Transition != nil {
			m.transitions[u.Item.ID] = append(m.transitions[u.Item.ID], *u.Transition)
		}
	}
	return nil
}

func (m *Store) ListTransitions(ctx context.Context, itemId string) ([]models.Transition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, exists := m.items[itemId]; !exists {
		return nil, xerrors.ErrItemNotFound
	}
	return slices.Clone(m.transitions[itemId]), nil
}

func cloneBatch(b models.Batch) models.Batch {
	b.ItemIDs = slices.Clone(b.ItemIDs)
	return b
}

func (m *Store) CreateBatch(ctx context.Context, batch models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.batches[batch.ID]; exists {
		return xerrors.ErrConflict
	}
	for _, id := range batch.ItemIDs {
		if _, grouped := m.batchOfItem[id]; grouped {
			return xerrors.ErrItemAlreadyBatched
		}
	}
	for _, id := range batch.ItemIDs {
		m.batchOfItem[id] = batch.ID
	}
	m.batches[batch.ID] = cloneBatch(batch)
	return nil
}

// BatchOfItem returns the id of the batch holding an item, or "" when the
// item is not batched.
func (m *Store) BatchOfItem(ctx context.Context, itemId string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.batchOfItem[itemId], nil
}

func (m *Store) GetBatch(ctx context.Context, batchId string) (models.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, exists := m.batches[batchId]
	if !exists {
		return models.Batch{}, xerrors.ErrBatchNotFound
	}
	return cloneBatch(b), nil
}

// SaveBatch updates the resolution fields; membership is fixed at creation.
func (m *Store) SaveBatch(ctx context.Context, batch models.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.batches[batch.ID]
	if !exists {
		return xerrors.ErrBatchNotFound
	}
	batch.ItemIDs = current.ItemIDs
	m.batches[batch.ID] = cloneBatch(batch)
	return nil
}
