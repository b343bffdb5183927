package interfaces

import (
	"context"

	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
)

type WorkflowStore interface {
	CreateItem(ctx context.Context, item models.WorkflowItem) error
	GetItem(ctx context.Context, itemId string) (models.WorkflowItem, error)
	ListItems(ctx context.Context, filter models.ItemFilter) ([]models.WorkflowItem, error)
	// UpdateItems applies every update or none. It fails with ErrStaleState
	// when any stored item no longer matches its expected state and version.
	UpdateItems(ctx context.Context, updates ...models.ItemUpdate) error
	ListTransitions(ctx context.Context, itemId string) ([]models.Transition, error)
	// BatchOfItem returns the batch an item was grouped into, or "" if none.
	BatchOfItem(ctx context.Context, itemId string) (string, error)
}

type BatchStore interface {
	// CreateBatch fails with ErrItemAlreadyBatched if any item is already grouped.
	CreateBatch(ctx context.Context, batch models.Batch) error
	GetBatch(ctx context.Context, batchId string) (models.Batch, error)
	SaveBatch(ctx context.Context, batch models.Batch) error
}
