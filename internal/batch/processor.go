package batch

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
	"github.com/sheikh-saqib/backoffice-ledger/internal/workflow"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

// Processor groups pending workflow items so a checker can commit or abort
// them together. Item state stays owned by the workflow engine.
type Processor struct {
	store     interfaces.BatchStore
	engine    *workflow.Engine
	publisher interfaces.EventPublisher
	logger    *zap.Logger
	locks     *lock.Keyed // one mutex per batch id
	now       func() time.Time
	newID     func() string
}

type Option func(*Processor)

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(b *Processor) { b.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(b *Processor) { b.logger = logger }
}

func NewProcessor(store interfaces.BatchStore, engine *workflow.Engine, opts ...Option) *Processor {
	b := &Processor{
		store:  store,
		engine: engine,
		logger: zap.NewNop(),
		locks:  lock.NewKeyed(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// View is a batch together with its items and the figures derived from them.
type View struct {
	Batch       models.Batch
	Items       []models.WorkflowItem
	Status      models.BatchStatus
	TotalAmount int64
}

// Create groups PENDING items of one maker. An item can be in one batch only.
func (p *Processor) Create(ctx context.Context, makerId string, itemIds []string) (View, error) {
	if len(itemIds) == 0 {
		return View{}, xerrors.Invalid("item_ids", "must not be empty")
	}
	seen := make(map[string]struct{}, len(itemIds))
	items := make([]models.WorkflowItem, 0, len(itemIds))
	for _, id := range itemIds {
		if _, dup := seen[id]; dup {
			return View{}, xerrors.Invalid("item_ids", "contains "+id+" twice")
		}
		seen[id] = struct{}{}

		item, err := p.engine.Get(ctx, id)
		if err != nil {
			return View{}, fmt.Errorf("item %s: %w", id, err)
		}
		if item.MakerID != makerId {
			return View{}, fmt.Errorf("%w: item %s belongs to another maker", xerrors.ErrUnauthorized, id)
		}
		if item.State != models.StatePending {
			return View{}, fmt.Errorf("%w: item %s is %s", xerrors.ErrInvalidTransition, id, item.State)
		}
		items = append(items, item)
	}

	b := models.Batch{
		ID:        p.newID(),
		MakerID:   makerId,
		ItemIDs:   append([]string(nil), itemIds...),
		CreatedAt: p.now(),
	}
	if err := p.store.CreateBatch(ctx, b); err != nil {
		return View{}, fmt.Errorf("create batch: %w", err)
	}
	p.logger.Info("batch created",
		zap.String("batch_id", b.ID),
		zap.String("maker_id", makerId),
		zap.Int("items", len(itemIds)))
	return newView(b, items), nil
}

// Get recomputes status and total from the current item states.
func (p *Processor) Get(ctx context.Context, batchId string) (View, error) {
	b, err := p.store.GetBatch(ctx, batchId)
	if err != nil {
		return View{}, err
	}
	items := make([]models.WorkflowItem, 0, len(b.ItemIDs))
	for _, id := range b.ItemIDs {
		item, err := p.engine.Get(ctx, id)
		if err != nil {
			return View{}, fmt.Errorf("item %s: %w", id, err)
		}
		items = append(items, item)
	}
	return newView(b, items), nil
}

func newView(b models.Batch, items []models.WorkflowItem) View {
	return View{
		Batch:       b,
		Items:       items,
		Status:      models.DeriveBatchStatus(b, items),
		TotalAmount: models.BatchTotal(items),
	}
}

// Approve validates every member first and reports all failing members in a
// *xerrors.PartialFailure without changing anything. When every member passes
// the whole batch is approved in one ledger commit.
func (p *Processor) Approve(ctx context.Context, batchId string, checker models.Actor) (View, error) {
	unlock := p.locks.Lock(batchId)
	defer unlock()

	view, err := p.Get(ctx, batchId)
	if err != nil {
		return View{}, err
	}
	switch view.Status {
	case models.BatchApproved:
		return view, nil
	case models.BatchRejected:
		return View{}, fmt.Errorf("%w: batch %s is rejected", xerrors.ErrInvalidTransition, batchId)
	}

	var failures []xerrors.ItemFailure
	for _, item := range view.Items {
		err := p.engine.Validate(ctx, workflow.ResolveRequest{
			ItemID:   item.ID,
			Decision: models.DecisionApprove,
			Actor:    checker,
			BatchID:  batchId,
		})
		if err != nil {
			failures = append(failures, xerrors.ItemFailure{ItemID: item.ID, Err: err})
		}
	}
	if len(failures) > 0 {
		return View{}, p.partialFailure(batchId, failures)
	}

	// balances may have moved since validation; ApproveAll checks again
	// under the locks and commits all or nothing
	items, err := p.engine.ApproveAll(ctx, batchId, view.Batch.ItemIDs, checker, "")
	if err != nil {
		var pf *xerrors.PartialFailure
		if errors.As(err, &pf) {
			return View{}, p.partialFailure(batchId, pf.Failures)
		}
		return View{}, err
	}

	return p.resolve(ctx, view.Batch, items, checker.ID, "")
}

// Reject rejects every unresolved member with the same comments. A batch
// with an approved member can no longer be rejected as a whole.
func (p *Processor) Reject(ctx context.Context, batchId string, checker models.Actor, comments string) (View, error) {
	if comments == "" {
		return View{}, xerrors.ErrMissingComments
	}
	unlock := p.locks.Lock(batchId)
	defer unlock()

	view, err := p.Get(ctx, batchId)
	if err != nil {
		return View{}, err
	}
	switch view.Status {
	case models.BatchApproved:
		return View{}, fmt.Errorf("%w: batch %s is approved", xerrors.ErrInvalidTransition, batchId)
	case models.BatchRejected:
		return view, nil
	}
	for _, item := range view.Items {
		if item.State == models.StateApproved {
			return View{}, fmt.Errorf("%w: item %s of batch %s is approved", xerrors.ErrInvalidTransition, item.ID, batchId)
		}
	}

	items, err := p.engine.RejectAll(ctx, batchId, view.Batch.ItemIDs, checker, comments)
	if err != nil {
		return View{}, err
	}
	b := view.Batch
	b.Rejected = true
	return p.resolve(ctx, b, items, checker.ID, comments)
}

func (p *Processor) resolve(ctx context.Context, b models.Batch, items []models.WorkflowItem, checkerId, comments string) (View, error) {
	now := p.now()
	b.CheckerID = checkerId
	b.Comments = comments
	b.ResolvedAt = &now
	if err := p.store.SaveBatch(ctx, b); err != nil {
		return View{}, fmt.Errorf("save batch %s: %w", b.ID, err)
	}

	view := newView(b, items)
	p.logger.Info("batch resolved",
		zap.String("batch_id", b.ID),
		zap.String("status", string(view.Status)),
		zap.String("checker_id", checkerId))
	if p.publisher != nil {
		err := p.publisher.Publish(ctx, events.TopicBatchResolved, events.BatchResolved{
			BatchID:     b.ID,
			Status:      string(view.Status),
			ItemIDs:     b.ItemIDs,
			TotalAmount: models.FormatAmount(view.TotalAmount),
			ActorID:     checkerId,
			OccurredAt:  now,
		})
		if err != nil {
			p.logger.Error("publish batch resolved", zap.String("batch_id", b.ID), zap.Error(err))
		}
	}
	return view, nil
}

func (p *Processor) partialFailure(batchId string, failures []xerrors.ItemFailure) error {
	p.logger.Warn("batch approval refused",
		zap.String("batch_id", batchId),
		zap.Int("failed_items", len(failures)))
	return &xerrors.PartialFailure{BatchID: batchId, Failures: failures}
}
