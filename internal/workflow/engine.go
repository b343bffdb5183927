package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/backoffice-ledger/internal/interfaces"
	"github.com/sheikh-saqib/backoffice-ledger/internal/ledger"
	"github.com/sheikh-saqib/backoffice-ledger/internal/lock"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models/events"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

// Engine runs the maker-checker state machine for every action kind:
//
//	DRAFT -> PENDING -> APPROVED | REJECTED
//	PENDING -> RETURNED -> PENDING (next revision)
//
// Transitions are serialized per item in-process and compare-and-swapped on
// (state, version) in the store.
type Engine struct {
	store     interfaces.WorkflowStore
	ledger    *ledger.Ledger
	publisher interfaces.EventPublisher
	logger    *zap.Logger
	locks     *lock.Keyed // one mutex per item id
	now       func() time.Time
	newID     func() string
}

type Option func(*Engine)

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store interfaces.WorkflowStore, l *ledger.Ledger, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		ledger: l,
		logger: zap.NewNop(),
		locks:  lock.NewKeyed(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func policyFor(kind models.ActionKind) (policy, error) {
	p, ok := policies[kind]
	if !ok {
		return policy{}, xerrors.Invalid("action_kind", fmt.Sprintf("%q is not a known action kind", kind))
	}
	return p, nil
}

// Create stores a new DRAFT owned by makerId. Drafts never touch the ledger.
func (e *Engine) Create(ctx context.Context, kind models.ActionKind, payload models.Payload, makerId string) (models.WorkflowItem, error) {
	if _, err := policyFor(kind); err != nil {
		return models.WorkflowItem{}, err
	}
	if makerId == "" {
		return models.WorkflowItem{}, xerrors.Invalid("maker_id", "is required")
	}

	item := models.WorkflowItem{
		ID:         e.newID(),
		ActionKind: kind,
		Payload:    payload,
		State:      models.StateDraft,
		MakerID:    makerId,
		Revision:   1,
		Version:    1,
		CreatedAt:  e.now(),
	}
	if err := e.store.CreateItem(ctx, item); err != nil {
		return models.WorkflowItem{}, fmt.Errorf("create workflow item: %w", err)
	}
	e.logger.Info("workflow item created",
		zap.String("item_id", item.ID),
		zap.String("action_kind", string(kind)),
		zap.String("maker_id", makerId))
	return item, nil
}

// UpdateDraft replaces the payload of a DRAFT or RETURNED item.
func (e *Engine) UpdateDraft(ctx context.Context, itemId string, payload models.Payload, makerId string) (models.WorkflowItem, error) {
	unlock := e.locks.Lock(itemId)
	defer unlock()

	item, err := e.store.GetItem(ctx, itemId)
	if err != nil {
		return models.WorkflowItem{}, err
	}
	if item.MakerID != makerId {
		return models.WorkflowItem{}, fmt.Errorf("%w: only the maker may edit item %s", xerrors.ErrUnauthorized, itemId)
	}
	if !item.State.Editable() {
		return models.WorkflowItem{}, fmt.Errorf("%w: item %s is %s", xerrors.ErrInvalidTransition, itemId, item.State)
	}

	updated := item
	updated.Payload = payload
	updated.Version++
	if err := e.store.UpdateItems(ctx, models.ItemUpdate{
		Item: updated, ExpectedState: item.State, ExpectedVersion: item.Version,
	}); err != nil {
		return models.WorkflowItem{}, err
	}
	return updated, nil
}

// Submit moves a DRAFT or RETURNED item to PENDING. Withdrawal-class items
// reserve their amount here; if the hold fails the item is left unchanged.
func (e *Engine) Submit(ctx context.Context, itemId string, makerId string) (models.WorkflowItem, error) {
	unlock := e.locks.Lock(itemId)
	defer unlock()

	item, err := e.store.GetItem(ctx, itemId)
	if err != nil {
		return models.WorkflowItem{}, err
	}
	if item.MakerID != makerId {
		return models.WorkflowItem{}, fmt.Errorf("%w: only the maker may submit item %s", xerrors.ErrUnauthorized, itemId)
	}
	if !item.State.Editable() {
		return models.WorkflowItem{}, fmt.Errorf("%w: cannot submit item %s in state %s", xerrors.ErrInvalidTransition, itemId, item.State)
	}

	p, err := policyFor(item.ActionKind)
	if err != nil {
		return models.WorkflowItem{}, err
	}
	if err := p.validate(item.Payload); err != nil {
		return models.WorkflowItem{}, err
	}
	if err := e.checkLimit(ctx, p, item.Payload); err != nil {
		return models.WorkflowItem{}, err
	}

	holds := p.holdInstructions(item.Payload)
	if len(holds) > 0 {
		if _, err := e.ledger.Apply(ctx, ledger.Change{Instructions: holds}); err != nil {
			return models.WorkflowItem{}, fmt.Errorf("submit item %s: %w", itemId, err)
		}
	}

	now := e.now()
	updated := item
	updated.State = models.StatePending
	updated.SubmittedAt = &now
	updated.Version++
	transition := e.transition(item, updated, makerId, "")
	if err := e.store.UpdateItems(ctx, models.ItemUpdate{
		Item: updated, ExpectedState: item.State, ExpectedVersion: item.Version, Transition: &transition,
	}); err != nil {
		if release, ok := p.releaseChange(item); ok {
			e.compensate(ctx, itemId, release)
		}
		return models.WorkflowItem{}, err
	}

	e.publishTransition(ctx, updated, transition)
	return updated, nil
}

func (e *Engine) checkLimit(ctx context.Context, p policy, payload models.Payload) error {
	if p.limitAccount == nil {
		return nil
	}
	account, err := e.ledger.GetAccount(ctx, p.limitAccount(payload))
	if err != nil {
		return err
	}
	if account.TransactionLimit > 0 && payload.Amount > account.TransactionLimit {
		return xerrors.Invalid("amount", fmt.Sprintf("exceeds the transaction limit of account %s", account.ID))
	}
	return nil
}

func (e *Engine) Get(ctx context.Context, itemId string) (models.WorkflowItem, error) {
	return e.store.GetItem(ctx, itemId)
}

func (e *Engine) List(ctx context.Context, filter models.ItemFilter) ([]models.WorkflowItem, error) {
	return e.store.ListItems(ctx, filter)
}

// History returns the transition trail of an item across all its revisions.
func (e *Engine) History(ctx context.Context, itemId string) ([]models.Transition, error) {
	return e.store.ListTransitions(ctx, itemId)
}

func (e *Engine) transition(from, to models.WorkflowItem, actorId, comments string) models.Transition {
	return models.Transition{
		ItemID:   to.ID,
		Revision: from.Revision,
		From:     from.State,
		To:       to.State,
		ActorID:  actorId,
		Comments: comments,
		At:       e.now(),
	}
}

// compensate re-applies a ledger change after a failed store update, so
// holds follow the item state that was actually persisted.
func (e *Engine) compensate(ctx context.Context, itemId string, change ledger.Change) {
	if _, err := e.ledger.Apply(ctx, change); err != nil {
		e.logger.Error("compensate ledger change",
			zap.String("item_id", itemId),
			zap.Error(err))
	}
}

func (e *Engine) publishTransition(ctx context.Context, item models.WorkflowItem, t models.Transition) {
	e.logger.Info("workflow item transitioned",
		zap.String("item_id", item.ID),
		zap.String("from", string(t.From)),
		zap.String("to", string(t.To)),
		zap.String("actor_id", t.ActorID))
	if e.publisher == nil {
		return
	}
	err := e.publisher.Publish(ctx, events.TopicItemTransitioned, events.ItemTransitioned{
		ItemID:     item.ID,
		ActionKind: string(item.ActionKind),
		Revision:   t.Revision,
		FromState:  string(t.From),
		ToState:    string(t.To),
		ActorID:    t.ActorID,
		Timestamp:  t.At,
	})
	if err != nil {
		e.logger.Error("publish item transitioned", zap.String("item_id", item.ID), zap.Error(err))
	}
}
