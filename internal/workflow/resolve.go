package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/backoffice-ledger/internal/ledger"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

// ResolveRequest is a checker's decision on one item.
type ResolveRequest struct {
	ItemID   string
	Decision models.Decision
	Actor    models.Actor
	Comments string
	// ExpectedState, when set, must match the stored state or the call fails
	// with ErrStaleState.
	ExpectedState models.ItemState
	// BatchID is the batch the item is resolved through. A batched item can
	// only be resolved through its own batch.
	BatchID string
}

// Resolve approves, rejects or returns a PENDING item. Approving an item that
// is already APPROVED returns it unchanged.
func (e *Engine) Resolve(ctx context.Context, req ResolveRequest) (models.WorkflowItem, error) {
	unlock := e.locks.Lock(req.ItemID)
	defer unlock()

	item, err := e.store.GetItem(ctx, req.ItemID)
	if err != nil {
		return models.WorkflowItem{}, err
	}
	if err := e.checkMembership(ctx, item.ID, req.BatchID); err != nil {
		return models.WorkflowItem{}, err
	}
	done, err := guard(item, req)
	if err != nil {
		return models.WorkflowItem{}, err
	}
	if done {
		return item, nil
	}

	p, err := policyFor(item.ActionKind)
	if err != nil {
		return models.WorkflowItem{}, err
	}

	switch req.Decision {
	case models.DecisionApprove:
		return e.approve(ctx, p, item, req)
	default:
		return e.close(ctx, p, item, req)
	}
}

func (e *Engine) approve(ctx context.Context, p policy, item models.WorkflowItem, req ResolveRequest) (models.WorkflowItem, error) {
	if p.precheck != nil {
		if err := p.precheck(ctx, e, item); err != nil {
			return models.WorkflowItem{}, err
		}
	}
	if change, ok := p.approvalChange(item); ok {
		if _, err := e.ledger.Apply(ctx, change); err != nil {
			return models.WorkflowItem{}, fmt.Errorf("approve item %s: %w", item.ID, err)
		}
	}
	if p.onApprove != nil {
		if err := p.onApprove(ctx, e, item); err != nil {
			return models.WorkflowItem{}, fmt.Errorf("approve item %s: %w", item.ID, err)
		}
	}

	updated, transition := e.resolved(item, req.Decision, req.Actor.ID, req.Comments)
	// the ledger change is keyed by the item id, so a retry after this point
	// fails the CAS or re-applies as a no-op; until then the item can only be
	// approved again (see unrecordedApproval)
	if err := e.store.UpdateItems(ctx, models.ItemUpdate{
		Item: updated, ExpectedState: item.State, ExpectedVersion: item.Version, Transition: &transition,
	}); err != nil {
		return models.WorkflowItem{}, err
	}
	e.publishTransition(ctx, updated, transition)
	return updated, nil
}

// close handles REJECT and RETURN. Both give back any funds reserved on submit.
func (e *Engine) close(ctx context.Context, p policy, item models.WorkflowItem, req ResolveRequest) (models.WorkflowItem, error) {
	if err := e.unrecordedApproval(ctx, p, item); err != nil {
		return models.WorkflowItem{}, err
	}
	release, hasHolds := p.releaseChange(item)
	if hasHolds {
		if _, err := e.ledger.Apply(ctx, release); err != nil {
			return models.WorkflowItem{}, fmt.Errorf("%s item %s: %w", req.Decision, item.ID, err)
		}
	}

	updated, transition := e.resolved(item, req.Decision, req.Actor.ID, req.Comments)
	if err := e.store.UpdateItems(ctx, models.ItemUpdate{
		Item: updated, ExpectedState: item.State, ExpectedVersion: item.Version, Transition: &transition,
	}); err != nil {
		if hold, ok := p.holdChange(item); ok {
			e.compensate(ctx, item.ID, hold)
		}
		return models.WorkflowItem{}, err
	}
	e.publishTransition(ctx, updated, transition)
	return updated, nil
}

// resolved builds the stored item and transition for a decision.
func (e *Engine) resolved(item models.WorkflowItem, d models.Decision, actorId, comments string) (models.WorkflowItem, models.Transition) {
	now := e.now()
	updated := item
	updated.State = d.Target()
	updated.Comments = comments
	updated.Version++
	if d == models.DecisionReturn {
		updated.Revision++
		updated.SubmittedAt = nil
	} else {
		updated.CheckerID = actorId
		updated.ResolvedAt = &now
	}
	return updated, e.transition(item, updated, actorId, comments)
}

// guard enforces the checker rules in order: capability, segregation of
// duties, idempotent approval, expected state, pending state, comments.
// done is true when the decision is already in effect. Re-approving an
// APPROVED item is done even when ExpectedState is stale.
func guard(item models.WorkflowItem, req ResolveRequest) (done bool, err error) {
	if !req.Decision.Valid() {
		return false, xerrors.Invalid("decision", fmt.Sprintf("%q is not a known decision", req.Decision))
	}
	if !req.Actor.Can(models.CapabilityChecker) {
		return false, fmt.Errorf("%w: actor %q lacks the checker capability", xerrors.ErrUnauthorized, req.Actor.ID)
	}
	if req.Actor.ID == item.MakerID {
		return false, xerrors.ErrSegregationOfDuties
	}
	if req.Decision == models.DecisionApprove && item.State == models.StateApproved {
		return true, nil
	}
	if req.ExpectedState != "" && req.ExpectedState != item.State {
		return false, fmt.Errorf("%w: item %s is %s, expected %s", xerrors.ErrStaleState, item.ID, item.State, req.ExpectedState)
	}
	if item.State != models.StatePending {
		return false, fmt.Errorf("%w: cannot %s item %s in state %s", xerrors.ErrInvalidTransition, req.Decision, item.ID, item.State)
	}
	if req.Decision != models.DecisionApprove && req.Comments == "" {
		return false, xerrors.ErrMissingComments
	}
	return false, nil
}

// Validate reports whether Resolve would succeed for req right now, without
// changing anything.
func (e *Engine) Validate(ctx context.Context, req ResolveRequest) error {
	item, err := e.store.GetItem(ctx, req.ItemID)
	if err != nil {
		return err
	}
	return e.validate(ctx, item, req)
}

func (e *Engine) validate(ctx context.Context, item models.WorkflowItem, req ResolveRequest) error {
	if err := e.checkMembership(ctx, item.ID, req.BatchID); err != nil {
		return err
	}
	done, err := guard(item, req)
	if err != nil || done {
		return err
	}
	p, err := policyFor(item.ActionKind)
	if err != nil {
		return err
	}
	if req.Decision != models.DecisionApprove {
		if err := e.unrecordedApproval(ctx, p, item); err != nil {
			return err
		}
	}

	var change ledger.Change
	var ok bool
	if req.Decision == models.DecisionApprove {
		if p.precheck != nil {
			if err := p.precheck(ctx, e, item); err != nil {
				return err
			}
		}
		change, ok = p.approvalChange(item)
	} else {
		change, ok = p.releaseChange(item)
	}
	if !ok {
		return nil
	}
	return e.ledger.Check(ctx, change)
}

// ApproveAll approves every item of a batch or none. All ledger changes are
// applied in one commit and all items are moved in one store update. Failures
// are reported as a *xerrors.PartialFailure naming the offending items.
func (e *Engine) ApproveAll(ctx context.Context, batchId string, itemIds []string, actor models.Actor, comments string) ([]models.WorkflowItem, error) {
	unlock := e.locks.LockAll(itemIds...)
	defer unlock()

	items, err := e.loadAll(ctx, itemIds)
	if err != nil {
		return nil, err
	}

	var (
		failures []xerrors.ItemFailure
		pending  []models.WorkflowItem
		changes  []ledger.Change
		owners   []string // item id per change
	)
	for _, item := range items {
		req := ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: actor, Comments: comments}
		err := e.checkMembership(ctx, item.ID, batchId)
		var done bool
		if err == nil {
			done, err = guard(item, req)
		}
		if err == nil && !done {
			err = e.prepareApproval(ctx, item, &changes, &owners)
		}
		if err != nil {
			failures = append(failures, xerrors.ItemFailure{ItemID: item.ID, Err: err})
			continue
		}
		if !done {
			pending = append(pending, item)
		}
	}
	if len(failures) > 0 {
		return nil, &xerrors.PartialFailure{Failures: failures}
	}

	if len(changes) > 0 {
		if _, err := e.ledger.Apply(ctx, changes...); err != nil {
			return nil, e.attribute(ctx, changes, owners, err)
		}
	}
	for _, item := range pending {
		p := policies[item.ActionKind]
		if p.onApprove == nil {
			continue
		}
		if err := p.onApprove(ctx, e, item); err != nil {
			return nil, &xerrors.PartialFailure{Failures: []xerrors.ItemFailure{{ItemID: item.ID, Err: err}}}
		}
	}

	if len(pending) == 0 {
		return items, nil
	}
	updates := make([]models.ItemUpdate, 0, len(pending))
	transitions := make([]models.Transition, len(pending))
	for i, item := range pending {
		updated, transition := e.resolved(item, models.DecisionApprove, actor.ID, comments)
		transitions[i] = transition
		updates = append(updates, models.ItemUpdate{
			Item: updated, ExpectedState: item.State, ExpectedVersion: item.Version, Transition: &transitions[i],
		})
	}
	if err := e.store.UpdateItems(ctx, updates...); err != nil {
		return nil, err
	}

	byID := make(map[string]models.WorkflowItem, len(updates))
	for i, u := range updates {
		e.publishTransition(ctx, u.Item, transitions[i])
		byID[u.Item.ID] = u.Item
	}
	result := make([]models.WorkflowItem, 0, len(items))
	for _, item := range items {
		if updated, ok := byID[item.ID]; ok {
			item = updated
		}
		result = append(result, item)
	}
	return result, nil
}

func (e *Engine) prepareApproval(ctx context.Context, item models.WorkflowItem, changes *[]ledger.Change, owners *[]string) error {
	p, err := policyFor(item.ActionKind)
	if err != nil {
		return err
	}
	if p.precheck != nil {
		if err := p.precheck(ctx, e, item); err != nil {
			return err
		}
	}
	if change, ok := p.approvalChange(item); ok {
		*changes = append(*changes, change)
		*owners = append(*owners, item.ID)
	}
	return nil
}

// attribute turns a failed multi-item apply into per-item failures. When no
// single change fails on its own the combined error is charged to every item.
func (e *Engine) attribute(ctx context.Context, changes []ledger.Change, owners []string, applyErr error) error {
	var failures []xerrors.ItemFailure
	for i, c := range changes {
		if err := e.ledger.Check(ctx, c); err != nil {
			failures = append(failures, xerrors.ItemFailure{ItemID: owners[i], Err: err})
		}
	}
	if len(failures) == 0 {
		for _, id := range owners {
			failures = append(failures, xerrors.ItemFailure{ItemID: id, Err: applyErr})
		}
	}
	e.logger.Warn("approve all rolled back",
		zap.Int("items", len(owners)),
		zap.Int("failed", len(failures)),
		zap.Error(applyErr))
	return &xerrors.PartialFailure{Failures: failures}
}

// RejectAll rejects every PENDING item of a batch with the same comments and
// releases their holds. Items in any other state are left untouched.
func (e *Engine) RejectAll(ctx context.Context, batchId string, itemIds []string, actor models.Actor, comments string) ([]models.WorkflowItem, error) {
	unlock := e.locks.LockAll(itemIds...)
	defer unlock()

	items, err := e.loadAll(ctx, itemIds)
	if err != nil {
		return nil, err
	}

	var (
		pending  []models.WorkflowItem
		releases []ledger.Change
		holds    []ledger.Change
	)
	for _, item := range items {
		if err := e.checkMembership(ctx, item.ID, batchId); err != nil {
			return nil, err
		}
		if item.State != models.StatePending {
			continue
		}
		req := ResolveRequest{ItemID: item.ID, Decision: models.DecisionReject, Actor: actor, Comments: comments}
		if _, err := guard(item, req); err != nil {
			return nil, fmt.Errorf("reject item %s: %w", item.ID, err)
		}
		p, err := policyFor(item.ActionKind)
		if err != nil {
			return nil, err
		}
		if err := e.unrecordedApproval(ctx, p, item); err != nil {
			return nil, err
		}
		if release, ok := p.releaseChange(item); ok {
			releases = append(releases, release)
		}
		if hold, ok := p.holdChange(item); ok {
			holds = append(holds, hold)
		}
		pending = append(pending, item)
	}
	if len(pending) == 0 {
		return items, nil
	}

	if len(releases) > 0 {
		if _, err := e.ledger.Apply(ctx, releases...); err != nil {
			return nil, fmt.Errorf("release holds: %w", err)
		}
	}

	updates := make([]models.ItemUpdate, 0, len(pending))
	transitions := make([]models.Transition, len(pending))
	for i, item := range pending {
		updated, transition := e.resolved(item, models.DecisionReject, actor.ID, comments)
		transitions[i] = transition
		updates = append(updates, models.ItemUpdate{
			Item: updated, ExpectedState: item.State, ExpectedVersion: item.Version, Transition: &transitions[i],
		})
	}
	if err := e.store.UpdateItems(ctx, updates...); err != nil {
		if len(holds) > 0 {
			if _, herr := e.ledger.Apply(ctx, holds...); herr != nil {
				e.logger.Error("restore holds after failed reject", zap.Error(herr))
			}
		}
		return nil, err
	}

	byID := make(map[string]models.WorkflowItem, len(updates))
	for i, u := range updates {
		e.publishTransition(ctx, u.Item, transitions[i])
		byID[u.Item.ID] = u.Item
	}
	result := make([]models.WorkflowItem, 0, len(items))
	for _, item := range items {
		if updated, ok := byID[item.ID]; ok {
			item = updated
		}
		result = append(result, item)
	}
	return result, nil
}

func (e *Engine) loadAll(ctx context.Context, itemIds []string) ([]models.WorkflowItem, error) {
	items := make([]models.WorkflowItem, 0, len(itemIds))
	for _, id := range itemIds {
		item, err := e.store.GetItem(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", id, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// checkMembership refuses to resolve a batched item outside its batch, and an
// unbatched item through a batch.
func (e *Engine) checkMembership(ctx context.Context, itemId, batchId string) error {
	owner, err := e.store.BatchOfItem(ctx, itemId)
	if err != nil {
		return fmt.Errorf("batch of item %s: %w", itemId, err)
	}
	if owner == batchId {
		return nil
	}
	if owner == "" {
		return fmt.Errorf("%w: item %s is not in batch %s", xerrors.ErrInvalidTransition, itemId, batchId)
	}
	return fmt.Errorf("%w: item %s belongs to batch %s and is resolved with it", xerrors.ErrInvalidTransition, itemId, owner)
}

// unrecordedApproval fails when the approval postings of a PENDING item are
// already in the ledger. That happens when the store update after the ledger
// commit failed; the only way forward is to approve the item again.
func (e *Engine) unrecordedApproval(ctx context.Context, p policy, item models.WorkflowItem) error {
	change, ok := p.approvalChange(item)
	if !ok {
		return nil
	}
	applied, err := e.ledger.Applied(ctx, change.Key)
	if err != nil {
		return err
	}
	if applied {
		return fmt.Errorf("%w: approval of item %s is already posted, approve it again to record it", xerrors.ErrConflict, item.ID)
	}
	return nil
}
