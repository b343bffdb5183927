package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/backoffice-ledger/internal/events"
	"github.com/sheikh-saqib/backoffice-ledger/internal/ledger"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	workflowevents "github.com/sheikh-saqib/backoffice-ledger/internal/models/events"
	"github.com/sheikh-saqib/backoffice-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

var (
	maker   = models.Actor{ID: "maker-1", Capabilities: []models.Capability{models.CapabilityMaker}}
	checker = models.Actor{ID: "checker-1", Capabilities: []models.Capability{models.CapabilityChecker}}
	both    = models.Actor{ID: "maker-1", Capabilities: []models.Capability{models.CapabilityMaker, models.CapabilityChecker}}
)

// failingUpdateStore fails the next UpdateItems after failNext is set.
type failingUpdateStore struct {
	*memory.Store
	failNext bool
}

func (s *failingUpdateStore) UpdateItems(ctx context.Context, updates ...models.ItemUpdate) error {
	if s.failNext {
		s.failNext = false
		return errors.New("store unavailable")
	}
	return s.Store.UpdateItems(ctx, updates...)
}

type fixture struct {
	engine *Engine
	ledger *ledger.Ledger
	store  *failingUpdateStore
	events *events.Recorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := &failingUpdateStore{Store: memory.NewStore()}
	rec := events.NewRecorder()
	l := ledger.NewLedger(store, ledger.WithPublisher(rec))
	return fixture{
		engine: NewEngine(store, l, WithPublisher(rec)),
		ledger: l,
		store:  store,
		events: rec,
	}
}

func (f fixture) open(t *testing.T, id string, typ models.AccountType, balance int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.OpenAccount(ctx, ledger.OpenAccountRequest{ID: id, OwnerKind: models.OwnerCustomer, Type: typ})
	require.NoError(t, err)
	if balance != 0 {
		_, err = f.ledger.Post(ctx, id, balance, models.EntryDeposit, "")
		require.NoError(t, err)
	}
}

func (f fixture) submit(t *testing.T, kind models.ActionKind, payload models.Payload) models.WorkflowItem {
	t.Helper()
	ctx := context.Background()
	item, err := f.engine.Create(ctx, kind, payload, maker.ID)
	require.NoError(t, err)
	item, err = f.engine.Submit(ctx, item.ID, maker.ID)
	require.NoError(t, err)
	return item
}

func (f fixture) account(t *testing.T, id string) models.Account {
	t.Helper()
	a, err := f.ledger.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return a
}

func TestEngine_WithdrawalHoldsThenPosts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 10000)

	item := f.submit(t, models.ActionWithdrawal, models.Payload{AccountID: "acc", Amount: 3000})
	assert.Equal(t, models.StatePending, item.State)

	a := f.account(t, "acc")
	assert.Equal(t, int64(10000), a.Balance)
	assert.Equal(t, int64(3000), a.HeldBalance)
	assert.Equal(t, int64(7000), a.Available())

	item, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	require.NoError(t, err)
	assert.Equal(t, models.StateApproved, item.State)
	assert.Equal(t, checker.ID, item.CheckerID)
	assert.NotNil(t, item.ResolvedAt)

	a = f.account(t, "acc")
	assert.Equal(t, int64(7000), a.Balance)
	assert.Equal(t, int64(0), a.HeldBalance)
	require.NoError(t, f.ledger.Verify(ctx, "acc"))

	entries, err := f.ledger.Entries(ctx, "acc")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.EntryWithdrawal, entries[1].Kind)
	assert.Equal(t, item.ID, entries[1].RelatedItemID)
}

func TestEngine_SubmitFailureLeavesDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 1000)

	item, err := f.engine.Create(ctx, models.ActionWithdrawal, models.Payload{AccountID: "acc", Amount: 5000}, maker.ID)
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, item.ID, maker.ID)
	assert.ErrorIs(t, err, xerrors.ErrInsufficientAvailable)

	stored, err := f.engine.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateDraft, stored.State)
	assert.Equal(t, int64(0), f.account(t, "acc").HeldBalance)
}

func TestEngine_SubmitValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 100000)
	_, err := f.ledger.SetTransactionLimit(ctx, "acc", 5000)
	require.NoError(t, err)

	tests := []struct {
		name    string
		kind    models.ActionKind
		payload models.Payload
	}{
		{"deposit without account", models.ActionDeposit, models.Payload{Amount: 100}},
		{"deposit non-positive", models.ActionDeposit, models.Payload{AccountID: "acc"}},
		{"withdrawal over limit", models.ActionWithdrawal, models.Payload{AccountID: "acc", Amount: 5001}},
		{"transfer to itself", models.ActionCapitalTransfer, models.Payload{AccountID: "acc", SourceAccountID: "acc", Amount: 100}},
		{"kyc without name", models.ActionKYCSubmission, models.Payload{CustomerID: "c1"}},
		{"negative limit", models.ActionLimitChange, models.Payload{AccountID: "acc", Limit: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := f.engine.Create(ctx, tt.kind, tt.payload, maker.ID)
			require.NoError(t, err)
			_, err = f.engine.Submit(ctx, item.ID, maker.ID)
			assert.ErrorIs(t, err, xerrors.ErrValidation)
		})
	}

	_, err = f.engine.Create(ctx, models.ActionKind("WIRE"), models.Payload{}, maker.ID)
	assert.ErrorIs(t, err, xerrors.ErrValidation)
}

func TestEngine_OnlyMakerEditsDraft(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 0)

	item, err := f.engine.Create(ctx, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 100}, maker.ID)
	require.NoError(t, err)

	_, err = f.engine.UpdateDraft(ctx, item.ID, models.Payload{AccountID: "acc", Amount: 200}, "someone-else")
	assert.ErrorIs(t, err, xerrors.ErrUnauthorized)

	updated, err := f.engine.UpdateDraft(ctx, item.ID, models.Payload{AccountID: "acc", Amount: 200}, maker.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(200), updated.Payload.Amount)

	_, err = f.engine.Submit(ctx, item.ID, maker.ID)
	require.NoError(t, err)
	_, err = f.engine.UpdateDraft(ctx, item.ID, models.Payload{AccountID: "acc", Amount: 300}, maker.ID)
	assert.ErrorIs(t, err, xerrors.ErrInvalidTransition)
}

func TestEngine_ResolveGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 0)
	item := f.submit(t, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 100})

	tests := []struct {
		name string
		req  ResolveRequest
		want error
	}{
		{"maker cannot approve own item", ResolveRequest{Decision: models.DecisionApprove, Actor: both}, xerrors.ErrSegregationOfDuties},
		{"segregation is an authorization failure", ResolveRequest{Decision: models.DecisionApprove, Actor: both}, xerrors.ErrUnauthorized},
		{"maker capability only", ResolveRequest{Decision: models.DecisionApprove, Actor: models.Actor{ID: "x", Capabilities: []models.Capability{models.CapabilityMaker}}}, xerrors.ErrUnauthorized},
		{"reject needs comments", ResolveRequest{Decision: models.DecisionReject, Actor: checker}, xerrors.ErrMissingComments},
		{"return needs comments", ResolveRequest{Decision: models.DecisionReturn, Actor: checker}, xerrors.ErrValidation},
		{"stale expected state", ResolveRequest{Decision: models.DecisionApprove, Actor: checker, ExpectedState: models.StateDraft}, xerrors.ErrStaleState},
		{"unknown decision", ResolveRequest{Decision: "MAYBE", Actor: checker}, xerrors.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.ItemID = item.ID
			_, err := f.engine.Resolve(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	stored, err := f.engine.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, stored.State)
	assert.Equal(t, int64(0), f.account(t, "acc").Balance)
}

func TestEngine_TerminalStates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 0)
	item := f.submit(t, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 100})

	_, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionReject, Actor: checker, Comments: "wrong account"})
	require.NoError(t, err)

	for _, d := range []models.Decision{models.DecisionApprove, models.DecisionReject, models.DecisionReturn} {
		_, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: d, Actor: checker, Comments: "again"})
		assert.ErrorIs(t, err, xerrors.ErrInvalidTransition, d)
	}
	_, err = f.engine.Submit(ctx, item.ID, maker.ID)
	assert.ErrorIs(t, err, xerrors.ErrInvalidTransition)
	assert.Equal(t, int64(0), f.account(t, "acc").Balance)
}

func TestEngine_ReapproveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 0)
	item := f.submit(t, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 100})

	first, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	require.NoError(t, err)
	second, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	require.NoError(t, err)

	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, int64(100), f.account(t, "acc").Balance)
}

// A repeated approval wins over a stale expected state.
func TestEngine_ReapproveIgnoresStaleExpectedState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 0)
	item := f.submit(t, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 100})

	approved, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	require.NoError(t, err)

	again, err := f.engine.Resolve(ctx, ResolveRequest{
		ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker, ExpectedState: models.StatePending,
	})
	require.NoError(t, err)
	assert.Equal(t, approved.Version, again.Version)

	_, err = f.engine.Resolve(ctx, ResolveRequest{
		ItemID: item.ID, Decision: models.DecisionReject, Actor: checker, Comments: "late", ExpectedState: models.StatePending,
	})
	assert.ErrorIs(t, err, xerrors.ErrStaleState)
	assert.Equal(t, int64(100), f.account(t, "acc").Balance)
}

// Two checkers approving the same item at once produce exactly one posting.
func TestEngine_ConcurrentApprovePostsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 10000)
	item := f.submit(t, models.ActionWithdrawal, models.Payload{AccountID: "acc", Amount: 2500})

	checkers := []models.Actor{
		checker,
		{ID: "checker-2", Capabilities: []models.Capability{models.CapabilityChecker}},
	}
	var wg sync.WaitGroup
	errs := make([]error, len(checkers))
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c models.Actor) {
			defer wg.Done()
			_, errs[i] = f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: c})
		}(i, c)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	entries, err := f.ledger.Entries(ctx, "acc")
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	a := f.account(t, "acc")
	assert.Equal(t, int64(7500), a.Balance)
	assert.Equal(t, int64(0), a.HeldBalance)

	history, err := f.engine.History(ctx, item.ID)
	require.NoError(t, err)
	var approvals int
	for _, tr := range history {
		if tr.To == models.StateApproved {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)
}

func TestEngine_ReturnAndResubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 10000)
	item := f.submit(t, models.ActionWithdrawal, models.Payload{AccountID: "acc", Amount: 4000})

	returned, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionReturn, Actor: checker, Comments: "amount too high"})
	require.NoError(t, err)
	assert.Equal(t, models.StateReturned, returned.State)
	assert.Equal(t, 2, returned.Revision)
	assert.Empty(t, returned.CheckerID)
	assert.Equal(t, int64(0), f.account(t, "acc").HeldBalance)

	_, err = f.engine.UpdateDraft(ctx, item.ID, models.Payload{AccountID: "acc", Amount: 1500}, maker.ID)
	require.NoError(t, err)
	resubmitted, err := f.engine.Submit(ctx, item.ID, maker.ID)
	require.NoError(t, err)
	assert.Equal(t, item.ID, resubmitted.ID)
	assert.Equal(t, int64(1500), f.account(t, "acc").HeldBalance)

	_, err = f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	require.NoError(t, err)
	a := f.account(t, "acc")
	assert.Equal(t, int64(8500), a.Balance)
	assert.Equal(t, int64(0), a.HeldBalance)

	history, err := f.engine.History(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, []models.ItemState{models.StatePending, models.StateReturned, models.StatePending, models.StateApproved},
		[]models.ItemState{history[0].To, history[1].To, history[2].To, history[3].To})
	assert.Equal(t, 1, history[1].Revision)
	assert.Equal(t, 2, history[3].Revision)
}

func TestEngine_RejectReleasesHold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 10000)
	item := f.submit(t, models.ActionWithdrawal, models.Payload{AccountID: "acc", Amount: 4000})

	rejected, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionReject, Actor: checker, Comments: "suspicious"})
	require.NoError(t, err)
	assert.Equal(t, "suspicious", rejected.Comments)

	a := f.account(t, "acc")
	assert.Equal(t, int64(10000), a.Balance)
	assert.Equal(t, int64(0), a.HeldBalance)
}

func TestEngine_CapitalTransfer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "src", models.AccountCustomerWallet, 50000)
	f.open(t, "capital", models.AccountAsset, 0)
	item := f.submit(t, models.ActionCapitalTransfer, models.Payload{SourceAccountID: "src", AccountID: "capital", Amount: 20000})

	assert.Equal(t, int64(20000), f.account(t, "src").HeldBalance)

	_, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	require.NoError(t, err)

	src := f.account(t, "src")
	assert.Equal(t, int64(30000), src.Balance)
	assert.Equal(t, int64(0), src.HeldBalance)
	assert.Equal(t, int64(20000), f.account(t, "capital").Balance)
	require.NoError(t, f.ledger.VerifyAll(ctx))
}

func TestEngine_KYCOpensWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	item := f.submit(t, models.ActionKYCSubmission, models.Payload{CustomerID: "c42", CustomerName: "Ada Lovelace"})

	_, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	require.NoError(t, err)

	wallet := f.account(t, models.CustomerWalletID("c42"))
	assert.Equal(t, models.AccountCustomerWallet, wallet.Type)
	assert.Equal(t, "Ada Lovelace", wallet.Name)
	assert.True(t, wallet.Active)
}

func TestEngine_LimitChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 0)

	item := f.submit(t, models.ActionLimitChange, models.Payload{AccountID: "acc", Limit: 75000})
	assert.Equal(t, int64(0), f.account(t, "acc").TransactionLimit)

	_, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	require.NoError(t, err)
	assert.Equal(t, int64(75000), f.account(t, "acc").TransactionLimit)

	missing := f.submit(t, models.ActionLimitChange, models.Payload{AccountID: "nope", Limit: 1})
	_, err = f.engine.Resolve(ctx, ResolveRequest{ItemID: missing.ID, Decision: models.DecisionApprove, Actor: checker})
	assert.ErrorIs(t, err, xerrors.ErrAccountNotFound)
}

func TestEngine_ApproveFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 0)
	item := f.submit(t, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 100})
	_, err := f.ledger.Deactivate(ctx, "acc")
	require.NoError(t, err)

	require.ErrorIs(t, f.engine.Validate(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker}), xerrors.ErrAccountInactive)

	_, err = f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	assert.ErrorIs(t, err, xerrors.ErrAccountInactive)

	stored, err := f.engine.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, stored.State)
}

func TestEngine_ApproveAllIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "good", models.AccountCustomerWallet, 0)
	f.open(t, "closed", models.AccountCustomerWallet, 0)
	a := f.submit(t, models.ActionDeposit, models.Payload{AccountID: "good", Amount: 100})
	b := f.submit(t, models.ActionDeposit, models.Payload{AccountID: "closed", Amount: 200})
	_, err := f.ledger.Deactivate(ctx, "closed")
	require.NoError(t, err)

	_, err = f.engine.ApproveAll(ctx, "", []string{a.ID, b.ID}, checker, "")
	require.ErrorIs(t, err, xerrors.ErrPartialFailure)
	assert.ErrorIs(t, err, xerrors.ErrAccountInactive)

	var pf *xerrors.PartialFailure
	require.ErrorAs(t, err, &pf)
	require.Len(t, pf.Failures, 1)
	assert.Equal(t, b.ID, pf.Failures[0].ItemID)
	assert.Equal(t, int64(0), f.account(t, "good").Balance)

	for _, id := range []string{a.ID, b.ID} {
		it, err := f.engine.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatePending, it.State)
	}
}

func TestEngine_ApproveAllAndRejectAll(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 10000)
	a := f.submit(t, models.ActionWithdrawal, models.Payload{AccountID: "acc", Amount: 1000})
	b := f.submit(t, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 500})

	items, err := f.engine.ApproveAll(ctx, "", []string{a.ID, b.ID}, checker, "ok")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, models.StateApproved, items[0].State)
	assert.Equal(t, models.StateApproved, items[1].State)
	assert.Equal(t, int64(9500), f.account(t, "acc").Balance)

	c := f.submit(t, models.ActionWithdrawal, models.Payload{AccountID: "acc", Amount: 2000})
	_, err = f.engine.RejectAll(ctx, "", []string{c.ID}, checker, "")
	assert.ErrorIs(t, err, xerrors.ErrMissingComments)

	items, err = f.engine.RejectAll(ctx, "", []string{a.ID, c.ID}, checker, "batch rejected")
	require.NoError(t, err)
	assert.Equal(t, models.StateApproved, items[0].State)
	assert.Equal(t, models.StateRejected, items[1].State)
	assert.Equal(t, int64(0), f.account(t, "acc").HeldBalance)
}

func TestEngine_PublishesTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 0)
	item := f.submit(t, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 100})
	_, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	require.NoError(t, err)

	msgs := f.events.Messages(workflowevents.TopicItemTransitioned)
	require.Len(t, msgs, 2)
	last := msgs[1].Event.(workflowevents.ItemTransitioned)
	assert.Equal(t, item.ID, last.ItemID)
	assert.Equal(t, string(models.StatePending), last.FromState)
	assert.Equal(t, string(models.StateApproved), last.ToState)
	assert.Equal(t, checker.ID, last.ActorID)
}

func TestEngine_ListFilters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 0)
	f.submit(t, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 100})
	_, err := f.engine.Create(ctx, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 100}, "maker-2")
	require.NoError(t, err)

	pending, err := f.engine.List(ctx, models.ItemFilter{State: models.StatePending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	mine, err := f.engine.List(ctx, models.ItemFilter{MakerID: "maker-2"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, models.StateDraft, mine[0].State)
}

// When the item update fails after the approval was posted, the item can't be
// rejected or returned; approving it again records it without posting twice.
func TestEngine_ApprovalPostedButNotRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 1000)
	item := f.submit(t, models.ActionWithdrawal, models.Payload{AccountID: "acc", Amount: 300})
	require.NoError(t, f.ledger.Hold(ctx, "acc", 200)) // unrelated reservation

	f.store.failNext = true
	_, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	require.Error(t, err)

	acc := f.account(t, "acc")
	assert.Equal(t, int64(700), acc.Balance)
	assert.Equal(t, int64(200), acc.HeldBalance)

	req := ResolveRequest{ItemID: item.ID, Decision: models.DecisionReject, Actor: checker, Comments: "too late"}
	assert.ErrorIs(t, f.engine.Validate(ctx, req), xerrors.ErrConflict)
	_, err = f.engine.Resolve(ctx, req)
	assert.ErrorIs(t, err, xerrors.ErrConflict)
	_, err = f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionReturn, Actor: checker, Comments: "fix"})
	assert.ErrorIs(t, err, xerrors.ErrConflict)
	_, err = f.engine.RejectAll(ctx, "", []string{item.ID}, checker, "too late")
	assert.ErrorIs(t, err, xerrors.ErrConflict)
	assert.Equal(t, int64(200), f.account(t, "acc").HeldBalance)

	approved, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: item.ID, Decision: models.DecisionApprove, Actor: checker})
	require.NoError(t, err)
	assert.Equal(t, models.StateApproved, approved.State)

	acc = f.account(t, "acc")
	assert.Equal(t, int64(700), acc.Balance)
	assert.Equal(t, int64(200), acc.HeldBalance)
	require.NoError(t, f.ledger.VerifyAll(ctx))
}

func TestEngine_BatchedItemResolvesOnlyWithItsBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.open(t, "acc", models.AccountCustomerWallet, 0)
	grouped := f.submit(t, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 100})
	loose := f.submit(t, models.ActionDeposit, models.Payload{AccountID: "acc", Amount: 50})
	require.NoError(t, f.store.CreateBatch(ctx, models.Batch{ID: "batch-1", MakerID: maker.ID, ItemIDs: []string{grouped.ID}}))

	for _, d := range []models.Decision{models.DecisionApprove, models.DecisionReject, models.DecisionReturn} {
		req := ResolveRequest{ItemID: grouped.ID, Decision: d, Actor: checker, Comments: "alone"}
		assert.ErrorIs(t, f.engine.Validate(ctx, req), xerrors.ErrInvalidTransition, d)
		_, err := f.engine.Resolve(ctx, req)
		assert.ErrorIs(t, err, xerrors.ErrInvalidTransition, d)
	}
	_, err := f.engine.Resolve(ctx, ResolveRequest{ItemID: loose.ID, Decision: models.DecisionApprove, Actor: checker, BatchID: "batch-1"})
	assert.ErrorIs(t, err, xerrors.ErrInvalidTransition)

	_, err = f.engine.ApproveAll(ctx, "", []string{grouped.ID}, checker, "")
	assert.ErrorIs(t, err, xerrors.ErrInvalidTransition)
	assert.Equal(t, int64(0), f.account(t, "acc").Balance)

	items, err := f.engine.ApproveAll(ctx, "batch-1", []string{grouped.ID}, checker, "")
	require.NoError(t, err)
	assert.Equal(t, models.StateApproved, items[0].State)
	assert.Equal(t, int64(100), f.account(t, "acc").Balance)
}
