package allotment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/backoffice-ledger/internal/interfaces"
	"github.com/sheikh-saqib/backoffice-ledger/internal/ledger"
	"github.com/sheikh-saqib/backoffice-ledger/internal/lock"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models/events"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

// Service runs IPO subscriptions: applicants reserve funds when they apply,
// and a single allotment run settles every eligible application at once.
type Service struct {
	store     interfaces.IPOStore
	ledger    *ledger.Ledger
	publisher interfaces.EventPublisher
	logger    *zap.Logger
	locks     *lock.Keyed // one mutex per IPO id
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store interfaces.IPOStore, l *ledger.Ledger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		ledger: l,
		logger: zap.NewNop(),
		locks:  lock.NewKeyed(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateIPORequest struct {
	ID                  string // generated when empty
	Name                string
	IssueSize           int64
	PricePerShare       int64 // minor units
	SettlementAccountID string
}

func (s *Service) CreateIPO(ctx context.Context, req CreateIPORequest) (models.IPO, error) {
	if req.Name == "" {
		return models.IPO{}, xerrors.Invalid("name", "is required")
	}
	if req.IssueSize <= 0 {
		return models.IPO{}, xerrors.Invalid("issue_size", "must be positive")
	}
	if req.PricePerShare <= 0 {
		return models.IPO{}, xerrors.Invalid("price_per_share", "must be positive")
	}
	if _, err := s.ledger.GetAccount(ctx, req.SettlementAccountID); err != nil {
		return models.IPO{}, fmt.Errorf("settlement account: %w", err)
	}
	if req.ID == "" {
		req.ID = s.newID()
	}

	ipo := models.IPO{
		ID:                  req.ID,
		Name:                req.Name,
		IssueSize:           req.IssueSize,
		PricePerShare:       req.PricePerShare,
		SettlementAccountID: req.SettlementAccountID,
		Status:              models.IPOOpen,
		CreatedAt:           s.now(),
	}
	if err := s.store.CreateIPO(ctx, ipo); err != nil {
		return models.IPO{}, fmt.Errorf("create ipo: %w", err)
	}
	s.logger.Info("ipo created", zap.String("ipo_id", ipo.ID), zap.Int64("issue_size", ipo.IssueSize))
	return ipo, nil
}

func (s *Service) GetIPO(ctx context.Context, ipoId string) (models.IPO, error) {
	return s.store.GetIPO(ctx, ipoId)
}

// CloseSubscription stops new applications and opens the allotment phase.
func (s *Service) CloseSubscription(ctx context.Context, ipoId string, checker models.Actor) (models.IPO, error) {
	if err := requireChecker(checker); err != nil {
		return models.IPO{}, err
	}
	unlock := s.locks.Lock(ipoId)
	defer unlock()

	ipo, err := s.store.GetIPO(ctx, ipoId)
	if err != nil {
		return models.IPO{}, err
	}
	if ipo.Status != models.IPOOpen {
		return models.IPO{}, fmt.Errorf("%w: ipo %s is %s", xerrors.ErrInvalidTransition, ipoId, ipo.Status)
	}
	ipo.Status = models.IPOAllotmentPhase
	if err := s.store.SaveIPO(ctx, ipo); err != nil {
		return models.IPO{}, err
	}
	s.logger.Info("ipo subscription closed", zap.String("ipo_id", ipo.ID), zap.String("actor_id", checker.ID))
	return ipo, nil
}

func requireChecker(actor models.Actor) error {
	if !actor.Can(models.CapabilityChecker) {
		return fmt.Errorf("%w: actor %q lacks the checker capability", xerrors.ErrUnauthorized, actor.ID)
	}
	return nil
}

// settlementKey keys the ledger change of an IPO's allotment run.
func settlementKey(ipoId string) string {
	return "allotment:" + ipoId
}

type ApplyRequest struct {
	IPOID      string
	CustomerID string
	AccountID  string
	Quantity   int64
}

// Apply records an application and holds quantity × price on the account.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (models.IPOApplication, error) {
	if req.CustomerID == "" {
		return models.IPOApplication{}, xerrors.Invalid("customer_id", "is required")
	}
	if req.AccountID == "" {
		return models.IPOApplication{}, xerrors.Invalid("account_id", "is required")
	}
	if req.Quantity <= 0 {
		return models.IPOApplication{}, xerrors.Invalid("quantity", "must be positive")
	}

	unlock := s.locks.Lock(req.IPOID)
	defer unlock()

	ipo, err := s.store.GetIPO(ctx, req.IPOID)
	if err != nil {
		return models.IPOApplication{}, err
	}
	if ipo.Status != models.IPOOpen {
		return models.IPOApplication{}, fmt.Errorf("%w: ipo %s is not open for subscription", xerrors.ErrInvalidTransition, ipo.ID)
	}
	amount := decimal.NewFromInt(req.Quantity).Mul(decimal.NewFromInt(ipo.PricePerShare))
	if !amount.BigInt().IsInt64() {
		return models.IPOApplication{}, xerrors.Invalid("quantity", "is too large")
	}

	if err := s.ledger.Hold(ctx, req.AccountID, amount.IntPart()); err != nil {
		return models.IPOApplication{}, fmt.Errorf("apply to ipo %s: %w", ipo.ID, err)
	}
	app, err := s.store.CreateApplication(ctx, models.IPOApplication{
		ID:          s.newID(),
		IPOID:       ipo.ID,
		CustomerID:  req.CustomerID,
		AccountID:   req.AccountID,
		Quantity:    req.Quantity,
		Amount:      amount.IntPart(),
		Status:      models.ApplicationPendingVerification,
		SubmittedAt: s.now(),
	})
	if err != nil {
		if rerr := s.ledger.Release(ctx, req.AccountID, amount.IntPart()); rerr != nil {
			s.logger.Error("release hold of failed application",
				zap.String("account_id", req.AccountID),
				zap.Error(rerr))
		}
		return models.IPOApplication{}, fmt.Errorf("create application: %w", err)
	}
	return app, nil
}

// Verify marks a pending application as checked.
func (s *Service) Verify(ctx context.Context, applicationId string, checker models.Actor) (models.IPOApplication, error) {
	if err := requireChecker(checker); err != nil {
		return models.IPOApplication{}, err
	}
	return s.updateApplication(ctx, applicationId, func(app *models.IPOApplication) error {
		if app.Status != models.ApplicationPendingVerification {
			return fmt.Errorf("%w: application %s is %s", xerrors.ErrInvalidTransition, app.ID, app.Status)
		}
		app.Status = models.ApplicationVerified
		app.VerifiedBy = checker.ID
		return nil
	})
}

// Reject takes an application out of the allotment and releases its hold.
func (s *Service) Reject(ctx context.Context, applicationId string, checker models.Actor, comments string) (models.IPOApplication, error) {
	if err := requireChecker(checker); err != nil {
		return models.IPOApplication{}, err
	}
	if comments == "" {
		return models.IPOApplication{}, xerrors.ErrMissingComments
	}
	return s.updateApplication(ctx, applicationId, func(app *models.IPOApplication) error {
		if !app.Status.Eligible() {
			return fmt.Errorf("%w: application %s is %s", xerrors.ErrInvalidTransition, app.ID, app.Status)
		}
		if err := s.ledger.Release(ctx, app.AccountID, app.Amount); err != nil {
			return err
		}
		app.Status = models.ApplicationRejected
		app.VerifiedBy = checker.ID
		app.Comments = comments
		return nil
	})
}

// updateApplication serializes application changes with allotment runs of the same IPO.
func (s *Service) updateApplication(ctx context.Context, applicationId string, mutate func(*models.IPOApplication) error) (models.IPOApplication, error) {
	app, err := s.store.GetApplication(ctx, applicationId)
	if err != nil {
		return models.IPOApplication{}, err
	}
	unlock := s.locks.Lock(app.IPOID)
	defer unlock()

	// re-read under the IPO lock
	app, err = s.store.GetApplication(ctx, applicationId)
	if err != nil {
		return models.IPOApplication{}, err
	}
	ipo, err := s.store.GetIPO(ctx, app.IPOID)
	if err != nil {
		return models.IPOApplication{}, err
	}
	if ipo.Status == models.IPOAllotted {
		return models.IPOApplication{}, fmt.Errorf("%w: ipo %s is already allotted", xerrors.ErrInvalidTransition, ipo.ID)
	}
	// a run whose settlement is in the ledger but not in the store freezes the
	// applications until it is run again
	settled, err := s.ledger.Applied(ctx, settlementKey(ipo.ID))
	if err != nil {
		return models.IPOApplication{}, err
	}
	if settled {
		return models.IPOApplication{}, fmt.Errorf("%w: allotment of ipo %s is settled but not recorded, run it again", xerrors.ErrConflict, ipo.ID)
	}
	if err := mutate(&app); err != nil {
		return models.IPOApplication{}, err
	}
	if err := s.store.SaveApplication(ctx, app); err != nil {
		return models.IPOApplication{}, err
	}
	return app, nil
}

// Plan returns the allocation a run would make on the current applications.
func (s *Service) Plan(ctx context.Context, ipoId string) ([]Allocation, error) {
	ipo, err := s.store.GetIPO(ctx, ipoId)
	if err != nil {
		return nil, err
	}
	apps, err := s.store.ListApplications(ctx, ipoId)
	if err != nil {
		return nil, err
	}
	return Allocate(ipo.IssueSize, eligible(apps)), nil
}

func eligible(apps []models.IPOApplication) []models.IPOApplication {
	var out []models.IPOApplication
	for _, a := range apps {
		if a.Status.Eligible() {
			out = append(out, a)
		}
	}
	return out
}

// Run allots the IPO. All settlement postings form one ledger change keyed
// by the IPO, so either every application settles or none does. Running an
// IPO that is already allotted returns the stored summary.
//
// If the ledger commit succeeds but the store write fails, the applications
// stay frozen and running again records the same allocation without posting
// twice.
func (s *Service) Run(ctx context.Context, ipoId string, checker models.Actor) (models.AllotmentSummary, error) {
	if err := requireChecker(checker); err != nil {
		return models.AllotmentSummary{}, err
	}
	unlock := s.locks.Lock(ipoId)
	defer unlock()

	ipo, err := s.store.GetIPO(ctx, ipoId)
	if err != nil {
		return models.AllotmentSummary{}, err
	}
	switch ipo.Status {
	case models.IPOAllotted:
		return s.store.GetSummary(ctx, ipoId)
	case models.IPOAllotmentPhase:
	default:
		return models.AllotmentSummary{}, fmt.Errorf("%w: ipo %s is %s", xerrors.ErrInvalidTransition, ipoId, ipo.Status)
	}

	all, err := s.store.ListApplications(ctx, ipoId)
	if err != nil {
		return models.AllotmentSummary{}, err
	}
	apps := eligible(all)
	allocations := Allocate(ipo.IssueSize, apps)

	change := ledger.Change{Key: settlementKey(ipo.ID)}
	var credited int64
	for i, a := range apps {
		settled := allocations[i].Shares * ipo.PricePerShare
		apps[i].SharesAllotted = allocations[i].Shares
		apps[i].AmountSettled = settled
		if allocations[i].Shares > 0 {
			apps[i].Status = models.ApplicationAllotted
		} else {
			apps[i].Status = models.ApplicationNotAllotted
		}

		change.Instructions = append(change.Instructions, ledger.Instruction{
			Action: ledger.ActionRelease, AccountID: a.AccountID, Amount: a.Amount,
		})
		if settled > 0 {
			change.Instructions = append(change.Instructions, ledger.Instruction{
				Action:        ledger.ActionPost,
				AccountID:     a.AccountID,
				Amount:        -settled,
				Kind:          models.EntrySettlement,
				RelatedItemID: a.ID,
				Description:   fmt.Sprintf("%d shares of %s", allocations[i].Shares, ipo.Name),
			})
			credited += settled
		}
	}
	if credited > 0 {
		change.Instructions = append(change.Instructions, ledger.Instruction{
			Action:        ledger.ActionPost,
			AccountID:     ipo.SettlementAccountID,
			Amount:        credited,
			Kind:          models.EntryAllotment,
			RelatedItemID: ipo.ID,
			Description:   "allotment of " + ipo.Name,
		})
	}

	if len(change.Instructions) > 0 {
		if _, err := s.ledger.Apply(ctx, change); err != nil {
			s.logger.Error("allotment rolled back", zap.String("ipo_id", ipo.ID), zap.Error(err))
			return models.AllotmentSummary{}, fmt.Errorf("allot ipo %s: %w", ipo.ID, err)
		}
	}

	now := s.now()
	ipo.Status = models.IPOAllotted
	ipo.AllottedAt = &now
	summary := models.SummarizeAllotment(ipo.ID, apps, now)
	if err := s.store.CompleteAllotment(ctx, ipo, apps, summary); err != nil {
		s.logger.Error("allotment settled but not recorded", zap.String("ipo_id", ipo.ID), zap.Error(err))
		return models.AllotmentSummary{}, fmt.Errorf("store allotment of ipo %s: %w", ipo.ID, err)
	}

	s.logger.Info("ipo allotted",
		zap.String("ipo_id", ipo.ID),
		zap.String("actor_id", checker.ID),
		zap.Int("applications", summary.TotalApplications),
		zap.Int64("shares", summary.TotalSharesAllotted))
	if s.publisher != nil {
		err := s.publisher.Publish(ctx, events.TopicAllotmentCompleted, events.AllotmentCompleted{
			IPOID:               ipo.ID,
			TotalApplications:   summary.TotalApplications,
			TotalAllotted:       summary.TotalAllotted,
			TotalSharesAllotted: summary.TotalSharesAllotted,
			TotalAmountSettled:  models.FormatAmount(summary.TotalAmountSettled),
			ActorID:             checker.ID,
			OccurredAt:          now,
		})
		if err != nil {
			s.logger.Error("publish allotment completed", zap.String("ipo_id", ipo.ID), zap.Error(err))
		}
	}
	return summary, nil
}

// Summary returns the stored summary, or ErrNotFound before the IPO is allotted.
func (s *Service) Summary(ctx context.Context, ipoId string) (models.AllotmentSummary, error) {
	if _, err := s.store.GetIPO(ctx, ipoId); err != nil {
		return models.AllotmentSummary{}, err
	}
	summary, err := s.store.GetSummary(ctx, ipoId)
	if errors.Is(err, xerrors.ErrNotFound) {
		return models.AllotmentSummary{}, fmt.Errorf("allotment summary of ipo %s: %w", ipoId, err)
	}
	return summary, err
}

// Applications lists the applications of an IPO in submission order.
func (s *Service) Applications(ctx context.Context, ipoId string) ([]models.IPOApplication, error) {
	if _, err := s.store.GetIPO(ctx, ipoId); err != nil {
		return nil, err
	}
	return s.store.ListApplications(ctx, ipoId)
}
