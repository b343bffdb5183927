package workflow

import (
	"context"
	"errors"

	"github.com/sheikh-saqib/backoffice-ledger/internal/ledger"
	"github.com/sheikh-saqib/backoffice-ledger/internal/models"
	"github.com/sheikh-saqib/backoffice-ledger/internal/xerrors"
)

// policy is what distinguishes one action kind from another. The state
// machine itself is shared by all kinds.
type policy struct {
	validate func(p models.Payload) error
	// limitAccount names the account whose transaction limit caps the amount.
	limitAccount func(p models.Payload) string
	// holds are reserved on submit and released on approve, reject or return.
	holds func(p models.Payload) []ledger.Instruction
	// postings are the entries written on approval.
	postings func(item models.WorkflowItem) []ledger.Instruction
	// precheck validates non-ledger effects before anything is committed.
	precheck func(ctx context.Context, e *Engine, item models.WorkflowItem) error
	// onApprove runs after the ledger change; it must be idempotent.
	onApprove func(ctx context.Context, e *Engine, item models.WorkflowItem) error
}

var policies = map[models.ActionKind]policy{
	models.ActionDeposit: {
		validate: requireAll(requireAccount, requirePositiveAmount),
		postings: func(item models.WorkflowItem) []ledger.Instruction {
			return []ledger.Instruction{
				post(item, item.Payload.AccountID, item.Payload.Amount, models.EntryDeposit),
			}
		},
	},
	models.ActionWithdrawal: {
		validate:     requireAll(requireAccount, requirePositiveAmount),
		limitAccount: func(p models.Payload) string { return p.AccountID },
		holds: func(p models.Payload) []ledger.Instruction {
			return []ledger.Instruction{{Action: ledger.ActionHold, AccountID: p.AccountID, Amount: p.Amount}}
		},
		postings: func(item models.WorkflowItem) []ledger.Instruction {
			return []ledger.Instruction{
				post(item, item.Payload.AccountID, -item.Payload.Amount, models.EntryWithdrawal),
			}
		},
	},
	models.ActionCapitalTransfer: {
		validate:     requireAll(requireAccount, requireSource, requirePositiveAmount),
		limitAccount: func(p models.Payload) string { return p.SourceAccountID },
		holds: func(p models.Payload) []ledger.Instruction {
			return []ledger.Instruction{{Action: ledger.ActionHold, AccountID: p.SourceAccountID, Amount: p.Amount}}
		},
		postings: func(item models.WorkflowItem) []ledger.Instruction {
			return []ledger.Instruction{
				post(item, item.Payload.SourceAccountID, -item.Payload.Amount, models.EntryTransfer),
				post(item, item.Payload.AccountID, item.Payload.Amount, models.EntryCoreCapitalDeposit),
			}
		},
	},
	models.ActionLimitChange: {
		validate: requireAll(requireAccount, func(p models.Payload) error {
			if p.Limit < 0 {
				return xerrors.Invalid("limit", "must not be negative")
			}
			return nil
		}),
		precheck: func(ctx context.Context, e *Engine, item models.WorkflowItem) error {
			_, err := e.ledger.GetAccount(ctx, item.Payload.AccountID)
			return err
		},
		onApprove: func(ctx context.Context, e *Engine, item models.WorkflowItem) error {
			_, err := e.ledger.SetTransactionLimit(ctx, item.Payload.AccountID, item.Payload.Limit)
			return err
		},
	},
	models.ActionKYCSubmission: {
		validate: func(p models.Payload) error {
			if p.CustomerID == "" {
				return xerrors.Invalid("customer_id", "is required")
			}
			if p.CustomerName == "" {
				return xerrors.Invalid("customer_name", "is required")
			}
			return nil
		},
		onApprove: func(ctx context.Context, e *Engine, item models.WorkflowItem) error {
			_, err := e.ledger.OpenAccount(ctx, ledger.OpenAccountRequest{
				ID:        models.CustomerWalletID(item.Payload.CustomerID),
				OwnerKind: models.OwnerCustomer,
				Type:      models.AccountCustomerWallet,
				Name:      item.Payload.CustomerName,
			})
			if errors.Is(err, xerrors.ErrAccountExists) {
				return nil
			}
			return err
		},
	},
}

func post(item models.WorkflowItem, accountID string, amount int64, kind models.EntryKind) ledger.Instruction {
	return ledger.Instruction{
		Action:        ledger.ActionPost,
		AccountID:     accountID,
		Amount:        amount,
		Kind:          kind,
		RelatedItemID: item.ID,
		Description:   item.Payload.Description,
	}
}

func requireAll(checks ...func(models.Payload) error) func(models.Payload) error {
	return func(p models.Payload) error {
		for _, check := range checks {
			if err := check(p); err != nil {
				return err
			}
		}
		return nil
	}
}

func requireAccount(p models.Payload) error {
	if p.AccountID == "" {
		return xerrors.Invalid("account_id", "is required")
	}
	return nil
}

func requireSource(p models.Payload) error {
	if p.SourceAccountID == "" {
		return xerrors.Invalid("source_account_id", "is required")
	}
	if p.SourceAccountID == p.AccountID {
		return xerrors.Invalid("source_account_id", "must differ from account_id")
	}
	return nil
}

func requirePositiveAmount(p models.Payload) error {
	if p.Amount <= 0 {
		return xerrors.Invalid("amount", "must be positive")
	}
	return nil
}

func (p policy) holdInstructions(payload models.Payload) []ledger.Instruction {
	if p.holds == nil {
		return nil
	}
	return p.holds(payload)
}

func (p policy) releaseInstructions(payload models.Payload) []ledger.Instruction {
	holds := p.holdInstructions(payload)
	releases := make([]ledger.Instruction, 0, len(holds))
	for _, h := range holds {
		releases = append(releases, ledger.Instruction{Action: ledger.ActionRelease, AccountID: h.AccountID, Amount: h.Amount})
	}
	return releases
}

// approvalChange releases the item's holds and writes its postings in one
// change keyed by the item id, so an item is posted at most once.
func (p policy) approvalChange(item models.WorkflowItem) (ledger.Change, bool) {
	instructions := p.releaseInstructions(item.Payload)
	if p.postings != nil {
		instructions = append(instructions, p.postings(item)...)
	}
	if len(instructions) == 0 {
		return ledger.Change{}, false
	}
	return ledger.Change{Key: item.ID, Instructions: instructions}, true
}

func (p policy) releaseChange(item models.WorkflowItem) (ledger.Change, bool) {
	instructions := p.releaseInstructions(item.Payload)
	if len(instructions) == 0 {
		return ledger.Change{}, false
	}
	return ledger.Change{Instructions: instructions}, true
}

func (p policy) holdChange(item models.WorkflowItem) (ledger.Change, bool) {
	holds := p.holdInstructions(item.Payload)
	if len(holds) == 0 {
		return ledger.Change{}, false
	}
	return ledger.Change{Instructions: holds}, true
}
