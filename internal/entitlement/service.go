package entitlement

import (
	"context"
	"log/slog"
	"time"

	"reportly/internal/db"
	"reportly/internal/types"
)

// AccountSource is the account data the ledger needs.
type AccountSource interface {
	GetByID(ctx context.Context, id string) (*types.Account, error)
	HasPurchasedCredits(ctx context.Context, id string) (bool, error)
}

// SubscriptionSource reads and debits the subscription mirror.
type SubscriptionSource interface {
	ActiveByAccount(ctx context.Context, accountID string) (*types.Subscription, error)
	DebitCycle(ctx context.Context, subID string, now time.Time) (bool, error)
	CreditCycle(ctx context.Context, subID string) error
}

// LotSource reads credit lots for snapshot assembly.
type LotSource interface {
	UnexpiredByAccount(ctx context.Context, accountID string, now time.Time) ([]types.CreditLot, error)
}

// LotConsumer performs the transactional FIFO consumption and its
// compensation. Implemented by db.TxLotConsumer.
type LotConsumer interface {
	Consume(ctx context.Context, accountID string, product types.ReportType, n int, now time.Time) ([]db.LotDebit, bool, error)
	Restore(ctx context.Context, debits []db.LotDebit) error
}

// Receipt records what an allowed Authorize charged, so a downstream failure
// (job enqueue rejected) can be compensated exactly.
type Receipt struct {
	AccountID      string
	Source         DebitSource
	SubscriptionID string        // set when Source == DebitSubscription
	LotDebits      []db.LotDebit // set when Source == DebitLots
}

// Service is the Entitlement Ledger: one Authorize call decides and debits
// as a unit; Refund is the compensation path.
type Service struct {
	accounts AccountSource
	subs     SubscriptionSource
	lots     LotSource
	consumer LotConsumer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates the entitlement service.
func NewService(
	accounts AccountSource,
	subs SubscriptionSource,
	lots LotSource,
	consumer LotConsumer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts: accounts,
		subs:     subs,
		lots:     lots,
		consumer: consumer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// LoadSnapshot reads the decision inputs for an account.
func (s *Service) LoadSnapshot(ctx context.Context, accountID string) (Snapshot, error) {
	now := s.now()

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return Snapshot{}, err
	}

	sub, err := s.subs.ActiveByAccount(ctx, accountID)
	if err != nil {
		return Snapshot{}, err
	}

	lots, err := s.lots.UnexpiredByAccount(ctx, accountID, now)
	if err != nil {
		return Snapshot{}, err
	}

	purchased, err := s.accounts.HasPurchasedCredits(ctx, accountID)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Account:       account,
		Subscription:  sub,
		Lots:          lots,
		EverPurchased: purchased,
		Now:           now,
	}, nil
}

// Authorize decides whether the account may run one report of the given type
// and, if so, performs exactly one debit. The decision runs on a snapshot,
// but every debit is a conditional write that re-checks its precondition, so
// two concurrent calls racing over the last credit cannot both succeed: the
// loser falls through and is re-evaluated against what actually remains.
//
// On denial the returned error is a typed 402 carrying the upgrade prompt.
// No debit ever accompanies a denial.
func (s *Service) Authorize(ctx context.Context, accountID string, product types.ReportType) (*Receipt, error) {
	snap, err := s.LoadSnapshot(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if snap.Account.Suspended {
		return nil, types.NewAppError(types.ErrCodePermissionSuspended, "account is suspended", nil)
	}

	outcome := Decide(snap, product)
	if !outcome.Allowed {
		return nil, types.NewEntitlementDenied(outcome.Prompt)
	}

	switch outcome.Source {
	case DebitNone:
		return &Receipt{AccountID: accountID, Source: DebitNone}, nil

	case DebitSubscription:
		ok, err := s.subs.DebitCycle(ctx, snap.Subscription.ID, snap.Now)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Receipt{
				AccountID:      accountID,
				Source:         DebitSubscription,
				SubscriptionID: snap.Subscription.ID,
			}, nil
		}
		// Allowance drained between snapshot and debit; fall through to lots.
		return s.debitLots(ctx, snap, accountID, product)

	default:
		return s.debitLots(ctx, snap, accountID, product)
	}
}

// debitLots charges one unit FIFO from the credit lots.
func (s *Service) debitLots(ctx context.Context, snap Snapshot, accountID string, product types.ReportType) (*Receipt, error) {
	debits, insufficient, err := s.consumer.Consume(ctx, accountID, product, 1, snap.Now)
	if err != nil {
		return nil, err
	}
	if insufficient {
		prompt := types.PromptImpulse
		if snap.EverPurchased {
			prompt = types.PromptStarter
		}
		return nil, types.NewEntitlementDenied(prompt)
	}
	return &Receipt{AccountID: accountID, Source: DebitLots, LotDebits: debits}, nil
}

// Refund compensates a debit whose downstream job submission failed, so the
// ledger is not left permanently charged for a report that never ran.
func (s *Service) Refund(ctx context.Context, receipt *Receipt) error {
	if receipt == nil {
		return nil
	}
	switch receipt.Source {
	case DebitSubscription:
		return s.subs.CreditCycle(ctx, receipt.SubscriptionID)
	case DebitLots:
		return s.consumer.Restore(ctx, receipt.LotDebits)
	default:
		return nil
	}
}
