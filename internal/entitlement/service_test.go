package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reportly/internal/db"
	"reportly/internal/types"
)

// --- Mocks ---

type mockAccountSource struct {
	mock.Mock
}

func (m *mockAccountSource) GetByID(ctx context.Context, id string) (*types.Account, error) {
	args := m.Called(ctx, id)
	if a := args.Get(0); a != nil {
		return a.(*types.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAccountSource) HasPurchasedCredits(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

type mockSubscriptionSource struct {
	mock.Mock
}

func (m *mockSubscriptionSource) ActiveByAccount(ctx context.Context, accountID string) (*types.Subscription, error) {
	args := m.Called(ctx, accountID)
	if s := args.Get(0); s != nil {
		return s.(*types.Subscription), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSubscriptionSource) DebitCycle(ctx context.Context, subID string, now time.Time) (bool, error) {
	args := m.Called(ctx, subID, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockSubscriptionSource) CreditCycle(ctx context.Context, subID string) error {
	args := m.Called(ctx, subID)
	return args.Error(0)
}

type mockLotSource struct {
	mock.Mock
}

func (m *mockLotSource) UnexpiredByAccount(ctx context.Context, accountID string, now time.Time) ([]types.CreditLot, error) {
	args := m.Called(ctx, accountID, now)
	if l := args.Get(0); l != nil {
		return l.([]types.CreditLot), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockLotConsumer struct {
	mock.Mock
}

func (m *mockLotConsumer) Consume(ctx context.Context, accountID string, product types.ReportType, n int, now time.Time) ([]db.LotDebit, bool, error) {
	args := m.Called(ctx, accountID, product, n, now)
	if d := args.Get(0); d != nil {
		return d.([]db.LotDebit), args.Bool(1), args.Error(2)
	}
	return nil, args.Bool(1), args.Error(2)
}

func (m *mockLotConsumer) Restore(ctx context.Context, debits []db.LotDebit) error {
	args := m.Called(ctx, debits)
	return args.Error(0)
}

// --- Fixtures ---

type serviceFixture struct {
	accounts *mockAccountSource
	subs     *mockSubscriptionSource
	lots     *mockLotSource
	consumer *mockLotConsumer
	svc      *Service
	now      time.Time
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		accounts: new(mockAccountSource),
		subs:     new(mockSubscriptionSource),
		lots:     new(mockLotSource),
		consumer: new(mockLotConsumer),
		now:      time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.accounts, f.subs, f.lots, f.consumer, nil).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *serviceFixture) expectSnapshot(account *types.Account, sub *types.Subscription, lots []types.CreditLot, purchased bool) {
	f.accounts.On("GetByID", mock.Anything, account.ID).Return(account, nil)
	f.subs.On("ActiveByAccount", mock.Anything, account.ID).Return(sub, nil)
	f.lots.On("UnexpiredByAccount", mock.Anything, account.ID, f.now).Return(lots, nil)
	f.accounts.On("HasPurchasedCredits", mock.Anything, account.ID).Return(purchased, nil)
}

// --- Authorize ---

func TestService_Authorize_SuspendedAccount(t *testing.T) {
	f := newServiceFixture(t)
	f.expectSnapshot(&types.Account{ID: "acct_1", Role: types.RoleUser, Suspended: true}, nil, nil, false)

	_, err := f.svc.Authorize(context.Background(), "acct_1", types.ReportSEOAudit)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodePermissionSuspended, appErr.Code)
}

func TestService_Authorize_AdminChargesNothing(t *testing.T) {
	f := newServiceFixture(t)
	f.expectSnapshot(&types.Account{ID: "acct_1", Role: types.RoleAdmin}, nil, nil, false)

	receipt, err := f.svc.Authorize(context.Background(), "acct_1", types.ReportSEOAudit)
	require.NoError(t, err)
	assert.Equal(t, DebitNone, receipt.Source)
	f.subs.AssertNotCalled(t, "DebitCycle", mock.Anything, mock.Anything, mock.Anything)
	f.consumer.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_Authorize_SubscriptionDebit(t *testing.T) {
	f := newServiceFixture(t)
	sub := &types.Subscription{
		ID:               "sub_1",
		Status:           types.SubStatusActive,
		PeriodEnd:        f.now.AddDate(0, 1, 0),
		CreditsRemaining: 5,
	}
	f.expectSnapshot(&types.Account{ID: "acct_1", Role: types.RoleUser}, sub, nil, false)
	f.subs.On("DebitCycle", mock.Anything, "sub_1", f.now).Return(true, nil)

	receipt, err := f.svc.Authorize(context.Background(), "acct_1", types.ReportSEOAudit)
	require.NoError(t, err)
	assert.Equal(t, DebitSubscription, receipt.Source)
	assert.Equal(t, "sub_1", receipt.SubscriptionID)
}

func TestService_Authorize_SubscriptionRaceFallsThroughToLots(t *testing.T) {
	f := newServiceFixture(t)
	sub := &types.Subscription{
		ID:               "sub_1",
		Status:           types.SubStatusActive,
		PeriodEnd:        f.now.AddDate(0, 1, 0),
		CreditsRemaining: 1, // snapshot says 1 left; a concurrent debit takes it
	}
	f.expectSnapshot(&types.Account{ID: "acct_1", Role: types.RoleUser}, sub,
		[]types.CreditLot{{ID: "lot_1", Balance: 1}}, false)
	f.subs.On("DebitCycle", mock.Anything, "sub_1", f.now).Return(false, nil)
	f.consumer.On("Consume", mock.Anything, "acct_1", types.ReportSEOAudit, 1, f.now).
		Return([]db.LotDebit{{LotID: "lot_1", Taken: 1}}, false, nil)

	receipt, err := f.svc.Authorize(context.Background(), "acct_1", types.ReportSEOAudit)
	require.NoError(t, err)
	assert.Equal(t, DebitLots, receipt.Source)
	require.Len(t, receipt.LotDebits, 1)
	assert.Equal(t, "lot_1", receipt.LotDebits[0].LotID)
}

func TestService_Authorize_LotDebitThenDenialOnSecondCall(t *testing.T) {
	f := newServiceFixture(t)
	account := &types.Account{ID: "acct_1", Role: types.RoleUser}

	// First call: one credit, consumed.
	f.expectSnapshot(account, nil, []types.CreditLot{{ID: "lot_1", Balance: 1}}, false)
	f.consumer.On("Consume", mock.Anything, "acct_1", types.ReportSEOAudit, 1, f.now).
		Return([]db.LotDebit{{LotID: "lot_1", Taken: 1}}, false, nil).Once()

	receipt, err := f.svc.Authorize(context.Background(), "acct_1", types.ReportSEOAudit)
	require.NoError(t, err)
	assert.Equal(t, DebitLots, receipt.Source)

	// Second call against the same (now stale) lot snapshot: the conditional
	// consume reports insufficient, so the answer is a clean 402.
	f.consumer.On("Consume", mock.Anything, "acct_1", types.ReportSEOAudit, 1, f.now).
		Return(nil, true, nil).Once()

	_, err = f.svc.Authorize(context.Background(), "acct_1", types.ReportSEOAudit)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeEntitlementDenied, appErr.Code)
	assert.Equal(t, string(types.PromptImpulse), appErr.Details["upgrade_prompt"])
}

func TestService_Authorize_DenialPromptReflectsPurchaseHistory(t *testing.T) {
	f := newServiceFixture(t)
	f.expectSnapshot(&types.Account{ID: "acct_1", Role: types.RoleUser}, nil, nil, true)

	_, err := f.svc.Authorize(context.Background(), "acct_1", types.ReportSEOAudit)
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeEntitlementDenied, appErr.Code)
	assert.Equal(t, string(types.PromptStarter), appErr.Details["upgrade_prompt"])
}

// --- Refund ---

func TestService_Refund(t *testing.T) {
	t.Run("subscription debit re-credits the cycle", func(t *testing.T) {
		f := newServiceFixture(t)
		f.subs.On("CreditCycle", mock.Anything, "sub_1").Return(nil)

		err := f.svc.Refund(context.Background(), &Receipt{
			AccountID:      "acct_1",
			Source:         DebitSubscription,
			SubscriptionID: "sub_1",
		})
		require.NoError(t, err)
		f.subs.AssertExpectations(t)
	})

	t.Run("lot debit restores the exact lots", func(t *testing.T) {
		f := newServiceFixture(t)
		debits := []db.LotDebit{{LotID: "lot_1", Taken: 1}}
		f.consumer.On("Restore", mock.Anything, debits).Return(nil)

		err := f.svc.Refund(context.Background(), &Receipt{
			AccountID: "acct_1",
			Source:    DebitLots,
			LotDebits: debits,
		})
		require.NoError(t, err)
		f.consumer.AssertExpectations(t)
	})

	t.Run("nothing charged means nothing to do", func(t *testing.T) {
		f := newServiceFixture(t)
		require.NoError(t, f.svc.Refund(context.Background(), &Receipt{Source: DebitNone}))
		require.NoError(t, f.svc.Refund(context.Background(), nil))
	})
}
