package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"reportly/internal/types"
)

func TestCreditLotRepo_InsertIdempotent_Created(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCreditLotRepo(db)
	ctx := context.Background()

	ref := "cs_session_1"
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	created, err := repo.InsertIdempotent(ctx, &types.CreditLot{
		ID:          "lot_1",
		AccountID:   "acct_1",
		Balance:     3,
		Granted:     3,
		Source:      types.SourcePurchasePackA,
		ExternalRef: &ref,
	})
	require.NoError(t, err)
	assert.True(t, created)
	db.AssertExpectations(t)
}

func TestCreditLotRepo_InsertIdempotent_Replay(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCreditLotRepo(db)
	ctx := context.Background()

	ref := "cs_session_1"
	// ON CONFLICT DO NOTHING: the replayed insert touches zero rows.
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 0"), nil)

	created, err := repo.InsertIdempotent(ctx, &types.CreditLot{
		ID:          "lot_2",
		AccountID:   "acct_1",
		Balance:     3,
		Granted:     3,
		Source:      types.SourcePurchasePackA,
		ExternalRef: &ref,
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestCreditLotRepo_ConsumeFIFO_SplitsAcrossLots(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCreditLotRepo(db)
	ctx := context.Background()
	now := time.Now().UTC()

	// Oldest lot holds 1, next holds 5; taking 3 must drain the oldest first.
	rows := newMockRows([][]any{
		{"lot_old", 1},
		{"lot_new", 5},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{1, "lot_old"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{2, "lot_new"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	debits, insufficient, err := repo.ConsumeFIFO(ctx, "acct_1", types.ReportSEOAudit, 3, now)
	require.NoError(t, err)
	assert.False(t, insufficient)
	require.Len(t, debits, 2)
	assert.Equal(t, LotDebit{LotID: "lot_old", Taken: 1}, debits[0])
	assert.Equal(t, LotDebit{LotID: "lot_new", Taken: 2}, debits[1])
	db.AssertExpectations(t)
}

func TestCreditLotRepo_ConsumeFIFO_Insufficient(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCreditLotRepo(db)
	ctx := context.Background()

	rows := newMockRows([][]any{
		{"lot_1", 1},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	debits, insufficient, err := repo.ConsumeFIFO(ctx, "acct_1", types.ReportSEOAudit, 2, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, insufficient)
	assert.Nil(t, debits)
	// No Exec: an insufficient balance must not touch any row.
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreditLotRepo_ConsumeFIFO_GuardFailureIsError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCreditLotRepo(db)
	ctx := context.Background()

	rows := newMockRows([][]any{
		{"lot_1", 2},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)
	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	_, _, err := repo.ConsumeFIFO(ctx, "acct_1", types.ReportSEOAudit, 1, time.Now().UTC())
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestCreditLotRepo_UnexpiredByAccount(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCreditLotRepo(db)
	ctx := context.Background()

	created := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	rows := newMockRows([][]any{
		{"lot_1", "acct_1", 2, 3, types.SourceSignupCredit, nil, nil, "", nil, created},
	})
	db.On("Query", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(rows, nil)

	lots, err := repo.UnexpiredByAccount(ctx, "acct_1", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, lots, 1)
	assert.Equal(t, "lot_1", lots[0].ID)
	assert.Equal(t, 2, lots[0].Balance)
	assert.Equal(t, types.SourceSignupCredit, lots[0].Source)
	assert.Nil(t, lots[0].Product)
	assert.Nil(t, lots[0].ExpiresAt)
}

func TestCreditLotRepo_Restore(t *testing.T) {
	db := new(mockDBTX)
	repo := NewCreditLotRepo(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{1, "lot_a"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)
	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{2, "lot_b"}).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.Restore(ctx, []LotDebit{
		{LotID: "lot_a", Taken: 1},
		{LotID: "lot_b", Taken: 2},
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}
