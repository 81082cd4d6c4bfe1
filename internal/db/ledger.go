package db

import (
	"context"
	"time"

	"reportly/internal/types"
)

// TxLotConsumer wraps FIFO lot consumption in its own transaction. The lock,
// the sufficiency check, and every decrement commit or roll back as a unit.
type TxLotConsumer struct {
	pool TxBeginner
}

// NewTxLotConsumer creates a TxLotConsumer over the connection pool.
func NewTxLotConsumer(pool TxBeginner) *TxLotConsumer {
	return &TxLotConsumer{pool: pool}
}

// Consume takes n units FIFO from the account's matching lots inside a single
// transaction. insufficient=true means nothing was committed.
func (c *TxLotConsumer) Consume(
	ctx context.Context,
	accountID string,
	product types.ReportType,
	n int,
	now time.Time,
) ([]LotDebit, bool, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	debits, insufficient, err := NewCreditLotRepo(tx).ConsumeFIFO(ctx, accountID, product, n, now)
	if err != nil {
		return nil, false, err
	}
	if insufficient {
		return nil, true, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to commit consumption", err)
	}
	return debits, false, nil
}

// Restore re-credits the lots touched by a failed debit, transactionally.
func (c *TxLotConsumer) Restore(ctx context.Context, debits []LotDebit) error {
	if len(debits) == 0 {
		return nil
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := NewCreditLotRepo(tx).Restore(ctx, debits); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit restore", err)
	}
	return nil
}
