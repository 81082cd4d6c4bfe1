package db

import (
	"context"
	"time"

	"reportly/internal/types"
)

// CreditLotRepo provides data access for the credit_lots table.
//
// Lots are append-only: granting inserts a new row, consumption only ever
// decrements balance, and expired lots are excluded from queries but never
// deleted (audit trail). FIFO consumption runs inside a caller-provided
// transaction with row locks so that two concurrent debits cannot both drain
// the last credit.
type CreditLotRepo struct {
	db DBTX
}

// NewCreditLotRepo creates a new CreditLotRepo backed by the given database
// connection (pool or transaction).
func NewCreditLotRepo(db DBTX) *CreditLotRepo {
	return &CreditLotRepo{db: db}
}

// LotDebit records how much was taken from one lot during a consumption, so
// a downstream failure can be compensated exactly.
type LotDebit struct {
	LotID string
	Taken int
}

// Insert grants a new lot. Plain insert; lots are never merged.
func (r *CreditLotRepo) Insert(ctx context.Context, lot *types.CreditLot) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO credit_lots
		   (id, account_id, balance, granted, source, product, external_ref,
		    note, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		lot.ID, lot.AccountID, lot.Balance, lot.Granted, lot.Source,
		lot.Product, lot.ExternalRef, lot.Note, lot.ExpiresAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert credit lot", err)
	}
	return nil
}

// InsertIdempotent grants a lot keyed by lot.ExternalRef. A replayed insert
// for the same external reference (webhook re-delivery) hits the unique index
// and reports created=false with no error, so handlers can treat re-delivery
// as success without creating a second lot.
func (r *CreditLotRepo) InsertIdempotent(ctx context.Context, lot *types.CreditLot) (created bool, err error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO credit_lots
		   (id, account_id, balance, granted, source, product, external_ref,
		    note, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (external_ref) DO NOTHING`,
		lot.ID, lot.AccountID, lot.Balance, lot.Granted, lot.Source,
		lot.Product, lot.ExternalRef, lot.Note, lot.ExpiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert credit lot", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UnexpiredByAccount returns all lots with balance > 0 that have not expired
// at the given instant, oldest first. Product filtering is left to the
// entitlement decision so the snapshot stays reusable.
func (r *CreditLotRepo) UnexpiredByAccount(ctx context.Context, accountID string, now time.Time) ([]types.CreditLot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, balance, granted, source, product,
		        external_ref, note, expires_at, created_at
		 FROM credit_lots
		 WHERE account_id = $1
		   AND balance > 0
		   AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY created_at ASC`,
		accountID, now,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query credit lots", err)
	}
	defer rows.Close()

	var lots []types.CreditLot
	for rows.Next() {
		var l types.CreditLot
		if err := rows.Scan(
			&l.ID, &l.AccountID, &l.Balance, &l.Granted, &l.Source,
			&l.Product, &l.ExternalRef, &l.Note, &l.ExpiresAt, &l.CreatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan credit lot", err)
		}
		lots = append(lots, l)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating credit lots", err)
	}
	return lots, nil
}

// ConsumeFIFO removes n units from the account's unexpired lots matching the
// product (lots with product IS NULL match every report type), oldest first,
// splitting across lots when the oldest lot cannot cover the remainder.
//
// The repo must be constructed over a pgx.Tx: candidate rows are locked with
// FOR UPDATE before any decrement, and each decrement re-checks the balance
// in its WHERE clause, so concurrent debits serialize on the row locks and
// can never drive a balance negative.
//
// Returns the per-lot debits on success. If the locked lots cannot cover n,
// returns nil debits and insufficient=true without touching any row; the
// caller rolls back.
func (r *CreditLotRepo) ConsumeFIFO(
	ctx context.Context,
	accountID string,
	product types.ReportType,
	n int,
	now time.Time,
) (debits []LotDebit, insufficient bool, err error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, balance
		 FROM credit_lots
		 WHERE account_id = $1
		   AND balance > 0
		   AND (product IS NULL OR product = $2)
		   AND (expires_at IS NULL OR expires_at > $3)
		 ORDER BY created_at ASC
		 FOR UPDATE`,
		accountID, product, now,
	)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to lock credit lots", err)
	}

	type candidate struct {
		id      string
		balance int
	}
	var candidates []candidate
	total := 0
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.balance); err != nil {
			rows.Close()
			return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to scan locked lot", err)
		}
		candidates = append(candidates, c)
		total += c.balance
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "error iterating locked lots", err)
	}

	if total < n {
		return nil, true, nil
	}

	remaining := n
	for _, c := range candidates {
		if remaining == 0 {
			break
		}
		take := c.balance
		if take > remaining {
			take = remaining
		}
		tag, err := r.db.Exec(ctx,
			`UPDATE credit_lots
			 SET balance = balance - $1
			 WHERE id = $2 AND balance >= $1`,
			take, c.id,
		)
		if err != nil {
			return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to decrement credit lot", err)
		}
		if tag.RowsAffected() == 0 {
			// Locked rows cannot change under us; a zero here means the
			// balance guard failed, which would indicate a concurrent writer
			// bypassing the lock. Treat as a hard error so the tx rolls back.
			return nil, false, types.NewAppError(types.ErrCodeInternalDB,
				"credit lot balance changed during locked consumption", nil)
		}
		debits = append(debits, LotDebit{LotID: c.id, Taken: take})
		remaining -= take
	}

	return debits, false, nil
}

// Restore re-credits the exact lots touched by a failed debit. This is the
// compensation path for "job enqueue failed after the ledger was charged".
func (r *CreditLotRepo) Restore(ctx context.Context, debits []LotDebit) error {
	for _, d := range debits {
		_, err := r.db.Exec(ctx,
			`UPDATE credit_lots SET balance = balance + $1 WHERE id = $2`,
			d.Taken, d.LotID,
		)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to restore credit lot", err)
		}
	}
	return nil
}

// AvailableTotal sums unexpired, product-matching balances. Used for balance
// display; the entitlement decision works from the full lot list instead.
func (r *CreditLotRepo) AvailableTotal(ctx context.Context, accountID string, product types.ReportType, now time.Time) (int, error) {
	var total int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance), 0)
		 FROM credit_lots
		 WHERE account_id = $1
		   AND balance > 0
		   AND (product IS NULL OR product = $2)
		   AND (expires_at IS NULL OR expires_at > $3)`,
		accountID, product, now,
	).Scan(&total)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to sum credit balance", err)
	}
	return total, nil
}
