package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"reportly/internal/types"
)

// SubscriptionRepo manages the local mirror of the payment processor's
// subscription state. Rows are keyed by the processor's subscription id.
//
// Key invariants:
//   - Upserts use optimistic locking via last_event_at so out-of-order or
//     replayed webhook deliveries are idempotent no-ops.
//   - A terminal "cancelled" status is never regressed by a stale update.
//   - The cycle allowance resets to the plan cap when a new billing period
//     start is observed and never carries over.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given
// database connection (pool or transaction).
func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// Upsert applies one subscription lifecycle event. cycleCap is the plan's
// per-period allowance: it seeds credits_remaining on insert and re-seeds it
// when the observed period_start advances past the stored one.
//
// Returns applied=false when the event was stale (older than the stored
// last_event_at, or arriving after a terminal cancellation); stale events
// are a silent, idempotent no-op. Callers use applied to gate exactly-once
// side effects such as the payment-confirmation email.
func (r *SubscriptionRepo) Upsert(ctx context.Context, sub *types.Subscription, cycleCap int) (applied bool, err error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions
		   (id, account_id, plan, amount_label, status, period_start,
		    period_end, cancel_at_period_end, credits_remaining,
		    last_event_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   plan = EXCLUDED.plan,
		   amount_label = EXCLUDED.amount_label,
		   status = EXCLUDED.status,
		   period_start = EXCLUDED.period_start,
		   period_end = EXCLUDED.period_end,
		   cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		   credits_remaining = CASE
		     WHEN subscriptions.period_start < EXCLUDED.period_start
		       THEN EXCLUDED.credits_remaining
		     ELSE subscriptions.credits_remaining
		   END,
		   last_event_at = EXCLUDED.last_event_at,
		   updated_at = NOW()
		 WHERE subscriptions.last_event_at < EXCLUDED.last_event_at
		   AND subscriptions.status <> $11`,
		sub.ID, sub.AccountID, sub.Plan, sub.AmountLabel, sub.Status,
		sub.PeriodStart, sub.PeriodEnd, sub.CancelAtPeriodEnd, cycleCap,
		sub.LastEventAt, types.SubStatusCancelled,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "stale subscription event ignored",
			"subscription_id", sub.ID,
			"event_at", sub.LastEventAt,
		)
		return false, nil
	}
	return true, nil
}

// MarkCancelled handles subscription deletion: the row is flagged terminal,
// never removed. Cancelling an already-cancelled row is a no-op, not an
// error, so replayed deletion events stay idempotent.
func (r *SubscriptionRepo) MarkCancelled(ctx context.Context, subID string, eventAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $1, last_event_at = $2, updated_at = NOW()
		 WHERE id = $3 AND status <> $1`,
		types.SubStatusCancelled, eventAt, subID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to cancel subscription", err)
	}
	if tag.RowsAffected() == 0 {
		// Either already cancelled (fine) or unknown. Distinguish: an unknown
		// id is a desync that must surface as a 5xx.
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE id = $1)`, subID,
		).Scan(&exists); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to check subscription existence", err)
		}
		if !exists {
			return types.NewAppError(types.ErrCodeDesyncUnknownSubscription,
				fmt.Sprintf("no local row for subscription %s", subID), nil)
		}
	}
	return nil
}

// MarkPastDue flags the subscription after a failed invoice payment and
// returns the owning account id so the caller can send the payment-failed
// notification. The same last_event_at guard as Upsert applies: a replayed
// or out-of-order delivery, or a row already past_due, is an idempotent
// no-op (applied=false) that still resolves the account id. An unknown
// subscription id is a desync error; no partial writes occur in that case.
func (r *SubscriptionRepo) MarkPastDue(ctx context.Context, subID string, eventAt time.Time) (accountID string, applied bool, err error) {
	err = r.db.QueryRow(ctx,
		`UPDATE subscriptions
		 SET status = $1, last_event_at = $2, updated_at = NOW()
		 WHERE id = $3 AND status <> $4 AND status <> $1
		   AND last_event_at < $2
		 RETURNING account_id`,
		types.SubStatusPastDue, eventAt, subID, types.SubStatusCancelled,
	).Scan(&accountID)
	if err == pgx.ErrNoRows {
		// Stale delivery, already past_due or cancelled, or unknown id. Only
		// the last is a desync.
		err = r.db.QueryRow(ctx,
			`SELECT account_id FROM subscriptions WHERE id = $1`, subID,
		).Scan(&accountID)
		if err == pgx.ErrNoRows {
			return "", false, types.NewAppError(types.ErrCodeDesyncUnknownSubscription,
				fmt.Sprintf("no local row for subscription %s", subID), nil)
		}
		if err != nil {
			return "", false, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve subscription account", err)
		}
		r.logger.InfoContext(ctx, "stale payment-failed event ignored",
			"subscription_id", subID,
			"event_at", eventAt,
		)
		return accountID, false, nil
	}
	if err != nil {
		return "", false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark subscription past_due", err)
	}
	return accountID, true, nil
}

// ActiveByAccount returns the account's usable subscription row, or nil when
// none exists. At most one active-equivalent row exists per account.
func (r *SubscriptionRepo) ActiveByAccount(ctx context.Context, accountID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, account_id, plan, amount_label, status, period_start,
		        period_end, cancel_at_period_end, credits_remaining,
		        last_event_at, created_at, updated_at
		 FROM subscriptions
		 WHERE account_id = $1 AND status IN ($2, $3, $4)
		 ORDER BY created_at DESC
		 LIMIT 1`,
		accountID, types.SubStatusActive, types.SubStatusTrialing, types.SubStatusPastDue,
	)
	var s types.Subscription
	err := row.Scan(
		&s.ID, &s.AccountID, &s.Plan, &s.AmountLabel, &s.Status,
		&s.PeriodStart, &s.PeriodEnd, &s.CancelAtPeriodEnd,
		&s.CreditsRemaining, &s.LastEventAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch subscription", err)
	}
	return &s, nil
}

// DebitCycle removes one unit from the cycle allowance. The decrement and
// its preconditions run in a single statement: no read-modify-write window
// exists, so concurrent submissions cannot overdraw the allowance.
func (r *SubscriptionRepo) DebitCycle(ctx context.Context, subID string, now time.Time) (ok bool, err error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET credits_remaining = credits_remaining - 1, updated_at = NOW()
		 WHERE id = $1
		   AND credits_remaining > 0
		   AND status IN ($2, $3)
		   AND period_end > $4`,
		subID, types.SubStatusActive, types.SubStatusTrialing, now,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to debit cycle allowance", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreditCycle returns one unit to the cycle allowance, compensating a debit
// whose downstream job submission failed.
func (r *SubscriptionRepo) CreditCycle(ctx context.Context, subID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET credits_remaining = credits_remaining + 1, updated_at = NOW()
		 WHERE id = $1`,
		subID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to restore cycle allowance", err)
	}
	return nil
}
