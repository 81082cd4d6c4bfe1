package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"reportly/internal/types"
)

// ReferralRepo provides data access for referral codes and referral uses.
//
// The unique constraint on referral_uses.referred_id is the correctness
// guard for "one referred account, one reward": client-side signup retries
// collapse onto the same row.
type ReferralRepo struct {
	db DBTX
}

// NewReferralRepo creates a new ReferralRepo backed by the given database
// connection (pool or transaction).
func NewReferralRepo(db DBTX) *ReferralRepo {
	return &ReferralRepo{db: db}
}

// GetCodeByAccount fetches the account's referral code, or nil if none has
// been generated yet.
func (r *ReferralRepo) GetCodeByAccount(ctx context.Context, accountID string) (*types.ReferralCode, error) {
	var c types.ReferralCode
	err := r.db.QueryRow(ctx,
		`SELECT account_id, code, created_at FROM referral_codes WHERE account_id = $1`,
		accountID,
	).Scan(&c.AccountID, &c.Code, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch referral code", err)
	}
	return &c, nil
}

// ResolveCode maps a code to its owning account.
func (r *ReferralRepo) ResolveCode(ctx context.Context, code string) (*types.ReferralCode, error) {
	var c types.ReferralCode
	err := r.db.QueryRow(ctx,
		`SELECT account_id, code, created_at FROM referral_codes WHERE code = $1`,
		code,
	).Scan(&c.AccountID, &c.Code, &c.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, types.NewAppError(types.ErrCodeNotFoundReferralCode, "referral code not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve referral code", err)
	}
	return &c, nil
}

// CreateCode stores a newly generated code for the account.
func (r *ReferralRepo) CreateCode(ctx context.Context, c *types.ReferralCode) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO referral_codes (account_id, code, created_at) VALUES ($1, $2, NOW())`,
		c.AccountID, c.Code,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictReferralUsed,
				"account already has a referral code", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create referral code", err)
	}
	return nil
}

// CreateUse links a referred signup to the referrer. The referred account's
// uniqueness constraint rejects a second use regardless of which code it
// arrives through.
func (r *ReferralRepo) CreateUse(ctx context.Context, u *types.ReferralUse) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO referral_uses
		   (id, referrer_id, referred_id, reward_granted, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		u.ID, u.ReferrerID, u.ReferredID, u.RewardGranted,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictReferralUsed,
				"this account has already been referred", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record referral use", err)
	}
	return nil
}

// MarkRewardGranted flags the use once the referrer's credit lot exists.
func (r *ReferralRepo) MarkRewardGranted(ctx context.Context, useID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE referral_uses SET reward_granted = true WHERE id = $1`,
		useID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark referral reward", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalDB, "referral use vanished during reward grant", nil)
	}
	return nil
}
