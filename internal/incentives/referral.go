// Package incentives implements the referral and testimonial reward engines.
// Every reward lands as a credit lot, and every duplicate guard is a database
// unique constraint, so retries and races collapse to a single grant.
package incentives

import (
	"context"
	"crypto/rand"
	"log/slog"

	"github.com/google/uuid"

	"reportly/internal/db"
	"reportly/internal/types"
)

// codeAlphabet avoids ambiguous characters in referral codes.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const codeLength = 8

// ReferralService manages referral codes and the two-sided signup reward.
type ReferralService struct {
	pool            db.TxBeginner
	referrals       *db.ReferralRepo
	logger          *slog.Logger
	signupCredits   int
	referralCredits int
}

// NewReferralService creates the referral engine. signupCredits goes to the
// referred account, referralCredits to the referrer.
func NewReferralService(pool db.TxBeginner, referrals *db.ReferralRepo, signupCredits, referralCredits int, logger *slog.Logger) *ReferralService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferralService{
		pool:            pool,
		referrals:       referrals,
		logger:          logger,
		signupCredits:   signupCredits,
		referralCredits: referralCredits,
	}
}

// EnsureCode returns the account's referral code, generating one on first use.
// A concurrent first call may lose the insert race; the loser re-reads.
func (s *ReferralService) EnsureCode(ctx context.Context, accountID string) (*types.ReferralCode, error) {
	existing, err := s.referrals.GetCodeByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	code := &types.ReferralCode{AccountID: accountID, Code: randomCode()}
	if err := s.referrals.CreateCode(ctx, code); err != nil {
		appErr, ok := err.(*types.AppError)
		if ok && appErr.Code == types.ErrCodeConflictReferralUsed {
			return s.referrals.GetCodeByAccount(ctx, accountID)
		}
		return nil, err
	}
	return code, nil
}

// RecordSignup applies a referral code to a freshly created account. It
// records the use, grants the referred account its signup credits, grants the
// referrer the referral reward, and flags the use as rewarded, all in one
// transaction. The unique constraint on the referred account id makes a
// second application (any code) a typed conflict with no partial grants.
func (s *ReferralService) RecordSignup(ctx context.Context, code, referredID string) error {
	resolved, err := s.referrals.ResolveCode(ctx, code)
	if err != nil {
		return err
	}
	if resolved.AccountID == referredID {
		return types.NewAppError(types.ErrCodeValidationInvalidField,
			"an account cannot refer itself", nil)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	referrals := db.NewReferralRepo(tx)
	lots := db.NewCreditLotRepo(tx)

	use := &types.ReferralUse{
		ID:         uuid.NewString(),
		ReferrerID: resolved.AccountID,
		ReferredID: referredID,
	}
	if err := referrals.CreateUse(ctx, use); err != nil {
		return err
	}

	if err := lots.Insert(ctx, &types.CreditLot{
		ID:        uuid.NewString(),
		AccountID: referredID,
		Balance:   s.signupCredits,
		Granted:   s.signupCredits,
		Source:    types.SourceSignupCredit,
	}); err != nil {
		return err
	}

	if err := lots.Insert(ctx, &types.CreditLot{
		ID:        uuid.NewString(),
		AccountID: resolved.AccountID,
		Balance:   s.referralCredits,
		Granted:   s.referralCredits,
		Source:    types.SourceReferralCredit,
	}); err != nil {
		return err
	}

	if err := referrals.MarkRewardGranted(ctx, use.ID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit referral reward", err)
	}

	s.logger.InfoContext(ctx, "referral reward granted",
		"referrer_id", resolved.AccountID,
		"referred_id", referredID,
		"code", code,
	)
	return nil
}

func randomCode() string {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the process is in a bad state.
		panic(err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
