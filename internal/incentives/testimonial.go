package incentives

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"reportly/internal/db"
	"reportly/internal/types"
)

// Reward sizes per testimonial type. Granted at submission time; moderation
// never claws them back.
const (
	WrittenReward = 1
	VideoReward   = 5
)

// TestimonialService handles testimonial submission and its credit reward.
type TestimonialService struct {
	pool         db.TxBeginner
	testimonials *db.TestimonialRepo
	logger       *slog.Logger
}

// NewTestimonialService creates the testimonial engine.
func NewTestimonialService(pool db.TxBeginner, testimonials *db.TestimonialRepo, logger *slog.Logger) *TestimonialService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TestimonialService{pool: pool, testimonials: testimonials, logger: logger}
}

// RewardFor returns the credit grant for a testimonial type.
func RewardFor(typ types.TestimonialType) int {
	if typ == types.TestimonialVideo {
		return VideoReward
	}
	return WrittenReward
}

// Submit stores a testimonial and grants its reward lot in one transaction.
// The existence pre-check gives duplicate submitters a fast answer; the
// unique constraint on (account, type) is the guard that holds under races,
// and both surface the same typed conflict.
func (s *TestimonialService) Submit(ctx context.Context, accountID string, typ types.TestimonialType, content string) (*types.Testimonial, error) {
	exists, err := s.testimonials.Exists(ctx, accountID, typ)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, types.NewAppError(types.ErrCodeConflictTestimonial,
			"a testimonial of this type has already been submitted", nil)
	}

	reward := RewardFor(typ)
	t := &types.Testimonial{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Type:           typ,
		Content:        content,
		Status:         types.TestimonialPending,
		CreditsGranted: reward,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := db.NewTestimonialRepo(tx).Insert(ctx, t); err != nil {
		return nil, err
	}

	if err := db.NewCreditLotRepo(tx).Insert(ctx, &types.CreditLot{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Balance:   reward,
		Granted:   reward,
		Source:    types.SourceTestimonialReward,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit testimonial", err)
	}

	s.logger.InfoContext(ctx, "testimonial reward granted",
		"account_id", accountID,
		"type", typ,
		"credits", reward,
	)
	return t, nil
}
