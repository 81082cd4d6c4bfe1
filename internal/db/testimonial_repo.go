package db

import (
	"context"

	"reportly/internal/types"
)

// TestimonialRepo provides data access for the testimonials table.
//
// The unique constraint on (account_id, type) is the authoritative duplicate
// guard: two simultaneous submissions race past any existence pre-check, and
// only the constraint decides the winner.
type TestimonialRepo struct {
	db DBTX
}

// NewTestimonialRepo creates a new TestimonialRepo backed by the given
// database connection (pool or transaction).
func NewTestimonialRepo(db DBTX) *TestimonialRepo {
	return &TestimonialRepo{db: db}
}

// Exists reports whether the account already submitted a testimonial of this
// type. UX fast path only; Insert remains the correctness guard.
func (r *TestimonialRepo) Exists(ctx context.Context, accountID string, typ types.TestimonialType) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM testimonials WHERE account_id = $1 AND type = $2
		 )`,
		accountID, typ,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check testimonial existence", err)
	}
	return exists, nil
}

// Insert stores a new testimonial. A unique violation is translated into the
// same typed conflict the pre-check produces, so callers present one
// "already submitted" error regardless of which guard fired.
func (r *TestimonialRepo) Insert(ctx context.Context, t *types.Testimonial) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO testimonials
		   (id, account_id, type, content, status, credits_granted,
		    admin_note, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '', NOW(), NOW())`,
		t.ID, t.AccountID, t.Type, t.Content, t.Status, t.CreditsGranted,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictTestimonial,
				"a testimonial of this type has already been submitted", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert testimonial", err)
	}
	return nil
}

// UpdateModeration sets the moderation outcome and admin note. Moderation
// never touches the credit reward granted at submission time.
func (r *TestimonialRepo) UpdateModeration(ctx context.Context, id string, status types.TestimonialStatus, note string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE testimonials
		 SET status = $1, admin_note = $2, updated_at = NOW()
		 WHERE id = $3`,
		status, note, id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update testimonial", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "testimonial not found", nil)
	}
	return nil
}

// ListByAccount returns the account's testimonials, newest first.
func (r *TestimonialRepo) ListByAccount(ctx context.Context, accountID string) ([]types.Testimonial, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, type, content, status, credits_granted,
		        admin_note, created_at, updated_at
		 FROM testimonials
		 WHERE account_id = $1
		 ORDER BY created_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list testimonials", err)
	}
	defer rows.Close()

	var out []types.Testimonial
	for rows.Next() {
		var t types.Testimonial
		if err := rows.Scan(
			&t.ID, &t.AccountID, &t.Type, &t.Content, &t.Status,
			&t.CreditsGranted, &t.AdminNote, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan testimonial", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating testimonials", err)
	}
	return out, nil
}
