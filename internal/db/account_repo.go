package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"reportly/internal/types"
)

// AccountRepo provides data access for the accounts table.
//
// Accounts are created at signup (or silently provisioned for frictionless
// guest submissions), mutated by the owning user or an admin, and
// soft-disabled via suspension rather than deleted. Phone numbers are
// globally unique across active accounts; the partial unique index is the
// authoritative guard.
type AccountRepo struct {
	db DBTX
}

// NewAccountRepo creates a new AccountRepo backed by the given database
// connection (pool or transaction).
func NewAccountRepo(db DBTX) *AccountRepo {
	return &AccountRepo{db: db}
}

const accountColumns = `id, email, display_name, phone, role, plan_override,
	marketing_consent, stripe_customer_id, suspended, created_at, updated_at`

// scanAccount scans one account row, decoding the plan_override JSONB column.
func scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	var overrideJSON []byte
	err := row.Scan(
		&a.ID, &a.Email, &a.DisplayName, &a.Phone, &a.Role, &overrideJSON,
		&a.MarketingConsent, &a.StripeCustomerID, &a.Suspended,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(overrideJSON) > 0 {
		var o types.PlanOverride
		if err := json.Unmarshal(overrideJSON, &o); err != nil {
			return nil, fmt.Errorf("decoding plan_override: %w", err)
		}
		a.PlanOverride = &o
	}
	return &a, nil
}

// GetByID fetches one account.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	a, err := scanAccount(row)
	if err == pgx.ErrNoRows {
		return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch account", err)
	}
	return a, nil
}

// GetByEmail fetches one account by email, or nil if none exists.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	a, err := scanAccount(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch account by email", err)
	}
	return a, nil
}

// GetByStripeCustomer resolves an account from the payment processor's
// customer id. Failure to resolve is an external desync, not a 404: the
// webhook references billing state this system does not know about, and the
// 5xx forces the processor to retry once local state catches up.
func (r *AccountRepo) GetByStripeCustomer(ctx context.Context, customerID string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1`, customerID)
	a, err := scanAccount(row)
	if err == pgx.ErrNoRows {
		return nil, types.NewAppError(
			types.ErrCodeDesyncUnknownCustomer,
			fmt.Sprintf("no local account for stripe customer %s", customerID),
			nil,
		)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to resolve stripe customer", err)
	}
	return a, nil
}

// Create inserts a new account. A duplicate phone number surfaces as a
// conflict; a duplicate email for a guest-provisioned account is the
// duplicate-guest-signup conflict the submission handler maps to 409.
func (r *AccountRepo) Create(ctx context.Context, a *types.Account) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO accounts
		   (id, email, display_name, phone, role, marketing_consent,
		    stripe_customer_id, suspended, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, false, NOW(), NOW())`,
		a.ID, a.Email, a.DisplayName, a.Phone, a.Role, a.MarketingConsent,
		a.StripeCustomerID,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictGuestSignup,
				"an account with this email or phone already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create account", err)
	}
	return nil
}

// UpdateRole sets the account role.
func (r *AccountRepo) UpdateRole(ctx context.Context, id string, role types.Role) error {
	return r.execOne(ctx,
		`UPDATE accounts SET role = $1, updated_at = NOW() WHERE id = $2`,
		role, id)
}

// SetPlanOverride stores (or clears, when override is nil) the time-boxed
// plan override.
func (r *AccountRepo) SetPlanOverride(ctx context.Context, id string, override *types.PlanOverride) error {
	var payload []byte
	if override != nil {
		var err error
		payload, err = json.Marshal(override)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode plan override", err)
		}
	}
	return r.execOne(ctx,
		`UPDATE accounts SET plan_override = $1, updated_at = NOW() WHERE id = $2`,
		payload, id)
}

// UpdateContact sets email and phone. The partial unique index on phone
// (active accounts only) is the authoritative uniqueness guard.
func (r *AccountRepo) UpdateContact(ctx context.Context, id string, email string, phone *string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE accounts SET email = $1, phone = $2, updated_at = NOW() WHERE id = $3`,
		email, phone, id)
	if err != nil {
		if IsUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictPhoneInUse,
				"phone number is already in use by another account", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update contact details", err)
	}
	return nil
}

// SetSuspended toggles the suspension flag. Suspension is a business-state
// flag owned upstream by the auth collaborator; this mirrors it locally.
func (r *AccountRepo) SetSuspended(ctx context.Context, id string, suspended bool) error {
	return r.execOne(ctx,
		`UPDATE accounts SET suspended = $1, updated_at = NOW() WHERE id = $2`,
		suspended, id)
}

// SetStripeCustomerID records the processor's customer id after first billing
// contact.
func (r *AccountRepo) SetStripeCustomerID(ctx context.Context, id string, customerID string) error {
	return r.execOne(ctx,
		`UPDATE accounts SET stripe_customer_id = $1, updated_at = NOW() WHERE id = $2`,
		customerID, id)
}

// SetMagicLinkHash stores the bcrypt hash of a guest account's setup token.
func (r *AccountRepo) SetMagicLinkHash(ctx context.Context, id string, hash []byte) error {
	return r.execOne(ctx,
		`UPDATE accounts SET magic_link_hash = $1, updated_at = NOW() WHERE id = $2`,
		hash, id)
}

// Delete removes the account row. Cascades (auth identity, report history)
// are owned by external collaborators.
func (r *AccountRepo) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, `DELETE FROM accounts WHERE id = $1`, id)
}

// execOne runs a statement that must affect exactly one account row.
func (r *AccountRepo) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "account update failed", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return nil
}

// HasPurchasedCredits reports whether the account has ever held a
// purchase-sourced credit lot, expired or not. Used to choose the upgrade
// prompt on entitlement denial.
func (r *AccountRepo) HasPurchasedCredits(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM credit_lots
		   WHERE account_id = $1 AND source IN ($2, $3)
		 )`,
		id, types.SourcePurchasePackA, types.SourcePurchasePackB,
	).Scan(&exists)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to check purchase history", err)
	}
	return exists, nil
}
