package db

import (
	"context"

	"github.com/jackc/pgx/v5"

	"reportly/internal/types"
)

// SupportRepo provides data access for support tickets and their message
// threads. Status transition rules live in the support service; this layer
// enforces them mechanically via expected-state guards on the UPDATE, so a
// concurrent transition loses cleanly instead of clobbering.
type SupportRepo struct {
	db DBTX
}

// NewSupportRepo creates a new SupportRepo backed by the given database
// connection (pool or transaction).
func NewSupportRepo(db DBTX) *SupportRepo {
	return &SupportRepo{db: db}
}

// CreateTicket inserts a ticket row. The opening message is appended
// separately inside the same transaction by the service.
func (r *SupportRepo) CreateTicket(ctx context.Context, t *types.SupportRequest) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO support_requests
		   (id, account_id, subject, status, close_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, '', NOW(), NOW())`,
		t.ID, t.AccountID, t.Subject, t.Status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create support ticket", err)
	}
	return nil
}

// GetTicket fetches one ticket.
func (r *SupportRepo) GetTicket(ctx context.Context, id string) (*types.SupportRequest, error) {
	var t types.SupportRequest
	err := r.db.QueryRow(ctx,
		`SELECT id, account_id, subject, status, close_reason, created_at, updated_at
		 FROM support_requests WHERE id = $1`,
		id,
	).Scan(&t.ID, &t.AccountID, &t.Subject, &t.Status, &t.CloseReason, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, types.NewAppError(types.ErrCodeNotFoundTicket, "support ticket not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch support ticket", err)
	}
	return &t, nil
}

// Transition moves the ticket between states, guarded by the set of states
// the caller considers legal origins. Returns false when the guard rejects
// (the ticket was not in any expected state), which the service maps to a
// typed conflict.
func (r *SupportRepo) Transition(
	ctx context.Context,
	id string,
	to types.SupportStatus,
	closeReason string,
	from ...types.SupportStatus,
) (bool, error) {
	origins := make([]string, len(from))
	for i, s := range from {
		origins[i] = string(s)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE support_requests
		 SET status = $1, close_reason = $2, updated_at = NOW()
		 WHERE id = $3 AND status = ANY($4)`,
		to, closeReason, id, origins,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to transition ticket", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AppendMessage adds one entry to the ticket thread.
func (r *SupportRepo) AppendMessage(ctx context.Context, m *types.SupportMessage) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO support_messages (id, request_id, sender, body, created_at)
		 VALUES ($1, $2, $3, $4, NOW())`,
		m.ID, m.RequestID, m.Sender, m.Body,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append support message", err)
	}
	return nil
}

// Messages returns the ticket thread in append order.
func (r *SupportRepo) Messages(ctx context.Context, requestID string) ([]types.SupportMessage, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, request_id, sender, body, created_at
		 FROM support_messages
		 WHERE request_id = $1
		 ORDER BY created_at ASC`,
		requestID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query support messages", err)
	}
	defer rows.Close()

	var out []types.SupportMessage
	for rows.Next() {
		var m types.SupportMessage
		if err := rows.Scan(&m.ID, &m.RequestID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan support message", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating support messages", err)
	}
	return out, nil
}

// ListVisibleForUser returns the account's tickets for the default view:
// every active ticket, plus resolved/closed tickets whose most recent
// message is from an admin (the user should see the reply before the thread
// disappears from the list).
func (r *SupportRepo) ListVisibleForUser(ctx context.Context, accountID string) ([]types.SupportRequest, error) {
	rows, err := r.db.Query(ctx,
		`SELECT t.id, t.account_id, t.subject, t.status, t.close_reason,
		        t.created_at, t.updated_at
		 FROM support_requests t
		 WHERE t.account_id = $1
		   AND (
		     t.status IN ($2, $3)
		     OR (
		       SELECT m.sender FROM support_messages m
		       WHERE m.request_id = t.id
		       ORDER BY m.created_at DESC
		       LIMIT 1
		     ) = $4
		   )
		 ORDER BY t.updated_at DESC`,
		accountID, types.SupportOpen, types.SupportInProgress, types.SenderAdmin,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list support tickets", err)
	}
	defer rows.Close()

	return scanTickets(rows)
}

// ListAll returns every ticket, newest activity first. Admin back-office view.
func (r *SupportRepo) ListAll(ctx context.Context) ([]types.SupportRequest, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, account_id, subject, status, close_reason, created_at, updated_at
		 FROM support_requests
		 ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list support tickets", err)
	}
	defer rows.Close()

	return scanTickets(rows)
}

func scanTickets(rows pgx.Rows) ([]types.SupportRequest, error) {
	var out []types.SupportRequest
	for rows.Next() {
		var t types.SupportRequest
		if err := rows.Scan(
			&t.ID, &t.AccountID, &t.Subject, &t.Status, &t.CloseReason,
			&t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan support ticket", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating support tickets", err)
	}
	return out, nil
}
