// Package support implements the ticket lifecycle: open, admin progress,
// resolve or close by either party (close with a reason), and user-initiated
// reopen. Messages are an append-only thread attached to the ticket.
package support

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"reportly/internal/db"
	"reportly/internal/types"
)

// MinCloseReasonLen is the shortest accepted close reason.
const MinCloseReasonLen = 10

// Notifier delivers the ticket-update email. Fire-and-forget; delivery
// failures are logged, never surfaced to the ticket flow.
type Notifier interface {
	SupportUpdate(ctx context.Context, accountID, subject, event string)
}

// Service coordinates ticket state transitions and thread access.
type Service struct {
	pool     db.TxBeginner
	tickets  *db.SupportRepo
	notifier Notifier
	logger   *slog.Logger
}

// NewService creates the support service.
func NewService(pool db.TxBeginner, tickets *db.SupportRepo, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, tickets: tickets, notifier: notifier, logger: logger}
}

// Open creates a ticket with its opening message in one transaction.
func (s *Service) Open(ctx context.Context, accountID, subject, body string) (*types.SupportRequest, error) {
	t := &types.SupportRequest{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Subject:   subject,
		Status:    types.SupportOpen,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	repo := db.NewSupportRepo(tx)
	if err := repo.CreateTicket(ctx, t); err != nil {
		return nil, err
	}
	if err := repo.AppendMessage(ctx, &types.SupportMessage{
		ID:        uuid.NewString(),
		RequestID: t.ID,
		Sender:    types.SenderUser,
		Body:      body,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit ticket", err)
	}
	return t, nil
}

// Reply appends a message to the thread. Users may only write to their own
// tickets; a user reply to a resolved or closed ticket is rejected (they
// reopen first). An admin reply never changes the ticket status and notifies
// the ticket owner.
func (s *Service) Reply(ctx context.Context, actor types.Actor, ticketID, body string) (*types.SupportMessage, error) {
	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	sender := types.SenderUser
	if actor.IsAdmin() {
		sender = types.SenderAdmin
	} else {
		if t.AccountID != actor.AccountID {
			return nil, types.NewAppError(types.ErrCodePermissionOwnership, "not your ticket", nil)
		}
		if !t.Status.Active() {
			return nil, types.NewAppError(types.ErrCodeConflictTicketState,
				"ticket is not active; reopen it to continue the conversation", nil)
		}
	}

	m := &types.SupportMessage{
		ID:        uuid.NewString(),
		RequestID: ticketID,
		Sender:    sender,
		Body:      body,
	}
	if err := s.tickets.AppendMessage(ctx, m); err != nil {
		return nil, err
	}

	if sender == types.SenderAdmin {
		s.notifier.SupportUpdate(ctx, t.AccountID, t.Subject, "reply")
	}
	return m, nil
}

// Start moves an open ticket to in_progress. Admin only (enforced at the
// route); the state guard rejects anything but open.
func (s *Service) Start(ctx context.Context, ticketID string) error {
	return s.transition(ctx, ticketID, types.SupportInProgress, "", types.SupportOpen)
}

// Resolve marks an active ticket resolved. Either party may resolve: admins
// any ticket, users only their own.
func (s *Service) Resolve(ctx context.Context, actor types.Actor, ticketID string) error {
	if err := s.requireOwnership(ctx, actor, ticketID); err != nil {
		return err
	}
	if err := s.transition(ctx, ticketID, types.SupportResolved, "",
		types.SupportOpen, types.SupportInProgress); err != nil {
		return err
	}
	s.notifyOwner(ctx, ticketID, "resolved")
	return nil
}

// Close closes an active or resolved ticket with a mandatory reason. Either
// party may close: admins any ticket, users only their own.
func (s *Service) Close(ctx context.Context, actor types.Actor, ticketID, reason string) error {
	if len(strings.TrimSpace(reason)) < MinCloseReasonLen {
		return types.NewAppError(types.ErrCodeValidationReasonLength,
			"close reason must be at least 10 characters", nil)
	}
	if err := s.requireOwnership(ctx, actor, ticketID); err != nil {
		return err
	}
	if err := s.transition(ctx, ticketID, types.SupportClosed, reason,
		types.SupportOpen, types.SupportInProgress, types.SupportResolved); err != nil {
		return err
	}
	s.notifyOwner(ctx, ticketID, "closed")
	return nil
}

// Reopen moves a resolved or closed ticket back to open. Only the ticket
// owner may reopen; admins resolve or close, they do not reopen on the
// user's behalf.
func (s *Service) Reopen(ctx context.Context, actor types.Actor, ticketID string) error {
	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.AccountID != actor.AccountID {
		return types.NewAppError(types.ErrCodePermissionOwnership, "not your ticket", nil)
	}
	return s.transition(ctx, ticketID, types.SupportOpen, "",
		types.SupportResolved, types.SupportClosed)
}

// Thread returns the ticket and its full message thread. Users see only
// their own tickets.
func (s *Service) Thread(ctx context.Context, actor types.Actor, ticketID string) (*types.SupportRequest, []types.SupportMessage, error) {
	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.IsAdmin() && t.AccountID != actor.AccountID {
		return nil, nil, types.NewAppError(types.ErrCodePermissionOwnership, "not your ticket", nil)
	}
	messages, err := s.tickets.Messages(ctx, ticketID)
	if err != nil {
		return nil, nil, err
	}
	return t, messages, nil
}

// ListForUser returns the account's default ticket view.
func (s *Service) ListForUser(ctx context.Context, accountID string) ([]types.SupportRequest, error) {
	return s.tickets.ListVisibleForUser(ctx, accountID)
}

// ListAll returns every ticket for the admin back office.
func (s *Service) ListAll(ctx context.Context) ([]types.SupportRequest, error) {
	return s.tickets.ListAll(ctx)
}

// requireOwnership rejects a non-admin actor touching someone else's ticket.
func (s *Service) requireOwnership(ctx context.Context, actor types.Actor, ticketID string) error {
	if actor.IsAdmin() {
		return nil
	}
	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.AccountID != actor.AccountID {
		return types.NewAppError(types.ErrCodePermissionOwnership, "not your ticket", nil)
	}
	return nil
}

func (s *Service) transition(ctx context.Context, ticketID string, to types.SupportStatus, reason string, from ...types.SupportStatus) error {
	ok, err := s.tickets.Transition(ctx, ticketID, to, reason, from...)
	if err != nil {
		return err
	}
	if !ok {
		// Distinguish a missing ticket from an illegal transition.
		if _, err := s.tickets.GetTicket(ctx, ticketID); err != nil {
			return err
		}
		return types.NewAppError(types.ErrCodeConflictTicketState,
			"ticket is not in a state that allows this transition", nil)
	}
	return nil
}

func (s *Service) notifyOwner(ctx context.Context, ticketID, event string) {
	t, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load ticket for notification",
			"ticket_id", ticketID, "error", err)
		return
	}
	s.notifier.SupportUpdate(ctx, t.AccountID, t.Subject, event)
}
