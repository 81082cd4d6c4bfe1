// Package notify renders and dispatches transactional email. Delivery is
// fire-and-forget: failures are logged and never block or fail the operation
// that triggered the notification.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reportly/internal/types"
)

// sendTimeout bounds a single delivery attempt once detached from the
// request context.
const sendTimeout = 15 * time.Second

// Sender is the email transport. Satisfied by external.SendGridClient.
type Sender interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
}

// AccountEmailLookup resolves the recipient address for an account id.
type AccountEmailLookup interface {
	GetByID(ctx context.Context, id string) (*types.Account, error)
}

// Notifier renders one template per NotificationKind and hands it to the
// Sender.
type Notifier struct {
	sender   Sender
	accounts AccountEmailLookup
	appURL   string
	logger   *slog.Logger
}

// NewNotifier creates a Notifier. appURL is the portal base URL used in
// email links.
func NewNotifier(sender Sender, accounts AccountEmailLookup, appURL string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sender: sender, accounts: accounts, appURL: appURL, logger: logger}
}

// Welcome greets a newly provisioned account.
func (n *Notifier) Welcome(ctx context.Context, accountID string) {
	n.sendToAccount(ctx, accountID, types.NotifyWelcome,
		"Welcome to Reportly",
		"Your Reportly account is ready. Sign in at "+n.appURL+" to run your first report.",
	)
}

// PaymentConfirmed confirms a successful purchase or new subscription.
// amountLabel is the display label from the price catalog.
func (n *Notifier) PaymentConfirmed(ctx context.Context, accountID, amountLabel string) {
	n.sendToAccount(ctx, accountID, types.NotifyPaymentConfirmed,
		"Payment confirmed",
		fmt.Sprintf("We received your payment (%s). Your credits are ready to use at %s.", amountLabel, n.appURL),
	)
}

// PaymentFailed warns that a renewal charge failed.
func (n *Notifier) PaymentFailed(ctx context.Context, accountID string) {
	n.sendToAccount(ctx, accountID, types.NotifyPaymentFailed,
		"Payment failed",
		"A renewal payment for your Reportly subscription failed. Update your payment method at "+n.appURL+"/billing to keep your reports running.",
	)
}

// MagicLinkSetup delivers the account-setup link for guest purchases. The
// recipient address is passed directly; the account may not be able to sign
// in yet.
func (n *Notifier) MagicLinkSetup(ctx context.Context, email, link string) {
	n.send(ctx, email, types.SendInput{
		To:      email,
		Kind:    types.NotifyMagicLinkSetup,
		Subject: "Finish setting up your Reportly account",
		BodyText: "Your report is on its way. Finish setting up your account to track it and manage your credits: " +
			link + "\n\nThis link expires in 24 hours.",
	})
}

// ReportsExhausted nudges an account whose last credit was just consumed.
func (n *Notifier) ReportsExhausted(ctx context.Context, accountID string) {
	n.sendToAccount(ctx, accountID, types.NotifyReportsExhausted,
		"You're out of report credits",
		"That was your last report credit. Top up or subscribe at "+n.appURL+"/billing to keep going.",
	)
}

// SupportUpdate tells the ticket owner about admin activity on their ticket.
// event is "reply", "resolved", or "closed".
func (n *Notifier) SupportUpdate(ctx context.Context, accountID, subject, event string) {
	var body string
	switch event {
	case "reply":
		body = fmt.Sprintf("Support replied to your ticket %q. View the conversation at %s/support.", subject, n.appURL)
	case "resolved":
		body = fmt.Sprintf("Your ticket %q has been marked resolved. If the issue persists you can reopen it at %s/support.", subject, n.appURL)
	default:
		body = fmt.Sprintf("Your ticket %q has been closed. You can reopen it at %s/support if needed.", subject, n.appURL)
	}
	n.sendToAccount(ctx, accountID, types.NotifySupportUpdate, "Update on your support ticket", body)
}

func (n *Notifier) sendToAccount(ctx context.Context, accountID string, kind types.NotificationKind, subject, body string) {
	account, err := n.accounts.GetByID(ctx, accountID)
	if err != nil {
		n.logger.WarnContext(ctx, "notification recipient lookup failed",
			"account_id", accountID, "kind", string(kind), "error", err)
		return
	}
	n.send(ctx, account.Email, types.SendInput{
		To:       account.Email,
		Kind:     kind,
		Subject:  subject,
		BodyText: body,
	})
}

func (n *Notifier) send(ctx context.Context, to string, input types.SendInput) {
	// Detach from the request context so a finished request cannot cancel
	// the delivery, but still bound the attempt.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	if _, err := n.sender.Send(sendCtx, input); err != nil {
		n.logger.WarnContext(ctx, "notification delivery failed",
			"to", to, "kind", string(input.Kind), "error", err)
		return
	}
	n.logger.InfoContext(ctx, "notification sent", "kind", string(input.Kind))
}
