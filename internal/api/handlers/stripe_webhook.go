// Package handlers contains the HTTP handler implementations for the
// Reportly API.
//
// The Stripe webhook handler is NOT behind auth middleware; it is called
// directly by Stripe. Security comes from verifying the Stripe-Signature
// header with HMAC-SHA256.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"reportly/internal/archive"
	"reportly/internal/billing"
	"reportly/internal/core"
	"reportly/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a webhook payload (64 KB).
const maxWebhookBodySize = 64 * 1024

// WebhookVerifier validates a webhook payload signature.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// CustomerResolver maps the processor's customer id to the local account.
type CustomerResolver interface {
	GetByStripeCustomer(ctx context.Context, customerID string) (*types.Account, error)
}

// SubscriptionMirror applies subscription lifecycle events to the local
// mirror.
type SubscriptionMirror interface {
	Upsert(ctx context.Context, sub *types.Subscription, cycleCap int) (applied bool, err error)
	MarkCancelled(ctx context.Context, subID string, eventAt time.Time) error
	MarkPastDue(ctx context.Context, subID string, eventAt time.Time) (accountID string, applied bool, err error)
}

// LotGranter creates credit lots keyed by an idempotency reference.
type LotGranter interface {
	InsertIdempotent(ctx context.Context, lot *types.CreditLot) (created bool, err error)
}

// EventArchiver stores compressed raw payloads for manual replay.
type EventArchiver interface {
	Store(ctx context.Context, eventID, eventType string, compressed []byte) error
}

// PaymentNotifier sends the billing-related emails. Fire-and-forget.
type PaymentNotifier interface {
	PaymentConfirmed(ctx context.Context, accountID, amountLabel string)
	PaymentFailed(ctx context.Context, accountID string)
}

// WebhookMetrics records per-event telemetry.
type WebhookMetrics interface {
	RecordWebhookEvent(ctx context.Context, eventType, result string, duration time.Duration)
}

// Stripe webhook event types this handler acts on.
const (
	eventCheckoutCompleted = "checkout.session.completed"
	eventSubCreated        = "customer.subscription.created"
	eventSubUpdated        = "customer.subscription.updated"
	eventSubDeleted        = "customer.subscription.deleted"
	eventPaymentFailed     = "invoice.payment_failed"
)

// StripeWebhookHandler ingests asynchronous billing events and reconciles
// them into local state. Every reconciliation path is idempotent, so Stripe
// retries and replays are safe.
type StripeWebhookHandler struct {
	verifier WebhookVerifier
	accounts CustomerResolver
	subs     SubscriptionMirror
	lots     LotGranter
	archiver EventArchiver
	notifier PaymentNotifier
	metrics  WebhookMetrics
	secrets  []string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates the webhook handler. secrets holds the
// active signing secrets, newest first; during secret rotation both old and
// new are accepted.
func NewStripeWebhookHandler(
	verifier WebhookVerifier,
	accounts CustomerResolver,
	subs SubscriptionMirror,
	lots LotGranter,
	archiver EventArchiver,
	notifier PaymentNotifier,
	metrics WebhookMetrics,
	secrets []string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		accounts: accounts,
		subs:     subs,
		lots:     lots,
		archiver: archiver,
		notifier: notifier,
		metrics:  metrics,
		secrets:  secrets,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Kept separate from the
// authenticated API routes because this route is public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes one webhook delivery:
//
//  1. Read the raw body and verify the Stripe-Signature header against each
//     configured secret.
//  2. Archive the compressed payload (best effort).
//  3. Route by event type and reconcile local state.
//  4. Respond 200 {"received": true} on success or on events this service
//     ignores; 400 on signature or metadata problems (retrying cannot help);
//     5xx on desync or storage failures (retrying can help).
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookBadSignature, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookBadSignature, "missing Stripe-Signature header", nil))
		return
	}

	if !h.verifyAnySecret(payload, sigHeader) {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookBadSignature, "webhook signature verification failed", nil))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookBadSignature, "invalid webhook event JSON", err))
		return
	}

	h.archivePayload(r.Context(), &event, payload)

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		h.recordMetric(r.Context(), event.Type, "error", start)
		core.Error(w, r, err)
		return
	}

	h.recordMetric(r.Context(), event.Type, "ok", start)
	core.JSON(w, r, http.StatusOK, map[string]bool{"received": true})
}

// verifyAnySecret checks the signature against every configured secret so a
// rotation window never drops deliveries.
func (h *StripeWebhookHandler) verifyAnySecret(payload []byte, sigHeader string) bool {
	for _, secret := range h.secrets {
		if err := h.verifier.Verify(payload, sigHeader, secret); err == nil {
			return true
		}
	}
	return false
}

func (h *StripeWebhookHandler) archivePayload(ctx context.Context, event *stripeWebhookEvent, payload []byte) {
	compressed, err := archive.Compress(payload)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to compress webhook payload",
			"event_id", event.ID, "error", err)
		return
	}
	if err := h.archiver.Store(ctx, event.ID, event.Type, compressed); err != nil {
		h.logger.WarnContext(ctx, "failed to archive webhook payload",
			"event_id", event.ID, "error", err)
	}
}

func (h *StripeWebhookHandler) recordMetric(ctx context.Context, eventType, result string, start time.Time) {
	if h.metrics != nil {
		h.metrics.RecordWebhookEvent(ctx, eventType, result, time.Since(start))
	}
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case eventCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)

	case eventSubCreated, eventSubUpdated:
		return h.handleSubscriptionEvent(ctx, event)

	case eventSubDeleted:
		return h.handleSubscriptionDeleted(ctx, event)

	case eventPaymentFailed:
		return h.handlePaymentFailed(ctx, event)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleCheckoutCompleted grants the purchased credit pack. Subscription
// checkouts are acknowledged without action because the subscription
// lifecycle events carry the authoritative state.
//
// The checkout session id is the idempotency key: a replayed delivery hits
// the unique index on external_ref and grants nothing.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	var session stripeCheckoutSessionObj
	if err := event.decodeObject(&session); err != nil {
		return types.NewAppError(types.ErrCodeWebhookBadSignature,
			"malformed checkout session object", err)
	}

	priceID := session.Metadata["price_id"]
	if session.Mode == "subscription" || billing.IsSubscriptionPrice(priceID) {
		h.logger.InfoContext(ctx, "subscription checkout acknowledged; lifecycle events carry state",
			"event_id", event.ID, "session_id", session.ID)
		return nil
	}

	accountID := session.ClientReferenceID
	if accountID == "" {
		accountID = session.Metadata["account_id"]
	}
	if accountID == "" {
		return types.NewAppError(types.ErrCodeWebhookMissingMetadata,
			"checkout session carries no account reference", nil)
	}

	if priceID == "" {
		// No price id means the session was created without the metadata this
		// service requires; retrying the delivery cannot fix that.
		return types.NewAppError(types.ErrCodeWebhookMissingMetadata,
			"checkout session carries no price id", nil)
	}

	pack, ok := billing.PackForPrice(priceID)
	if !ok {
		return types.NewAppError(types.ErrCodeDesyncUnknownPrice,
			"checkout price is not in the pack catalog: "+priceID, nil)
	}

	expiresAt := event.eventTimestamp().Add(billing.PackExpiry)
	externalRef := session.ID
	created, err := h.lots.InsertIdempotent(ctx, &types.CreditLot{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		Balance:     pack.Credits,
		Granted:     pack.Credits,
		Source:      pack.Source,
		ExternalRef: &externalRef,
		ExpiresAt:   &expiresAt,
	})
	if err != nil {
		return err
	}
	if !created {
		h.logger.InfoContext(ctx, "replayed checkout delivery; lot already granted",
			"event_id", event.ID, "session_id", session.ID)
		return nil
	}

	h.logger.InfoContext(ctx, "credit pack granted",
		"account_id", accountID,
		"source", string(pack.Source),
		"credits", pack.Credits,
		"session_id", session.ID,
	)
	h.notifier.PaymentConfirmed(ctx, accountID, pack.AmountLabel)
	return nil
}

// handleSubscriptionEvent reconciles created/updated lifecycle events into
// the mirror. The optimistic lock on last_event_at inside Upsert makes
// out-of-order deliveries harmless; the payment-confirmation email is gated
// on applied so a replay never re-sends it.
func (h *StripeWebhookHandler) handleSubscriptionEvent(ctx context.Context, event *stripeWebhookEvent) error {
	var sub stripeSubscriptionObj
	if err := event.decodeObject(&sub); err != nil {
		return types.NewAppError(types.ErrCodeWebhookBadSignature,
			"malformed subscription object", err)
	}
	if sub.Customer == "" {
		return types.NewAppError(types.ErrCodeWebhookMissingMetadata,
			"subscription event carries no customer id", nil)
	}

	account, err := h.accounts.GetByStripeCustomer(ctx, sub.Customer)
	if err != nil {
		return err
	}

	if len(sub.Items.Data) == 0 {
		return types.NewAppError(types.ErrCodeWebhookMissingMetadata,
			"subscription event carries no items", nil)
	}
	item := sub.Items.Data[0]

	plan, ok := billing.PlanForPrice(item.Price.ID)
	if !ok {
		return types.NewAppError(types.ErrCodeDesyncUnknownPrice,
			"subscription price is not in the plan catalog: "+item.Price.ID, nil)
	}

	// Item-level period is authoritative when present; older payload shapes
	// only carry it on the subscription.
	periodStart, periodEnd := item.CurrentPeriodStart, item.CurrentPeriodEnd
	if periodStart == 0 {
		periodStart, periodEnd = sub.CurrentPeriodStart, sub.CurrentPeriodEnd
	}

	mirror := &types.Subscription{
		ID:                sub.ID,
		AccountID:         account.ID,
		Plan:              plan.Tier,
		AmountLabel:       plan.AmountLabel,
		Status:            mapSubscriptionStatus(sub.Status),
		PeriodStart:       time.Unix(periodStart, 0).UTC(),
		PeriodEnd:         time.Unix(periodEnd, 0).UTC(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CreditsRemaining:  plan.CycleCap,
		LastEventAt:       event.eventTimestamp(),
	}

	applied, err := h.subs.Upsert(ctx, mirror, plan.CycleCap)
	if err != nil {
		return err
	}

	if applied && event.Type == eventSubCreated && mirror.Status == types.SubStatusActive {
		h.notifier.PaymentConfirmed(ctx, account.ID, plan.AmountLabel)
	}
	return nil
}

// handleSubscriptionDeleted marks the mirror row terminally cancelled.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripeWebhookEvent) error {
	var sub stripeSubscriptionObj
	if err := event.decodeObject(&sub); err != nil {
		return types.NewAppError(types.ErrCodeWebhookBadSignature,
			"malformed subscription object", err)
	}
	return h.subs.MarkCancelled(ctx, sub.ID, event.eventTimestamp())
}

// handlePaymentFailed flags the subscription past_due and warns the owner.
// The warning email is gated on applied so a replayed delivery never
// re-sends it. An unknown subscription id surfaces as a desync 5xx with no
// partial writes, forcing Stripe to retry once local state catches up.
func (h *StripeWebhookHandler) handlePaymentFailed(ctx context.Context, event *stripeWebhookEvent) error {
	var invoice stripeInvoiceObj
	if err := event.decodeObject(&invoice); err != nil {
		return types.NewAppError(types.ErrCodeWebhookBadSignature,
			"malformed invoice object", err)
	}
	subID := invoice.SubscriptionID()
	if subID == "" {
		return types.NewAppError(types.ErrCodeWebhookMissingMetadata,
			"invoice event carries no subscription id", nil)
	}

	accountID, applied, err := h.subs.MarkPastDue(ctx, subID, event.eventTimestamp())
	if err != nil {
		return err
	}
	if !applied {
		h.logger.InfoContext(ctx, "replayed payment-failed delivery; mirror already up to date",
			"subscription_id", subID,
			"account_id", accountID,
		)
		return nil
	}

	h.logger.WarnContext(ctx, "subscription payment failed",
		"subscription_id", subID,
		"account_id", accountID,
	)
	h.notifier.PaymentFailed(ctx, accountID)
	return nil
}

// Minimal Stripe event shapes. The full stripe.Event type is deliberately
// not used: these structs pin down exactly the fields reconciliation reads,
// and tests can build them directly.

type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

func (e *stripeWebhookEvent) decodeObject(dst any) error {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return err
	}
	return json.Unmarshal(data.Object, dst)
}

// eventTimestamp returns the event's created timestamp.
func (e *stripeWebhookEvent) eventTimestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

type stripeCheckoutSessionObj struct {
	ID                string            `json:"id"`
	Mode              string            `json:"mode"`
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Metadata          map[string]string `json:"metadata"`
}

type stripeSubscriptionObj struct {
	ID                 string         `json:"id"`
	Customer           string         `json:"customer"`
	Status             string         `json:"status"`
	CancelAtPeriodEnd  bool           `json:"cancel_at_period_end"`
	CurrentPeriodStart int64          `json:"current_period_start"`
	CurrentPeriodEnd   int64          `json:"current_period_end"`
	Items              stripeSubItems `json:"items"`
}

type stripeSubItems struct {
	Data []stripeSubItem `json:"data"`
}

type stripeSubItem struct {
	Price              stripeSubPrice `json:"price"`
	CurrentPeriodStart int64          `json:"current_period_start"`
	CurrentPeriodEnd   int64          `json:"current_period_end"`
}

type stripeSubPrice struct {
	ID string `json:"id"`
}

type stripeInvoiceObj struct {
	Subscription string             `json:"subscription"`
	Parent       *stripeInvoiceSub  `json:"parent"`
	Lines        *stripeInvoiceLines `json:"lines"`
}

type stripeInvoiceSub struct {
	SubscriptionDetails *stripeSubDetails `json:"subscription_details"`
}

type stripeSubDetails struct {
	Subscription string `json:"subscription"`
}

type stripeInvoiceLines struct {
	Data []stripeInvoiceLine `json:"data"`
}

type stripeInvoiceLine struct {
	Subscription string `json:"subscription"`
}

// SubscriptionID digs the subscription id out of whichever payload shape the
// API version delivered.
func (i *stripeInvoiceObj) SubscriptionID() string {
	if i.Subscription != "" {
		return i.Subscription
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil && i.Parent.SubscriptionDetails.Subscription != "" {
		return i.Parent.SubscriptionDetails.Subscription
	}
	if i.Lines != nil {
		for _, line := range i.Lines.Data {
			if line.Subscription != "" {
				return line.Subscription
			}
		}
	}
	return ""
}

// mapSubscriptionStatus converts Stripe's status string to the domain enum.
// Stripe spells it "canceled"; the domain uses "cancelled".
func mapSubscriptionStatus(status string) types.SubscriptionStatus {
	switch status {
	case "active":
		return types.SubStatusActive
	case "trialing":
		return types.SubStatusTrialing
	case "past_due":
		return types.SubStatusPastDue
	case "canceled":
		return types.SubStatusCancelled
	case "incomplete":
		return types.SubStatusIncomplete
	case "incomplete_expired":
		return types.SubStatusIncompleteExpired
	case "unpaid":
		return types.SubStatusUnpaid
	default:
		return types.SubscriptionStatus(status)
	}
}
