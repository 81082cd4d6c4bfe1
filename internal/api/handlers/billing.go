package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"reportly/internal/billing"
	"reportly/internal/core"
	"reportly/internal/entitlement"
	"reportly/internal/types"
)

// CheckoutProvider is the payment processor surface the billing routes need.
type CheckoutProvider interface {
	CreateSubscriptionCheckout(ctx context.Context, accountID string, plan types.PlanTier, successURL, cancelURL string) (checkoutURL, sessionID string, err error)
	CreatePackCheckout(ctx context.Context, accountID string, source types.CreditSource, successURL, cancelURL string) (checkoutURL, sessionID string, err error)
	CreatePortalSession(ctx context.Context, accountID, returnURL string) (string, error)
}

// SnapshotLoader reads the entitlement state for the balance summary.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, accountID string) (entitlement.Snapshot, error)
}

// BillingHandler implements checkout, portal, and balance summary routes.
type BillingHandler struct {
	server   *core.Server
	checkout CheckoutProvider
	ledger   SnapshotLoader
	appURL   string
	logger   *slog.Logger
}

// NewBillingHandler creates the billing handler.
func NewBillingHandler(server *core.Server, checkout CheckoutProvider, ledger SnapshotLoader, appURL string, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{
		server:   server,
		checkout: checkout,
		ledger:   ledger,
		appURL:   appURL,
		logger:   logger,
	}
}

// RegisterRoutes mounts the authenticated billing routes.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout", h.Checkout)
	r.Post("/billing/portal", h.Portal)
	r.Get("/billing/summary", h.Summary)
}

// checkoutRequest selects either a subscription plan or a one-time credit
// pack. Exactly one of the two fields must be set.
type checkoutRequest struct {
	Plan string `json:"plan" validate:"omitempty,oneof=starter growth agency"`
	Pack string `json:"pack" validate:"omitempty,oneof=purchase_pack_a purchase_pack_b"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// Checkout handles POST /billing/checkout: creates a hosted checkout session
// for a plan or a pack and returns the redirect URL.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req checkoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if (req.Plan == "") == (req.Pack == "") {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField,
			"exactly one of plan or pack must be set", nil))
		return
	}

	successURL := h.appURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"
	cancelURL := h.appURL + "/billing/cancelled"

	var (
		checkoutURL string
		sessionID   string
		err         error
	)
	if req.Plan != "" {
		checkoutURL, sessionID, err = h.checkout.CreateSubscriptionCheckout(
			r.Context(), actor.AccountID, types.PlanTier(req.Plan), successURL, cancelURL)
	} else {
		checkoutURL, sessionID, err = h.checkout.CreatePackCheckout(
			r.Context(), actor.AccountID, types.CreditSource(req.Pack), successURL, cancelURL)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"account_id", actor.AccountID,
		"session_id", sessionID,
		"plan", req.Plan,
		"pack", req.Pack,
	)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: checkoutResponse{
		CheckoutURL: checkoutURL,
		SessionID:   sessionID,
	}})
}

type portalResponse struct {
	PortalURL string `json:"portal_url"`
}

// Portal handles POST /billing/portal: returns a self-service billing portal
// URL. Accounts with no billing history get a 404.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	portalURL, err := h.checkout.CreatePortalSession(r.Context(), actor.AccountID, h.appURL+"/account")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: portalResponse{PortalURL: portalURL}})
}

// billingSummaryResponse is the account's funding picture in one read.
type billingSummaryResponse struct {
	Plan              string     `json:"plan"`
	PlanLabel         string     `json:"plan_label"`
	Status            string     `json:"status,omitempty"`
	PeriodEnd         *time.Time `json:"period_end,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end,omitempty"`
	CycleRemaining    int        `json:"cycle_credits_remaining"`
	LotCredits        int        `json:"lot_credits"`
	Unlimited         bool       `json:"unlimited"`
	OverridePlan      string     `json:"override_plan,omitempty"`
	OverrideExpiresAt *time.Time `json:"override_expires_at,omitempty"`
}

// Summary handles GET /billing/summary.
func (h *BillingHandler) Summary(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	snap, err := h.ledger.LoadSnapshot(r.Context(), actor.AccountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := billingSummaryResponse{
		Plan:      string(types.PlanFree),
		PlanLabel: billing.PlanFor(types.PlanFree).AmountLabel,
		Unlimited: snap.Account.Role.Unlimited(),
	}

	if sub := snap.Subscription; sub != nil {
		spec := billing.PlanFor(sub.Plan)
		out.Plan = string(sub.Plan)
		out.PlanLabel = spec.AmountLabel
		out.Status = string(sub.Status)
		periodEnd := sub.PeriodEnd
		out.PeriodEnd = &periodEnd
		out.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		out.CycleRemaining = sub.CreditsRemaining
	}

	if o := snap.Account.PlanOverride; o.ActiveAt(snap.Now) {
		out.OverridePlan = string(o.Plan)
		expires := o.ExpiresAt
		out.OverrideExpiresAt = &expires
	}

	// Unrestricted total; product-restricted lots are included because the
	// summary shows everything the account holds, not one product's view.
	for _, lot := range snap.Lots {
		if !lot.Expired(snap.Now) {
			out.LotCredits += lot.Balance
		}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}
