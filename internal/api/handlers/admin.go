package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"reportly/internal/core"
	"reportly/internal/db"
	"reportly/internal/types"
)

// AdminAccountStore is the account access the back office needs.
type AdminAccountStore interface {
	GetByID(ctx context.Context, id string) (*types.Account, error)
	UpdateRole(ctx context.Context, id string, role types.Role) error
	SetPlanOverride(ctx context.Context, id string, override *types.PlanOverride) error
	UpdateContact(ctx context.Context, id string, email string, phone *string) error
	SetSuspended(ctx context.Context, id string, suspended bool) error
	Delete(ctx context.Context, id string) error
}

// AdminLotGranter inserts admin-granted credit lots.
type AdminLotGranter interface {
	Insert(ctx context.Context, lot *types.CreditLot) error
}

// AdminLotDeductor removes credits FIFO for admin corrections.
type AdminLotDeductor interface {
	Consume(ctx context.Context, accountID string, product types.ReportType, n int, now time.Time) ([]db.LotDebit, bool, error)
}

// TestimonialModerator updates testimonial moderation state.
type TestimonialModerator interface {
	UpdateModeration(ctx context.Context, id string, status types.TestimonialStatus, note string) error
}

// AdminHandler implements the back-office account and moderation routes.
// All routes are mounted behind the admin-role middleware.
type AdminHandler struct {
	server       *core.Server
	accounts     AdminAccountStore
	lots         AdminLotGranter
	deductor     AdminLotDeductor
	testimonials TestimonialModerator
	logger       *slog.Logger
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(
	server *core.Server,
	accounts AdminAccountStore,
	lots AdminLotGranter,
	deductor AdminLotDeductor,
	testimonials TestimonialModerator,
	logger *slog.Logger,
) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{
		server:       server,
		accounts:     accounts,
		lots:         lots,
		deductor:     deductor,
		testimonials: testimonials,
		logger:       logger,
	}
}

// RegisterRoutes mounts the admin routes.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/admin/accounts/{accountID}", h.GetAccount)
	r.Put("/admin/accounts/{accountID}/role", h.UpdateRole)
	r.Put("/admin/accounts/{accountID}/override", h.SetOverride)
	r.Delete("/admin/accounts/{accountID}/override", h.ClearOverride)
	r.Post("/admin/accounts/{accountID}/credits", h.AdjustCredits)
	r.Put("/admin/accounts/{accountID}/contact", h.UpdateContact)
	r.Put("/admin/accounts/{accountID}/suspend", h.SetSuspended)
	r.Delete("/admin/accounts/{accountID}", h.DeleteAccount)
	r.Put("/admin/testimonials/{testimonialID}", h.ModerateTestimonial)
}

type adminAccountResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	DisplayName      string     `json:"display_name,omitempty"`
	Phone            *string    `json:"phone,omitempty"`
	Role             string     `json:"role"`
	Suspended        bool       `json:"suspended"`
	StripeCustomerID string     `json:"stripe_customer_id,omitempty"`
	OverridePlan     string     `json:"override_plan,omitempty"`
	OverrideExpires  *time.Time `json:"override_expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// GetAccount handles GET /admin/accounts/{accountID}.
func (h *AdminHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.GetByID(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := adminAccountResponse{
		ID:               account.ID,
		Email:            account.Email,
		DisplayName:      account.DisplayName,
		Phone:            account.Phone,
		Role:             string(account.Role),
		Suspended:        account.Suspended,
		StripeCustomerID: account.StripeCustomerID,
		CreatedAt:        account.CreatedAt,
	}
	if o := account.PlanOverride; o != nil {
		out.OverridePlan = string(o.Plan)
		expires := o.ExpiresAt
		out.OverrideExpires = &expires
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}

type updateRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=user tester affiliate admin"`
}

// UpdateRole handles PUT /admin/accounts/{accountID}/role.
func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req updateRoleRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.accounts.UpdateRole(r.Context(), accountID, types.Role(req.Role)); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logAdminAction(r, "role updated", "account_id", accountID, "role", req.Role)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"role": req.Role}})
}

type setOverrideRequest struct {
	Plan      string    `json:"plan" validate:"required,oneof=free starter growth agency"`
	ExpiresAt time.Time `json:"expires_at" validate:"required"`
}

// SetOverride handles PUT /admin/accounts/{accountID}/override: a time-boxed
// substitution of the account's effective plan, independent of billing.
func (h *AdminHandler) SetOverride(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req setOverrideRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if !req.ExpiresAt.After(time.Now()) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField,
			"override expiry must be in the future", nil))
		return
	}

	override := &types.PlanOverride{Plan: types.PlanTier(req.Plan), ExpiresAt: req.ExpiresAt.UTC()}
	if err := h.accounts.SetPlanOverride(r.Context(), accountID, override); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logAdminAction(r, "plan override set",
		"account_id", accountID, "plan", req.Plan, "expires_at", override.ExpiresAt)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"plan":       req.Plan,
		"expires_at": override.ExpiresAt,
	}})
}

// ClearOverride handles DELETE /admin/accounts/{accountID}/override.
func (h *AdminHandler) ClearOverride(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	if err := h.accounts.SetPlanOverride(r.Context(), accountID, nil); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logAdminAction(r, "plan override cleared", "account_id", accountID)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"cleared": true}})
}

// adjustCreditsRequest grants (positive) or deducts (negative) credits. The
// note is mandatory; it is the only audit trail for manual adjustments.
type adjustCreditsRequest struct {
	Credits   int        `json:"credits" validate:"required"`
	Note      string     `json:"note" validate:"required,min=5,max=500"`
	Product   string     `json:"product" validate:"omitempty,oneof=seo_audit competitor_analysis keyword_gap"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// AdjustCredits handles POST /admin/accounts/{accountID}/credits. A grant
// creates a new admin-sourced lot; a deduction consumes FIFO and rejects
// rather than driving the balance negative. Deductions with no product come
// out of unrestricted lots only.
func (h *AdminHandler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req adjustCreditsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	// Existence check so adjustments against unknown accounts 404 instead of
	// silently inserting orphan lots.
	if _, err := h.accounts.GetByID(r.Context(), accountID); err != nil {
		core.Error(w, r, err)
		return
	}

	var product *types.ReportType
	if req.Product != "" {
		p := types.ReportType(req.Product)
		product = &p
	}

	if req.Credits > 0 {
		lot := &types.CreditLot{
			ID:        uuid.NewString(),
			AccountID: accountID,
			Balance:   req.Credits,
			Granted:   req.Credits,
			Source:    types.SourceAdminGrant,
			Product:   product,
			Note:      req.Note,
			ExpiresAt: req.ExpiresAt,
		}
		if err := h.lots.Insert(r.Context(), lot); err != nil {
			core.Error(w, r, err)
			return
		}
		h.logAdminAction(r, "credits granted",
			"account_id", accountID, "credits", req.Credits, "note", req.Note)
		core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: map[string]any{
			"lot_id":  lot.ID,
			"credits": req.Credits,
		}})
		return
	}

	deductProduct := types.ReportType("")
	if product != nil {
		deductProduct = *product
	}
	debits, insufficient, err := h.deductor.Consume(r.Context(), accountID, deductProduct, -req.Credits, time.Now().UTC())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if insufficient {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField,
			"deduction exceeds the account's available balance", nil))
		return
	}

	h.logAdminAction(r, "credits deducted",
		"account_id", accountID, "credits", req.Credits, "lots_touched", len(debits), "note", req.Note)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"credits":      req.Credits,
		"lots_touched": len(debits),
	}})
}

type updateContactRequest struct {
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"omitempty,e164"`
}

// UpdateContact handles PUT /admin/accounts/{accountID}/contact. A phone
// number already held by another active account is a 409.
func (h *AdminHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req updateContactRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	var phone *string
	if req.Phone != "" {
		phone = &req.Phone
	}
	if err := h.accounts.UpdateContact(r.Context(), accountID, req.Email, phone); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logAdminAction(r, "contact updated", "account_id", accountID)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"updated": true}})
}

type setSuspendedRequest struct {
	Suspended bool `json:"suspended"`
}

// SetSuspended handles PUT /admin/accounts/{accountID}/suspend.
func (h *AdminHandler) SetSuspended(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var req setSuspendedRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.accounts.SetSuspended(r.Context(), accountID, req.Suspended); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logAdminAction(r, "suspension changed", "account_id", accountID, "suspended", req.Suspended)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"suspended": req.Suspended}})
}

// DeleteAccount handles DELETE /admin/accounts/{accountID}.
func (h *AdminHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	// Resolve first so deleting an unknown account is a 404 rather than a
	// silent no-op.
	if _, err := h.accounts.GetByID(r.Context(), accountID); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.accounts.Delete(r.Context(), accountID); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logAdminAction(r, "account deleted", "account_id", accountID)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"deleted": true}})
}

type moderateTestimonialRequest struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
	Note   string `json:"note" validate:"omitempty,max=500"`
}

// ModerateTestimonial handles PUT /admin/testimonials/{testimonialID}.
// Moderation never claws back the submission reward.
func (h *AdminHandler) ModerateTestimonial(w http.ResponseWriter, r *http.Request) {
	testimonialID := chi.URLParam(r, "testimonialID")

	var req moderateTestimonialRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.testimonials.UpdateModeration(r.Context(),
		testimonialID, types.TestimonialStatus(req.Status), req.Note); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logAdminAction(r, "testimonial moderated", "testimonial_id", testimonialID, "status", req.Status)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": req.Status}})
}

// logAdminAction records who did what. Every mutating admin route logs
// through here so the audit trail has a uniform shape.
func (h *AdminHandler) logAdminAction(r *http.Request, action string, args ...any) {
	actor, _ := types.GetActor(r.Context())
	fields := append([]any{"admin_id", actor.AccountID}, args...)
	h.logger.InfoContext(r.Context(), "admin action: "+action, fields...)
}
