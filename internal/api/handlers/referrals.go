package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"reportly/internal/core"
	"reportly/internal/types"
)

// ReferralEngine is the incentive engine surface for referrals.
type ReferralEngine interface {
	EnsureCode(ctx context.Context, accountID string) (*types.ReferralCode, error)
	RecordSignup(ctx context.Context, code, referredID string) error
}

// ReferralsHandler implements the referral program surface.
type ReferralsHandler struct {
	server *core.Server
	engine ReferralEngine
	logger *slog.Logger
}

// NewReferralsHandler creates the referrals handler.
func NewReferralsHandler(server *core.Server, engine ReferralEngine, logger *slog.Logger) *ReferralsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReferralsHandler{server: server, engine: engine, logger: logger}
}

// RegisterRoutes mounts the authenticated referral routes.
func (h *ReferralsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/referrals/code", h.Code)
	r.Post("/referrals/redeem", h.Redeem)
}

type referralCodeResponse struct {
	Code string `json:"code"`
}

// Code handles GET /referrals/code, generating the account's code on first
// request.
func (h *ReferralsHandler) Code(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	code, err := h.engine.EnsureCode(r.Context(), actor.AccountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: referralCodeResponse{Code: code.Code}})
}

type redeemReferralRequest struct {
	Code string `json:"code" validate:"required,min=4,max=32"`
}

// Redeem handles POST /referrals/redeem: the calling account applies someone
// else's code. Each account can be referred at most once, whichever code the
// retry arrives with.
func (h *ReferralsHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req redeemReferralRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.engine.RecordSignup(r.Context(), req.Code, actor.AccountID); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]bool{"applied": true}})
}
