package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"reportly/internal/core"
	"reportly/internal/entitlement"
	"reportly/internal/types"
)

// Authorizer is the entitlement ledger surface the submission flow needs.
type Authorizer interface {
	Authorize(ctx context.Context, accountID string, product types.ReportType) (*entitlement.Receipt, error)
	Refund(ctx context.Context, receipt *entitlement.Receipt) error
	LoadSnapshot(ctx context.Context, accountID string) (entitlement.Snapshot, error)
}

// ReportAccountStore is the account access the submission flow needs,
// including guest provisioning.
type ReportAccountStore interface {
	GetByID(ctx context.Context, id string) (*types.Account, error)
	GetByEmail(ctx context.Context, email string) (*types.Account, error)
	Create(ctx context.Context, a *types.Account) error
	SetMagicLinkHash(ctx context.Context, id string, hash []byte) error
}

// SignupLotGranter grants the one free report a fresh guest account gets.
type SignupLotGranter interface {
	Insert(ctx context.Context, lot *types.CreditLot) error
}

// JobDispatcher hands an accepted job to the analysis engine.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job types.ReportJob) error
}

// ReportNotifier sends the submission-related emails.
type ReportNotifier interface {
	Welcome(ctx context.Context, accountID string)
	MagicLinkSetup(ctx context.Context, email, link string)
	ReportsExhausted(ctx context.Context, accountID string)
}

// SubmissionMetrics records report submission outcomes.
type SubmissionMetrics interface {
	RecordReportSubmission(ctx context.Context, source string)
}

// ReportsHandler implements authenticated and guest report submission.
type ReportsHandler struct {
	server     *core.Server
	accounts   ReportAccountStore
	signupLots SignupLotGranter
	ledger     Authorizer
	dispatcher JobDispatcher
	notifier   ReportNotifier
	metrics    SubmissionMetrics
	appURL     string
	logger     *slog.Logger
}

// NewReportsHandler creates the report submission handler.
func NewReportsHandler(
	server *core.Server,
	accounts ReportAccountStore,
	signupLots SignupLotGranter,
	ledger Authorizer,
	dispatcher JobDispatcher,
	notifier ReportNotifier,
	metrics SubmissionMetrics,
	appURL string,
	logger *slog.Logger,
) *ReportsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportsHandler{
		server:     server,
		accounts:   accounts,
		signupLots: signupLots,
		ledger:     ledger,
		dispatcher: dispatcher,
		notifier:   notifier,
		metrics:    metrics,
		appURL:     appURL,
		logger:     logger,
	}
}

// RegisterRoutes mounts the authenticated submission route.
func (h *ReportsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/reports", h.Submit)
}

// RegisterPublicRoutes mounts the guest submission route (no auth).
func (h *ReportsHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/public/reports", h.SubmitGuest)
}

// submitReportRequest is the authenticated submission body.
type submitReportRequest struct {
	ReportType         string   `json:"report_type" validate:"required"`
	TargetWebsite      string   `json:"target_website" validate:"required,url"`
	CompetitorWebsites []string `json:"competitor_websites" validate:"omitempty,max=5,dive,url"`
	FocusKeyword       string   `json:"focus_keyword" validate:"omitempty,max=120"`
}

// guestReportRequest is the marketing-site submission body: contact details
// plus the report itself.
type guestReportRequest struct {
	Email              string   `json:"email" validate:"required,email"`
	DisplayName        string   `json:"display_name" validate:"omitempty,max=120"`
	Phone              string   `json:"phone" validate:"required,e164"`
	MarketingConsent   bool     `json:"marketing_consent"`
	ReportType         string   `json:"report_type" validate:"required"`
	TargetWebsite      string   `json:"target_website" validate:"required,url"`
	CompetitorWebsites []string `json:"competitor_websites" validate:"omitempty,max=5,dive,url"`
	FocusKeyword       string   `json:"focus_keyword" validate:"omitempty,max=120"`
}

// submitReportResponse acknowledges an accepted job.
type submitReportResponse struct {
	JobID       string `json:"job_id"`
	ReportType  string `json:"report_type"`
	DebitSource string `json:"debit_source"`
}

// Submit handles POST /reports for an authenticated account:
// validate, check the phone gate, authorize-and-debit, dispatch, and refund
// the debit if dispatch fails. Denials return 402 with the upgrade prompt in
// the error details.
func (h *ReportsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req submitReportRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	reportType := types.ReportType(req.ReportType)
	if !reportType.Valid() {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationReportType,
			"unknown report type: "+req.ReportType, nil))
		return
	}

	account, err := h.accounts.GetByID(r.Context(), actor.AccountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if account.Phone == nil {
		// The engine delivers results over channels that need a verified
		// contact; reports cannot run without one.
		core.Error(w, r, types.NewAppError(types.ErrCodePhoneRequired,
			"a phone number is required before running reports", nil))
		return
	}

	h.runReport(w, r, account.ID, reportType, req.TargetWebsite, req.CompetitorWebsites, req.FocusKeyword)
}

// SubmitGuest handles POST /public/reports from the marketing site. It
// silently provisions an account for a fresh email, grants the one free
// signup report, emails a magic-link to finish account setup, and then runs
// the normal submission path. A second guest submission for a known email is
// a 409 pointing the visitor at sign-in.
func (h *ReportsHandler) SubmitGuest(w http.ResponseWriter, r *http.Request) {
	var req guestReportRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	reportType := types.ReportType(req.ReportType)
	if !reportType.Valid() {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationReportType,
			"unknown report type: "+req.ReportType, nil))
		return
	}

	existing, err := h.accounts.GetByEmail(r.Context(), req.Email)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if existing != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeConflictGuestSignup,
			"an account with this email already exists; sign in to run reports", nil))
		return
	}

	account := &types.Account{
		ID:               uuid.NewString(),
		Email:            req.Email,
		DisplayName:      req.DisplayName,
		Phone:            &req.Phone,
		Role:             types.RoleUser,
		MarketingConsent: req.MarketingConsent,
	}
	if err := h.accounts.Create(r.Context(), account); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.signupLots.Insert(r.Context(), &types.CreditLot{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Balance:   1,
		Granted:   1,
		Source:    types.SourceSignupCredit,
	}); err != nil {
		core.Error(w, r, err)
		return
	}

	h.sendSetupLink(r.Context(), account)
	h.notifier.Welcome(r.Context(), account.ID)

	h.runReport(w, r, account.ID, reportType, req.TargetWebsite, req.CompetitorWebsites, req.FocusKeyword)
}

// runReport performs the shared authorize-debit-dispatch-refund sequence.
func (h *ReportsHandler) runReport(
	w http.ResponseWriter,
	r *http.Request,
	accountID string,
	reportType types.ReportType,
	target string,
	competitors []string,
	keyword string,
) {
	receipt, err := h.ledger.Authorize(r.Context(), accountID, reportType)
	if err != nil {
		if h.metrics != nil {
			h.metrics.RecordReportSubmission(r.Context(), "denied")
		}
		core.Error(w, r, err)
		return
	}

	job := types.ReportJob{
		JobID:              uuid.NewString(),
		AccountID:          accountID,
		ReportType:         reportType,
		TargetWebsite:      target,
		CompetitorWebsites: competitors,
		FocusKeyword:       keyword,
		RequestedAt:        time.Now().UTC(),
	}

	if err := h.dispatcher.Dispatch(r.Context(), job); err != nil {
		// The ledger was charged for a job that never ran; put it back.
		if refundErr := h.ledger.Refund(r.Context(), receipt); refundErr != nil {
			h.logger.ErrorContext(r.Context(), "refund after failed dispatch also failed",
				"account_id", accountID,
				"job_id", job.JobID,
				"error", refundErr,
			)
		}
		core.Error(w, r, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordReportSubmission(r.Context(), string(receipt.Source))
	}
	h.nudgeIfExhausted(r.Context(), accountID, reportType, receipt)

	core.JSON(w, r, http.StatusAccepted, core.APIResponse{Data: submitReportResponse{
		JobID:       job.JobID,
		ReportType:  string(reportType),
		DebitSource: string(receipt.Source),
	}})
}

// nudgeIfExhausted sends the out-of-credits email when the debit just
// consumed the account's last funding option.
func (h *ReportsHandler) nudgeIfExhausted(ctx context.Context, accountID string, reportType types.ReportType, receipt *entitlement.Receipt) {
	if receipt.Source == entitlement.DebitNone {
		return
	}
	snap, err := h.ledger.LoadSnapshot(ctx, accountID)
	if err != nil {
		h.logger.WarnContext(ctx, "post-debit balance check failed",
			"account_id", accountID, "error", err)
		return
	}
	if outcome := entitlement.Decide(snap, reportType); !outcome.Allowed {
		h.notifier.ReportsExhausted(ctx, accountID)
	}
}

// sendSetupLink generates the single-use account-setup token, stores only
// its bcrypt hash, and emails the link. The raw token never touches storage.
func (h *ReportsHandler) sendSetupLink(ctx context.Context, account *types.Account) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		h.logger.ErrorContext(ctx, "failed to generate setup token",
			"account_id", account.ID, "error", err)
		return
	}
	token := hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to hash setup token",
			"account_id", account.ID, "error", err)
		return
	}
	if err := h.accounts.SetMagicLinkHash(ctx, account.ID, hash); err != nil {
		h.logger.ErrorContext(ctx, "failed to store setup token hash",
			"account_id", account.ID, "error", err)
		return
	}

	link := h.appURL + "/setup?account=" + account.ID + "&token=" + token
	h.notifier.MagicLinkSetup(ctx, account.Email, link)
}
