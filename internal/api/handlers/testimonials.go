package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"reportly/internal/core"
	"reportly/internal/types"
)

// TestimonialSubmitter is the incentive engine surface for submissions.
type TestimonialSubmitter interface {
	Submit(ctx context.Context, accountID string, typ types.TestimonialType, content string) (*types.Testimonial, error)
}

// TestimonialReader lists an account's own submissions.
type TestimonialReader interface {
	ListByAccount(ctx context.Context, accountID string) ([]types.Testimonial, error)
}

// TestimonialsHandler implements the testimonial reward surface.
type TestimonialsHandler struct {
	server    *core.Server
	submitter TestimonialSubmitter
	reader    TestimonialReader
	logger    *slog.Logger
}

// NewTestimonialsHandler creates the testimonials handler.
func NewTestimonialsHandler(server *core.Server, submitter TestimonialSubmitter, reader TestimonialReader, logger *slog.Logger) *TestimonialsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TestimonialsHandler{server: server, submitter: submitter, reader: reader, logger: logger}
}

// RegisterRoutes mounts the authenticated testimonial routes.
func (h *TestimonialsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/testimonials", h.Submit)
	r.Get("/testimonials", h.List)
}

type submitTestimonialRequest struct {
	Type    string `json:"type" validate:"required,oneof=written video"`
	Content string `json:"content" validate:"required,min=20,max=4000"`
}

type testimonialResponse struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	CreditsGranted int    `json:"credits_granted"`
}

// Submit handles POST /testimonials. One submission per (account, type);
// the reward is granted immediately and a duplicate is a 409.
func (h *TestimonialsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req submitTestimonialRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	t, err := h.submitter.Submit(r.Context(), actor.AccountID, types.TestimonialType(req.Type), req.Content)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: testimonialResponse{
		ID:             t.ID,
		Type:           string(t.Type),
		Status:         string(t.Status),
		CreditsGranted: t.CreditsGranted,
	}})
}

// List handles GET /testimonials: the account's own submissions with their
// moderation state.
func (h *TestimonialsHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	items, err := h.reader.ListByAccount(r.Context(), actor.AccountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := make([]testimonialResponse, 0, len(items))
	for _, t := range items {
		out = append(out, testimonialResponse{
			ID:             t.ID,
			Type:           string(t.Type),
			Status:         string(t.Status),
			CreditsGranted: t.CreditsGranted,
		})
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}
