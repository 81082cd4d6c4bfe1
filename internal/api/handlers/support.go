package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"reportly/internal/core"
	"reportly/internal/types"
)

// SupportService is the ticket lifecycle surface the routes need.
type SupportService interface {
	Open(ctx context.Context, accountID, subject, body string) (*types.SupportRequest, error)
	Reply(ctx context.Context, actor types.Actor, ticketID, body string) (*types.SupportMessage, error)
	Start(ctx context.Context, ticketID string) error
	Resolve(ctx context.Context, actor types.Actor, ticketID string) error
	Close(ctx context.Context, actor types.Actor, ticketID, reason string) error
	Reopen(ctx context.Context, actor types.Actor, ticketID string) error
	Thread(ctx context.Context, actor types.Actor, ticketID string) (*types.SupportRequest, []types.SupportMessage, error)
	ListForUser(ctx context.Context, accountID string) ([]types.SupportRequest, error)
	ListAll(ctx context.Context) ([]types.SupportRequest, error)
}

// SupportHandler implements the ticket routes for users and admins.
type SupportHandler struct {
	server  *core.Server
	service SupportService
	logger  *slog.Logger
}

// NewSupportHandler creates the support handler.
func NewSupportHandler(server *core.Server, service SupportService, logger *slog.Logger) *SupportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SupportHandler{server: server, service: service, logger: logger}
}

// RegisterRoutes mounts the authenticated user-facing ticket routes.
func (h *SupportHandler) RegisterRoutes(r chi.Router) {
	r.Post("/support", h.Open)
	r.Get("/support", h.List)
	r.Get("/support/{ticketID}", h.Thread)
	r.Post("/support/{ticketID}/messages", h.Reply)
	r.Post("/support/{ticketID}/reopen", h.Reopen)
	r.Post("/support/{ticketID}/resolve", h.Resolve)
	r.Post("/support/{ticketID}/close", h.Close)
}

// RegisterAdminRoutes mounts the back-office routes. Callers wrap these in
// the admin-role middleware.
func (h *SupportHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/admin/support", h.ListAll)
	r.Post("/admin/support/{ticketID}/start", h.Start)
	r.Post("/admin/support/{ticketID}/resolve", h.Resolve)
	r.Post("/admin/support/{ticketID}/close", h.Close)
}

type openTicketRequest struct {
	Subject string `json:"subject" validate:"required,min=3,max=200"`
	Body    string `json:"body" validate:"required,min=1,max=8000"`
}

type ticketResponse struct {
	ID          string    `json:"id"`
	Subject     string    `json:"subject"`
	Status      string    `json:"status"`
	CloseReason string    `json:"close_reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type threadResponse struct {
	Ticket   ticketResponse    `json:"ticket"`
	Messages []messageResponse `json:"messages"`
}

func toTicketResponse(t *types.SupportRequest) ticketResponse {
	return ticketResponse{
		ID:          t.ID,
		Subject:     t.Subject,
		Status:      string(t.Status),
		CloseReason: t.CloseReason,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// Open handles POST /support.
func (h *SupportHandler) Open(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req openTicketRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	t, err := h.service.Open(r.Context(), actor.AccountID, req.Subject, req.Body)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: toTicketResponse(t)})
}

// List handles GET /support: the account's default view (active tickets,
// plus finished tickets with an unseen admin reply).
func (h *SupportHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	tickets, err := h.service.ListForUser(r.Context(), actor.AccountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	out := make([]ticketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, toTicketResponse(&tickets[i]))
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}

// Thread handles GET /support/{ticketID}.
func (h *SupportHandler) Thread(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	t, messages, err := h.service.Thread(r.Context(), actor, chi.URLParam(r, "ticketID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	out := threadResponse{Ticket: toTicketResponse(t)}
	for _, m := range messages {
		out.Messages = append(out.Messages, messageResponse{
			ID:        m.ID,
			Sender:    string(m.Sender),
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
		})
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}

type replyRequest struct {
	Body string `json:"body" validate:"required,min=1,max=8000"`
}

// Reply handles POST /support/{ticketID}/messages for both users and admins.
func (h *SupportHandler) Reply(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req replyRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	m, err := h.service.Reply(r.Context(), actor, chi.URLParam(r, "ticketID"), req.Body)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: messageResponse{
		ID:        m.ID,
		Sender:    string(m.Sender),
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	}})
}

// Reopen handles POST /support/{ticketID}/reopen. Owner only.
func (h *SupportHandler) Reopen(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	if err := h.service.Reopen(r.Context(), actor, chi.URLParam(r, "ticketID")); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": string(types.SupportOpen)}})
}

// ListAll handles GET /admin/support.
func (h *SupportHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.service.ListAll(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	out := make([]ticketResponse, 0, len(tickets))
	for i := range tickets {
		out = append(out, toTicketResponse(&tickets[i]))
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}

// Start handles POST /admin/support/{ticketID}/start.
func (h *SupportHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Start(r.Context(), chi.URLParam(r, "ticketID")); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": string(types.SupportInProgress)}})
}

// Resolve handles the user and admin resolve routes. Ownership is enforced
// in the service; admins resolve any ticket, users only their own.
func (h *SupportHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	if err := h.service.Resolve(r.Context(), actor, chi.URLParam(r, "ticketID")); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": string(types.SupportResolved)}})
}

type closeTicketRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// Close handles the user and admin close routes. The reason length rule
// lives in the service so every caller gets the same enforcement, as does
// the ownership check for non-admin actors.
func (h *SupportHandler) Close(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "authentication required", nil))
		return
	}

	var req closeTicketRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.server.Validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.service.Close(r.Context(), actor, chi.URLParam(r, "ticketID"), req.Reason); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]string{"status": string(types.SupportClosed)}})
}
