package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"reportly/internal/types"
)

// ---------------------------------------------------------------------------
// Mock Implementation
// ---------------------------------------------------------------------------

type mockSupportService struct {
	openCalls    []openCall
	openErr      error
	replies      []replyCall
	replyErr     error
	transitions  []transitionCall
	transitionErr error
	reopens      []string
	threadTicket *types.SupportRequest
	threadMsgs   []types.SupportMessage
	threadErr    error
	userTickets  []types.SupportRequest
	allTickets   []types.SupportRequest
}

type openCall struct {
	AccountID string
	Subject   string
	Body      string
}

type replyCall struct {
	Actor    types.Actor
	TicketID string
	Body     string
}

type transitionCall struct {
	Op       string
	Actor    types.Actor
	TicketID string
	Reason   string
}

func (m *mockSupportService) Open(ctx context.Context, accountID, subject, body string) (*types.SupportRequest, error) {
	m.openCalls = append(m.openCalls, openCall{AccountID: accountID, Subject: subject, Body: body})
	if m.openErr != nil {
		return nil, m.openErr
	}
	return &types.SupportRequest{
		ID:        "tick_1",
		AccountID: accountID,
		Subject:   subject,
		Status:    types.SupportOpen,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}, nil
}

func (m *mockSupportService) Reply(ctx context.Context, actor types.Actor, ticketID, body string) (*types.SupportMessage, error) {
	m.replies = append(m.replies, replyCall{Actor: actor, TicketID: ticketID, Body: body})
	if m.replyErr != nil {
		return nil, m.replyErr
	}
	sender := types.SenderUser
	if actor.IsAdmin() {
		sender = types.SenderAdmin
	}
	return &types.SupportMessage{ID: "msg_1", RequestID: ticketID, Sender: sender, Body: body}, nil
}

func (m *mockSupportService) Start(ctx context.Context, ticketID string) error {
	m.transitions = append(m.transitions, transitionCall{Op: "start", TicketID: ticketID})
	return m.transitionErr
}

func (m *mockSupportService) Resolve(ctx context.Context, actor types.Actor, ticketID string) error {
	m.transitions = append(m.transitions, transitionCall{Op: "resolve", Actor: actor, TicketID: ticketID})
	return m.transitionErr
}

func (m *mockSupportService) Close(ctx context.Context, actor types.Actor, ticketID, reason string) error {
	m.transitions = append(m.transitions, transitionCall{Op: "close", Actor: actor, TicketID: ticketID, Reason: reason})
	return m.transitionErr
}

func (m *mockSupportService) Reopen(ctx context.Context, actor types.Actor, ticketID string) error {
	m.reopens = append(m.reopens, ticketID)
	return m.transitionErr
}

func (m *mockSupportService) Thread(ctx context.Context, actor types.Actor, ticketID string) (*types.SupportRequest, []types.SupportMessage, error) {
	if m.threadErr != nil {
		return nil, nil, m.threadErr
	}
	return m.threadTicket, m.threadMsgs, nil
}

func (m *mockSupportService) ListForUser(ctx context.Context, accountID string) ([]types.SupportRequest, error) {
	return m.userTickets, nil
}

func (m *mockSupportService) ListAll(ctx context.Context) ([]types.SupportRequest, error) {
	return m.allTickets, nil
}

// ---------------------------------------------------------------------------
// Test Helpers
// ---------------------------------------------------------------------------

type supportFixture struct {
	service *mockSupportService
	router  *chi.Mux
}

func newSupportFixture(t *testing.T) *supportFixture {
	f := &supportFixture{service: &mockSupportService{}}
	handler := NewSupportHandler(newHandlerTestServer(t), f.service, nil)
	f.router = chi.NewRouter()
	handler.RegisterRoutes(f.router)
	handler.RegisterAdminRoutes(f.router)
	return f
}

func doSupport(f *supportFixture, ctx context.Context, method, path string, body any) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b)).WithContext(ctx)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

// ---------------------------------------------------------------------------
// Tests: User Routes
// ---------------------------------------------------------------------------

func TestSupportHandler_Open(t *testing.T) {
	f := newSupportFixture(t)

	rr := doSupport(f, actorContext("acct_1", types.RoleUser), http.MethodPost, "/support", map[string]string{
		"subject": "Report stuck in processing",
		"body":    "My keyword gap report has been running for an hour.",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
	if len(f.service.openCalls) != 1 {
		t.Fatalf("expected 1 open call, got %d", len(f.service.openCalls))
	}
	call := f.service.openCalls[0]
	if call.AccountID != "acct_1" || call.Subject != "Report stuck in processing" {
		t.Errorf("unexpected open call %+v", call)
	}
}

func TestSupportHandler_Open_SubjectTooShort(t *testing.T) {
	f := newSupportFixture(t)

	rr := doSupport(f, actorContext("acct_1", types.RoleUser), http.MethodPost, "/support", map[string]string{
		"subject": "hi",
		"body":    "help",
	})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if len(f.service.openCalls) != 0 {
		t.Error("expected no open call for invalid subject")
	}
}

func TestSupportHandler_Open_NoActor(t *testing.T) {
	f := newSupportFixture(t)

	rr := doSupport(f, context.Background(), http.MethodPost, "/support", map[string]string{
		"subject": "Report stuck",
		"body":    "help",
	})

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestSupportHandler_Reply(t *testing.T) {
	f := newSupportFixture(t)

	rr := doSupport(f, actorContext("acct_1", types.RoleUser), http.MethodPost, "/support/tick_1/messages", map[string]string{
		"body": "Any update on this?",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
	if len(f.service.replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(f.service.replies))
	}
	call := f.service.replies[0]
	if call.TicketID != "tick_1" || call.Actor.AccountID != "acct_1" {
		t.Errorf("unexpected reply call %+v", call)
	}
}

func TestSupportHandler_Reply_ConflictSurfaces(t *testing.T) {
	f := newSupportFixture(t)
	f.service.replyErr = types.NewAppError(types.ErrCodeConflictTicketState,
		"ticket is not active", nil)

	rr := doSupport(f, actorContext("acct_1", types.RoleUser), http.MethodPost, "/support/tick_1/messages", map[string]string{
		"body": "still broken",
	})

	if rr.Code != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, rr.Code)
	}
}

func TestSupportHandler_Thread(t *testing.T) {
	f := newSupportFixture(t)
	now := time.Now().UTC()
	f.service.threadTicket = &types.SupportRequest{
		ID: "tick_1", AccountID: "acct_1", Subject: "Report stuck",
		Status: types.SupportOpen, CreatedAt: now, UpdatedAt: now,
	}
	f.service.threadMsgs = []types.SupportMessage{
		{ID: "msg_1", RequestID: "tick_1", Sender: types.SenderUser, Body: "help", CreatedAt: now},
		{ID: "msg_2", RequestID: "tick_1", Sender: types.SenderAdmin, Body: "on it", CreatedAt: now},
	}

	rr := doSupport(f, actorContext("acct_1", types.RoleUser), http.MethodGet, "/support/tick_1", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp struct {
		Data threadResponse `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Data.Ticket.ID != "tick_1" || len(resp.Data.Messages) != 2 {
		t.Errorf("unexpected thread %+v", resp.Data)
	}
	if resp.Data.Messages[1].Sender != string(types.SenderAdmin) {
		t.Errorf("expected admin sender, got %q", resp.Data.Messages[1].Sender)
	}
}

func TestSupportHandler_Reopen(t *testing.T) {
	f := newSupportFixture(t)

	rr := doSupport(f, actorContext("acct_1", types.RoleUser), http.MethodPost, "/support/tick_1/reopen", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(f.service.reopens) != 1 || f.service.reopens[0] != "tick_1" {
		t.Errorf("expected reopen of tick_1, got %v", f.service.reopens)
	}
}

func TestSupportHandler_Close_UserRoute(t *testing.T) {
	f := newSupportFixture(t)

	rr := doSupport(f, actorContext("acct_1", types.RoleUser), http.MethodPost, "/support/tick_1/close", map[string]string{
		"reason": "figured it out myself, thanks",
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if len(f.service.transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(f.service.transitions))
	}
	call := f.service.transitions[0]
	if call.Op != "close" || call.TicketID != "tick_1" {
		t.Errorf("unexpected transition %+v", call)
	}
	if call.Actor.AccountID != "acct_1" || call.Actor.IsAdmin() {
		t.Errorf("expected the user actor to reach the service, got %+v", call.Actor)
	}
	if call.Reason != "figured it out myself, thanks" {
		t.Errorf("expected close reason to pass through, got %q", call.Reason)
	}
}

func TestSupportHandler_Close_UserRoute_OwnershipSurfaces(t *testing.T) {
	f := newSupportFixture(t)
	f.service.transitionErr = types.NewAppError(types.ErrCodePermissionOwnership,
		"not your ticket", nil)

	rr := doSupport(f, actorContext("acct_2", types.RoleUser), http.MethodPost, "/support/tick_1/close", map[string]string{
		"reason": "closing someone else's ticket",
	})

	if rr.Code != http.StatusForbidden {
		t.Errorf("expected status %d, got %d", http.StatusForbidden, rr.Code)
	}
}

func TestSupportHandler_Resolve_UserRoute(t *testing.T) {
	f := newSupportFixture(t)

	rr := doSupport(f, actorContext("acct_1", types.RoleUser), http.MethodPost, "/support/tick_1/resolve", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if len(f.service.transitions) != 1 || f.service.transitions[0].Op != "resolve" {
		t.Fatalf("expected a resolve transition, got %v", f.service.transitions)
	}
	if f.service.transitions[0].Actor.AccountID != "acct_1" {
		t.Errorf("expected the user actor to reach the service, got %+v", f.service.transitions[0].Actor)
	}
}

// ---------------------------------------------------------------------------
// Tests: Admin Routes
// ---------------------------------------------------------------------------

func TestSupportHandler_AdminTransitions(t *testing.T) {
	f := newSupportFixture(t)
	ctx := actorContext("acct_admin", types.RoleAdmin)

	rr := doSupport(f, ctx, http.MethodPost, "/admin/support/tick_1/start", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start: expected status %d, got %d", http.StatusOK, rr.Code)
	}

	rr = doSupport(f, ctx, http.MethodPost, "/admin/support/tick_1/resolve", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("resolve: expected status %d, got %d", http.StatusOK, rr.Code)
	}

	rr = doSupport(f, ctx, http.MethodPost, "/admin/support/tick_1/close", map[string]string{
		"reason": "duplicate of another ticket",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("close: expected status %d, got %d; body: %s", http.StatusOK, rr.Code, rr.Body.String())
	}

	if len(f.service.transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(f.service.transitions))
	}
	if f.service.transitions[2].Reason != "duplicate of another ticket" {
		t.Errorf("expected close reason to pass through, got %q", f.service.transitions[2].Reason)
	}
}

func TestSupportHandler_Close_ReasonRequired(t *testing.T) {
	f := newSupportFixture(t)

	rr := doSupport(f, actorContext("acct_admin", types.RoleAdmin), http.MethodPost,
		"/admin/support/tick_1/close", map[string]string{})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rr.Code)
	}
	if len(f.service.transitions) != 0 {
		t.Error("expected no transition without a reason")
	}
}

func TestSupportHandler_ListAll(t *testing.T) {
	f := newSupportFixture(t)
	now := time.Now().UTC()
	f.service.allTickets = []types.SupportRequest{
		{ID: "tick_1", Status: types.SupportOpen, CreatedAt: now, UpdatedAt: now},
		{ID: "tick_2", Status: types.SupportClosed, CloseReason: "resolved by email", CreatedAt: now, UpdatedAt: now},
	}

	rr := doSupport(f, actorContext("acct_admin", types.RoleAdmin), http.MethodGet, "/admin/support", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp struct {
		Data []ticketResponse `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(resp.Data))
	}
	if resp.Data[1].CloseReason != "resolved by email" {
		t.Errorf("expected close reason to surface, got %q", resp.Data[1].CloseReason)
	}
}
