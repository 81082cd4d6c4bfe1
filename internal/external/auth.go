package external

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"reportly/internal/types"
)

// AccountActorLookup resolves the local account projection for an
// authenticated session. Satisfied by db.AccountRepo.
type AccountActorLookup interface {
	GetByID(ctx context.Context, id string) (*types.Account, error)
}

// AuthClientConfig holds the configuration for creating an AuthClient.
type AuthClientConfig struct {
	BaseURL string
	APIKey  string
	Logger  *slog.Logger
}

// AuthClient verifies bearer tokens against the hosted auth collaborator's
// introspection endpoint. Credentials and sessions live entirely in that
// system; this client only consumes its verdict and joins it with the local
// account row to build the Actor.
type AuthClient struct {
	base     *BaseClient
	baseURL  string
	apiKey   string
	accounts AccountActorLookup
	logger   *slog.Logger
}

// NewAuthClient creates an AuthClient.
func NewAuthClient(httpClient *http.Client, accounts AccountActorLookup, cfg AuthClientConfig) *AuthClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"auth",
		RetryPolicy{
			MaxRetries: 1,
			MinWait:    200 * time.Millisecond,
			MaxWait:    1 * time.Second,
		},
		"Reportly/1.0",
		types.ErrCodeUpstreamAuth,
	)

	return &AuthClient{
		base:     base,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		accounts: accounts,
		logger:   logger,
	}
}

// NewAuthClientWithBase creates an AuthClient over a pre-configured
// BaseClient. Tests use this to control retry and breaker behavior.
func NewAuthClientWithBase(base *BaseClient, accounts AccountActorLookup, cfg AuthClientConfig) *AuthClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthClient{
		base:     base,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		accounts: accounts,
		logger:   logger,
	}
}

type introspectRequest struct {
	Token string `json:"token"`
}

type introspectResponse struct {
	Active    bool   `json:"active"`
	AccountID string `json:"account_id"`
}

// ResolveToken introspects the token and returns the acting account. An
// inactive or unknown token is an auth failure, not an upstream one.
func (c *AuthClient) ResolveToken(ctx context.Context, token string) (*types.Actor, error) {
	body, err := json.Marshal(introspectRequest{Token: token})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode introspection request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/sessions/introspect", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build introspection request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.base.Do(req)
	if err != nil {
		if appErr, ok := err.(*types.AppError); ok {
			return nil, appErr
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamAuth, "auth introspection request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(types.ErrCodeUpstreamAuth,
			"auth introspection returned unexpected status", nil)
	}

	var verdict introspectResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"failed to decode introspection response", err)
	}
	if !verdict.Active || verdict.AccountID == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token is not active", nil)
	}

	account, err := c.accounts.GetByID(ctx, verdict.AccountID)
	if err != nil {
		return nil, err
	}

	return &types.Actor{
		AccountID: account.ID,
		Role:      account.Role,
		Suspended: account.Suspended,
	}, nil
}
