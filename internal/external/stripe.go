package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"reportly/internal/billing"
	"reportly/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// AccountBillingLookup is the minimal account access StripeClient needs to
// resolve and persist Stripe customer ids. Satisfied by db.AccountRepo.
type AccountBillingLookup interface {
	GetByID(ctx context.Context, id string) (*types.Account, error)
	SetStripeCustomerID(ctx context.Context, id, customerID string) error
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient talks to the Stripe REST API through BaseClient, so all
// requests go through the platform's resilience infrastructure (circuit
// breaker, retries, error mapping) and tests can point it at httptest.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	accounts  AccountBillingLookup
	logger    *slog.Logger
}

// NewStripeClient creates a new StripeClient.
func NewStripeClient(httpClient *http.Client, accounts AccountBillingLookup, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{
			MaxRetries: 2,
			MinWait:    500 * time.Millisecond,
			MaxWait:    5 * time.Second,
		},
		"Reportly/1.0",
		types.ErrCodeUpstreamStripe,
	)

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		accounts:  accounts,
		logger:    logger,
	}
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. Useful for tests that control the BaseClient configuration.
func NewStripeClientWithBase(base *BaseClient, accounts AccountBillingLookup, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		accounts:  accounts,
		logger:    logger,
	}
}

// EnsureCustomer returns the account's Stripe customer id, creating the
// customer on first use. The account id travels in customer metadata so
// webhook processing can correlate even if the local column is lost.
func (s *StripeClient) EnsureCustomer(ctx context.Context, accountID string) (string, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.StripeCustomerID != "" {
		return account.StripeCustomerID, nil
	}

	params := url.Values{}
	params.Set("email", account.Email)
	params.Set("metadata[account_id]", accountID)

	resp, err := s.doPost(ctx, "/v1/customers", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "EnsureCustomer")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	if dbErr := s.accounts.SetStripeCustomerID(ctx, accountID, customer.ID); dbErr != nil {
		s.logger.WarnContext(ctx, "failed to persist stripe customer id",
			"account_id", accountID,
			"customer_id", customer.ID,
			"error", dbErr,
		)
	}

	return customer.ID, nil
}

// CreateSubscriptionCheckout generates a Checkout Session URL for a paid
// plan. The account id rides in client_reference_id and metadata for webhook
// correlation.
func (s *StripeClient) CreateSubscriptionCheckout(
	ctx context.Context,
	accountID string,
	plan types.PlanTier,
	successURL, cancelURL string,
) (checkoutURL string, sessionID string, err error) {
	priceID, ok := billing.PriceForPlan(plan)
	if !ok {
		return "", "", types.NewAppError(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("plan %q has no checkout price", plan), nil)
	}

	customerID, err := s.EnsureCustomer(ctx, accountID)
	if err != nil {
		return "", "", err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", "subscription")
	params.Set("client_reference_id", accountID)
	params.Set("success_url", successURL)
	params.Set("cancel_url", cancelURL)
	params.Set("metadata[account_id]", accountID)
	params.Set("metadata[price_id]", priceID)
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	return s.createCheckoutSession(ctx, params)
}

// CreatePackCheckout generates a Checkout Session URL for a one-time credit
// pack purchase. The price id travels in session metadata because the
// checkout.session.completed payload does not embed line items.
func (s *StripeClient) CreatePackCheckout(
	ctx context.Context,
	accountID string,
	source types.CreditSource,
	successURL, cancelURL string,
) (checkoutURL string, sessionID string, err error) {
	priceID, ok := billing.PriceForPack(source)
	if !ok {
		return "", "", types.NewAppError(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("credit source %q has no checkout price", source), nil)
	}

	customerID, err := s.EnsureCustomer(ctx, accountID)
	if err != nil {
		return "", "", err
	}

	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("mode", "payment")
	params.Set("client_reference_id", accountID)
	params.Set("success_url", successURL)
	params.Set("cancel_url", cancelURL)
	params.Set("metadata[account_id]", accountID)
	params.Set("metadata[price_id]", priceID)
	params.Set("line_items[0][price]", priceID)
	params.Set("line_items[0][quantity]", "1")

	return s.createCheckoutSession(ctx, params)
}

func (s *StripeClient) createCheckoutSession(ctx context.Context, params url.Values) (string, string, error) {
	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return "", "", s.wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", s.handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session stripeCheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe checkout session response",
			err,
		)
	}

	return session.URL, session.ID, nil
}

// CreatePortalSession generates a Billing Portal URL for self-service
// subscription management.
func (s *StripeClient) CreatePortalSession(ctx context.Context, accountID, returnURL string) (string, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.StripeCustomerID == "" {
		return "", types.NewAppError(
			types.ErrCodeNotFoundSubscription,
			"account has no billing history to manage",
			nil,
		)
	}

	params := url.Values{}
	params.Set("customer", account.StripeCustomerID)
	params.Set("return_url", returnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripePortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe portal session response",
			err,
		)
	}

	return session.URL, nil
}

// doPost performs an authenticated POST request with form-encoded body.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	return s.base.Do(req)
}

// stripeErrorResponse is the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to an AppError.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d and response body was unreadable", operation, resp.StatusCode),
			readErr,
		)
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned status %d with non-JSON body", operation, resp.StatusCode),
			jsonErr,
		)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			fmt.Sprintf("%s: Stripe rate limit exceeded", operation),
			nil,
		)
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, stripeErr.Error.Message),
		nil,
	)
}

// wrapStripeError wraps a BaseClient transport error with context.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	// AppErrors from BaseClient already carry the right upstream code.
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(
		types.ErrCodeUpstreamStripe,
		fmt.Sprintf("%s: Stripe request failed: %v", operation, err),
		err,
	)
}

// Stripe response types for JSON deserialization.

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripePortalSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// StripeVerifier validates webhook signatures with stripe-go's HMAC-SHA256
// check and timestamp tolerance.
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header and
// signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
