// Package config defines the global configuration structure for the Reportly
// platform. Configuration is loaded once at process initialization and is
// immutable thereafter, following 12-Factor principles.
//
// Values are resolved from the OS environment, with a .env file as a
// local-development fallback. Any missing required value or invalid format
// fails startup immediately.
package config

import (
	"time"

	"reportly/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"reportly-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Billing  BillingConfig
	Email    EmailConfig
	Engine   EngineConfig
	AWS      AWSConfig
	Referral ReferralConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URLs for redirects and emails (no trailing slash).
	AppURL string `envconfig:"APP_URL" validate:"required,url"` // e.g., https://app.reportly.io
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// AuthConfig holds the hosted auth collaborator's introspection endpoint.
// Credential storage and session issuance live entirely in that system; this
// service only verifies tokens against it.
type AuthConfig struct {
	BaseURL string       `envconfig:"AUTH_API_BASE_URL" validate:"required,url"`
	APIKey  SecretString `envconfig:"AUTH_API_KEY" validate:"required"`
}

// BillingConfig holds Stripe payment integration credentials.
//
// WebhookSecrets carries one signing secret per webhook endpoint. The
// marketing site and the app portal are served from different domains, each
// with its own Stripe webhook endpoint, so an incoming event is accepted if
// it validates against any of the configured secrets.
type BillingConfig struct {
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	WebhookSecrets  []string     `envconfig:"STRIPE_WEBHOOK_SECRETS" validate:"required,min=1"`
}

// EmailConfig holds email delivery provider configuration.
type EmailConfig struct {
	APIKey      SecretString `envconfig:"EMAIL_API_KEY" validate:"required"`
	BaseURL     string       `envconfig:"EMAIL_API_BASE_URL" default:"https://api.sendgrid.com"`
	FromAddress string       `envconfig:"EMAIL_FROM_ADDRESS" default:"reports@reportly.io"`
	FromName    string       `envconfig:"EMAIL_FROM_NAME" default:"Reportly"`
}

// EngineConfig holds the report analysis engine job queue settings.
type EngineConfig struct {
	JobQueueURL string `envconfig:"REPORT_JOB_QUEUE_URL" validate:"required,url"`
}

// AWSConfig holds AWS regional configuration for SQS and CloudWatch.
type AWSConfig struct {
	Region          string `envconfig:"AWS_REGION" default:"us-east-1"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Reportly"`
	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// ReferralConfig holds incentive-program tunables.
type ReferralConfig struct {
	SignupCredits   int `envconfig:"SIGNUP_CREDITS" default:"1"`
	ReferralCredits int `envconfig:"REFERRAL_CREDITS" default:"1"`
}
