// Package config defines the process configuration for the tourbook payments
// services. Configuration is loaded once at startup and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format aborts startup.
package config

import (
	"time"

	"tourbook/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Components receive only the
// sub-struct they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"tourbook-payments"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Payments      PaymentsConfig
	Auth          AuthConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not Env.
	Build BuildInfo
}

// IsLocal reports whether the process runs against local stand-ins.
func (c *Config) IsLocal() bool {
	return c.Environment == localEnv
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `envconfig:"PORT" default:"8080"`
	PaymentAppURL  string        `envconfig:"PAYMENT_APP_URL" validate:"omitempty,url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"DB_CONNECT_TIMEOUT" default:"5s"`
	// QueryTimeout bounds every store call group made while reconciling.
	QueryTimeout time.Duration `envconfig:"DB_QUERY_TIMEOUT" default:"5s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"ap-south-1"`

	// WebhookArchiveBucket receives compressed raw webhook bodies. Empty
	// disables archiving.
	WebhookArchiveBucket string `envconfig:"WEBHOOK_ARCHIVE_BUCKET"`
	// FulfillmentQueueURL receives FulfillmentFailed messages. Empty disables
	// reporting; failures are then only logged.
	FulfillmentQueueURL string `envconfig:"SQS_FULFILLMENT_REPAIR" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// PaymentsConfig holds provider credentials and order defaults.
type PaymentsConfig struct {
	// DefaultProvider handles create-order requests that name no provider.
	DefaultProvider string        `envconfig:"PAYMENT_PROVIDER" default:"razorpay" validate:"oneof=razorpay stripe"`
	DefaultCurrency string        `envconfig:"PAYMENT_DEFAULT_CURRENCY" default:"INR" validate:"iso4217"`
	GatewayTimeout  time.Duration `envconfig:"PAYMENT_GATEWAY_TIMEOUT" default:"10s"`

	RazorpayKeyID     string       `envconfig:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret SecretString `envconfig:"RAZORPAY_KEY_SECRET"`

	// RazorpayWebhookSecret defaults to the key secret when unset.
	RazorpayWebhookSecret SecretString `envconfig:"RAZORPAY_WEBHOOK_SECRET"`
	RazorpayBaseURL       string       `envconfig:"RAZORPAY_BASE_URL" default:"https://api.razorpay.com"`

	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeBaseURL       string       `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com"`
}

// RazorpayEnabled reports whether Razorpay credentials are configured.
func (p PaymentsConfig) RazorpayEnabled() bool {
	return p.RazorpayKeyID != "" && !p.RazorpayKeySecret.IsEmpty()
}

// StripeEnabled reports whether Stripe credentials are configured.
func (p PaymentsConfig) StripeEnabled() bool {
	return !p.StripeSecretKey.IsEmpty()
}

// RazorpayWebhookKey returns the secret that signs Razorpay webhooks.
func (p PaymentsConfig) RazorpayWebhookKey() SecretString {
	if !p.RazorpayWebhookSecret.IsEmpty() {
		return p.RazorpayWebhookSecret
	}
	return p.RazorpayKeySecret
}

// AuthConfig holds the identity token settings.
type AuthConfig struct {
	JWTSecret SecretString `envconfig:"JWT_SECRET" validate:"required,min=16"`
	JWTIssuer string       `envconfig:"JWT_ISSUER"`
}

// SecurityConfig holds admin access and CORS settings.
type SecurityConfig struct {
	AdminAPIKey        SecretString `envconfig:"ADMIN_API_KEY" validate:"required,min=16"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"Tourbook/Payments"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
