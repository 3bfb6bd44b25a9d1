package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (BRIDGE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string        `usage:"PostgreSQL connection URL (BRIDGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	StoreTimeout time.Duration `default:"5s" usage:"Order store operation timeout" flag:"store-timeout"`
	Stripe       StripeConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// StripeConfig holds the gateway settings: credential pairs selected by test
// mode, the webhook signing secret, redirect URLs, and the cosmetic statement
// descriptor texts.
type StripeConfig struct {
	TestMode bool `default:"true" usage:"Use the test credential pair" flag:"test-mode"`

	LiveSecretKey      string `usage:"Live mode secret key" flag:"live-secret-key"`
	LivePublishableKey string `usage:"Live mode publishable key (served to clients, unused server-side)" flag:"live-publishable-key"`
	TestSecretKey      string `usage:"Test mode secret key" flag:"test-secret-key"`
	TestPublishableKey string `usage:"Test mode publishable key" flag:"test-publishable-key"`

	WebhookSecret    string        `usage:"Webhook endpoint signing secret" flag:"webhook-secret"`
	WebhookTolerance time.Duration `default:"5m" usage:"Accepted webhook timestamp age" flag:"webhook-tolerance"`

	APIBaseURL string `default:"" usage:"Override provider API base URL" flag:"api-base-url"`
	SuccessURL string `usage:"Redirect URL after successful payment; {order_id} is substituted" flag:"success-url"`
	CancelURL  string `usage:"Redirect URL after cancelled payment; {order_id} is substituted" flag:"cancel-url"`

	StatementDescriptor       string `usage:"Card statement descriptor (max 22 chars, alphanumeric and space)" flag:"statement-descriptor"`
	StatementDescriptorSuffix string `usage:"Card statement descriptor suffix (max 12 chars)" flag:"statement-descriptor-suffix"`
}

// SecretKey returns the secret key of the active credential pair.
func (s StripeConfig) SecretKey() string {
	if s.TestMode {
		return s.TestSecretKey
	}
	return s.LiveSecretKey
}

// PublishableKey returns the publishable key of the active credential pair.
func (s StripeConfig) PublishableKey() string {
	if s.TestMode {
		return s.TestPublishableKey
	}
	return s.LivePublishableKey
}

// RateLimitConfig controls the per-client sliding window rate limiter on the
// order-facing API. The webhook endpoint is exempt.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and flags, applies platform defaults, and validates it.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BRIDGE",
		Files:     []string{"config.yaml", "/etc/checkout-bridge/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and the statement descriptor rules.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set BRIDGE_DATABASE_URL or DATABASE_URL")
	}
	if c.Stripe.SecretKey() == "" {
		return errors.New("stripe secret key is required for the active mode")
	}
	if c.Stripe.WebhookSecret == "" {
		return errors.New("stripe webhook secret is required")
	}
	if err := validateDescriptor(c.Stripe.StatementDescriptor, 22); err != nil {
		return errors.Wrap(err, "statement descriptor")
	}
	if err := validateDescriptor(c.Stripe.StatementDescriptorSuffix, 12); err != nil {
		return errors.Wrap(err, "statement descriptor suffix")
	}
	return nil
}

// validateDescriptor enforces the provider's statement descriptor rules:
// at most maxLen characters, alphanumeric and space only. Empty is allowed.
func validateDescriptor(s string, maxLen int) error {
	if len(s) > maxLen {
		return errors.Errorf("must be at most %d characters", maxLen)
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == ' ':
		default:
			return errors.Errorf("invalid character %q: only alphanumeric and space allowed", r)
		}
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's BRIDGE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
