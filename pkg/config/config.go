package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	// AppURL is the externally reachable base URL for this app. OAuth
	// redirect URIs and webhook callback addresses are built from it.
	// Example: https://your-ngrok-subdomain.ngrok-free.app
	AppURL string

	Shopify ShopifyConfig

	// SessionStore selects where shop sessions are persisted:
	// memory | redis | postgres | mongo.
	SessionStore string

	DatabaseURL string
	RedisURL    string
	MongoURL    string

	RunMigrations  bool
	MigrationsPath string
}

type ShopifyConfig struct {
	APIKey    string
	APISecret string

	APIVersion string
	Scopes     string

	// Embedded apps render inside the admin iframe and authenticate with
	// session tokens; non-embedded apps use top-level OAuth only.
	Embedded bool

	// OnlineTokens switches the middleware to per-user access tokens.
	OnlineTokens bool

	// ClockDrift is the leeway applied to session token time claims.
	ClockDrift time.Duration

	// ShopDomains replaces the allowed shop domain suffixes when set.
	ShopDomains []string

	// WebhookTopics lists the topics the app keeps subscribed, slash form.
	WebhookTopics []string
}

func Load() Config {
	// Convenience for local dev: load variables from .env if present.
	// In production, rely on real environment variables.
	_ = godotenv.Load()

	// Cloud Run sets PORT. Prefer it when HTTP_ADDR isn't explicitly set.
	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			httpAddr = ":" + port
		} else {
			httpAddr = ":8080"
		}
	}

	return Config{
		AppEnv:   env("APP_ENV", "development"),
		HTTPAddr: httpAddr,
		AppURL:   env("APP_URL", "http://localhost:8080"),
		Shopify: ShopifyConfig{
			APIKey:        os.Getenv("SHOPIFY_API_KEY"),
			APISecret:     os.Getenv("SHOPIFY_API_SECRET"),
			APIVersion:    env("SHOPIFY_API_VERSION", "2025-01"),
			Scopes:        env("SHOPIFY_SCOPES", "read_products"),
			Embedded:      envBool("SHOPIFY_EMBEDDED", true),
			OnlineTokens:  envBool("SHOPIFY_ONLINE_TOKENS", false),
			ClockDrift:    envDuration("SHOPIFY_CLOCK_DRIFT", 10*time.Second),
			ShopDomains:   envList("SHOPIFY_SHOP_DOMAINS", ""),
			WebhookTopics: envList("SHOPIFY_WEBHOOKS", "orders/paid"),
		},
		SessionStore:   env("SESSION_STORE", "memory"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		MongoURL:       os.Getenv("MONGO_URL"),
		RunMigrations:  envBool("RUN_MIGRATIONS", false),
		MigrationsPath: env("MIGRATIONS_PATH", "file://migrations"),
	}
}

// Validate reports startup-fatal problems: missing credentials, an unknown
// store kind, a store kind without its DSN, or a malformed webhook topic.
func (c Config) Validate() error {
	if c.Shopify.APIKey == "" {
		return &shopify.ConfigError{Field: "SHOPIFY_API_KEY"}
	}
	if c.Shopify.APISecret == "" {
		return &shopify.ConfigError{Field: "SHOPIFY_API_SECRET"}
	}
	if !strings.HasPrefix(c.AppURL, "http://") && !strings.HasPrefix(c.AppURL, "https://") {
		return &shopify.ConfigError{Field: "APP_URL", Err: errors.New("must be an absolute http(s) URL")}
	}

	switch c.SessionStore {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return &shopify.ConfigError{Field: "REDIS_URL", Err: errors.New("required for SESSION_STORE=redis")}
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return &shopify.ConfigError{Field: "DATABASE_URL", Err: errors.New("required for SESSION_STORE=postgres")}
		}
	case "mongo":
		if c.MongoURL == "" {
			return &shopify.ConfigError{Field: "MONGO_URL", Err: errors.New("required for SESSION_STORE=mongo")}
		}
	default:
		return &shopify.ConfigError{Field: "SESSION_STORE", Err: fmt.Errorf("unknown store %q", c.SessionStore)}
	}

	for _, topic := range c.Shopify.WebhookTopics {
		if !validTopic(topic) {
			return &shopify.ConfigError{Field: "SHOPIFY_WEBHOOKS", Err: fmt.Errorf("bad topic %q, want segment/segment", topic)}
		}
	}
	return nil
}

// DesiredWebhooks expands the configured topics into subscriptions addressed
// under APP_URL, matching the receiver's routes.
func (c Config) DesiredWebhooks() []shopify.WebhookSubscription {
	base := strings.TrimRight(c.AppURL, "/")
	subs := make([]shopify.WebhookSubscription, 0, len(c.Shopify.WebhookTopics))
	for _, topic := range c.Shopify.WebhookTopics {
		subs = append(subs, shopify.WebhookSubscription{
			Topic:       topic,
			CallbackURL: base + "/v1/webhooks/shopify/" + strings.ReplaceAll(topic, "/", "_"),
		})
	}
	return subs
}

func validTopic(topic string) bool {
	parts := strings.Split(topic, "/")
	if len(parts) != 2 {
		return false
	}
	return parts[0] != "" && parts[1] != ""
}

func env(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envList(key, fallbackCSV string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallbackCSV
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
