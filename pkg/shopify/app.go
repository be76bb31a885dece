// Package shopify implements the server side of Shopify app authentication:
// shop domain validation, OAuth and webhook signature checks, session token
// verification, access token exchange and webhook subscription reconciliation.
package shopify

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultAPIVersion = "2025-01"

	// DefaultClockDrift absorbs clock skew between Shopify and the app when
	// checking session token validity windows.
	DefaultClockDrift = 10 * time.Second
)

// DefaultShopDomains are the hosted-domain suffixes accepted when App leaves
// ShopDomains empty.
var DefaultShopDomains = []string{"myshopify.com", "shopify.com", "myshopify.io"}

// App carries the per-app constants every verifier and client needs. Fields
// are read-only after construction; zero values fall back to the package
// defaults above, and a zero Logger discards.
type App struct {
	ClientID     string
	ClientSecret string
	APIVersion   string

	// AppURL is the externally reachable base URL of this app, used for OAuth
	// redirect URIs and webhook callback addresses.
	AppURL string

	// Scopes is the comma-separated access scope list requested at install.
	Scopes string

	Embedded     bool
	OnlineTokens bool

	ClockDrift  time.Duration
	ShopDomains []string

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

func (a *App) apiVersion() string {
	if a.APIVersion != "" {
		return a.APIVersion
	}
	return DefaultAPIVersion
}

func (a *App) clockDrift() time.Duration {
	if a.ClockDrift > 0 {
		return a.ClockDrift
	}
	return DefaultClockDrift
}

func (a *App) shopDomains() []string {
	if len(a.ShopDomains) > 0 {
		return a.ShopDomains
	}
	return DefaultShopDomains
}

func (a *App) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}
