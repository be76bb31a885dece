package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/mazz-seven/shopify-tools/internal/api"
	"github.com/mazz-seven/shopify-tools/internal/metrics"
	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

type sessionResponse struct {
	Shop      string       `json:"shop"`
	Scope     string       `json:"scope"`
	Online    bool         `json:"online"`
	ExpiresAt *time.Time   `json:"expires_at,omitempty"`
	User      *sessionUser `json:"user,omitempty"`
}

type sessionUser struct {
	ID        int64  `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// describeSession reports the authenticated session without its token, so
// the embedded frontend can show who it is acting as.
func describeSession(w http.ResponseWriter, r *http.Request) {
	sess := shopify.SessionFromContext(r.Context())
	if sess == nil {
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "no session")
		return
	}

	resp := sessionResponse{
		Shop:      sess.Shop,
		Scope:     sess.Scope,
		Online:    sess.IsOnline,
		ExpiresAt: sess.Expires,
	}
	if sess.User != nil {
		resp.User = &sessionUser{
			ID:        sess.User.ID,
			Email:     sess.User.Email,
			FirstName: sess.User.FirstName,
			LastName:  sess.User.LastName,
		}
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

type syncResponse struct {
	Created []string `json:"created"`
	Desired int      `json:"desired"`
}

// syncWebhooks reconciles the configured subscriptions for the caller's shop
// on demand and reports what this run created.
func syncWebhooks(app *shopify.App, auth *shopify.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := shopify.SessionFromContext(r.Context())
		if sess == nil {
			api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "no session")
			return
		}

		rc := shopify.Reconciler{Desired: auth.DesiredWebhooks, Logger: app.Logger}
		created, err := rc.Reconcile(r.Context(), shopify.NewClient(app, sess))
		if err != nil {
			app.Logger.Error().Err(err).Str("shop", sess.Shop).Msg("webhook sync failed")
			api.WriteError(w, http.StatusBadGateway, "SYNC_FAILED", "listing current subscriptions failed")
			return
		}
		metrics.WebhookSubscriptionsCreated.Add(float64(len(created)))

		topics := make([]string, 0, len(created))
		for _, sub := range created {
			topics = append(topics, sub.Topic)
		}
		api.WriteJSON(w, http.StatusOK, syncResponse{Created: topics, Desired: len(auth.DesiredWebhooks)})
	}
}

// The page only needs App Bridge: the script sees the expired token, mints a
// fresh one and navigates to the shopify-reload target from the query.
const bouncePageHTML = `<!doctype html>
<html>
<head>
  <meta name="shopify-api-key" content="%s" />
  <script src="https://cdn.shopify.com/shopifycloud/app-bridge.js"></script>
</head>
<body></body>
</html>
`

func bouncePage(app *shopify.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, bouncePageHTML, app.ClientID)
	}
}
