// Package metrics exposes the Prometheus collectors published on /metrics.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

var (
	AuthRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopify",
			Name:      "auth_requests_total",
			Help:      "Session token middleware outcomes.",
		},
		[]string{"outcome"},
	)

	TokenExchanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopify",
			Name:      "token_exchanges_total",
			Help:      "Access token grants redeemed against shop token endpoints.",
		},
		[]string{"kind", "result"},
	)

	WebhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shopify",
			Name:      "webhooks_received_total",
			Help:      "Inbound webhook deliveries by topic and outcome.",
		},
		[]string{"topic", "result"},
	)

	WebhookSubscriptionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shopify",
			Name:      "webhook_subscriptions_created_total",
			Help:      "Webhook subscriptions created by reconciliation runs.",
		},
	)
)

func init() {
	prometheus.MustRegister(AuthRequests, TokenExchanges, WebhooksReceived, WebhookSubscriptionsCreated)
}

// InstrumentPost counts every grant POSTed through next. The kind is read
// from the request payload: token exchange grants carry a grant_type field,
// authorization code grants do not.
func InstrumentPost(next shopify.PostFunc) shopify.PostFunc {
	return func(ctx context.Context, url string, body []byte) (int, []byte, error) {
		var probe struct {
			GrantType string `json:"grant_type"`
		}
		_ = json.Unmarshal(body, &probe)
		kind := "authorization_code"
		if probe.GrantType != "" {
			kind = "token_exchange"
		}

		status, resp, err := next(ctx, url, body)

		result := "ok"
		if err != nil || status < 200 || status >= 300 {
			result = "error"
		}
		TokenExchanges.WithLabelValues(kind, result).Inc()
		return status, resp, err
	}
}

// AuthOutcomes observes responses leaving the session token middleware and
// classifies what it decided: passed through, bounced for a fresh token, or
// rejected.
func AuthOutcomes() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			AuthRequests.WithLabelValues(authOutcome(ww.Status())).Inc()
		})
	}
}

func authOutcome(status int) string {
	switch {
	case status == http.StatusFound:
		return "bounced"
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status >= 500:
		return "error"
	case status >= 400:
		return "rejected"
	default:
		return "ok"
	}
}
