// Package webhook terminates inbound Shopify webhook traffic: signature
// verification, replay filtering and topic dispatch.
package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mazz-seven/shopify-tools/internal/api"
	"github.com/mazz-seven/shopify-tools/internal/metrics"
	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

// DefaultReplayTTL bounds how long a delivery id is remembered. Shopify
// retries a delivery for at most two days; anything older is genuinely new.
const DefaultReplayTTL = 48 * time.Hour

// Receiver handles webhook POSTs. Every outcome except a bad signature is
// acknowledged with a 200: a retry of a payload that fails deterministically
// would never converge, so failures are logged and counted instead.
type Receiver struct {
	App      *shopify.App
	Guard    ReplayGuard
	Registry *Registry
	Logger   zerolog.Logger

	// ReplayTTL overrides DefaultReplayTTL when positive.
	ReplayTTL time.Duration
}

func (h *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Prefer Shopify's topic header; fall back to route param.
	topic := strings.TrimSpace(r.Header.Get("X-Shopify-Topic"))
	if topic == "" {
		topic = chi.URLParam(r, "topic")
	}
	topic = NormalizeTopic(topic)

	shopDomain := strings.TrimSpace(r.Header.Get("X-Shopify-Shop-Domain"))
	eventID := strings.TrimSpace(r.Header.Get("X-Shopify-Webhook-Id"))
	if eventID == "" {
		eventID = strings.TrimSpace(r.Header.Get("X-Shopify-Event-Id"))
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.WebhooksReceived.WithLabelValues(topic, "rejected").Inc()
		api.WriteError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid body")
		return
	}

	if err := h.App.VerifyWebhookSignature(body, r.Header.Get("X-Shopify-Hmac-Sha256")); err != nil {
		metrics.WebhooksReceived.WithLabelValues(topic, "unauthorized").Inc()
		api.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid webhook signature")
		return
	}

	if eventID == "" {
		// Fallback idempotency key when no webhook-id header is present.
		sum := sha256.Sum256(body)
		eventID = hex.EncodeToString(sum[:])
	}

	seen, err := h.Guard.Seen(r.Context(), eventID, h.replayTTL())
	if err != nil {
		// Guard outage: double-processing beats dropping the delivery.
		h.Logger.Error().Err(err).Str("topic", topic).Msg("replay guard unavailable")
	}
	if seen {
		h.Logger.Debug().Str("shop", shopDomain).Str("topic", topic).Str("event_id", eventID).Msg("duplicate webhook delivery")
		metrics.WebhooksReceived.WithLabelValues(topic, "duplicate").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	fn, ok := h.Registry.Lookup(topic)
	if !ok {
		h.Logger.Info().Str("shop", shopDomain).Str("topic", topic).Msg("webhook topic without handler")
		metrics.WebhooksReceived.WithLabelValues(topic, "unhandled").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := fn(r.Context(), Delivery{Topic: topic, Shop: shopDomain, EventID: eventID, Body: body}); err != nil {
		h.Logger.Error().Err(err).Str("shop", shopDomain).Str("topic", topic).Str("event_id", eventID).Msg("webhook handler failed")
		metrics.WebhooksReceived.WithLabelValues(topic, "failed").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	metrics.WebhooksReceived.WithLabelValues(topic, "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

func (h *Receiver) replayTTL() time.Duration {
	if h.ReplayTTL > 0 {
		return h.ReplayTTL
	}
	return DefaultReplayTTL
}
