// Package httpapi mounts the HTTP surface: auth flows, the session-scoped
// v1 API, the webhook receiver and the operational endpoints.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mazz-seven/shopify-tools/internal/metrics"
	"github.com/mazz-seven/shopify-tools/internal/webhook"
	"github.com/mazz-seven/shopify-tools/pkg/config"
	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

type Dependencies struct {
	Cfg    config.Config
	Logger zerolog.Logger
	App    *shopify.App
	Auth   *shopify.Auth

	// Guard and Handlers feed the inbound webhook receiver.
	Guard    webhook.ReplayGuard
	Handlers *webhook.Registry
}

func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(deps.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// OAuth flows and the bounce page stay outside the session middleware;
	// a client arriving here has no usable token yet.
	r.Get("/auth/begin", deps.Auth.BeginAuthHandler())
	r.Get("/auth/callback", deps.Auth.CallbackHandler())
	r.Get("/auth/session-token-bounce", bouncePage(deps.App))

	receiver := &webhook.Receiver{
		App:      deps.App,
		Guard:    deps.Guard,
		Registry: deps.Handlers,
		Logger:   deps.Logger,
	}

	r.Route("/v1", func(r chi.Router) {
		// Platform deliveries authenticate by body signature, not session.
		r.Post("/webhooks/shopify/{topic}", receiver.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: []string{"https://admin.shopify.com", "https://*.myshopify.com", deps.Cfg.AppURL},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				ExposedHeaders: []string{shopify.RetryInvalidSessionHeader},
				MaxAge:         600,
			}))
			r.Use(metrics.AuthOutcomes())
			r.Use(deps.Auth.Middleware())

			r.Get("/session", describeSession)
			r.Post("/webhooks/sync", syncWebhooks(deps.App, deps.Auth))
		})
	})

	return r
}
