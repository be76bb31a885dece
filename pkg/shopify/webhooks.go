package shopify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// WebhookSubscription describes one delivery registration for a topic.
type WebhookSubscription struct {
	ID          string
	Topic       string // slash form, e.g. "orders/paid"
	CallbackURL string
	Format      string // "json" (default) or "xml"
}

// GraphQLTopic converts a topic like "orders/paid" into the enum form the
// Admin GraphQL schema uses ("ORDERS_PAID"). Listing returns topics in enum
// form, so set comparisons key on this.
func GraphQLTopic(topic string) string {
	t := strings.ToUpper(strings.TrimSpace(topic))
	t = strings.ReplaceAll(t, "/", "_")
	t = strings.ReplaceAll(t, ".", "_")
	t = strings.ReplaceAll(t, "-", "_")
	return t
}

const listWebhooksQuery = `
query WebhookSubscriptions($first: Int!) {
  webhookSubscriptions(first: $first) {
    edges {
      node {
        id
        topic
        format
        endpoint {
          __typename
          ... on WebhookHttpEndpoint {
            callbackUrl
          }
        }
      }
    }
  }
}
`

// ListWebhooks returns the shop's current subscriptions with HTTP callback
// endpoints resolved.
func (c Client) ListWebhooks(ctx context.Context) ([]WebhookSubscription, error) {
	var data struct {
		WebhookSubscriptions struct {
			Edges []struct {
				Node struct {
					ID       string `json:"id"`
					Topic    string `json:"topic"`
					Format   string `json:"format"`
					Endpoint struct {
						Typename    string `json:"__typename"`
						CallbackURL string `json:"callbackUrl"`
					} `json:"endpoint"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"webhookSubscriptions"`
	}
	if err := c.graphql(ctx, listWebhooksQuery, map[string]any{"first": 250}, &data); err != nil {
		return nil, err
	}

	subs := make([]WebhookSubscription, 0, len(data.WebhookSubscriptions.Edges))
	for _, e := range data.WebhookSubscriptions.Edges {
		subs = append(subs, WebhookSubscription{
			ID:          e.Node.ID,
			Topic:       e.Node.Topic,
			CallbackURL: e.Node.Endpoint.CallbackURL,
			Format:      strings.ToLower(e.Node.Format),
		})
	}
	return subs, nil
}

const createWebhookMutation = `
mutation WebhookSubscriptionCreate($topic: WebhookSubscriptionTopic!, $webhookSubscription: WebhookSubscriptionInput!) {
  webhookSubscriptionCreate(topic: $topic, webhookSubscription: $webhookSubscription) {
    webhookSubscription {
      id
    }
    userErrors {
      field
      message
    }
  }
}
`

// CreateWebhook registers one subscription and returns it with the
// platform-assigned id filled in.
func (c Client) CreateWebhook(ctx context.Context, sub WebhookSubscription) (WebhookSubscription, error) {
	if strings.TrimSpace(sub.Topic) == "" || strings.TrimSpace(sub.CallbackURL) == "" {
		return sub, fmt.Errorf("missing topic or callback url")
	}
	format := strings.ToUpper(sub.Format)
	if format == "" {
		format = "JSON"
	}

	var data struct {
		WebhookSubscriptionCreate struct {
			WebhookSubscription *struct {
				ID string `json:"id"`
			} `json:"webhookSubscription"`
			UserErrors []struct {
				Field   []string `json:"field"`
				Message string   `json:"message"`
			} `json:"userErrors"`
		} `json:"webhookSubscriptionCreate"`
	}
	if err := c.graphql(ctx, createWebhookMutation, map[string]any{
		"topic": GraphQLTopic(sub.Topic),
		"webhookSubscription": map[string]any{
			"callbackUrl": sub.CallbackURL,
			"format":      format,
		},
	}, &data); err != nil {
		return sub, err
	}
	if len(data.WebhookSubscriptionCreate.UserErrors) > 0 {
		return sub, fmt.Errorf("webhookSubscriptionCreate user error: %s", data.WebhookSubscriptionCreate.UserErrors[0].Message)
	}
	if data.WebhookSubscriptionCreate.WebhookSubscription == nil {
		return sub, fmt.Errorf("webhookSubscriptionCreate returned no subscription")
	}

	sub.ID = data.WebhookSubscriptionCreate.WebhookSubscription.ID
	return sub, nil
}

// Reconciler creates the desired subscriptions a shop is missing. Existing
// subscriptions are never updated or deleted, even when they are not in the
// desired set.
type Reconciler struct {
	Desired []WebhookSubscription
	Logger  zerolog.Logger
}

// Reconcile lists the shop's current subscriptions and creates every desired
// topic not present. A failed create is logged and skipped without blocking
// the remaining topics. The returned slice holds only the subscriptions this
// run created; the error is non-nil only when the listing itself fails.
func (rc Reconciler) Reconcile(ctx context.Context, c Client) ([]WebhookSubscription, error) {
	current, err := c.ListWebhooks(ctx)
	if err != nil {
		return nil, err
	}

	have := make(map[string]bool, len(current))
	for _, sub := range current {
		have[GraphQLTopic(sub.Topic)] = true
	}

	var created []WebhookSubscription
	for _, want := range rc.Desired {
		if have[GraphQLTopic(want.Topic)] {
			continue
		}
		sub, err := c.CreateWebhook(ctx, want)
		if err != nil {
			werr := &WebhookError{Topic: want.Topic, Err: err}
			rc.Logger.Error().Err(werr).Str("shop", c.Shop).Str("topic", want.Topic).Msg("webhook create failed")
			continue
		}
		created = append(created, sub)
	}
	return created, nil
}
