package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

type orderPayload struct {
	ID         int64           `json:"id"`
	Email      string          `json:"email"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Currency   string          `json:"currency"`
	LineItems  []struct {
		ProductID int64           `json:"product_id"`
		Quantity  int64           `json:"quantity"`
		Price     decimal.Decimal `json:"price"`
	} `json:"line_items"`
}

func (o orderPayload) lineTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, li := range o.LineItems {
		sum = sum.Add(li.Price.Mul(decimal.NewFromInt(li.Quantity)))
	}
	return sum
}

// OrdersPaidHandler records paid orders. Money fields stay decimal end to
// end; a float would corrupt totals like 0.1+0.2 on the way through.
func OrdersPaidHandler(logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, d Delivery) error {
		var order orderPayload
		if err := json.Unmarshal(d.Body, &order); err != nil {
			return fmt.Errorf("decode order payload: %w", err)
		}
		if order.ID == 0 {
			return fmt.Errorf("order payload without id")
		}

		logger.Info().
			Str("shop", d.Shop).
			Int64("order_id", order.ID).
			Str("total", order.TotalPrice.StringFixed(2)).
			Str("line_total", order.lineTotal().StringFixed(2)).
			Str("currency", currencyOrDefault(order.Currency)).
			Msg("order paid")
		return nil
	}
}

// AppUninstalledHandler drops the shop's offline session so a reinstall
// runs the install flow again instead of reusing a revoked token.
func AppUninstalledHandler(store shopify.SessionStore, logger zerolog.Logger) HandlerFunc {
	return func(ctx context.Context, d Delivery) error {
		if d.Shop == "" {
			return fmt.Errorf("uninstall delivery without shop domain")
		}
		if err := store.Delete(ctx, shopify.OfflineSessionID(d.Shop)); err != nil {
			return fmt.Errorf("delete session for %s: %w", d.Shop, err)
		}
		logger.Info().Str("shop", d.Shop).Msg("app uninstalled, offline session removed")
		return nil
	}
}

func currencyOrDefault(c string) string {
	if c = strings.TrimSpace(c); c == "" {
		return "USD"
	}
	return c
}
