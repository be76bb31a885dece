package webhook

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mazz-seven/shopify-tools/pkg/sessionstore"
	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

func TestOrdersPaidHandler(t *testing.T) {
	fn := OrdersPaidHandler(zerolog.Nop())

	body := []byte(`{
		"id": 820982911946154500,
		"email": "jon@example.com",
		"total_price": "403.00",
		"currency": "USD",
		"line_items": [
			{"product_id": 632910392, "quantity": 3, "price": "100.50"},
			{"product_id": 921728736, "quantity": 1, "price": "101.50"}
		]
	}`)
	if err := fn(context.Background(), Delivery{Topic: "orders_paid", Shop: "x.myshopify.com", Body: body}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if err := fn(context.Background(), Delivery{Body: []byte(`not json`)}); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
	if err := fn(context.Background(), Delivery{Body: []byte(`{}`)}); err == nil {
		t.Fatalf("expected error for order without id")
	}
}

func TestOrderPayloadLineTotal(t *testing.T) {
	var order orderPayload
	body := []byte(`{"id":1,"total_price":"403.00","line_items":[{"quantity":3,"price":"100.50"},{"quantity":1,"price":"101.50"}]}`)
	if err := json.Unmarshal(body, &order); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := order.lineTotal().StringFixed(2); got != "403.00" {
		t.Fatalf("line total = %s", got)
	}
	if got := order.TotalPrice.StringFixed(2); got != "403.00" {
		t.Fatalf("total price = %s", got)
	}
}

func TestAppUninstalledHandler(t *testing.T) {
	store := sessionstore.NewMemory()
	ctx := context.Background()
	_ = store.Put(ctx, &shopify.Session{
		ID:          "offline_x.myshopify.com",
		Shop:        "x.myshopify.com",
		AccessToken: "tok",
	})

	fn := AppUninstalledHandler(store, zerolog.Nop())
	if err := fn(ctx, Delivery{Topic: "app_uninstalled", Shop: "x.myshopify.com"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got, _ := store.Get(ctx, "offline_x.myshopify.com"); got != nil {
		t.Fatalf("offline session survived uninstall: %+v", got)
	}

	if err := fn(ctx, Delivery{Topic: "app_uninstalled"}); err == nil {
		t.Fatalf("expected error for delivery without shop domain")
	}
}
