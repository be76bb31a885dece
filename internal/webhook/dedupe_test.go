package webhook

import (
	"context"
	"testing"
	"time"
)

func TestMemoryReplayGuard(t *testing.T) {
	g := NewMemoryReplayGuard()
	ctx := context.Background()

	seen, err := g.Seen(ctx, "wh-1", time.Hour)
	if err != nil || seen {
		t.Fatalf("first sighting: seen=%v err=%v", seen, err)
	}
	seen, err = g.Seen(ctx, "wh-1", time.Hour)
	if err != nil || !seen {
		t.Fatalf("second sighting: seen=%v err=%v", seen, err)
	}
	seen, _ = g.Seen(ctx, "wh-2", time.Hour)
	if seen {
		t.Fatalf("different id must not be seen")
	}
}

func TestMemoryReplayGuard_Expiry(t *testing.T) {
	g := NewMemoryReplayGuard()
	ctx := context.Background()

	if seen, _ := g.Seen(ctx, "wh-short", 10*time.Millisecond); seen {
		t.Fatalf("first sighting reported seen")
	}
	time.Sleep(20 * time.Millisecond)
	if seen, _ := g.Seen(ctx, "wh-short", 10*time.Millisecond); seen {
		t.Fatalf("expired id should count as new")
	}
}

func TestNormalizeTopic(t *testing.T) {
	cases := map[string]string{
		"orders/paid":            "orders_paid",
		"ORDERS/PAID":            "orders_paid",
		"app/uninstalled":        "app_uninstalled",
		"orders_paid":            "orders_paid",
		" orders/paid ":          "orders_paid",
		"a//b":                   "a_b",
		"customers/data_request": "customers_data_request",
	}
	for in, want := range cases {
		if got := NormalizeTopic(in); got != want {
			t.Fatalf("NormalizeTopic(%q) = %q, want %q", in, got, want)
		}
	}
}
