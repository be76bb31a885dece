// signtoken mints a signed session token for local testing, so curl and the
// dev tools can reach session-authenticated routes without a browser.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mazz-seven/shopify-tools/pkg/config"
)

func main() {
	var (
		shop    = flag.String("shop", "example.myshopify.com", "shop domain for the dest/iss claims")
		user    = flag.String("user", "1", "acting user id for the sub claim")
		key     = flag.String("key", "", "client id for the aud claim (defaults to SHOPIFY_API_KEY)")
		secret  = flag.String("secret", "", "signing secret (defaults to SHOPIFY_API_SECRET)")
		expires = flag.Duration("expires", 5*time.Minute, "token lifetime; negative mints an already expired token")
	)
	flag.Parse()

	cfg := config.Load()
	if *key == "" {
		*key = cfg.Shopify.APIKey
	}
	if *secret == "" {
		*secret = cfg.Shopify.APISecret
	}
	if *key == "" || *secret == "" {
		fmt.Fprintln(os.Stderr, "missing -key/-secret (or SHOPIFY_API_KEY/SHOPIFY_API_SECRET in env/.env)")
		os.Exit(2)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  "https://" + *shop + "/admin",
		"dest": "https://" + *shop,
		"aud":  *key,
		"sub":  *user,
		"exp":  jwt.NewNumericDate(now.Add(*expires)),
		"nbf":  jwt.NewNumericDate(now.Add(-time.Minute)),
		"iat":  jwt.NewNumericDate(now.Add(-time.Minute)),
		"jti":  fmt.Sprintf("dev-%d", now.UnixNano()),
		"sid":  "dev-session",
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(*secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(signed)
}
