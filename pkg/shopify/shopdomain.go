package shopify

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var shopLabelRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// NormalizeShopDomain validates raw as a shop domain on one of the allowed
// hosted suffixes and returns it in canonical form: lowercase hostname, no
// scheme, no trailing slash. Vanity admin URLs
// (admin.shopify.com/store/<handle>) map to <handle>.myshopify.com.
func (a *App) NormalizeShopDomain(raw string) (string, error) {
	return normalizeShopDomain(raw, a.shopDomains())
}

func normalizeShopDomain(raw string, allowed []string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimSuffix(s, "/")

	// Merchants paste admin URLs; translate the store handle instead of
	// bouncing them.
	if handle, ok := strings.CutPrefix(s, "admin.shopify.com/store/"); ok {
		if !shopLabelRe.MatchString(handle) {
			return "", ValidationError{Code: "SHOP_DOMAIN_INVALID", Message: "invalid store handle in admin url"}
		}
		return handle + ".myshopify.com", nil
	}

	label, rest, found := strings.Cut(s, ".")
	if !found || !shopLabelRe.MatchString(label) {
		return "", ValidationError{Code: "SHOP_DOMAIN_INVALID", Message: "not a shop domain: " + raw}
	}
	for _, suffix := range allowed {
		if rest == suffix {
			return s, nil
		}
	}
	return "", ValidationError{Code: "SHOP_DOMAIN_INVALID", Message: "domain suffix not allowed: " + rest}
}

// ShopFromHostParam decodes the base64 host query parameter the platform
// appends to embedded app URLs and returns the shop it names. Callers treat
// the parameter as optional and only fail when it is present and invalid.
func (a *App) ShopFromHostParam(hostParam string) (string, error) {
	trimmed := strings.TrimRight(hostParam, "=")
	decoded, err := base64.RawStdEncoding.DecodeString(trimmed)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(trimmed)
	}
	if err != nil || len(decoded) == 0 {
		return "", ValidationError{Code: "HOST_PARAM_INVALID", Message: "host parameter is not base64"}
	}

	h := strings.TrimSuffix(string(decoded), "/")
	h = strings.TrimSuffix(h, "/admin")
	shop, err := a.NormalizeShopDomain(h)
	if err != nil {
		return "", ValidationError{Code: "HOST_PARAM_INVALID", Message: "host parameter does not name a shop"}
	}
	return shop, nil
}
