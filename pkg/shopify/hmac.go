package shopify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// VerifySignedQuery checks the digest Shopify appends to OAuth callback and
// embedded app GET requests.
//
// The canonical string is every query parameter except the signature field
// itself, rendered as key=value and sorted. The field name picks the join
// rule: "hmac" joins pairs with "&" and escapes "%" and "&" in values, the
// legacy "signature" field joins with no separator and leaves values
// untouched. Repeated "ids" parameters collapse into a bracketed, quoted
// list to match the platform serializer.
func (a *App) VerifySignedQuery(values url.Values) error {
	given := values.Get("hmac")
	joiner, escape := "&", true
	if given == "" {
		given = values.Get("signature")
		joiner, escape = "", false
	}
	if given == "" || a.ClientSecret == "" {
		return ValidationError{Code: "SIGNATURE_MISSING", Message: "query carries no signature"}
	}

	mac := hmac.New(sha256.New, []byte(a.ClientSecret))
	_, _ = mac.Write([]byte(canonicalQuery(values, joiner, escape)))
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(given))) {
		return ValidationError{Code: "SIGNATURE_INVALID", Message: "query signature mismatch"}
	}
	return nil
}

func canonicalQuery(values url.Values, joiner string, escape bool) string {
	pairs := make([]string, 0, len(values))
	for k, vs := range values {
		if k == "hmac" || k == "signature" {
			continue
		}
		if k == "ids" && len(vs) > 1 {
			pairs = append(pairs, `ids=["`+strings.Join(vs, `", "`)+`"]`)
			continue
		}
		for _, v := range vs {
			if escape {
				// Percent before ampersand, or the escape itself gets re-escaped.
				v = strings.ReplaceAll(v, "%", "%25")
				v = strings.ReplaceAll(v, "&", "%26")
			}
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)
	return strings.Join(pairs, joiner)
}

// VerifyWebhookSignature checks the digest Shopify sends with webhook
// deliveries: base64 HMAC-SHA256 of the raw body under the client secret,
// carried in the X-Shopify-Hmac-Sha256 header.
func (a *App) VerifyWebhookSignature(body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" || a.ClientSecret == "" {
		return ValidationError{Code: "SIGNATURE_MISSING", Message: "request carries no signature header"}
	}

	mac := hmac.New(sha256.New, []byte(a.ClientSecret))
	_, _ = mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(header)) {
		return ValidationError{Code: "SIGNATURE_INVALID", Message: "webhook signature mismatch"}
	}
	return nil
}
