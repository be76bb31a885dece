package shopify

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionTokenClaims is the exact claim set carried by an embedded app
// session token. Anything else in the payload is ignored.
type SessionTokenClaims struct {
	jwt.RegisteredClaims

	Dest   string `json:"dest,omitempty"` // shop origin, e.g. https://{shop}
	Sid    string `json:"sid,omitempty"`  // platform session id
	Locale string `json:"locale,omitempty"`
	Host   string `json:"host,omitempty"`
}

// SessionToken is a verified session token reduced to the identity the rest
// of the auth flow works with.
type SessionToken struct {
	Shop   string
	UserID string // sub claim; the acting user for online token flows
	Locale string
	Host   string
	Expiry time.Time

	Claims SessionTokenClaims
}

var sessionTokenAlgs = []string{"HS256", "HS512"}

// VerifySessionToken verifies a session token (JWT signed with the app client
// secret) and extracts the shop it was issued for. Not-before and expiry
// checks run against now with the app clock drift as leeway. Failures carry a
// distinct AuthError reason so callers can decide between bouncing the client
// for a fresh token and rejecting outright.
func (a *App) VerifySessionToken(tokenString string, now time.Time) (*SessionToken, error) {
	if tokenString == "" {
		return nil, &AuthError{Reason: AuthReasonMalformed, Err: errors.New("missing token")}
	}
	if a.ClientSecret == "" {
		return nil, &AuthError{Reason: AuthReasonMalformed, Err: errors.New("missing client secret")}
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(sessionTokenAlgs),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(a.clockDrift()),
		jwt.WithAudience(a.ClientID),
		jwt.WithExpirationRequired(),
	)
	claims := &SessionTokenClaims{}
	if _, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return []byte(a.ClientSecret), nil
	}); err != nil {
		return nil, &AuthError{Reason: authReason(err), Err: err}
	}

	shop, err := a.shopFromClaims(claims)
	if err != nil {
		return nil, &AuthError{Reason: AuthReasonMalformed, Err: err}
	}

	st := &SessionToken{
		Shop:   shop,
		UserID: claims.Subject,
		Locale: claims.Locale,
		Host:   claims.Host,
		Claims: *claims,
	}
	if claims.ExpiresAt != nil {
		st.Expiry = claims.ExpiresAt.Time
	}
	return st, nil
}

func authReason(err error) AuthReason {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return AuthReasonInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return AuthReasonExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return AuthReasonNotYetValid
	default:
		return AuthReasonMalformed
	}
}

// shopFromClaims prefers dest ("https://{shop}") and falls back to sub. A
// token naming no valid shop is rejected, never defaulted.
func (a *App) shopFromClaims(c *SessionTokenClaims) (string, error) {
	candidate := c.Dest
	if candidate == "" {
		candidate = c.Subject
	}
	shop, err := a.NormalizeShopDomain(candidate)
	if err != nil {
		return "", err
	}

	// When an issuer is present it must name the same shop; tokens minted for
	// one shop are not honored for another.
	if c.Issuer != "" {
		iss := strings.TrimSuffix(c.Issuer, "/")
		iss = strings.TrimSuffix(iss, "/admin")
		issShop, err := a.NormalizeShopDomain(iss)
		if err != nil || issShop != shop {
			return "", ValidationError{Code: "SHOP_DOMAIN_INVALID", Message: "issuer does not match dest"}
		}
	}
	return shop, nil
}
