package shopify

import (
	"context"
	"strings"
	"time"
)

// Session is an access grant for one shop, shaped by the flow that produced
// it: offline sessions belong to the shop, online sessions to one acting
// user and carry an expiry.
type Session struct {
	ID          string          `json:"id"`
	Shop        string          `json:"shop"`
	AccessToken string          `json:"access_token"`
	Scope       string          `json:"scope"`
	Expires     *time.Time      `json:"expires,omitempty"`
	IsOnline    bool            `json:"is_online"`
	User        *AssociatedUser `json:"user,omitempty"`
}

// AssociatedUser mirrors the associated_user block of an online token grant.
type AssociatedUser struct {
	ID            int64  `json:"id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	AccountOwner  bool   `json:"account_owner"`
	Locale        string `json:"locale"`
	Collaborator  bool   `json:"collaborator"`
}

// OfflineSessionID is the deterministic id an offline session for shop is
// stored under.
func OfflineSessionID(shop string) string { return "offline_" + shop }

// OnlineSessionID is the deterministic id an online session for shop and
// acting user is stored under.
func OnlineSessionID(shop, userID string) string { return shop + "_" + userID }

// Expired reports whether the access token is past its expiry, with leeway
// subtracted so a token about to lapse mid-request counts as already gone.
// Sessions without an expiry never expire.
func (s *Session) Expired(now time.Time, leeway time.Duration) bool {
	if s.Expires == nil {
		return false
	}
	return !now.Add(leeway).Before(*s.Expires)
}

// ScopeCovers reports whether the granted scope list includes every entry of
// want (both comma-separated). A write scope implies its read counterpart.
func (s *Session) ScopeCovers(want string) bool {
	have := map[string]bool{}
	for _, sc := range strings.Split(s.Scope, ",") {
		if sc = strings.TrimSpace(sc); sc != "" {
			have[sc] = true
		}
	}
	for _, sc := range strings.Split(want, ",") {
		sc = strings.TrimSpace(sc)
		if sc == "" || have[sc] {
			continue
		}
		if rest, ok := strings.CutPrefix(sc, "read_"); ok && have["write_"+rest] {
			continue
		}
		return false
	}
	return true
}

// SessionStore persists sessions between requests, keyed by their
// deterministic id. Get returns (nil, nil) when no session exists under id.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}
