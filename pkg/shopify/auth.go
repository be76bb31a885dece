package shopify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// RetryInvalidSessionHeader tells the embedded frontend to fetch a fresh
// session token and replay the request.
const RetryInvalidSessionHeader = "X-Shopify-Retry-Invalid-Session-Request"

// Auth coordinates the flows of the package for one app: the session token
// middleware for embedded requests, the OAuth begin/callback handlers for
// install and update grants, and the bounce used to re-authenticate stale
// clients. Use it by pointer; it carries a single-flight group.
type Auth struct {
	App       *App
	Store     SessionStore
	Exchanger Exchanger

	// DesiredWebhooks is reconciled by the default hooks whenever a new
	// session is established.
	DesiredWebhooks []WebhookSubscription

	// PostAuthHook runs after the middleware persisted a freshly exchanged
	// session. InstallHook runs after a first-install callback, UpdateHook
	// after later grants for an already installed shop. Nil selects the
	// default: reconcile DesiredWebhooks.
	PostAuthHook func(ctx context.Context, s *Session) error
	InstallHook  func(ctx context.Context, s *Session) error
	UpdateHook   func(ctx context.Context, s *Session) error

	// BouncePath is the route serving the re-authentication page. Defaults
	// to "/auth/session-token-bounce".
	BouncePath string

	group singleflight.Group
}

// Middleware authenticates embedded app requests. Requests continue with the
// shop session in context; requests without a usable token are bounced for a
// fresh one.
func (a *Auth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				token = strings.TrimSpace(r.URL.Query().Get("id_token"))
			}
			if token == "" {
				a.bounce(w, r, "missing session token")
				return
			}

			st, err := a.App.VerifySessionToken(token, time.Now())
			if err != nil {
				var authErr *AuthError
				if errors.As(err, &authErr) {
					a.App.Logger.Debug().Str("reason", string(authErr.Reason)).Err(err).Msg("session token rejected")
				}
				a.bounce(w, r, "session token rejected")
				return
			}

			// The host parameter is optional; it only fails the request when
			// present and naming something that is not a shop.
			if hostParam := r.URL.Query().Get("host"); hostParam != "" {
				if _, err := a.App.ShopFromHostParam(hostParam); err != nil {
					a.writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid host parameter")
					return
				}
			}

			sess, err := a.EnsureSession(r.Context(), st, token)
			if err != nil {
				var exErr *ExchangeError
				if errors.As(err, &exErr) {
					a.App.Logger.Error().Err(exErr).Str("shop", st.Shop).Msg("token exchange failed")
					if exErr.InvalidSubjectToken() {
						// The token went stale between verification and
						// exchange; a fresh one can succeed.
						w.Header().Set(RetryInvalidSessionHeader, "1")
					}
					a.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "token exchange failed")
					return
				}
				a.App.Logger.Error().Err(err).Str("shop", st.Shop).Msg("session lookup failed")
				a.writeError(w, http.StatusInternalServerError, "INTERNAL", "session unavailable")
				return
			}

			if a.App.Embedded {
				w.Header().Set("Content-Security-Policy",
					fmt.Sprintf("frame-ancestors https://%s https://admin.shopify.com;", sess.Shop))
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// EnsureSession returns the stored session addressed by the verified token,
// exchanging the token for a fresh access token when the store has none, the
// granted scope no longer covers the app's, or an online token expired.
// Concurrent requests for the same session id collapse into one exchange.
func (a *Auth) EnsureSession(ctx context.Context, st *SessionToken, rawToken string) (*Session, error) {
	id := OfflineSessionID(st.Shop)
	if a.App.OnlineTokens {
		id = OnlineSessionID(st.Shop, st.UserID)
	}

	sess, err := a.Store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session store get: %w", err)
	}
	if a.sessionUsable(sess) {
		return sess, nil
	}

	v, err, _ := a.group.Do(id, func() (any, error) {
		// The flight winner may have persisted a session already.
		if sess, err := a.Store.Get(ctx, id); err == nil && a.sessionUsable(sess) {
			return sess, nil
		}

		fresh, err := a.exchanger().ExchangeToken(ctx, st.Shop, rawToken, a.App.OnlineTokens)
		if err != nil {
			return nil, err
		}
		if err := a.Store.Put(ctx, fresh); err != nil {
			return nil, fmt.Errorf("session store put: %w", err)
		}

		if hook := a.postAuthHook(); hook != nil {
			if err := hook(ctx, fresh); err != nil {
				// The session is persisted and valid; a hook failure must not
				// un-authenticate the request.
				a.App.Logger.Error().Err(err).Str("shop", fresh.Shop).Msg("post-auth hook failed")
			}
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (a *Auth) sessionUsable(s *Session) bool {
	if s == nil || s.AccessToken == "" {
		return false
	}
	if !s.ScopeCovers(a.App.Scopes) {
		return false
	}
	return !s.Expired(time.Now(), a.App.clockDrift())
}

// BeginAuthHandler starts a top-level OAuth grant: state nonce cookie, then
// a redirect to the shop's authorize endpoint. Used for non-embedded
// installs and as the fallback when token exchange is unavailable.
func (a *Auth) BeginAuthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		shop, err := a.App.NormalizeShopDomain(r.URL.Query().Get("shop"))
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "missing or invalid shop")
			return
		}

		state := randomHex(16)
		http.SetCookie(w, &http.Cookie{
			Name:     "oauth_state",
			Value:    state,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   strings.HasPrefix(a.App.AppURL, "https://"),
		})

		u := url.URL{Scheme: "https", Host: shop, Path: "/admin/oauth/authorize"}
		q := u.Query()
		q.Set("client_id", a.App.ClientID)
		q.Set("scope", a.App.Scopes)
		q.Set("redirect_uri", a.redirectURI())
		q.Set("state", state)
		if a.App.OnlineTokens {
			q.Set("grant_options[]", "per-user")
		}
		u.RawQuery = q.Encode()

		http.Redirect(w, r, u.String(), http.StatusFound)
	}
}

// CallbackHandler completes an authorization grant. The signed query is
// rejected with 401 on signature mismatch. The install hook runs the first
// time a shop authorizes; later grants (reinstalls, scope changes, token
// rotations) run the update hook instead.
func (a *Auth) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()

		if err := a.App.VerifySignedQuery(qs); err != nil {
			a.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid callback signature")
			return
		}

		shop, err := a.App.NormalizeShopDomain(qs.Get("shop"))
		if err != nil {
			a.writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "invalid shop")
			return
		}
		code := strings.TrimSpace(qs.Get("code"))
		if code == "" {
			a.writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "missing code")
			return
		}

		// A state cookie only exists when this process began the grant;
		// platform-initiated installs arrive without one.
		if c, err := r.Cookie("oauth_state"); err == nil && c.Value != "" && c.Value != qs.Get("state") {
			a.writeError(w, http.StatusBadRequest, "VALIDATION_FAILED", "oauth state mismatch")
			return
		}

		prior, err := a.Store.Get(r.Context(), OfflineSessionID(shop))
		if err != nil {
			a.writeError(w, http.StatusInternalServerError, "INTERNAL", "session store unavailable")
			return
		}
		isUpdate := prior != nil && prior.AccessToken != ""

		sess, err := a.exchanger().ExchangeCode(r.Context(), shop, code)
		if err != nil {
			flowErr := error(&InstallError{Shop: shop, Err: err})
			if isUpdate {
				flowErr = &UpdateError{Shop: shop, Err: err}
			}
			a.App.Logger.Error().Err(flowErr).Str("shop", shop).Msg("authorization code exchange failed")
			a.writeError(w, http.StatusBadGateway, "EXCHANGE_FAILED", flowErr.Error())
			return
		}

		if err := a.Store.Put(r.Context(), sess); err != nil {
			a.writeError(w, http.StatusInternalServerError, "INTERNAL", "persist session failed")
			return
		}

		hook := a.InstallHook
		if isUpdate {
			hook = a.UpdateHook
		}
		if hook == nil {
			hook = a.reconcileHook
		}
		if err := hook(r.Context(), sess); err != nil {
			a.App.Logger.Error().Err(err).Str("shop", shop).Bool("update", isUpdate).Msg("lifecycle hook failed")
			a.writeError(w, http.StatusInternalServerError, "HOOK_FAILED", "post-install processing failed")
			return
		}

		// Embedded apps land back inside the admin; anything else gets a
		// plain confirmation.
		if a.App.Embedded {
			http.Redirect(w, r, fmt.Sprintf("https://%s/admin/apps/%s", shop, a.App.ClientID), http.StatusFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"shop": sess.Shop, "scope": sess.Scope})
	}
}

func (a *Auth) postAuthHook() func(context.Context, *Session) error {
	if a.PostAuthHook != nil {
		return a.PostAuthHook
	}
	if len(a.DesiredWebhooks) == 0 {
		return nil
	}
	return a.reconcileHook
}

func (a *Auth) reconcileHook(ctx context.Context, s *Session) error {
	if len(a.DesiredWebhooks) == 0 {
		return nil
	}
	rc := Reconciler{Desired: a.DesiredWebhooks, Logger: a.App.Logger}
	_, err := rc.Reconcile(ctx, NewClient(a.App, s))
	return err
}

func (a *Auth) exchanger() Exchanger {
	ex := a.Exchanger
	if ex.App == nil {
		ex.App = a.App
	}
	return ex
}

func (a *Auth) redirectURI() string {
	return strings.TrimRight(a.App.AppURL, "/") + "/auth/callback"
}

func (a *Auth) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]map[string]string{
		"error": {"code": code, "message": message},
	})
}

func bearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

func randomHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
