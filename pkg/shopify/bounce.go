package shopify

import (
	"net/http"
)

// bounce sends the client to fetch a fresh session token. Document
// navigations redirect to the bounce route with the original request
// preserved; fetches already holding an Authorization header get a 401 with
// the retry header so the frontend replays with a new token.
func (a *Auth) bounce(w http.ResponseWriter, r *http.Request, reason string) {
	a.App.Logger.Debug().Str("path", r.URL.Path).Str("reason", reason).Msg("bouncing request")

	if r.Header.Get("Authorization") != "" {
		w.Header().Set(RetryInvalidSessionHeader, "1")
		a.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", reason)
		return
	}
	http.Redirect(w, r, a.bounceURL(r), http.StatusFound)
}

// bounceURL carries the original query forward minus any stale token, plus a
// shopify-reload parameter naming the page to restore once the bounce page
// has minted a fresh token. The bounce route is fixed and never itself
// behind the middleware, so a bounce cannot loop.
func (a *Auth) bounceURL(r *http.Request) string {
	q := r.URL.Query()
	q.Del("id_token")

	reload := r.URL.Path
	if enc := q.Encode(); enc != "" {
		reload += "?" + enc
	}
	q.Set("shopify-reload", reload)

	return a.bouncePath() + "?" + q.Encode()
}

func (a *Auth) bouncePath() string {
	if a.BouncePath != "" {
		return a.BouncePath
	}
	return "/auth/session-token-bounce"
}
