package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	grantTypeTokenExchange  = "urn:ietf:params:oauth:grant-type:token-exchange"
	subjectTokenTypeIDToken = "urn:ietf:params:oauth:token-type:id_token"
	tokenTypeOnlineAccess   = "urn:shopify:params:oauth:token-type:online-access-token"
	tokenTypeOfflineAccess  = "urn:shopify:params:oauth:token-type:offline-access-token"
)

// PostFunc performs one JSON POST and returns the response status and body.
// The default implementation goes over real HTTP; tests and embedders can
// swap in their own.
type PostFunc func(ctx context.Context, url string, body []byte) (int, []byte, error)

// Exchanger redeems grants against a shop's token endpoint. Both grant
// shapes return a ready-to-persist Session; failures are always a
// recoverable *ExchangeError, never a panic or process exit.
type Exchanger struct {
	App  *App
	Post PostFunc
}

type accessTokenResponse struct {
	AccessToken         string          `json:"access_token"`
	Scope               string          `json:"scope"`
	ExpiresIn           int64           `json:"expires_in"`
	AssociatedUserScope string          `json:"associated_user_scope"`
	AssociatedUser      *AssociatedUser `json:"associated_user"`
}

// ExchangeCode redeems an authorization code from an install or update
// callback. The response carries no user block for the usual offline grant,
// so the result is an offline-shaped session for the shop.
func (e Exchanger) ExchangeCode(ctx context.Context, shop, code string) (*Session, error) {
	if shop == "" || code == "" {
		return nil, &ExchangeError{Shop: shop, Err: errors.New("missing shop or code")}
	}
	r, err := e.post(ctx, shop, map[string]string{
		"client_id":     e.App.ClientID,
		"client_secret": e.App.ClientSecret,
		"code":          code,
	})
	if err != nil {
		return nil, err
	}
	return r.session(shop, time.Now()), nil
}

// ExchangeToken trades a verified session token for an access token (RFC 8693
// token exchange grant). Online grants carry the acting user and an expiry;
// offline grants are durable and shop-scoped.
func (e Exchanger) ExchangeToken(ctx context.Context, shop, sessionToken string, online bool) (*Session, error) {
	if shop == "" || sessionToken == "" {
		return nil, &ExchangeError{Shop: shop, Err: errors.New("missing shop or subject token")}
	}
	requested := tokenTypeOfflineAccess
	if online {
		requested = tokenTypeOnlineAccess
	}
	r, err := e.post(ctx, shop, map[string]string{
		"client_id":            e.App.ClientID,
		"client_secret":        e.App.ClientSecret,
		"grant_type":           grantTypeTokenExchange,
		"subject_token":        sessionToken,
		"subject_token_type":   subjectTokenTypeIDToken,
		"requested_token_type": requested,
	})
	if err != nil {
		return nil, err
	}
	return r.session(shop, time.Now()), nil
}

func (e Exchanger) post(ctx context.Context, shop string, payload map[string]string) (*accessTokenResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ExchangeError{Shop: shop, Err: err}
	}

	post := e.Post
	if post == nil {
		post = e.httpPost
	}

	u := fmt.Sprintf("https://%s/admin/oauth/access_token", shop)
	status, respBody, err := post(ctx, u, body)
	if err != nil {
		return nil, &ExchangeError{Shop: shop, Err: err}
	}

	if status < 200 || status >= 300 {
		exErr := &ExchangeError{Shop: shop, Status: status}
		var oauthErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(respBody, &oauthErr) == nil && oauthErr.Error != "" {
			exErr.Code = oauthErr.Error
			if oauthErr.ErrorDescription != "" {
				exErr.Err = errors.New(oauthErr.ErrorDescription)
			}
		} else if len(respBody) > 0 {
			// Surface the body so callers can see missing scopes, etc.
			exErr.Err = fmt.Errorf("body=%s", string(respBody))
		}
		return nil, exErr
	}

	var r accessTokenResponse
	if err := json.Unmarshal(respBody, &r); err != nil {
		return nil, &ExchangeError{Shop: shop, Status: status, Err: fmt.Errorf("decode token response: %w", err)}
	}
	if r.AccessToken == "" {
		return nil, &ExchangeError{Shop: shop, Status: status, Err: errors.New("empty access_token in response")}
	}
	return &r, nil
}

// DefaultPost returns the real HTTP transport as a PostFunc so callers can
// wrap it (instrumentation, retries) and hand it back via Exchanger.Post.
func DefaultPost(app *App) PostFunc {
	return Exchanger{App: app}.httpPost
}

func (e Exchanger) httpPost(ctx context.Context, url string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.App.httpClient().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

func (r accessTokenResponse) session(shop string, now time.Time) *Session {
	s := &Session{
		ID:          OfflineSessionID(shop),
		Shop:        shop,
		AccessToken: r.AccessToken,
		Scope:       r.Scope,
	}
	if r.AssociatedUser != nil {
		s.IsOnline = true
		s.User = r.AssociatedUser
		s.ID = OnlineSessionID(shop, strconv.FormatInt(r.AssociatedUser.ID, 10))
		if r.AssociatedUserScope != "" {
			s.Scope = r.AssociatedUserScope
		}
	}
	if r.ExpiresIn > 0 {
		t := now.Add(time.Duration(r.ExpiresIn) * time.Second)
		s.Expires = &t
	}
	return s
}
