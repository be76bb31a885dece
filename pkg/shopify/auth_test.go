package shopify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type memStore struct {
	mu sync.Mutex
	m  map[string]*Session
}

func newMemStore() *memStore { return &memStore{m: map[string]*Session{}} }

func (st *memStore) Get(ctx context.Context, id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.m[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (st *memStore) Put(ctx context.Context, s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	cp := *s
	st.m[s.ID] = &cp
	return nil
}

func (st *memStore) Delete(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.m, id)
	return nil
}

func authApp() *App {
	app := testApp()
	app.AppURL = "https://app.example.com"
	app.Scopes = "read_products"
	app.Embedded = true
	return app
}

func countingPost(calls *int32, status int, body string) PostFunc {
	return func(ctx context.Context, url string, b []byte) (int, []byte, error) {
		atomic.AddInt32(calls, 1)
		return status, []byte(body), nil
	}
}

func panickyPost(t *testing.T) PostFunc {
	return func(ctx context.Context, url string, b []byte) (int, []byte, error) {
		t.Fatalf("exchange must not run")
		return 0, nil, nil
	}
}

// signedCallbackQuery builds an OAuth callback query carrying a valid hmac
// over the remaining parameters.
func signedCallbackQuery(secret string, kv map[string]string) url.Values {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+kv[k])
	}

	v := url.Values{}
	for k, val := range kv {
		v.Set(k, val)
	}
	v.Set("hmac", hexDigest(secret, strings.Join(parts, "&")))
	return v
}

func serveAuthed(t *testing.T, auth *Auth, req *http.Request) (*httptest.ResponseRecorder, *Session) {
	t.Helper()
	var got *Session
	h := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = SessionFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr, got
}

func TestAuthMiddleware_ExchangesAndStores(t *testing.T) {
	app := authApp()
	store := newMemStore()
	var calls int32
	auth := &Auth{
		App:   app,
		Store: store,
		Exchanger: Exchanger{Post: countingPost(&calls, 200,
			`{"access_token":"tok_offline","scope":"read_products"}`)},
	}

	tok := signToken(t, "test_secret", baseClaims(time.Now()))
	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	rr, sess := serveAuthed(t, auth, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if sess == nil || sess.Shop != "my-shop.myshopify.com" || sess.AccessToken != "tok_offline" {
		t.Fatalf("session in context: %+v", sess)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("exchange ran %d times", calls)
	}
	if stored, _ := store.Get(context.Background(), "offline_my-shop.myshopify.com"); stored == nil {
		t.Fatalf("session not persisted")
	}
	csp := rr.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-ancestors https://my-shop.myshopify.com https://admin.shopify.com") {
		t.Fatalf("csp = %q", csp)
	}
}

func TestAuthMiddleware_ReusesStoredSession(t *testing.T) {
	app := authApp()
	store := newMemStore()
	_ = store.Put(context.Background(), &Session{
		ID:          "offline_my-shop.myshopify.com",
		Shop:        "my-shop.myshopify.com",
		AccessToken: "stored",
		Scope:       "read_products",
	})
	auth := &Auth{App: app, Store: store, Exchanger: Exchanger{Post: panickyPost(t)}}

	tok := signToken(t, "test_secret", baseClaims(time.Now()))
	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	rr, sess := serveAuthed(t, auth, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if sess == nil || sess.AccessToken != "stored" {
		t.Fatalf("stored session not reused: %+v", sess)
	}
}

func TestAuthMiddleware_ReExchangesExpiredOnline(t *testing.T) {
	app := authApp()
	app.OnlineTokens = true
	store := newMemStore()
	past := time.Now().Add(-time.Minute)
	_ = store.Put(context.Background(), &Session{
		ID:          "my-shop.myshopify.com_902541635",
		Shop:        "my-shop.myshopify.com",
		AccessToken: "stale",
		Scope:       "read_products",
		Expires:     &past,
		IsOnline:    true,
	})
	var calls int32
	auth := &Auth{
		App:   app,
		Store: store,
		Exchanger: Exchanger{Post: countingPost(&calls, 200,
			`{"access_token":"fresh","scope":"read_products","expires_in":86399,"associated_user":{"id":902541635}}`)},
	}

	tok := signToken(t, "test_secret", baseClaims(time.Now()))
	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	rr, sess := serveAuthed(t, auth, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if sess == nil || sess.AccessToken != "fresh" {
		t.Fatalf("expired session should be replaced: %+v", sess)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("exchange ran %d times", calls)
	}
}

func TestAuthMiddleware_ReExchangesStaleScope(t *testing.T) {
	app := authApp()
	app.Scopes = "read_products,write_orders"
	store := newMemStore()
	_ = store.Put(context.Background(), &Session{
		ID:          "offline_my-shop.myshopify.com",
		Shop:        "my-shop.myshopify.com",
		AccessToken: "narrow",
		Scope:       "read_products",
	})
	var calls int32
	auth := &Auth{
		App:   app,
		Store: store,
		Exchanger: Exchanger{Post: countingPost(&calls, 200,
			`{"access_token":"wide","scope":"read_products,write_orders"}`)},
	}

	tok := signToken(t, "test_secret", baseClaims(time.Now()))
	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	_, sess := serveAuthed(t, auth, req)
	if sess == nil || sess.AccessToken != "wide" {
		t.Fatalf("under-scoped session should be replaced: %+v", sess)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("exchange ran %d times", calls)
	}
}

func TestAuthMiddleware_BounceWithoutToken(t *testing.T) {
	auth := &Auth{App: authApp(), Store: newMemStore(), Exchanger: Exchanger{Post: panickyPost(t)}}

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	rr, _ := serveAuthed(t, auth, req)
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if loc.Path != "/auth/session-token-bounce" {
		t.Fatalf("bounce path = %q", loc.Path)
	}
	if got := loc.Query().Get("shopify-reload"); got != "/v1/session" {
		t.Fatalf("shopify-reload = %q", got)
	}
}

func TestAuthMiddleware_BounceStripsStaleToken(t *testing.T) {
	auth := &Auth{App: authApp(), Store: newMemStore(), Exchanger: Exchanger{Post: panickyPost(t)}}

	claims := baseClaims(time.Now())
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	expired := signToken(t, "test_secret", claims)

	req := httptest.NewRequest(http.MethodGet,
		"/apps/page?foo=1&shop=my-shop.myshopify.com&id_token="+expired, nil)
	rr, _ := serveAuthed(t, auth, req)
	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d", rr.Code)
	}
	location := rr.Header().Get("Location")
	if strings.Contains(location, "id_token") {
		t.Fatalf("stale token leaked into bounce url: %q", location)
	}
	loc, _ := url.Parse(location)
	reload := loc.Query().Get("shopify-reload")
	if reload != "/apps/page?foo=1&shop=my-shop.myshopify.com" {
		t.Fatalf("shopify-reload = %q", reload)
	}
}

func TestAuthMiddleware_FetchGets401WithRetryHeader(t *testing.T) {
	auth := &Auth{App: authApp(), Store: newMemStore(), Exchanger: Exchanger{Post: panickyPost(t)}}

	claims := baseClaims(time.Now())
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test_secret", claims))

	rr, _ := serveAuthed(t, auth, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get(RetryInvalidSessionHeader) != "1" {
		t.Fatalf("retry header missing")
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("error envelope: %s", rr.Body.String())
	}
}

func TestAuthMiddleware_InvalidSubjectTokenAsksForRetry(t *testing.T) {
	auth := &Auth{
		App:   authApp(),
		Store: newMemStore(),
		Exchanger: Exchanger{Post: countingPost(new(int32), 400,
			`{"error":"invalid_subject_token"}`)},
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test_secret", baseClaims(time.Now())))

	rr, _ := serveAuthed(t, auth, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get(RetryInvalidSessionHeader) != "1" {
		t.Fatalf("retry header missing")
	}
}

func TestAuthMiddleware_RejectsBadHostParam(t *testing.T) {
	auth := &Auth{App: authApp(), Store: newMemStore(), Exchanger: Exchanger{Post: panickyPost(t)}}

	tok := signToken(t, "test_secret", baseClaims(time.Now()))
	req := httptest.NewRequest(http.MethodGet, "/v1/session?host=%21%21%21", nil)
	req.Header.Set("Authorization", "Bearer "+tok)

	rr, _ := serveAuthed(t, auth, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestAuthMiddleware_PostAuthHook(t *testing.T) {
	app := authApp()
	store := newMemStore()
	var calls int32
	var hooked int32
	auth := &Auth{
		App:   app,
		Store: store,
		Exchanger: Exchanger{Post: countingPost(&calls, 200,
			`{"access_token":"tok","scope":"read_products"}`)},
		PostAuthHook: func(ctx context.Context, s *Session) error {
			atomic.AddInt32(&hooked, 1)
			return nil
		},
	}

	tok := signToken(t, "test_secret", baseClaims(time.Now()))
	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	if rr, _ := serveAuthed(t, auth, req); rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if atomic.LoadInt32(&hooked) != 1 {
		t.Fatalf("hook ran %d times after exchange", hooked)
	}

	// A reused session does not re-run the hook.
	req = httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test_secret", baseClaims(time.Now())))
	if rr, _ := serveAuthed(t, auth, req); rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if atomic.LoadInt32(&hooked) != 1 {
		t.Fatalf("hook ran %d times after reuse", hooked)
	}
}

func TestAuthMiddleware_HookFailureKeepsSession(t *testing.T) {
	app := authApp()
	var calls int32
	auth := &Auth{
		App:   app,
		Store: newMemStore(),
		Exchanger: Exchanger{Post: countingPost(&calls, 200,
			`{"access_token":"tok","scope":"read_products"}`)},
		PostAuthHook: func(ctx context.Context, s *Session) error {
			return context.DeadlineExceeded
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test_secret", baseClaims(time.Now())))
	rr, sess := serveAuthed(t, auth, req)
	if rr.Code != http.StatusOK || sess == nil {
		t.Fatalf("hook failure must not fail the request: %d %+v", rr.Code, sess)
	}
}

func TestEnsureSession_SingleFlight(t *testing.T) {
	app := authApp()
	var calls int32
	gate := make(chan struct{})
	auth := &Auth{
		App:   app,
		Store: newMemStore(),
		Exchanger: Exchanger{Post: func(ctx context.Context, url string, b []byte) (int, []byte, error) {
			atomic.AddInt32(&calls, 1)
			<-gate
			return 200, []byte(`{"access_token":"tok","scope":"read_products"}`), nil
		}},
	}

	now := time.Now()
	tok := signToken(t, "test_secret", baseClaims(now))
	st, err := app.VerifySessionToken(tok, now)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	const n = 5
	var wg sync.WaitGroup
	sessions := make([]*Session, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = auth.EnsureSession(context.Background(), st, tok)
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("exchange ran %d times for concurrent requests", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil || sessions[i] == nil || sessions[i].AccessToken != "tok" {
			t.Fatalf("request %d: %v %+v", i, errs[i], sessions[i])
		}
	}

	// The persisted session serves later calls without another exchange.
	if _, err := auth.EnsureSession(context.Background(), st, tok); err != nil {
		t.Fatalf("ensure after flight: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("exchange ran %d times total", got)
	}
}

func TestBeginAuthHandler(t *testing.T) {
	app := authApp()
	app.OnlineTokens = true
	auth := &Auth{App: app, Store: newMemStore()}

	req := httptest.NewRequest(http.MethodGet, "/auth/begin?shop=my-shop.myshopify.com", nil)
	rr := httptest.NewRecorder()
	auth.BeginAuthHandler()(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("location: %v", err)
	}
	if loc.Scheme != "https" || loc.Host != "my-shop.myshopify.com" || loc.Path != "/admin/oauth/authorize" {
		t.Fatalf("authorize url = %q", loc.String())
	}
	q := loc.Query()
	if q.Get("client_id") != "test_api_key" || q.Get("scope") != "read_products" {
		t.Fatalf("authorize query = %v", q)
	}
	if q.Get("redirect_uri") != "https://app.example.com/auth/callback" {
		t.Fatalf("redirect_uri = %q", q.Get("redirect_uri"))
	}
	if q.Get("grant_options[]") != "per-user" {
		t.Fatalf("grant_options = %q", q.Get("grant_options[]"))
	}

	state := q.Get("state")
	if len(state) != 32 {
		t.Fatalf("state = %q", state)
	}
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == "oauth_state" {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value != state || !cookie.HttpOnly || !cookie.Secure {
		t.Fatalf("state cookie = %+v", cookie)
	}
}

func TestBeginAuthHandler_RejectsBadShop(t *testing.T) {
	auth := &Auth{App: authApp(), Store: newMemStore()}

	req := httptest.NewRequest(http.MethodGet, "/auth/begin?shop=evil.example.net", nil)
	rr := httptest.NewRecorder()
	auth.BeginAuthHandler()(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCallbackHandler_Install(t *testing.T) {
	app := authApp()
	app.Embedded = false
	store := newMemStore()
	var calls int32
	var installed, updated *Session
	auth := &Auth{
		App:   app,
		Store: store,
		Exchanger: Exchanger{Post: countingPost(&calls, 200,
			`{"access_token":"tok_install","scope":"read_products"}`)},
		InstallHook: func(ctx context.Context, s *Session) error { installed = s; return nil },
		UpdateHook:  func(ctx context.Context, s *Session) error { updated = s; return nil },
	}

	q := signedCallbackQuery("test_secret", map[string]string{
		"shop":      "my-shop.myshopify.com",
		"code":      "abc123",
		"timestamp": "1700000000",
	})
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+q.Encode(), nil)
	rr := httptest.NewRecorder()
	auth.CallbackHandler()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if installed == nil || installed.AccessToken != "tok_install" {
		t.Fatalf("install hook session: %+v", installed)
	}
	if updated != nil {
		t.Fatalf("update hook must not run on first install")
	}
	if stored, _ := store.Get(context.Background(), "offline_my-shop.myshopify.com"); stored == nil {
		t.Fatalf("offline session not persisted")
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["shop"] != "my-shop.myshopify.com" {
		t.Fatalf("confirmation body: %s", rr.Body.String())
	}
}

func TestCallbackHandler_Update(t *testing.T) {
	app := authApp()
	app.Embedded = false
	store := newMemStore()
	_ = store.Put(context.Background(), &Session{
		ID:          "offline_my-shop.myshopify.com",
		Shop:        "my-shop.myshopify.com",
		AccessToken: "old",
		Scope:       "read_products",
	})
	var installed, updated *Session
	auth := &Auth{
		App:   app,
		Store: store,
		Exchanger: Exchanger{Post: countingPost(new(int32), 200,
			`{"access_token":"tok_new","scope":"read_products,write_orders"}`)},
		InstallHook: func(ctx context.Context, s *Session) error { installed = s; return nil },
		UpdateHook:  func(ctx context.Context, s *Session) error { updated = s; return nil },
	}

	q := signedCallbackQuery("test_secret", map[string]string{
		"shop":      "my-shop.myshopify.com",
		"code":      "def456",
		"timestamp": "1700000000",
	})
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+q.Encode(), nil)
	rr := httptest.NewRecorder()
	auth.CallbackHandler()(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if updated == nil || updated.AccessToken != "tok_new" {
		t.Fatalf("update hook session: %+v", updated)
	}
	if installed != nil {
		t.Fatalf("install hook must not run for an installed shop")
	}
	stored, _ := store.Get(context.Background(), "offline_my-shop.myshopify.com")
	if stored == nil || stored.AccessToken != "tok_new" {
		t.Fatalf("session not replaced: %+v", stored)
	}
}

func TestCallbackHandler_RejectsBadSignature(t *testing.T) {
	auth := &Auth{App: authApp(), Store: newMemStore(), Exchanger: Exchanger{Post: panickyPost(t)}}

	req := httptest.NewRequest(http.MethodGet,
		"/auth/callback?shop=my-shop.myshopify.com&code=abc&hmac=deadbeef", nil)
	rr := httptest.NewRecorder()
	auth.CallbackHandler()(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCallbackHandler_RejectsStateMismatch(t *testing.T) {
	auth := &Auth{App: authApp(), Store: newMemStore(), Exchanger: Exchanger{Post: panickyPost(t)}}

	q := signedCallbackQuery("test_secret", map[string]string{
		"shop":  "my-shop.myshopify.com",
		"code":  "abc123",
		"state": "bbb",
	})
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+q.Encode(), nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "aaa"})
	rr := httptest.NewRecorder()
	auth.CallbackHandler()(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCallbackHandler_ExchangeFailure(t *testing.T) {
	auth := &Auth{
		App:       authApp(),
		Store:     newMemStore(),
		Exchanger: Exchanger{Post: countingPost(new(int32), 500, `oops`)},
	}

	q := signedCallbackQuery("test_secret", map[string]string{
		"shop": "my-shop.myshopify.com",
		"code": "abc123",
	})
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+q.Encode(), nil)
	rr := httptest.NewRecorder()
	auth.CallbackHandler()(rr, req)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCallbackHandler_EmbeddedRedirect(t *testing.T) {
	app := authApp()
	auth := &Auth{
		App:   app,
		Store: newMemStore(),
		Exchanger: Exchanger{Post: countingPost(new(int32), 200,
			`{"access_token":"tok","scope":"read_products"}`)},
		InstallHook: func(ctx context.Context, s *Session) error { return nil },
	}

	q := signedCallbackQuery("test_secret", map[string]string{
		"shop": "my-shop.myshopify.com",
		"code": "abc123",
	})
	req := httptest.NewRequest(http.MethodGet, "/auth/callback?"+q.Encode(), nil)
	rr := httptest.NewRecorder()
	auth.CallbackHandler()(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("status = %d", rr.Code)
	}
	want := "https://my-shop.myshopify.com/admin/apps/test_api_key"
	if got := rr.Header().Get("Location"); got != want {
		t.Fatalf("redirect = %q, want %q", got, want)
	}
}
