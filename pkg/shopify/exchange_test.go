package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func fakePost(t *testing.T, wantURL string, status int, respBody string, gotBody *map[string]string) PostFunc {
	t.Helper()
	return func(ctx context.Context, url string, body []byte) (int, []byte, error) {
		if url != wantURL {
			t.Fatalf("url = %q, want %q", url, wantURL)
		}
		if gotBody != nil {
			if err := json.Unmarshal(body, gotBody); err != nil {
				t.Fatalf("request body: %v", err)
			}
		}
		return status, []byte(respBody), nil
	}
}

func TestExchangeCode(t *testing.T) {
	var sent map[string]string
	ex := Exchanger{
		App: testApp(),
		Post: fakePost(t, "https://test.example.com/admin/oauth/access_token", 200,
			`{"access_token":"tok_offline","scope":"read_products,write_orders"}`, &sent),
	}

	s, err := ex.ExchangeCode(context.Background(), "test.example.com", "abc123")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if sent["client_id"] != "test_api_key" || sent["client_secret"] != "test_secret" || sent["code"] != "abc123" {
		t.Fatalf("request body mismatch: %v", sent)
	}
	if s.ID != "offline_test.example.com" || s.Shop != "test.example.com" {
		t.Fatalf("session identity mismatch: %+v", s)
	}
	if s.AccessToken != "tok_offline" || s.Scope != "read_products,write_orders" {
		t.Fatalf("session grant mismatch: %+v", s)
	}
	if s.IsOnline || s.Expires != nil || s.User != nil {
		t.Fatalf("code exchange should produce an offline session: %+v", s)
	}
}

func TestExchangeToken_Offline(t *testing.T) {
	var sent map[string]string
	ex := Exchanger{
		App: testApp(),
		Post: fakePost(t, "https://test.example.com/admin/oauth/access_token", 200,
			`{"access_token":"tok","scope":"read_products"}`, &sent),
	}

	s, err := ex.ExchangeToken(context.Background(), "test.example.com", "jwt-here", false)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if sent["grant_type"] != "urn:ietf:params:oauth:grant-type:token-exchange" {
		t.Fatalf("grant_type = %q", sent["grant_type"])
	}
	if sent["subject_token"] != "jwt-here" {
		t.Fatalf("subject_token = %q", sent["subject_token"])
	}
	if sent["subject_token_type"] != "urn:ietf:params:oauth:token-type:id_token" {
		t.Fatalf("subject_token_type = %q", sent["subject_token_type"])
	}
	if sent["requested_token_type"] != "urn:shopify:params:oauth:token-type:offline-access-token" {
		t.Fatalf("requested_token_type = %q", sent["requested_token_type"])
	}
	if s.ID != "offline_test.example.com" || s.IsOnline {
		t.Fatalf("offline session mismatch: %+v", s)
	}
}

func TestExchangeToken_Online(t *testing.T) {
	resp := `{
		"access_token": "tok_online",
		"scope": "read_products,write_orders",
		"expires_in": 86399,
		"associated_user_scope": "read_products",
		"associated_user": {"id": 42, "email": "clerk@example.com", "account_owner": false}
	}`
	var sent map[string]string
	ex := Exchanger{
		App:  testApp(),
		Post: fakePost(t, "https://test.example.com/admin/oauth/access_token", 200, resp, &sent),
	}

	before := time.Now()
	s, err := ex.ExchangeToken(context.Background(), "test.example.com", "jwt-here", true)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if sent["requested_token_type"] != "urn:shopify:params:oauth:token-type:online-access-token" {
		t.Fatalf("requested_token_type = %q", sent["requested_token_type"])
	}
	if !s.IsOnline || s.ID != "test.example.com_42" {
		t.Fatalf("online session identity mismatch: %+v", s)
	}
	if s.Scope != "read_products" {
		t.Fatalf("associated_user_scope should win: %q", s.Scope)
	}
	if s.User == nil || s.User.ID != 42 || s.User.Email != "clerk@example.com" {
		t.Fatalf("associated user mismatch: %+v", s.User)
	}
	if s.Expires == nil || s.Expires.Before(before.Add(86398*time.Second)) {
		t.Fatalf("expiry not derived from expires_in: %v", s.Expires)
	}
}

func TestExchangeToken_InvalidSubjectToken(t *testing.T) {
	ex := Exchanger{
		App: testApp(),
		Post: fakePost(t, "https://test.example.com/admin/oauth/access_token", 400,
			`{"error":"invalid_subject_token","error_description":"Subject token is invalid"}`, nil),
	}

	_, err := ex.ExchangeToken(context.Background(), "test.example.com", "stale-jwt", false)
	var exErr *ExchangeError
	if !errors.As(err, &exErr) {
		t.Fatalf("want *ExchangeError, got %v", err)
	}
	if exErr.Status != 400 || exErr.Code != "invalid_subject_token" {
		t.Fatalf("error detail mismatch: %+v", exErr)
	}
	if !exErr.InvalidSubjectToken() {
		t.Fatalf("InvalidSubjectToken() should be true")
	}
}

func TestExchange_TransportError(t *testing.T) {
	boom := errors.New("connection refused")
	ex := Exchanger{
		App: testApp(),
		Post: func(ctx context.Context, url string, body []byte) (int, []byte, error) {
			return 0, nil, boom
		},
	}

	_, err := ex.ExchangeCode(context.Background(), "test.example.com", "abc")
	var exErr *ExchangeError
	if !errors.As(err, &exErr) || !errors.Is(err, boom) {
		t.Fatalf("transport error should wrap as *ExchangeError: %v", err)
	}
	if exErr.InvalidSubjectToken() {
		t.Fatalf("transport error is not an invalid subject token")
	}
}

func TestExchange_EmptyAccessToken(t *testing.T) {
	ex := Exchanger{
		App:  testApp(),
		Post: fakePost(t, "https://test.example.com/admin/oauth/access_token", 200, `{"scope":"x"}`, nil),
	}
	if _, err := ex.ExchangeCode(context.Background(), "test.example.com", "abc"); err == nil {
		t.Fatalf("expected error for empty access_token")
	}
}

func TestExchange_MissingInputs(t *testing.T) {
	ex := Exchanger{App: testApp(), Post: func(context.Context, string, []byte) (int, []byte, error) {
		panic("post must not run")
	}}
	if _, err := ex.ExchangeCode(context.Background(), "", "abc"); err == nil {
		t.Fatalf("expected error for missing shop")
	}
	if _, err := ex.ExchangeToken(context.Background(), "test.example.com", "", false); err == nil {
		t.Fatalf("expected error for missing subject token")
	}
}
