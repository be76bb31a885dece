package shopify

import (
	"fmt"
)

type ValidationError struct {
	Code    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// AuthReason classifies session token failures so callers can decide between
// asking the client for a fresh token and rejecting the request outright.
type AuthReason string

const (
	AuthReasonInvalidSignature AuthReason = "invalid_signature"
	AuthReasonExpired          AuthReason = "expired"
	AuthReasonNotYetValid      AuthReason = "not_yet_valid"
	AuthReasonMalformed        AuthReason = "malformed"
)

type AuthError struct {
	Reason AuthReason
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session token %s: %v", e.Reason, e.Err)
	}
	return "session token " + string(e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Recoverable reports whether a freshly minted session token could succeed
// where this one failed. A bad signature stays bad no matter how often the
// client retries.
func (e *AuthError) Recoverable() bool {
	return e.Reason != AuthReasonInvalidSignature
}

// ExchangeError reports a failed access token grant against a shop. It is
// never fatal to the caller; handlers translate it into an HTTP response.
type ExchangeError struct {
	Shop   string
	Status int
	Code   string // OAuth error code from the response body, when present
	Err    error
}

func (e *ExchangeError) Error() string {
	msg := fmt.Sprintf("token exchange failed shop=%s", e.Shop)
	if e.Status != 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// InvalidSubjectToken reports that the shop rejected the session token used
// as the exchange subject, usually because it expired in flight. The embedded
// client should fetch a fresh token and retry the request.
func (e *ExchangeError) InvalidSubjectToken() bool {
	return e.Code == "invalid_subject_token"
}

// InstallError is a failed first-install callback for a shop.
type InstallError struct {
	Shop string
	Err  error
}

func (e *InstallError) Error() string { return fmt.Sprintf("install shop=%s: %v", e.Shop, e.Err) }
func (e *InstallError) Unwrap() error { return e.Err }

// UpdateError is a failed re-authorization callback for an already installed
// shop.
type UpdateError struct {
	Shop string
	Err  error
}

func (e *UpdateError) Error() string { return fmt.Sprintf("update shop=%s: %v", e.Shop, e.Err) }
func (e *UpdateError) Unwrap() error { return e.Err }

// ConfigError reports a missing or malformed credential or setting. It is
// raised at startup and never deferred to request time.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("config %s: missing or invalid", e.Field)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// WebhookError reports a failed subscription create for one topic. The
// reconciler records it and moves on to the next topic.
type WebhookError struct {
	Topic string
	Err   error
}

func (e *WebhookError) Error() string {
	return fmt.Sprintf("webhook %s: %v", e.Topic, e.Err)
}

func (e *WebhookError) Unwrap() error { return e.Err }
