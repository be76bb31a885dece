package shopify

import "context"

type ctxKey string

const ctxKeySession ctxKey = "shopify_session"

// WithSession returns ctx carrying the authenticated shop session.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKeySession, s)
}

// SessionFromContext returns the session the auth middleware attached, or
// nil when the request never passed through it.
func SessionFromContext(ctx context.Context) *Session {
	v := ctx.Value(ctxKeySession)
	if v == nil {
		return nil
	}
	s, _ := v.(*Session)
	return s
}
