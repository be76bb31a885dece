package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

// Postgres persists sessions in the sessions table (schema under
// migrations/). The associated user block is stored as JSONB.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) Get(ctx context.Context, id string) (*shopify.Session, error) {
	const q = `
SELECT id, shop, access_token, COALESCE(scope,''), is_online, expires_at, user_info
FROM sessions
WHERE id = $1
`
	sess := &shopify.Session{}
	var userInfo []byte
	err := s.db.QueryRow(ctx, q, id).Scan(
		&sess.ID, &sess.Shop, &sess.AccessToken, &sess.Scope, &sess.IsOnline, &sess.Expires, &userInfo,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	if len(userInfo) > 0 {
		sess.User = &shopify.AssociatedUser{}
		if err := json.Unmarshal(userInfo, sess.User); err != nil {
			return nil, fmt.Errorf("decode session user: %w", err)
		}
	}
	return sess, nil
}

func (s *Postgres) Put(ctx context.Context, sess *shopify.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id required")
	}

	var userInfo []byte
	if sess.User != nil {
		b, err := json.Marshal(sess.User)
		if err != nil {
			return fmt.Errorf("encode session user: %w", err)
		}
		userInfo = b
	}

	const q = `
INSERT INTO sessions (id, shop, access_token, scope, is_online, expires_at, user_info)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
  shop = EXCLUDED.shop,
  access_token = EXCLUDED.access_token,
  scope = EXCLUDED.scope,
  is_online = EXCLUDED.is_online,
  expires_at = EXCLUDED.expires_at,
  user_info = EXCLUDED.user_info,
  updated_at = now()
`
	if _, err := s.db.Exec(ctx, q,
		sess.ID, sess.Shop, sess.AccessToken, sess.Scope, sess.IsOnline, sess.Expires, userInfo,
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

var _ shopify.SessionStore = (*Postgres)(nil)
