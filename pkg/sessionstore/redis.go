package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

const redisKeyPrefix = "shopify:session:"

// Redis stores sessions as JSON values. Sessions with an expiry carry it as
// a key TTL so stale online grants clean themselves up; offline sessions
// persist until deleted.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: redisKeyPrefix}
}

func (s *Redis) Get(ctx context.Context, id string) (*shopify.Session, error) {
	b, err := s.client.Get(ctx, s.prefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var sess shopify.Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Redis) Put(ctx context.Context, sess *shopify.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id required")
	}
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	// Floor the TTL so a session written close to its expiry stays visible
	// to requests already in flight.
	var ttl time.Duration
	if sess.Expires != nil {
		if ttl = time.Until(*sess.Expires); ttl < time.Minute {
			ttl = time.Minute
		}
	}

	if err := s.client.Set(ctx, s.prefix+sess.ID, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis put session: %w", err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

var _ shopify.SessionStore = (*Redis)(nil)
