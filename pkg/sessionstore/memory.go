// Package sessionstore provides shopify.SessionStore implementations over
// the backends the reference app supports: an in-process map, Redis,
// Postgres and MongoDB.
package sessionstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/mazz-seven/shopify-tools/pkg/shopify"
)

// Memory keeps sessions in a mutex-guarded map. It backs tests and
// single-process dev runs; anything with more than one replica wants a
// shared backend.
type Memory struct {
	mu sync.RWMutex
	m  map[string]shopify.Session
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]shopify.Session)}
}

func (s *Memory) Get(ctx context.Context, id string) (*shopify.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.m[id]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (s *Memory) Put(ctx context.Context, sess *shopify.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[sess.ID] = *sess
	return nil
}

func (s *Memory) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, id)
	return nil
}

var _ shopify.SessionStore = (*Memory)(nil)
