// Package presence maps connection tokens to user ids. The auth service
// writes the mapping when it authenticates a socket; the orchestrator only
// reads it to resolve who is speaking.
package presence

import (
	"context"
	"sync"
)

type Store interface {
	Set(ctx context.Context, token, userID string) error
	// Get returns "" without error when the token is unknown.
	Get(ctx context.Context, token string) (string, error)
	Del(ctx context.Context, token string) error
	Close() error
}

// Memory is the default single-node Store.
type Memory struct {
	mu sync.RWMutex
	m  map[string]string
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]string)}
}

func (s *Memory) Set(ctx context.Context, token, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[token] = userID
	return nil
}

func (s *Memory) Get(ctx context.Context, token string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m[token], nil
}

func (s *Memory) Del(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, token)
	return nil
}

func (s *Memory) Close() error { return nil }
