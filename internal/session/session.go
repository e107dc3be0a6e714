// Package session provides the per-browsing-session key/value storage that backs the
// cart snapshot and the checkout resume intent.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"basket-shop/internal/redisclient"
)

// ErrNotFound is returned by Get when the key was never written or has expired
var ErrNotFound = errors.New("session key not found")

// Backend is a flat string key/value store
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Storage is a Backend narrowed to a single session
type Storage struct {
	backend Backend
	id      string
}

// For returns the storage scoped to sessionID
func For(backend Backend, sessionID string) *Storage {
	return &Storage{backend: backend, id: sessionID}
}

func (s *Storage) ID() string {
	return s.id
}

func (s *Storage) key(name string) string {
	return fmt.Sprintf("session:%s:%s", s.id, name)
}

func (s *Storage) Get(ctx context.Context, name string) (string, error) {
	return s.backend.Get(ctx, s.key(name))
}

func (s *Storage) Set(ctx context.Context, name, value string) error {
	return s.backend.Set(ctx, s.key(name), value)
}

func (s *Storage) Delete(ctx context.Context, name string) error {
	return s.backend.Delete(ctx, s.key(name))
}

// RedisBackend keeps session data in Redis with a sliding TTL
type RedisBackend struct {
	client *redisclient.Client
	ttl    time.Duration
}

func NewRedisBackend(client *redisclient.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.GetString(ctx, key)
	if errors.Is(err, redisclient.ErrNotFound) {
		return "", ErrNotFound
	}
	return val, err
}

func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	return r.client.SetString(ctx, key, value, r.ttl)
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	return r.client.Delete(ctx, key)
}

// MemoryBackend is a process-local Backend, used in tests and single-node development
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string]string)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return val, nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
