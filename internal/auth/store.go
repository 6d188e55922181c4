package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

// Store caches tokens by type. Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, tokenType string) (TokenInfo, bool, error)
	Put(ctx context.Context, tokenType string, info TokenInfo) error
	Delete(ctx context.Context, tokenType string) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]TokenInfo
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]TokenInfo)}
}

func (s *MemoryStore) Get(_ context.Context, tokenType string) (TokenInfo, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.tokens[tokenType]
	return info, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, tokenType string, info TokenInfo) error {
	s.mu.Lock()
	s.tokens[tokenType] = info
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tokenType string) error {
	s.mu.Lock()
	delete(s.tokens, tokenType)
	s.mu.Unlock()
	return nil
}

// RedisStore shares tokens between test processes, e.g. parallel CI shards.
// Entries expire in Redis together with the token.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore wraps an existing client. Keys are prefix + token type.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(tokenType string) string { return s.prefix + tokenType }

func (s *RedisStore) Get(ctx context.Context, tokenType string) (TokenInfo, bool, error) {
	data, err := s.client.Get(ctx, s.key(tokenType)).Bytes()
	if errors.Is(err, redis.Nil) {
		return TokenInfo{}, false, nil
	} else if err != nil {
		return TokenInfo{}, false, fmt.Errorf("error loading %s token: %w", tokenType, err)
	}

	var info TokenInfo
	if err := jsoniter.Unmarshal(data, &info); err != nil {
		return TokenInfo{}, false, fmt.Errorf("error decoding %s token: %w", tokenType, err)
	}
	return info, true, nil
}

func (s *RedisStore) Put(ctx context.Context, tokenType string, info TokenInfo) error {
	var ttl time.Duration
	if !info.ExpiresAt.IsZero() {
		ttl = info.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.Delete(ctx, tokenType)
		}
	}
	data, err := jsoniter.Marshal(info)
	if err != nil {
		return fmt.Errorf("error encoding %s token: %w", tokenType, err)
	}
	return s.client.Set(ctx, s.key(tokenType), data, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, tokenType string) error {
	return s.client.Del(ctx, s.key(tokenType)).Err()
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
