package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/qaframe/internal/config"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "qa:token:"), mr
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, ok, err := s.Get(ctx, "user")
	require.NoError(t, err)
	assert.False(t, ok)

	info := TokenInfo{Token: "t", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.Put(ctx, "user", info))
	got, ok, err := s.Get(ctx, "user")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, info, got)

	require.NoError(t, s.Delete(ctx, "user"))
	_, ok, _ = s.Get(ctx, "user")
	assert.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip with expiry", func(t *testing.T) {
		s, mr := newRedisStore(t)
		info := TokenInfo{Token: "abc", ExpiresAt: time.Now().Add(10 * time.Minute).Truncate(time.Second)}
		require.NoError(t, s.Put(ctx, "user", info))

		assert.True(t, mr.Exists("qa:token:user"))
		ttl := mr.TTL("qa:token:user")
		assert.InDelta(t, (10 * time.Minute).Seconds(), ttl.Seconds(), 2)

		got, ok, err := s.Get(ctx, "user")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "abc", got.Token)
		assert.True(t, info.ExpiresAt.Equal(got.ExpiresAt))

		mr.FastForward(11 * time.Minute)
		_, ok, err = s.Get(ctx, "user")
		require.NoError(t, err)
		assert.False(t, ok, "redis drops the entry with the token")
	})

	t.Run("non-expiring token has no ttl", func(t *testing.T) {
		s, mr := newRedisStore(t)
		require.NoError(t, s.Put(ctx, "api", TokenInfo{Token: "key"}))
		assert.Equal(t, time.Duration(0), mr.TTL("qa:token:api"))
	})

	t.Run("already expired token is not stored", func(t *testing.T) {
		s, mr := newRedisStore(t)
		require.NoError(t, s.Put(ctx, "user", TokenInfo{Token: "old", ExpiresAt: time.Now().Add(time.Hour)}))
		require.NoError(t, s.Put(ctx, "user", TokenInfo{Token: "dead", ExpiresAt: time.Now().Add(-time.Minute)}))
		assert.False(t, mr.Exists("qa:token:user"))
	})

	t.Run("corrupt entry", func(t *testing.T) {
		s, mr := newRedisStore(t)
		require.NoError(t, mr.Set("qa:token:user", "not json"))
		_, _, err := s.Get(ctx, "user")
		assert.Error(t, err)
	})

	t.Run("managers in different processes share tokens", func(t *testing.T) {
		s, _ := newRedisStore(t)
		clock := newFakeClock()
		clock.now = time.Now()

		flowA := &countingFlow{clock: clock}
		flowB := &countingFlow{clock: clock}
		a := newTestManager(t, clock, WithStore(s))
		b := newTestManager(t, clock, WithStore(s))
		a.Register("user", flowA)
		b.Register("user", flowB)

		tokA, err := a.ValidToken(ctx, "user")
		require.NoError(t, err)
		tokB, err := b.ValidToken(ctx, "user")
		require.NoError(t, err)

		assert.Equal(t, tokA, tokB)
		assert.EqualValues(t, 1, flowA.calls.Load())
		assert.EqualValues(t, 0, flowB.calls.Load())
	})
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("registers every configured type", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := config.NewDefaultConfig().Auth
		cfg.Store = "redis"
		cfg.Redis.Addr = mr.Addr()
		cfg.Tokens = map[string]config.TokenConfig{
			"api":     {Flow: "static", Token: "k-123"},
			"user":    {Flow: "password", Endpoint: "/login", Username: "u"},
			"service": {Flow: "client_credentials", Endpoint: "/oauth/token", ClientID: "id"},
		}

		m, err := NewFromConfig(ctx, cfg, newAPIClient(t, "http://api.test"), zaptest.NewLogger(t))
		require.NoError(t, err)
		defer m.Close()

		assert.Equal(t, []string{"api", "service", "user"}, m.Types())
		tok, err := m.ValidToken(ctx, "api")
		require.NoError(t, err)
		assert.Equal(t, "k-123", tok)
		assert.True(t, mr.Exists("qaframe:token:api"))
	})

	t.Run("unreachable redis", func(t *testing.T) {
		cfg := config.NewDefaultConfig().Auth
		cfg.Store = "redis"
		cfg.Redis.Addr = "127.0.0.1:1"

		_, err := NewFromConfig(ctx, cfg, nil, nil)
		require.Error(t, err)
		assert.Equal(t, qaerr.ErrCodeConfiguration, qaerr.CodeOf(err))
	})

	t.Run("password flow without a client", func(t *testing.T) {
		cfg := config.NewDefaultConfig().Auth
		cfg.Tokens = map[string]config.TokenConfig{"user": {Flow: "password", Endpoint: "/login", Username: "u"}}

		_, err := NewFromConfig(ctx, cfg, nil, nil)
		assert.Error(t, err)
	})
}
