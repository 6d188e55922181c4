// internal/auth/manager.go
package auth

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Manager hands out valid tokens per token type, refreshing them on demand.
//
// Refreshes are serialized per token type only: concurrent callers of one type
// share a single upstream exchange, and different types never wait on each other.
// There is no background refresh.
type Manager struct {
	mu    sync.RWMutex
	flows map[string]Flow

	store  Store
	group  singleflight.Group
	skew   time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithStore replaces the default in-memory store.
func WithStore(s Store) Option { return func(m *Manager) { m.store = s } }

// WithClock injects the time source used for staleness checks.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithRefreshSkew changes how long before expiry a token is treated as stale.
func WithRefreshSkew(d time.Duration) Option { return func(m *Manager) { m.skew = d } }

func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		flows:  make(map[string]Flow),
		store:  NewMemoryStore(),
		skew:   DefaultRefreshSkew,
		now:    time.Now,
		logger: logger.Named("token_manager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register binds a flow to a token type, replacing any previous binding.
func (m *Manager) Register(tokenType string, flow Flow) {
	m.mu.Lock()
	m.flows[tokenType] = flow
	m.mu.Unlock()
}

// Types lists the registered token types in sorted order.
func (m *Manager) Types() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]string, 0, len(m.flows))
	for t := range m.flows {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (m *Manager) flow(tokenType string) (Flow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flows[tokenType]
	return f, ok
}

// ValidToken returns the cached token for tokenType when it is not stale, and
// otherwise refreshes it synchronously.
func (m *Manager) ValidToken(ctx context.Context, tokenType string) (string, error) {
	if _, ok := m.flow(tokenType); !ok {
		return "", unknownTokenType(tokenType)
	}
	if info, ok := m.fresh(ctx, tokenType); ok {
		return info.Token, nil
	}
	info, err := m.refresh(ctx, tokenType, false)
	if err != nil {
		return "", err
	}
	return info.Token, nil
}

// Refresh authenticates again regardless of the cached token's state.
func (m *Manager) Refresh(ctx context.Context, tokenType string) (TokenInfo, error) {
	return m.refresh(ctx, tokenType, true)
}

// Cached returns the stored token without refreshing it, stale or not.
func (m *Manager) Cached(ctx context.Context, tokenType string) (TokenInfo, bool) {
	info, ok, err := m.store.Get(ctx, tokenType)
	if err != nil {
		m.logger.Warn("Token store read failed.", zap.String("token_type", tokenType), zap.Error(err))
		return TokenInfo{}, false
	}
	return info, ok
}

// Invalidate drops the cached token so the next ValidToken call re-authenticates.
func (m *Manager) Invalidate(ctx context.Context, tokenType string) error {
	return m.store.Delete(ctx, tokenType)
}

// Close releases the store if it holds resources.
func (m *Manager) Close() error {
	if c, ok := m.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *Manager) fresh(ctx context.Context, tokenType string) (TokenInfo, bool) {
	info, ok := m.Cached(ctx, tokenType)
	if !ok || info.Stale(m.now(), m.skew) {
		return TokenInfo{}, false
	}
	return info, true
}

func (m *Manager) refresh(ctx context.Context, tokenType string, force bool) (TokenInfo, error) {
	flow, ok := m.flow(tokenType)
	if !ok {
		return TokenInfo{}, unknownTokenType(tokenType)
	}

	// A forced refresh must not join a lazy one, which may hand back the cached token.
	key := tokenType
	if force {
		key += "\x00force"
	}
	v, err, shared := m.group.Do(key, func() (any, error) {
		// Another caller may have refreshed between our cache check and this call.
		if !force {
			if info, ok := m.fresh(ctx, tokenType); ok {
				return info, nil
			}
		}

		start := time.Now()
		info, err := flow.Authenticate(ctx)
		if err != nil {
			m.logger.Error("Token refresh failed.", zap.String("token_type", tokenType), zap.Error(err))
			return TokenInfo{}, err
		}
		if err := m.store.Put(ctx, tokenType, info); err != nil {
			m.logger.Warn("Failed to cache refreshed token.", zap.String("token_type", tokenType), zap.Error(err))
		}
		m.logger.Info("Token refreshed.",
			zap.String("token_type", tokenType),
			zap.Time("expires_at", info.ExpiresAt),
			zap.Duration("took", time.Since(start)),
		)
		return info, nil
	})
	if err != nil {
		return TokenInfo{}, err
	}
	if shared {
		m.logger.Debug("Joined in-flight token refresh.", zap.String("token_type", tokenType))
	}
	return v.(TokenInfo), nil
}
