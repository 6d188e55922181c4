package locator

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// SmartManager aggregates the strategies for one element and resolves them through
// a Fallback. Strategies are tried in priority order and, within a strategy, in
// declaration order.
type SmartManager[E any] struct {
	mu       sync.RWMutex
	set      Set
	fallback *Fallback[E]
	logger   *zap.Logger
}

// NewSmartManager creates a manager that delegates every lookup to fallback.
func NewSmartManager[E any](fallback *Fallback[E], logger *zap.Logger, strategies ...Strategy) *SmartManager[E] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SmartManager[E]{
		set:      NewSet(strategies...),
		fallback: fallback,
		logger:   logger.Named("smart_locator"),
	}
}

// Add registers more strategies.
func (m *SmartManager[E]) Add(strategies ...Strategy) {
	m.mu.Lock()
	m.set = m.set.With(strategies...)
	m.mu.Unlock()
}

// Locators returns the flattened, priority-ordered locator list.
func (m *SmartManager[E]) Locators() []Locator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.set.Locators()
}

func (m *SmartManager[E]) Find(ctx context.Context) (E, error) {
	return m.fallback.Find(ctx, m.flatten()...)
}

func (m *SmartManager[E]) FindVisible(ctx context.Context) (E, error) {
	return m.fallback.FindVisible(ctx, m.flatten()...)
}

func (m *SmartManager[E]) FindClickable(ctx context.Context) (E, error) {
	return m.fallback.FindClickable(ctx, m.flatten()...)
}

func (m *SmartManager[E]) FindAll(ctx context.Context) ([]E, error) {
	return m.fallback.FindAll(ctx, m.flatten()...)
}

func (m *SmartManager[E]) flatten() []Locator {
	m.mu.RLock()
	set := m.set
	m.mu.RUnlock()

	locs := set.Locators()
	if ce := m.logger.Check(zap.DebugLevel, "Resolving strategies."); ce != nil {
		strategies := set.Strategies()
		names := make([]string, 0, len(strategies))
		for _, st := range strategies {
			names = append(names, st.Description())
		}
		ce.Write(zap.Strings("strategies", names), zap.Int("locators", len(locs)))
	}
	return locs
}
