package locator

import (
	"fmt"
	"sort"
)

// Conventional priorities. Lower priorities are tried first when strategies are merged.
const (
	PriorityPrimary  = 1
	PriorityFallback = 2
)

// Strategy is an immutable, named, prioritized list of locators for one element.
type Strategy struct {
	description string
	priority    int
	locators    []Locator
}

// NewStrategy copies locs so later changes by the caller cannot alter the strategy.
func NewStrategy(description string, priority int, locs ...Locator) Strategy {
	cp := make([]Locator, len(locs))
	copy(cp, locs)
	return Strategy{description: description, priority: priority, locators: cp}
}

// Primary builds a strategy of stable locators (id, css) tried before any fallback.
func Primary(description string, locs ...Locator) Strategy {
	return NewStrategy(description, PriorityPrimary, locs...)
}

// FallbackStrategy builds a strategy of brittle locators (xpath, text, class).
func FallbackStrategy(description string, locs ...Locator) Strategy {
	return NewStrategy(description, PriorityFallback, locs...)
}

func (s Strategy) Description() string { return s.description }
func (s Strategy) Priority() int       { return s.priority }

// Locators returns a copy of the ordered locator list.
func (s Strategy) Locators() []Locator {
	cp := make([]Locator, len(s.locators))
	copy(cp, s.locators)
	return cp
}

func (s Strategy) String() string {
	return fmt.Sprintf("%s (priority %d): %s", s.description, s.priority, Join(s.locators))
}

// Set aggregates the strategies that describe one element.
type Set struct {
	strategies []Strategy
}

// NewSet creates a set from the given strategies.
func NewSet(strategies ...Strategy) Set {
	return Set{strategies: append([]Strategy(nil), strategies...)}
}

// With returns a new set that also contains the given strategies.
func (s Set) With(strategies ...Strategy) Set {
	merged := make([]Strategy, 0, len(s.strategies)+len(strategies))
	merged = append(merged, s.strategies...)
	merged = append(merged, strategies...)
	return Set{strategies: merged}
}

// Strategies returns the strategies ordered by priority. Equal priorities keep
// insertion order.
func (s Set) Strategies() []Strategy {
	sorted := append([]Strategy(nil), s.strategies...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return sorted
}

// Locators flattens the priority-ordered strategies into one locator list.
func (s Set) Locators() []Locator {
	var out []Locator
	for _, st := range s.Strategies() {
		out = append(out, st.locators...)
	}
	return out
}
