// internal/locator/fallback.go
package locator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// Condition is the state an element must reach before a lookup succeeds.
type Condition int

const (
	// Present only requires the element to exist in the document.
	Present Condition = iota
	// Visible requires the element to be rendered with a non-empty box.
	Visible
	// Clickable requires the element to be visible and enabled.
	Clickable
)

func (c Condition) String() string {
	switch c {
	case Visible:
		return "visible"
	case Clickable:
		return "clickable"
	default:
		return "present"
	}
}

// Finder evaluates a single locator against some element source, such as a live
// browser page or a parsed HTML document.
//
// Find blocks until an element matching loc reaches cond or ctx is done. FindAll
// returns the matches available before ctx is done; an empty result is not an error.
type Finder[E any] interface {
	Find(ctx context.Context, loc Locator, cond Condition) (E, error)
	FindAll(ctx context.Context, loc Locator) ([]E, error)
}

var (
	// ErrNoLocators is returned when a lookup is attempted with an empty locator list.
	ErrNoLocators = qaerr.PageObject(qaerr.ErrCodeNoLocators, "locator", "no locators provided", nil)
	// ErrElementNotFound matches any lookup in which every locator failed.
	ErrElementNotFound = qaerr.PageObject(qaerr.ErrCodeElementNotFound, "locator", "element not found", nil)
)

// Fallback tries an ordered list of locators, one bounded wait each, and returns
// the first element found.
type Fallback[E any] struct {
	finder  Finder[E]
	timeout time.Duration
	logger  *zap.Logger
}

// NewFallback wraps finder. timeout bounds each locator attempt, not the whole lookup.
func NewFallback[E any](finder Finder[E], timeout time.Duration, logger *zap.Logger) *Fallback[E] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback[E]{
		finder:  finder,
		timeout: timeout,
		logger:  logger.Named("locator"),
	}
}

// Timeout returns the per-attempt wait.
func (f *Fallback[E]) Timeout() time.Duration { return f.timeout }

// Find returns the first element present in the document.
func (f *Fallback[E]) Find(ctx context.Context, locs ...Locator) (E, error) {
	return f.resolve(ctx, Present, locs)
}

// FindVisible returns the first element that becomes visible.
func (f *Fallback[E]) FindVisible(ctx context.Context, locs ...Locator) (E, error) {
	return f.resolve(ctx, Visible, locs)
}

// FindClickable returns the first element that becomes visible and enabled.
func (f *Fallback[E]) FindClickable(ctx context.Context, locs ...Locator) (E, error) {
	return f.resolve(ctx, Clickable, locs)
}

// FindAll returns the first non-empty result set. When every locator matches nothing
// the result is empty and err is nil.
func (f *Fallback[E]) FindAll(ctx context.Context, locs ...Locator) ([]E, error) {
	if len(locs) == 0 {
		return nil, ErrNoLocators
	}
	for i, loc := range locs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attemptCtx, cancel := f.attemptContext(ctx)
		els, err := f.finder.FindAll(attemptCtx, loc)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Debug("Locator failed during find all.", zap.Stringer("locator", loc), zap.Error(err))
			continue
		}
		if len(els) > 0 {
			if i > 0 {
				f.logger.Info("Elements resolved via fallback locator.",
					zap.Stringer("locator", loc), zap.Int("attempt", i+1), zap.Int("count", len(els)))
			}
			return els, nil
		}
	}
	f.logger.Debug("No elements matched any locator.", zap.String("locators", Join(locs)))
	return []E{}, nil
}

func (f *Fallback[E]) resolve(ctx context.Context, cond Condition, locs []Locator) (E, error) {
	var zero E
	if len(locs) == 0 {
		return zero, ErrNoLocators
	}

	var lastErr error
	for i, loc := range locs {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		attemptCtx, cancel := f.attemptContext(ctx)
		el, err := f.finder.Find(attemptCtx, loc, cond)
		cancel()
		if err == nil {
			if i > 0 {
				f.logger.Info("Element resolved via fallback locator.",
					zap.Stringer("locator", loc), zap.Int("attempt", i+1), zap.Stringer("condition", cond))
			}
			return el, nil
		}

		// A cancelled caller ends the lookup; an expired attempt moves on to the next locator.
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
		f.logger.Debug("Locator attempt failed.", zap.Stringer("locator", loc), zap.Error(err))
	}

	f.logger.Warn("All locators failed.", zap.String("locators", Join(locs)), zap.Stringer("condition", cond))
	return zero, qaerr.PageObject(
		qaerr.ErrCodeElementNotFound,
		"locator",
		fmt.Sprintf("no %s element for any of [%s]", cond, Join(locs)),
		lastErr,
	)
}

func (f *Fallback[E]) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}
