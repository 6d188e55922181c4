// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context derived from primary (which carries the chromedp
// target) that is also canceled when secondary is done. A deadline on secondary is
// carried over so expired operations report context.DeadlineExceeded.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	var (
		combined context.Context
		cancel   context.CancelFunc
	)
	if dl, ok := secondary.Deadline(); ok {
		combined, cancel = context.WithDeadline(primary, dl)
	} else {
		combined, cancel = context.WithCancel(primary)
	}

	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// valueOnlyContext keeps the parent's values but drops its deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that carries ctx's values but outlives it. Used for
// failure capture after a case deadline has already fired.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
