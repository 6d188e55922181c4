package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/qaframe/internal/locator"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

const defaultPollInterval = 250 * time.Millisecond

func nodeIDs(n *cdp.Node) []cdp.NodeID { return []cdp.NodeID{n.NodeID} }

// ClickWithFallback clicks the first locator that resolves to a clickable element.
func (s *Session) ClickWithFallback(ctx context.Context, locs ...locator.Locator) error {
	node, err := s.fallback.FindClickable(ctx, locs...)
	if err != nil {
		return err
	}
	return s.Click(ctx, node)
}

// Click clicks an already resolved node.
func (s *Session) Click(ctx context.Context, node *cdp.Node) error {
	if err := s.runActions(ctx, chromedp.Click(nodeIDs(node), chromedp.ByNodeID)); err != nil {
		return qaerr.Driver(qaerr.ErrCodeFrameworkFailure, "browser", fmt.Sprintf("click on <%s> failed", node.LocalName), err)
	}
	return nil
}

// SendKeysWithFallback clears the first visible match and types text into it.
func (s *Session) SendKeysWithFallback(ctx context.Context, text string, locs ...locator.Locator) error {
	node, err := s.fallback.FindVisible(ctx, locs...)
	if err != nil {
		return err
	}
	err = s.runActions(ctx,
		chromedp.Clear(nodeIDs(node), chromedp.ByNodeID),
		chromedp.SendKeys(nodeIDs(node), text, chromedp.ByNodeID),
	)
	if err != nil {
		return qaerr.Driver(qaerr.ErrCodeFrameworkFailure, "browser", fmt.Sprintf("typing into <%s> failed", node.LocalName), err)
	}
	return nil
}

// GetTextWithFallback returns the trimmed visible text of the first visible match.
func (s *Session) GetTextWithFallback(ctx context.Context, locs ...locator.Locator) (string, error) {
	node, err := s.fallback.FindVisible(ctx, locs...)
	if err != nil {
		return "", err
	}
	var text string
	if err := s.runActions(ctx, chromedp.Text(nodeIDs(node), &text, chromedp.ByNodeID)); err != nil {
		return "", qaerr.Driver(qaerr.ErrCodeFrameworkFailure, "browser", "reading element text failed", err)
	}
	return strings.TrimSpace(text), nil
}

// IsDisplayed reports whether any locator resolves to a visible element. Lookup
// errors count as not displayed.
func (s *Session) IsDisplayed(ctx context.Context, locs ...locator.Locator) bool {
	if _, err := s.fallback.FindVisible(ctx, locs...); err != nil {
		s.logger.Debug("Element not displayed.", zap.String("locators", locator.Join(locs)), zap.Error(err))
		return false
	}
	return true
}

// WaitForText polls until the first visible match contains text, for at most the
// element timeout.
func (s *Session) WaitForText(ctx context.Context, text string, locs ...locator.Locator) error {
	if len(locs) == 0 {
		return locator.ErrNoLocators
	}
	timeout := s.fallback.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last string
	for {
		got, err := s.GetTextWithFallback(waitCtx, locs...)
		if err == nil {
			if strings.Contains(got, text) {
				return nil
			}
			last = got
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitCtx.Done():
			return qaerr.Driver(qaerr.ErrCodeTimeoutError, "browser",
				fmt.Sprintf("text %q did not appear in [%s] within %s (last seen %q)", text, locator.Join(locs), timeout, last), nil)
		case <-ticker.C:
		}
	}
}
