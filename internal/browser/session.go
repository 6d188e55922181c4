// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/qaframe/internal/config"
	"github.com/xkilldash9x/qaframe/internal/locator"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// Session is one browser tab. It is owned by a single worker and is not safe for
// concurrent use beyond Close.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    config.BrowserConfig

	fallback *locator.Fallback[*cdp.Node]

	onClose func()

	mu       sync.Mutex
	isClosed bool
}

var _ locator.Finder[*cdp.Node] = (*Session)(nil)

func newSession(ctx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	id := uuid.New().String()
	s := &Session{
		id:     id,
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		logger: logger.Named("session").With(zap.String("session_id", id[:8])),
	}
	s.fallback = locator.NewFallback[*cdp.Node](s, cfg.ElementTimeout, s.logger)
	return s
}

func (s *Session) ID() string { return s.id }

// Context returns the chromedp tab context, for running custom actions.
func (s *Session) Context() context.Context { return s.ctx }

// Fallback exposes the session's locator fallback, bounded by the element timeout.
func (s *Session) Fallback() *locator.Fallback[*cdp.Node] { return s.fallback }

// Smart builds a strategy-based locator manager on top of this session.
func (s *Session) Smart(strategies ...locator.Strategy) *locator.SmartManager[*cdp.Node] {
	return locator.NewSmartManager(s.fallback, s.logger, strategies...)
}

// Close closes the tab. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.isClosed {
		s.mu.Unlock()
		return nil
	}
	s.isClosed = true
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	if s.cancel != nil {
		s.cancel()
	}
	if s.onClose != nil {
		s.onClose()
	}
	return nil
}

func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// runActions executes chromedp actions bounded by both the tab lifetime and ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed() {
		return qaerr.Driver(qaerr.ErrCodeSessionFailure, "browser", "session is closed", nil)
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// -- Page operations --

// Navigate loads url and waits for the body to be ready, bounded by the page load timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))
	if s.cfg.PageLoadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PageLoadTimeout)
		defer cancel()
	}
	err := s.runActions(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return qaerr.Driver(qaerr.ErrCodeNavigationError, "browser", fmt.Sprintf("navigation to %s failed", url), err)
	}
	return nil
}

func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	err := s.runActions(ctx, chromedp.Title(&title))
	return title, err
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	err := s.runActions(ctx, chromedp.Location(&loc))
	return loc, err
}

// PageSource returns the serialized DOM of the current page.
func (s *Session) PageSource(ctx context.Context) (string, error) {
	var html string
	err := s.runActions(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// Screenshot writes a full-page PNG to path, creating parent directories.
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.runActions(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return qaerr.Driver(qaerr.ErrCodeFrameworkFailure, "browser", "screenshot failed", err)
	}
	return writeArtifact(path, buf)
}

// Artifacts are the files written by CaptureFailure. A path is empty when that
// capture failed.
type Artifacts struct {
	Screenshot string
	HTML       string
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArtifactPath names a file for test under the configured screenshot directory.
// The name is reduced to filename-safe characters and suffixed with a timestamp
// and the session id.
func (s *Session) ArtifactPath(test, ext string) string {
	dir := s.cfg.ScreenshotDir
	if dir == "" {
		dir = "screenshots"
	}
	base := fmt.Sprintf("%s_%s_%s",
		strings.Trim(unsafeNameChars.ReplaceAllString(test, "_"), "_"),
		time.Now().Format("20060102-150405"),
		s.id[:8])
	return filepath.Join(dir, base+ext)
}

// CaptureFailure saves a screenshot and the page HTML into the screenshot directory,
// named after the failing test. Both captures are attempted; the first error is returned.
func (s *Session) CaptureFailure(ctx context.Context, name string) (Artifacts, error) {
	var (
		out  Artifacts
		errs []error
	)
	png := s.ArtifactPath(name, ".png")
	if err := s.Screenshot(ctx, png); err != nil {
		errs = append(errs, err)
	} else {
		out.Screenshot = png
	}

	page := strings.TrimSuffix(png, ".png") + ".html"
	if src, err := s.PageSource(ctx); err != nil {
		errs = append(errs, err)
	} else if err := writeArtifact(page, []byte(src)); err != nil {
		errs = append(errs, err)
	} else {
		out.HTML = page
	}

	if len(errs) > 0 {
		s.logger.Warn("Failure capture incomplete.", zap.String("test", name), zap.Error(errors.Join(errs...)))
		return out, errs[0]
	}
	s.logger.Info("Failure captured.", zap.String("test", name),
		zap.String("screenshot", out.Screenshot), zap.String("html", out.HTML))
	return out, nil
}

func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return nil
}

// -- Element lookup --

type queryKind int

const (
	queryByID queryKind = iota
	queryByCSS
	queryByXPath
)

// query is the DevTools selector a locator resolves to.
type query struct {
	kind     queryKind
	selector string
}

func queryFor(loc locator.Locator) (query, error) {
	if err := loc.Validate(); err != nil {
		return query{}, err
	}
	switch loc.By {
	case locator.ByID:
		return query{kind: queryByID, selector: idSelector(loc.Value)}, nil
	case locator.ByCSS:
		return query{kind: queryByCSS, selector: loc.Value}, nil
	}
	expr, ok := loc.XPathExpr()
	if !ok {
		return query{}, qaerr.PageObject(qaerr.ErrCodeInvalidParameters, "browser",
			fmt.Sprintf("unsupported locator %s", loc), nil)
	}
	return query{kind: queryByXPath, selector: expr}, nil
}

var cssStringEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `)

// idSelector matches an id attribute exactly. "#" would parse ids like
// "form:username" or "1st" as CSS syntax.
func idSelector(id string) string {
	return `[id="` + cssStringEscaper.Replace(id) + `"]`
}

// single selects the first match.
func (q query) single() chromedp.QueryOption {
	if q.kind == queryByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// all selects every match.
func (q query) all() (string, chromedp.QueryOption) {
	switch q.kind {
	case queryByID, queryByCSS:
		return q.selector, chromedp.ByQueryAll
	default:
		return q.selector, chromedp.BySearch
	}
}

// Find waits until loc resolves to a node meeting cond or ctx expires. Present waits
// for the node to be ready, Visible for it to have a layout box, Clickable
// additionally for it to be enabled.
func (s *Session) Find(ctx context.Context, loc locator.Locator, cond locator.Condition) (*cdp.Node, error) {
	q, err := queryFor(loc)
	if err != nil {
		return nil, err
	}

	wait := chromedp.NodeReady
	if cond >= locator.Visible {
		wait = chromedp.NodeVisible
	}

	var nodes []*cdp.Node
	if err := s.runActions(ctx, chromedp.Nodes(q.selector, &nodes, q.single(), wait)); err != nil {
		return nil, s.lookupError(loc, cond, err)
	}
	if len(nodes) == 0 {
		return nil, qaerr.PageObject(qaerr.ErrCodeElementNotFound, "browser", fmt.Sprintf("no node matches %s", loc), nil)
	}
	node := nodes[0]

	if cond == locator.Clickable {
		if err := s.runActions(ctx, chromedp.WaitEnabled([]cdp.NodeID{node.NodeID}, chromedp.ByNodeID)); err != nil {
			return nil, s.lookupError(loc, cond, err)
		}
	}
	return node, nil
}

// FindAll returns every node currently matching loc without waiting.
func (s *Session) FindAll(ctx context.Context, loc locator.Locator) ([]*cdp.Node, error) {
	q, err := queryFor(loc)
	if err != nil {
		return nil, err
	}
	sel, by := q.all()

	var nodes []*cdp.Node
	if err := s.runActions(ctx, chromedp.Nodes(sel, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, s.lookupError(loc, locator.Present, err)
	}
	return nodes, nil
}

func (s *Session) lookupError(loc locator.Locator, cond locator.Condition, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return qaerr.Driver(qaerr.ErrCodeTimeoutError, "browser",
			fmt.Sprintf("%s not %s before timeout", loc, cond), err)
	}
	return qaerr.Driver(qaerr.ErrCodeFrameworkFailure, "browser", fmt.Sprintf("lookup of %s failed", loc), err)
}
