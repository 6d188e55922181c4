// internal/suite/runner.go
package suite

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/qaframe/internal/browser"
	"github.com/xkilldash9x/qaframe/internal/chain"
	"github.com/xkilldash9x/qaframe/internal/config"
	"github.com/xkilldash9x/qaframe/internal/locator"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
	"github.com/xkilldash9x/qaframe/internal/store"
)

const (
	defaultCaseTimeout = 5 * time.Minute
	captureTimeout     = 15 * time.Second
	persistTimeout     = 30 * time.Second
)

// -- Interfaces for Dependency Inversion --

// Page is the browser surface UI steps need. *browser.Session implements it.
type Page interface {
	Navigate(ctx context.Context, url string) error
	ClickWithFallback(ctx context.Context, locs ...locator.Locator) error
	SendKeysWithFallback(ctx context.Context, text string, locs ...locator.Locator) error
	WaitForText(ctx context.Context, text string, locs ...locator.Locator) error
	IsDisplayed(ctx context.Context, locs ...locator.Locator) bool
	Screenshot(ctx context.Context, path string) error
	ArtifactPath(test, ext string) string
	CaptureFailure(ctx context.Context, name string) (browser.Artifacts, error)
	Close(ctx context.Context) error
}

// PageFactory opens a page for a worker.
type PageFactory func(ctx context.Context) (Page, error)

// BrowserPages opens a new tab of m per worker.
func BrowserPages(m *browser.Manager) PageFactory {
	return func(ctx context.Context) (Page, error) {
		s, err := m.NewSession(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// ChainRunner executes API chains. *chain.Executor implements it.
type ChainRunner interface {
	Run(ctx context.Context, def *chain.Definition) (*chain.Result, error)
}

// Recorder persists finished runs. *store.Store implements it.
type Recorder interface {
	SaveRun(ctx context.Context, run *store.RunRecord) error
}

// Status is the outcome of a case.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// CaseResult is the outcome of one case after all attempts.
type CaseResult struct {
	Name      string
	Groups    []string
	Status    Status
	Attempts  int
	Duration  time.Duration
	Err       error
	Artifacts browser.Artifacts
}

// RunResult collects the outcome of a suite run, in suite order.
type RunResult struct {
	ID         string
	Suite      string
	StartedAt  time.Time
	FinishedAt time.Time
	Cases      []CaseResult
}

func (r *RunResult) count(s Status) int {
	n := 0
	for _, c := range r.Cases {
		if c.Status == s {
			n++
		}
	}
	return n
}

func (r *RunResult) Passed() int  { return r.count(StatusPassed) }
func (r *RunResult) Failed() int  { return r.count(StatusFailed) }
func (r *RunResult) Skipped() int { return r.count(StatusSkipped) }

// Success reports whether every selected case passed.
func (r *RunResult) Success() bool { return r.Passed() == len(r.Cases) }

// Record converts the result into its persisted form.
func (r *RunResult) Record() *store.RunRecord {
	rec := &store.RunRecord{
		ID:         r.ID,
		Suite:      r.Suite,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Cases:      make([]store.CaseRecord, 0, len(r.Cases)),
	}
	for _, c := range r.Cases {
		cr := store.CaseRecord{
			Name:       c.Name,
			Status:     string(c.Status),
			Attempts:   c.Attempts,
			Duration:   c.Duration,
			Screenshot: c.Artifacts.Screenshot,
		}
		if c.Err != nil {
			cr.Error = c.Err.Error()
		}
		rec.Cases = append(rec.Cases, cr)
	}
	return rec
}

// Runner executes suites on a bounded worker pool. Each worker owns at most one
// page, created on its first UI case and closed when the worker exits.
type Runner struct {
	cfg      config.SuiteConfig
	logger   *zap.Logger
	pages    PageFactory
	chains   ChainRunner
	recorder Recorder
}

// Option configures a Runner.
type Option func(*Runner)

func WithPages(f PageFactory) Option   { return func(r *Runner) { r.pages = f } }
func WithChains(c ChainRunner) Option  { return func(r *Runner) { r.chains = c } }
func WithRecorder(rec Recorder) Option { return func(r *Runner) { r.recorder = rec } }

func NewRunner(cfg config.SuiteConfig, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{cfg: cfg, logger: logger.Named("runner")}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type job struct {
	index int
	c     Case
}

// Run executes the cases of s that belong to groups (all when empty). Cases still
// queued when ctx is canceled are reported as skipped. The returned error is only
// set when the run could not start; case failures live in the result.
func (r *Runner) Run(ctx context.Context, s *Suite, groups []string) (*RunResult, error) {
	if s == nil {
		return nil, qaerr.Framework(qaerr.ErrCodeInvalidParameters, "suite", "nil suite", nil)
	}
	selected := s.Select(groups)
	res := &RunResult{
		ID:        uuid.NewString(),
		Suite:     s.Name,
		StartedAt: time.Now(),
		Cases:     make([]CaseResult, len(selected)),
	}
	for i, c := range selected {
		res.Cases[i] = CaseResult{Name: c.Name, Groups: c.Groups, Status: StatusSkipped}
	}
	if len(selected) == 0 {
		r.logger.Warn("No cases selected.", zap.String("suite", s.Name), zap.Strings("groups", groups))
		res.FinishedAt = time.Now()
		return res, nil
	}

	concurrency := r.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > len(selected) {
		concurrency = len(selected)
	}
	log := r.logger.With(zap.String("run_id", res.ID), zap.String("suite", s.Name))
	log.Info("Starting suite run.", zap.Int("cases", len(selected)), zap.Int("concurrency", concurrency))

	jobs := make(chan job)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		workerID := w + 1
		g.Go(func() error {
			r.runWorker(gctx, workerID, s, jobs, res.Cases, log)
			return nil
		})
	}

feed:
	for i, c := range selected {
		select {
		case <-ctx.Done():
			log.Warn("Run canceled; remaining cases are skipped.", zap.Error(ctx.Err()))
			break feed
		case jobs <- job{index: i, c: c}:
		}
	}
	close(jobs)
	_ = g.Wait()

	res.FinishedAt = time.Now()
	log.Info("Suite run finished.",
		zap.Int("passed", res.Passed()), zap.Int("failed", res.Failed()), zap.Int("skipped", res.Skipped()),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))

	r.persist(res, log)
	return res, nil
}

// runWorker is the loop of one worker goroutine. Results are written to the slot
// of the job's index, so no locking is needed.
func (r *Runner) runWorker(ctx context.Context, workerID int, s *Suite, jobs <-chan job, results []CaseResult, log *zap.Logger) {
	logger := log.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker started.")

	var page Page
	defer func() {
		if page != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), captureTimeout)
			defer cancel()
			_ = page.Close(closeCtx)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Context canceled, worker shutting down.", zap.Error(ctx.Err()))
			return
		case j, ok := <-jobs:
			if !ok {
				logger.Debug("Job queue drained, worker shutting down.")
				return
			}
			results[j.index] = r.runCase(ctx, s, j.c, &page, logger)
		}
	}
}

// runCase runs a case until it passes or its retries are used up. A retry re-runs
// the whole case.
func (r *Runner) runCase(ctx context.Context, s *Suite, c Case, page *Page, log *zap.Logger) CaseResult {
	logger := log.With(zap.String("case", c.Name))
	retries := r.cfg.Retries
	if c.Retries != nil {
		retries = *c.Retries
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.cfg.CaseTimeout
	}
	if timeout <= 0 {
		timeout = defaultCaseTimeout
	}

	out := CaseResult{Name: c.Name, Groups: c.Groups}
	start := time.Now()
	for attempt := 1; attempt <= retries+1; attempt++ {
		if ctx.Err() != nil {
			break
		}
		out.Attempts = attempt
		caseCtx, cancel := context.WithTimeout(ctx, timeout)
		err := r.attempt(caseCtx, s, c, page, &out, logger)
		cancel()
		out.Err = err
		if err == nil {
			break
		}
		if attempt <= retries {
			logger.Warn("Case failed; retrying.", zap.Int("attempt", attempt), zap.Int("retries", retries), zap.Error(err))
		}
	}

	out.Duration = time.Since(start)
	switch {
	case out.Attempts == 0:
		out.Status = StatusSkipped
	case out.Err == nil:
		out.Status = StatusPassed
		logger.Info("Case passed.", zap.Int("attempts", out.Attempts), zap.Duration("duration", out.Duration))
	default:
		out.Status = StatusFailed
		logger.Error("Case failed.", zap.Int("attempts", out.Attempts), zap.Error(out.Err))
	}
	return out
}

func (r *Runner) attempt(ctx context.Context, s *Suite, c Case, page *Page, out *CaseResult, logger *zap.Logger) error {
	if c.Chain != nil {
		if r.chains == nil {
			return qaerr.Framework(qaerr.ErrCodeConfiguration, "suite", "case has a chain but no chain runner is configured", nil)
		}
		if _, err := r.chains.Run(ctx, c.Chain); err != nil {
			return err
		}
	}
	if len(c.UI) == 0 {
		return nil
	}

	if *page == nil {
		if r.pages == nil {
			return qaerr.Framework(qaerr.ErrCodeConfiguration, "suite", "case has ui steps but no browser is configured", nil)
		}
		p, err := r.pages(ctx)
		if err != nil {
			return err
		}
		*page = p
	}

	for i, step := range c.UI {
		if err := r.uiStep(ctx, s, c, *page, step); err != nil {
			err = fmt.Errorf("ui step %d (%s): %w", i+1, step.Action, err)
			r.captureFailure(ctx, *page, c.Name, out, logger)
			return err
		}
	}
	return nil
}

func (r *Runner) uiStep(ctx context.Context, s *Suite, c Case, page Page, step UIStep) error {
	switch step.Action {
	case ActionNavigate:
		target, err := resolveURL(s.BaseURL, step.URL)
		if err != nil {
			return err
		}
		return page.Navigate(ctx, target)
	case ActionScreenshot:
		path := step.Path
		if path == "" {
			path = page.ArtifactPath(c.Name, ".png")
		}
		return page.Screenshot(ctx, path)
	}

	locs, err := s.Locators(step)
	if err != nil {
		return err
	}
	switch step.Action {
	case ActionClick:
		return page.ClickWithFallback(ctx, locs...)
	case ActionType:
		return page.SendKeysWithFallback(ctx, step.Text, locs...)
	case ActionAssertText:
		return page.WaitForText(ctx, step.Text, locs...)
	case ActionAssertVisible:
		if !page.IsDisplayed(ctx, locs...) {
			return qaerr.PageObject(qaerr.ErrCodeElementNotFound, "suite",
				fmt.Sprintf("no visible element for any of [%s]", locator.Join(locs)), nil)
		}
		return nil
	}
	return qaerr.Framework(qaerr.ErrCodeInvalidParameters, "suite", fmt.Sprintf("unknown action %q", step.Action), nil)
}

// captureFailure runs on a context detached from the case deadline, which has
// usually fired by the time a step fails.
func (r *Runner) captureFailure(ctx context.Context, page Page, name string, out *CaseResult, logger *zap.Logger) {
	captureCtx, cancel := context.WithTimeout(browser.Detach(ctx), captureTimeout)
	defer cancel()
	art, err := page.CaptureFailure(captureCtx, name)
	if err != nil {
		logger.Warn("Could not capture failure artifacts.", zap.Error(err))
	}
	out.Artifacts = art
}

func (r *Runner) persist(res *RunResult, log *zap.Logger) {
	if r.recorder == nil {
		return
	}
	// Persist even if the run context was canceled during shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.recorder.SaveRun(ctx, res.Record()); err != nil {
		log.Error("Failed to persist run results.", zap.Error(err))
		return
	}
	log.Info("Run results persisted.")
}

func resolveURL(base, ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", qaerr.Framework(qaerr.ErrCodeInvalidParameters, "suite", fmt.Sprintf("invalid url %q", ref), err)
	}
	if u.IsAbs() || base == "" {
		return u.String(), nil
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", qaerr.Framework(qaerr.ErrCodeConfiguration, "suite", fmt.Sprintf("invalid base url %q", base), err)
	}
	return b.ResolveReference(u).String(), nil
}
