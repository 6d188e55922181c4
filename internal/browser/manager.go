// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/qaframe/internal/config"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

const (
	launchProbeTimeout  = 30 * time.Second
	shutdownGracePeriod = 15 * time.Second
)

// Manager owns the browser allocator and hands out isolated sessions. Launched
// locally, every session gets its own browser process; attached to a remote
// endpoint, every session is a new tab. Sessions are never shared; each suite
// worker asks for its own.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	// allocatorCtx launches browsers (or connects to the remote one). All session
	// contexts derive from it.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// wg tracks open sessions for a graceful shutdown.
	wg sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager launches a local browser, or attaches to cfg.RemoteURL when set, and
// checks that it answers before returning.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		logger:   logger.Named("browser_manager"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
	if err := m.launchBrowser(ctx); err != nil {
		return nil, qaerr.Driver(qaerr.ErrCodeSessionFailure, "browser", "failed to launch browser", err)
	}
	return m, nil
}

func (m *Manager) launchBrowser(ctx context.Context) error {
	if m.cfg.RemoteURL != "" {
		m.logger.Info("Attaching to remote browser.", zap.String("remote_url", m.cfg.RemoteURL))
		m.allocatorCtx, m.allocatorCancel = chromedp.NewRemoteAllocator(ctx, m.cfg.RemoteURL)
	} else {
		m.logger.Info("Launching local browser.", zap.String("browser", m.cfg.Name), zap.Bool("headless", m.cfg.Headless))
		m.allocatorCtx, m.allocatorCancel = chromedp.NewExecAllocator(ctx, m.buildAllocatorOptions()...)
	}

	// A throwaway tab confirms the browser is alive.
	probeCtx, cancelProbe := context.WithTimeout(m.allocatorCtx, launchProbeTimeout)
	defer cancelProbe()
	probeCtx, cancelTab := chromedp.NewContext(probeCtx)
	defer cancelTab()

	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		m.allocatorCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	m.logger.Info("Browser is responsive.")
	return nil
}

// AllocatorFlags returns the command line switches for a local launch, keyed by
// flag name without the leading dashes.
func AllocatorFlags(cfg config.BrowserConfig) map[string]any {
	flags := map[string]any{
		"headless":                  cfg.Headless,
		"disable-gpu":               cfg.Headless,
		"disable-extensions":        true,
		"disable-popup-blocking":    true,
		"ignore-certificate-errors": cfg.IgnoreTLSErrors,
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		flags["window-size"] = fmt.Sprintf("%d,%d", cfg.WindowWidth, cfg.WindowHeight)
	}
	// Container friendly defaults.
	if runtime.GOOS == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
	}

	// User supplied args win over the defaults.
	for _, arg := range cfg.Args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasValue {
			flags[name] = value
		} else {
			flags[name] = true
		}
	}
	return flags
}

func (m *Manager) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	flags := AllocatorFlags(m.cfg)
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}

	if path := ExecPath(m.cfg); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	return opts
}

// ExecPath resolves the browser binary. An empty result lets chromedp search for Chrome.
func ExecPath(cfg config.BrowserConfig) string {
	if cfg.ExecPath != "" {
		return cfg.ExecPath
	}
	var candidates []string
	switch cfg.Name {
	case "chromium":
		candidates = []string{"chromium", "chromium-browser"}
	case "edge":
		candidates = []string{"microsoft-edge", "microsoft-edge-stable", "msedge"}
	default:
		return ""
	}
	for _, c := range candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p
		}
	}
	return ""
}

// NewSession opens a new tab. The caller owns the session and must Close it.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, qaerr.Driver(qaerr.ErrCodeSessionFailure, "browser", "browser manager is shut down", nil)
	}
	m.wg.Add(1)
	m.mu.Unlock()

	tabCtx, cancel := chromedp.NewContext(m.allocatorCtx)
	s := newSession(tabCtx, cancel, m.cfg, m.logger)
	s.onClose = func() {
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
		m.wg.Done()
		m.logger.Debug("Session removed from manager.", zap.String("session_id", s.ID()))
	}

	// The first Run creates the target and binds it to the context it is given, so it
	// must run on the tab context itself rather than a deadline-bound child.
	if err := ctx.Err(); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	if err := chromedp.Run(tabCtx); err != nil {
		_ = s.Close(context.Background())
		return nil, qaerr.Driver(qaerr.ErrCodeSessionFailure, "browser", "failed to open browser tab", err)
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	m.logger.Info("New session created.", zap.String("session_id", s.ID()))
	return s, nil
}

// ActiveSessions reports how many sessions are still open.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown waits for open sessions to close, bounded by ctx, then stops the browser.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.logger.Info("Browser manager shutdown initiated. Waiting for active sessions to complete...")

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All sessions have completed.")
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
		m.closeRemaining()
	}

	if m.allocatorCancel != nil {
		m.allocatorCancel()
		<-m.allocatorCtx.Done()
	}
	m.logger.Info("Browser process stopped.")
	return nil
}

func (m *Manager) closeRemaining() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	for _, s := range open {
		_ = s.Close(closeCtx)
	}
}
