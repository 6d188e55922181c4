package browser

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/qaframe/internal/config"
	"github.com/xkilldash9x/qaframe/internal/locator"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

type ctxKey struct{}

func TestCombineContext(t *testing.T) {
	t.Run("secondary cancellation propagates", func(t *testing.T) {
		primary := context.WithValue(context.Background(), ctxKey{}, "tab")
		secondary, cancelSecondary := context.WithCancel(context.Background())

		combined, cancel := CombineContext(primary, secondary)
		defer cancel()
		assert.Equal(t, "tab", combined.Value(ctxKey{}))

		cancelSecondary()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context not canceled")
		}
	})

	t.Run("secondary deadline is carried over", func(t *testing.T) {
		secondary, cancelSecondary := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancelSecondary()

		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.DeadlineExceeded)
	})

	t.Run("primary cancellation propagates", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		cancelPrimary()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "v"))
	cancel()

	d := Detach(parent)
	assert.NoError(t, d.Err())
	assert.Nil(t, d.Done())
	assert.Equal(t, "v", d.Value(ctxKey{}))
}

func TestAllocatorFlags(t *testing.T) {
	cfg := config.BrowserConfig{
		Headless:        true,
		IgnoreTLSErrors: true,
		WindowWidth:     1280,
		WindowHeight:    720,
		Args:            []string{"--lang=de-DE", "--disable-extensions=false", "mute-audio", "--"},
	}
	flags := AllocatorFlags(cfg)

	assert.Equal(t, true, flags["headless"])
	assert.Equal(t, true, flags["ignore-certificate-errors"])
	assert.Equal(t, "1280,720", flags["window-size"])
	assert.Equal(t, "de-DE", flags["lang"])
	assert.Equal(t, true, flags["mute-audio"])
	assert.Equal(t, "false", flags["disable-extensions"], "user args override defaults")
	assert.NotContains(t, flags, "")

	headed := AllocatorFlags(config.BrowserConfig{})
	assert.Equal(t, false, headed["headless"])
	assert.NotContains(t, headed, "window-size")
}

func TestExecPath(t *testing.T) {
	assert.Equal(t, "/opt/chrome/chrome", ExecPath(config.BrowserConfig{Name: "chromium", ExecPath: "/opt/chrome/chrome"}))
	assert.Equal(t, "", ExecPath(config.BrowserConfig{Name: "chrome"}))
}

func TestQueryFor(t *testing.T) {
	tests := []struct {
		loc      locator.Locator
		kind     queryKind
		selector string
		all      string
	}{
		{locator.ID("login"), queryByID, `[id="login"]`, `[id="login"]`},
		{locator.ID("form:username"), queryByID, `[id="form:username"]`, `[id="form:username"]`},
		{locator.ID("user.name"), queryByID, `[id="user.name"]`, `[id="user.name"]`},
		{locator.ID("1st"), queryByID, `[id="1st"]`, `[id="1st"]`},
		{locator.ID(`say "hi"`), queryByID, `[id="say \"hi\""]`, `[id="say \"hi\""]`},
		{locator.CSS("form > button"), queryByCSS, "form > button", "form > button"},
		{locator.XPath("//button"), queryByXPath, "//button", "//button"},
		{locator.Name("email"), queryByXPath, `//*[@name='email']`, `//*[@name='email']`},
	}
	for _, tt := range tests {
		t.Run(tt.loc.String(), func(t *testing.T) {
			q, err := queryFor(tt.loc)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, q.kind)
			assert.Equal(t, tt.selector, q.selector)
			sel, by := q.all()
			assert.Equal(t, tt.all, sel)
			// Ids never go through chromedp.ByID, which prefixes "#".
			if tt.kind != queryByXPath {
				assert.Equal(t, reflect.ValueOf(chromedp.ByQuery).Pointer(), reflect.ValueOf(q.single()).Pointer())
				assert.Equal(t, reflect.ValueOf(chromedp.ByQueryAll).Pointer(), reflect.ValueOf(by).Pointer())
			}
		})
	}

	_, err := queryFor(locator.Locator{By: "shadow", Value: "x"})
	assert.Equal(t, qaerr.ErrCodeInvalidParameters, qaerr.CodeOf(err))
}

func TestSession_ArtifactPath(t *testing.T) {
	dir := t.TempDir()
	s := newSession(context.Background(), func() {}, config.BrowserConfig{ScreenshotDir: dir}, zap.NewNop())

	p := s.ArtifactPath("cart / pay: card", ".png")
	assert.Equal(t, dir, filepath.Dir(p))
	base := filepath.Base(p)
	assert.True(t, strings.HasPrefix(base, "cart_pay_card_"), base)
	assert.True(t, strings.HasSuffix(base, "_"+s.ID()[:8]+".png"), base)

	s = newSession(context.Background(), func() {}, config.BrowserConfig{}, zap.NewNop())
	assert.Equal(t, "screenshots", filepath.Dir(s.ArtifactPath("x", ".html")))
}

func TestSession_ClosedSessionRejectsActions(t *testing.T) {
	s := newSession(context.Background(), func() {}, config.BrowserConfig{ElementTimeout: time.Second}, zap.NewNop())
	closedCalls := 0
	s.onClose = func() { closedCalls++ }

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, closedCalls)

	_, err := s.Title(context.Background())
	var fe *qaerr.FrameworkError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, qaerr.ErrCodeSessionFailure, fe.Code)
	assert.False(t, s.IsDisplayed(context.Background(), locator.ID("x")))
}
