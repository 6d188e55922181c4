package locator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// -- Finder Mock --

type MockFinder struct {
	mock.Mock
}

func (m *MockFinder) Find(ctx context.Context, loc Locator, cond Condition) (string, error) {
	args := m.Called(ctx, loc, cond)
	return args.String(0), args.Error(1)
}

func (m *MockFinder) FindAll(ctx context.Context, loc Locator) ([]string, error) {
	args := m.Called(ctx, loc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

var errMissing = errors.New("no such element")

func newTestFallback(f *MockFinder, timeout time.Duration) (*Fallback[string], *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewFallback[string](f, timeout, zap.New(core)), logs
}

// -- Parsing --

func TestParse(t *testing.T) {
	t.Run("splits on the first colon only", func(t *testing.T) {
		l, err := Parse("xpath://a[@href='http://example.com']")
		require.NoError(t, err)
		assert.Equal(t, ByXPath, l.By)
		assert.Equal(t, "//a[@href='http://example.com']", l.Value)
		assert.Equal(t, "xpath://a[@href='http://example.com']", l.String())
	})

	t.Run("strategy is case insensitive", func(t *testing.T) {
		l, err := Parse(" CSS:#login ")
		require.NoError(t, err)
		assert.Equal(t, CSS("#login"), l)
	})

	for _, bad := range []string{"", "login", "tag:div", "id:", "id:   "} {
		t.Run("rejects "+bad, func(t *testing.T) {
			_, err := Parse(bad)
			require.Error(t, err)
			assert.Equal(t, qaerr.ErrCodeInvalidParameters, qaerr.CodeOf(err))
		})
	}

	t.Run("ParseAll keeps order", func(t *testing.T) {
		locs, err := ParseAll([]string{"id:a", "css:.b", "text:Sign in"})
		require.NoError(t, err)
		assert.Equal(t, []Locator{ID("a"), CSS(".b"), Text("Sign in")}, locs)
	})

	t.Run("MustParse panics on bad input", func(t *testing.T) {
		assert.Panics(t, func() { MustParse("nope") })
	})
}

// -- Fallback --

func TestFallback_Find(t *testing.T) {
	ctx := context.Background()

	t.Run("first success short-circuits", func(t *testing.T) {
		f := new(MockFinder)
		f.On("Find", mock.Anything, ID("a"), Present).Return("", errMissing).Once()
		f.On("Find", mock.Anything, CSS(".b"), Present).Return("B", nil).Once()
		fb, logs := newTestFallback(f, time.Second)

		el, err := fb.Find(ctx, ID("a"), CSS(".b"), XPath("//c"))
		require.NoError(t, err)
		assert.Equal(t, "B", el)
		f.AssertExpectations(t)
		f.AssertNotCalled(t, "Find", mock.Anything, XPath("//c"), mock.Anything)
		assert.Equal(t, 1, logs.FilterMessage("Element resolved via fallback locator.").Len())
	})

	t.Run("empty list fails fast", func(t *testing.T) {
		f := new(MockFinder)
		fb, _ := newTestFallback(f, time.Second)

		_, err := fb.Find(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoLocators)
		f.AssertNotCalled(t, "Find", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("all failing names every locator", func(t *testing.T) {
		f := new(MockFinder)
		f.On("Find", mock.Anything, mock.Anything, Clickable).Return("", errMissing)
		fb, _ := newTestFallback(f, time.Second)

		_, err := fb.FindClickable(ctx, ID("a"), Name("b"), Text("Go"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrElementNotFound)
		assert.ErrorIs(t, err, qaerr.AnyPageObject)
		assert.ErrorIs(t, err, errMissing, "the last attempt's cause is preserved")
		for _, s := range []string{"id:a", "name:b", "text:Go", "clickable"} {
			assert.Contains(t, err.Error(), s)
		}
		f.AssertNumberOfCalls(t, "Find", 3)
	})

	t.Run("each attempt gets its own deadline", func(t *testing.T) {
		f := new(MockFinder)
		blockUntilDone := func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}
		f.On("Find", mock.Anything, ID("slow"), Visible).Run(blockUntilDone).Return("", context.DeadlineExceeded).Once()
		f.On("Find", mock.Anything, ID("fast"), Visible).Return("F", nil).Once()
		fb, _ := newTestFallback(f, 20*time.Millisecond)

		start := time.Now()
		el, err := fb.FindVisible(ctx, ID("slow"), ID("fast"))
		require.NoError(t, err)
		assert.Equal(t, "F", el)
		assert.Less(t, time.Since(start), time.Second)
		f.AssertExpectations(t)
	})

	t.Run("cancelled caller stops the search", func(t *testing.T) {
		f := new(MockFinder)
		cctx, cancel := context.WithCancel(ctx)
		f.On("Find", mock.Anything, ID("a"), Present).Run(func(mock.Arguments) { cancel() }).Return("", context.Canceled).Once()
		fb, _ := newTestFallback(f, time.Second)

		_, err := fb.Find(cctx, ID("a"), ID("b"))
		assert.ErrorIs(t, err, context.Canceled)
		f.AssertNotCalled(t, "Find", mock.Anything, ID("b"), mock.Anything)
	})
}

func TestFallback_FindAll(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the first non-empty set", func(t *testing.T) {
		f := new(MockFinder)
		f.On("FindAll", mock.Anything, CSS(".row")).Return([]string{}, nil).Once()
		f.On("FindAll", mock.Anything, XPath("//tr")).Return(nil, errMissing).Once()
		f.On("FindAll", mock.Anything, Class("item")).Return([]string{"1", "2"}, nil).Once()
		fb, _ := newTestFallback(f, time.Second)

		els, err := fb.FindAll(ctx, CSS(".row"), XPath("//tr"), Class("item"))
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, els)
	})

	t.Run("nothing matched is an empty result", func(t *testing.T) {
		f := new(MockFinder)
		f.On("FindAll", mock.Anything, mock.Anything).Return([]string{}, nil)
		fb, _ := newTestFallback(f, time.Second)

		els, err := fb.FindAll(ctx, ID("a"), ID("b"))
		require.NoError(t, err)
		assert.Empty(t, els)
		f.AssertNumberOfCalls(t, "FindAll", 2)
	})

	t.Run("empty list fails fast", func(t *testing.T) {
		fb, _ := newTestFallback(new(MockFinder), time.Second)
		_, err := fb.FindAll(ctx)
		assert.ErrorIs(t, err, ErrNoLocators)
	})
}

// -- Strategies and Manager --

func TestStrategy_Immutable(t *testing.T) {
	locs := []Locator{ID("a")}
	s := Primary("login button", locs...)
	locs[0] = ID("changed")

	assert.Equal(t, []Locator{ID("a")}, s.Locators())
	got := s.Locators()
	got[0] = ID("mutated")
	assert.Equal(t, []Locator{ID("a")}, s.Locators())
}

func TestSet_Locators(t *testing.T) {
	set := NewSet(
		FallbackStrategy("by text", Text("Login")),
		Primary("by id", ID("login")),
		NewStrategy("by css", PriorityPrimary, CSS("button.login")),
		NewStrategy("last resort", 9, Class("btn")),
	)

	assert.Equal(t, []Locator{ID("login"), CSS("button.login"), Text("Login"), Class("btn")}, set.Locators(),
		"sorted by priority with ties in insertion order")

	extended := set.With(NewStrategy("first", 0, Name("login")))
	assert.Equal(t, Name("login"), extended.Locators()[0])
	assert.Len(t, set.Locators(), 4, "With does not modify the receiver")
}

func TestSmartManager_DelegatesInPriorityOrder(t *testing.T) {
	f := new(MockFinder)
	f.On("Find", mock.Anything, ID("login"), Clickable).Return("", errMissing).Once()
	f.On("Find", mock.Anything, Text("Login"), Clickable).Return("btn", nil).Once()
	fb, _ := newTestFallback(f, time.Second)

	m := NewSmartManager[string](fb, zap.NewNop(), FallbackStrategy("text", Text("Login")))
	m.Add(Primary("id", ID("login")))
	assert.Equal(t, []Locator{ID("login"), Text("Login")}, m.Locators())

	el, err := m.FindClickable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "btn", el)
	f.AssertExpectations(t)
}

func TestSmartManager_NoStrategies(t *testing.T) {
	fb, _ := newTestFallback(new(MockFinder), time.Second)
	m := NewSmartManager[string](fb, nil)

	_, err := m.Find(context.Background())
	assert.ErrorIs(t, err, ErrNoLocators)
}
