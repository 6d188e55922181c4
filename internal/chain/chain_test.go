package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/steinfletcher/apitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/qaframe/internal/apiclient"
	"github.com/xkilldash9x/qaframe/internal/config"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

type recordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   map[string]any
}

// recorder is an API double that records every request and answers from a
// route table keyed by "METHOD /path".
type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
	routes   map[string]func(w http.ResponseWriter)
}

func newRecorder(t *testing.T, routes map[string]func(w http.ResponseWriter)) (*recorder, *apiclient.Client) {
	t.Helper()
	rec := &recorder{routes: routes}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if len(raw) > 0 {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.UseNumber()
			_ = dec.Decode(&body)
		}
		rec.mu.Lock()
		rec.requests = append(rec.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Header: r.Header.Clone(), Body: body})
		rec.mu.Unlock()

		if h, ok := rec.routes[r.Method+" "+r.URL.Path]; ok {
			h(w)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	client, err := apiclient.New(config.APIConfig{BaseURL: srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return rec, client
}

func (r *recorder) all() []recordedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedRequest(nil), r.requests...)
}

func respondJSON(status int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

type MockTokenSource struct {
	mock.Mock
}

func (m *MockTokenSource) ValidToken(ctx context.Context, tokenType string) (string, error) {
	args := m.Called(ctx, tokenType)
	return args.String(0), args.Error(1)
}

func TestExecutor_SubstitutesExtractedValues(t *testing.T) {
	rec, client := newRecorder(t, map[string]func(http.ResponseWriter){
		"POST /orders":           respondJSON(http.StatusCreated, `{"data":{"id":42,"state":"new"}}`),
		"POST /orders/42/charge": respondJSON(http.StatusOK, `{"status":"charged"}`),
	})
	exec := NewExecutor(client, nil, zaptest.NewLogger(t))

	res, err := exec.Execute(context.Background(), []Step{
		{
			Name:     "create",
			Method:   http.MethodPost,
			Endpoint: "/orders",
			Body:     map[string]any{"sku": "ABC-1"},
			Validate: ExpectStatus(http.StatusCreated),
			Extract:  JSONPaths(map[string]string{"orderId": "data.id"}),
		},
		{
			Name:     "charge",
			Method:   http.MethodPost,
			Endpoint: "/orders/${orderId}/charge",
			Body:     map[string]any{"order": "${orderId}", "note": "order ${orderId}"},
			Validate: ExpectSuccess(),
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Success())
	require.Len(t, res.Steps, 2)
	assert.Equal(t, json.Number("42"), res.Context["orderId"])

	reqs := rec.all()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/orders/42/charge", reqs[1].Path)
	// Exact placeholders keep the extracted type; embedded ones are left alone.
	assert.Equal(t, json.Number("42"), reqs[1].Body["order"])
	assert.Equal(t, "order ${orderId}", reqs[1].Body["note"])
}

func TestExecutor_AbortsOnFirstFailure(t *testing.T) {
	rec, client := newRecorder(t, map[string]func(http.ResponseWriter){
		"GET /one":   respondJSON(http.StatusOK, `{}`),
		"GET /two":   respondJSON(http.StatusInternalServerError, `{"error":"boom"}`),
		"GET /three": respondJSON(http.StatusOK, `{}`),
		"GET /four":  respondJSON(http.StatusOK, `{}`),
	})
	exec := NewExecutor(client, nil, zaptest.NewLogger(t))

	var steps []Step
	for _, p := range []string{"one", "two", "three", "four"} {
		steps = append(steps, Step{Name: p, Method: http.MethodGet, Endpoint: "/" + p, Validate: ExpectSuccess()})
	}

	res, err := exec.Execute(context.Background(), steps)
	require.Error(t, err)
	assert.False(t, res.Success())

	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, 1, stepErr.Index)
	assert.Equal(t, "two", stepErr.Name)
	assert.Equal(t, qaerr.ErrCodeValidationFailed, qaerr.CodeOf(err))
	assert.Contains(t, err.Error(), "chain step 2 (two) failed")

	require.Len(t, res.Steps, 2, "the failing step is recorded")
	assert.Equal(t, http.StatusInternalServerError, res.Steps[1].StatusCode)

	reqs := rec.all()
	require.Len(t, reqs, 2, "steps after the failure never run")
	assert.Equal(t, "/two", reqs[1].Path)
}

func TestExecutor_ExtractionFailureAborts(t *testing.T) {
	rec, client := newRecorder(t, map[string]func(http.ResponseWriter){
		"POST /login": respondJSON(http.StatusOK, `{"session":"x"}`),
		"GET /me":     respondJSON(http.StatusOK, `{}`),
	})
	exec := NewExecutor(client, nil, nil)

	_, err := exec.Execute(context.Background(), []Step{
		{Name: "login", Method: http.MethodPost, Endpoint: "/login", Extract: JSONPaths(map[string]string{"token": "token"})},
		{Name: "me", Method: http.MethodGet, Endpoint: "/me"},
	})
	require.Error(t, err)
	assert.Equal(t, qaerr.ErrCodeExtractionFailed, qaerr.CodeOf(err))
	assert.Len(t, rec.all(), 1)
}

func TestExecutor_OverwriteIsLogged(t *testing.T) {
	_, client := newRecorder(t, map[string]func(http.ResponseWriter){
		"GET /a": respondJSON(http.StatusOK, `{"id":"first"}`),
		"GET /b": respondJSON(http.StatusOK, `{"id":"second"}`),
	})
	core, logs := observer.New(zapcore.WarnLevel)
	exec := NewExecutor(client, nil, zap.New(core))

	res, err := exec.Execute(context.Background(), []Step{
		{Name: "a", Method: http.MethodGet, Endpoint: "/a", Extract: JSONPaths(map[string]string{"id": "id"})},
		{Name: "b", Method: http.MethodGet, Endpoint: "/b", Extract: JSONPaths(map[string]string{"id": "id"})},
	})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Context["id"])

	warnings := logs.FilterMessage("Chain context key overwritten.").All()
	require.Len(t, warnings, 1)
	fields := warnings[0].ContextMap()
	assert.Equal(t, "id", fields["key"])
	assert.Equal(t, "a", fields["previous_step"])
}

func TestExecutor_InitialContextIsCopied(t *testing.T) {
	_, client := newRecorder(t, map[string]func(http.ResponseWriter){
		"GET /x": respondJSON(http.StatusOK, `{"v":1}`),
	})
	exec := NewExecutor(client, nil, nil)
	initial := Context{"seed": "s"}

	res, err := exec.ExecuteWith(context.Background(), initial, []Step{
		{Method: http.MethodGet, Endpoint: "/x", Extract: JSONPaths(map[string]string{"v": "v"})},
	})
	require.NoError(t, err)
	assert.Equal(t, "s", res.Context["seed"])
	assert.NotContains(t, initial, "v")
	assert.Equal(t, "step-1", res.Steps[0].Name)
}

func TestExecutor_AttachesBearerToken(t *testing.T) {
	rec, client := newRecorder(t, map[string]func(http.ResponseWriter){
		"GET /me": respondJSON(http.StatusOK, `{}`),
	})
	tokens := new(MockTokenSource)
	tokens.On("ValidToken", mock.Anything, "user").Return("tok-1", nil).Once()
	exec := NewExecutor(client, tokens, nil)

	_, err := exec.Execute(context.Background(), []Step{
		{Name: "me", Method: http.MethodGet, Endpoint: "/me", Auth: "user",
			Headers: map[string]string{"X-Trace": "run-${run}"}},
	})
	require.NoError(t, err)
	tokens.AssertExpectations(t)

	reqs := rec.all()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer tok-1", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "run-${run}", reqs[0].Header.Get("X-Trace"))
}

func TestExecutor_TokenFailureAborts(t *testing.T) {
	rec, client := newRecorder(t, nil)
	tokens := new(MockTokenSource)
	tokens.On("ValidToken", mock.Anything, "admin").
		Return("", qaerr.API(qaerr.ErrCodeAuthFailed, "auth", "login rejected", nil))
	exec := NewExecutor(client, tokens, nil)

	_, err := exec.Execute(context.Background(), []Step{{Name: "admin", Method: http.MethodGet, Endpoint: "/admin", Auth: "admin"}})
	require.Error(t, err)
	assert.Equal(t, qaerr.ErrCodeAuthFailed, qaerr.CodeOf(err))
	assert.Empty(t, rec.all())
}

func TestExecutor_AuthWithoutTokenSource(t *testing.T) {
	_, client := newRecorder(t, nil)
	_, err := NewExecutor(client, nil, nil).Execute(context.Background(), []Step{{Method: http.MethodGet, Endpoint: "/", Auth: "user"}})
	assert.Equal(t, qaerr.ErrCodeConfiguration, qaerr.CodeOf(err))
}

func TestExecutor_CancelledContext(t *testing.T) {
	rec, client := newRecorder(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewExecutor(client, nil, nil).Execute(ctx, []Step{{Method: http.MethodGet, Endpoint: "/"}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Steps)
	assert.Empty(t, rec.all())
}

func TestExecutor_WithMockedAPI(t *testing.T) {
	client, err := apiclient.New(config.APIConfig{BaseURL: "http://shop.test"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	defer apitest.NewStandaloneMocks(
		apitest.NewMock().
			Post("http://shop.test/carts").
			Header("Content-Type", "application/json").
			RespondWith().
			Status(http.StatusCreated).
			Header("Content-Type", "application/json").
			Body(`{"cart":{"id":"c-7"}}`).
			End(),
		apitest.NewMock().
			Put("http://shop.test/carts/c-7/items").
			RespondWith().
			Status(http.StatusOK).
			Header("Content-Type", "application/json").
			Body(`{"items":1,"total":"9.99"}`).
			End(),
	).HttpClient(client.HTTPClient()).End()()

	def, err := ParseDefinition([]byte(`
name: add to cart
vars:
  sku: ABC-1
steps:
  - name: create cart
    method: post
    endpoint: /carts
    body: {owner: guest}
    expect_status: [201]
    extract: {cartId: cart.id}
  - name: add item
    method: PUT
    endpoint: /carts/${cartId}/items
    body: {sku: "${sku}", qty: 1}
    expect:
      items: 1
      total: "9.99"
`))
	require.NoError(t, err)

	res, err := NewExecutor(client, nil, zaptest.NewLogger(t)).Run(context.Background(), def)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, "c-7", res.Context["cartId"])
	assert.Equal(t, "ABC-1", res.Context["sku"])
}

func TestExecutor_NumericIDsKeepTheirDigits(t *testing.T) {
	rec, client := newRecorder(t, map[string]func(http.ResponseWriter){
		"POST /orders":        respondJSON(http.StatusCreated, `{"data":{"id":1234567,"ref":9007199254740993}}`),
		"GET /orders/1234567": respondJSON(http.StatusOK, `{"data":{"total":1000000}}`),
		"POST /refs":          respondJSON(http.StatusOK, `{}`),
	})
	def, err := ParseDefinition([]byte(`
name: numeric ids
steps:
  - name: create
    method: post
    endpoint: /orders
    extract: {orderId: data.id, ref: data.ref}
  - name: get
    method: get
    endpoint: /orders/${orderId}
    expect: {data.total: 1000000}
  - name: ref
    method: post
    endpoint: /refs
    body: {id: "${ref}"}
`))
	require.NoError(t, err)

	res, err := NewExecutor(client, nil, zaptest.NewLogger(t)).Run(context.Background(), def)
	require.NoError(t, err)
	assert.True(t, res.Success())

	reqs := rec.all()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/orders/1234567", reqs[1].Path)
	assert.Equal(t, json.Number("9007199254740993"), reqs[2].Body["id"])
}
