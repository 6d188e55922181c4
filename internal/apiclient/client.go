// File: internal/apiclient/client.go
package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/qaframe/internal/config"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// RequestIDHeader carries a per-request UUID so API logs can be correlated with test logs.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes caps how much of a response body is buffered. Larger bodies fail the request.
const maxBodyBytes = 32 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Request describes one call against the target API.
type Request struct {
	Method string
	// Path is joined to the client's base URL unless it is already absolute.
	Path    string
	Query   url.Values
	Headers map[string]string
	// Body is sent as is when it is a string or []byte, otherwise encoded as JSON.
	Body        any
	BearerToken string
}

// Client is a small, concurrency-safe HTTP client for the API under test.
// 4xx and 5xx responses are returned as responses, not errors.
type Client struct {
	http    *http.Client
	baseURL *url.URL
	headers map[string]string
	limiter *rate.Limiter
	logger  *zap.Logger
	maxBody int64
}

// New builds a client from the API configuration.
func New(cfg config.APIConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tc := NewDefaultTransportConfig()
	tc.IgnoreTLSErrors = cfg.IgnoreTLSErrors
	if cfg.Timeout > 0 {
		tc.RequestTimeout = cfg.Timeout
	}
	tc.Logger = logger
	return NewWithTransport(cfg, tc, logger)
}

// NewWithTransport is New with explicit transport settings.
func NewWithTransport(cfg config.APIConfig, tc *TransportConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		http:    newHTTPClient(tc),
		headers: cfg.Headers,
		logger:  logger.Named("apiclient"),
		maxBody: maxBodyBytes,
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, qaerr.Framework(qaerr.ErrCodeConfiguration, "apiclient", "invalid api.base_url", err)
		}
		c.baseURL = u
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c, nil
}

// HTTPClient exposes the underlying client, e.g. for request interception in tests.
func (c *Client) HTTPClient() *http.Client { return c.http }

// BaseURL returns the configured base URL, or nil.
func (c *Client) BaseURL() *url.URL { return c.baseURL }

// Resolve turns a request path into an absolute URL.
func (c *Client) Resolve(path string) (string, error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	if c.baseURL == nil {
		return "", fmt.Errorf("relative path %q requires api.base_url", path)
	}
	base := *c.baseURL
	base.Path = strings.TrimRight(base.Path, "/") + "/" + strings.TrimLeft(u.Path, "/")
	base.RawPath = ""
	if u.RawQuery != "" {
		base.RawQuery = u.RawQuery
	}
	return base.String(), nil
}

// Do sends the request and buffers the response body.
func (c *Client) Do(ctx context.Context, r Request) (*Response, error) {
	method := strings.ToUpper(r.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.Resolve(r.Path)
	if err != nil {
		return nil, qaerr.API(qaerr.ErrCodeInvalidParameters, "apiclient", "cannot resolve request url", err)
	}
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.Query.Encode()
	}

	body, contentType, err := encodeBody(r.Body)
	if err != nil {
		return nil, qaerr.API(qaerr.ErrCodeInvalidParameters, "apiclient", "cannot encode request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, qaerr.API(qaerr.ErrCodeInvalidParameters, "apiclient", "cannot build request", err)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, application/xml;q=0.9, */*;q=0.8")
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	if r.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.BearerToken)
	}
	requestID := req.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
		req.Header.Set(RequestIDHeader, requestID)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, qaerr.API(qaerr.ErrCodeRequestFailed, "apiclient", "rate limiter wait aborted", err)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("Request failed.", zap.String("method", method), zap.String("url", target),
			zap.String("request_id", requestID), zap.Error(err))
		return nil, qaerr.API(qaerr.ErrCodeRequestFailed, "apiclient", fmt.Sprintf("%s %s", method, target), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, qaerr.API(qaerr.ErrCodeRequestFailed, "apiclient", "failed to read response body", err)
	}
	if int64(len(payload)) > c.maxBody {
		c.logger.Warn("Response body too large.", zap.String("method", method), zap.String("url", target),
			zap.String("request_id", requestID), zap.Int64("limit", c.maxBody))
		return nil, qaerr.API(qaerr.ErrCodeRequestFailed, "apiclient",
			fmt.Sprintf("%s %s: response body exceeds %d bytes", method, target, c.maxBody), nil)
	}
	elapsed := time.Since(start)

	c.logger.Debug("Request completed.",
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed),
		zap.String("request_id", requestID),
	)

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
		URL:        target,
		Method:     method,
		RequestID:  requestID,
		Duration:   elapsed,
	}, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	case io.Reader:
		return b, "", nil
	case url.Values:
		return strings.NewReader(b.Encode()), "application/x-www-form-urlencoded", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}
