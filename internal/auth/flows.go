// internal/auth/flows.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/xkilldash9x/qaframe/internal/apiclient"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// Flow exchanges configured credentials for a fresh token.
type Flow interface {
	Authenticate(ctx context.Context) (TokenInfo, error)
}

// FlowFunc adapts a function to Flow.
type FlowFunc func(ctx context.Context) (TokenInfo, error)

func (f FlowFunc) Authenticate(ctx context.Context) (TokenInfo, error) { return f(ctx) }

// PasswordFlow posts {"username","password"} as JSON to a login endpoint.
//
// The token is read from TokenPath (a gjson path, default "token"). Expiry comes from
// an "expires_in" field in seconds, then from the token's own exp claim when it is a
// JWT, then from DefaultTTL.
type PasswordFlow struct {
	TokenType  string
	Client     *apiclient.Client
	Endpoint   string
	Username   string
	Password   string
	TokenPath  string
	DefaultTTL time.Duration
	Now        func() time.Time
}

func (f *PasswordFlow) Authenticate(ctx context.Context) (TokenInfo, error) {
	resp, err := f.Client.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   f.Endpoint,
		Body:   map[string]string{"username": f.Username, "password": f.Password},
	})
	if err != nil {
		return TokenInfo{}, err
	}
	if !resp.IsSuccess() {
		return TokenInfo{}, &AuthError{TokenType: f.TokenType, StatusCode: resp.StatusCode, Body: resp.Text()}
	}

	path := f.TokenPath
	if path == "" {
		path = "token"
	}
	token := resp.Get(path).String()
	if token == "" {
		return TokenInfo{}, qaerr.API(qaerr.ErrCodeExtractionFailed, "auth",
			fmt.Sprintf("%s login response has no token at %q", f.TokenType, path), nil)
	}

	now := nowOr(f.Now)
	info := TokenInfo{Token: token}
	if secs := resp.Get("expires_in").Int(); secs > 0 {
		info.ExpiresAt = now.Add(time.Duration(secs) * time.Second)
	} else if exp, ok := jwtExpiry(token); ok {
		info.ExpiresAt = exp
	} else {
		info.ExpiresAt = now.Add(f.DefaultTTL)
	}
	return info, nil
}

// ClientCredentialsFlow performs the OAuth2 client-credentials grant.
type ClientCredentialsFlow struct {
	TokenType  string
	Config     clientcredentials.Config
	HTTPClient *http.Client
	DefaultTTL time.Duration
	Now        func() time.Time
}

func (f *ClientCredentialsFlow) Authenticate(ctx context.Context) (TokenInfo, error) {
	if f.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
	}
	tok, err := f.Config.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return TokenInfo{}, &AuthError{TokenType: f.TokenType, StatusCode: re.Response.StatusCode, Body: string(re.Body)}
		}
		return TokenInfo{}, qaerr.API(qaerr.ErrCodeRequestFailed, "auth", f.TokenType+" token request failed", err)
	}

	info := TokenInfo{Token: tok.AccessToken, ExpiresAt: tok.Expiry}
	if info.ExpiresAt.IsZero() {
		info.ExpiresAt = nowOr(f.Now).Add(f.DefaultTTL)
	}
	return info, nil
}

// StaticFlow hands out a fixed token, e.g. an API key. With TTL zero it never expires.
type StaticFlow struct {
	Token string
	TTL   time.Duration
	Now   func() time.Time
}

func (f *StaticFlow) Authenticate(context.Context) (TokenInfo, error) {
	info := TokenInfo{Token: f.Token}
	if f.TTL > 0 {
		info.ExpiresAt = nowOr(f.Now).Add(f.TTL)
	}
	return info, nil
}

func nowOr(now func() time.Time) time.Time {
	if now == nil {
		return time.Now()
	}
	return now()
}
