// internal/auth/token.go
package auth

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// DefaultRefreshSkew is how long before expiry a cached token is considered stale.
const DefaultRefreshSkew = 5 * time.Minute

// TokenInfo is an access token and the instant it expires. A zero ExpiresAt never expires.
type TokenInfo struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stale reports whether now is at or past ExpiresAt minus skew.
func (t TokenInfo) Stale(now time.Time, skew time.Duration) bool {
	if t.Token == "" {
		return true
	}
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-skew))
}

var (
	// ErrUnknownTokenType is returned for token types with no registered flow.
	ErrUnknownTokenType = qaerr.API(qaerr.ErrCodeUnknownTokenType, "auth", "unknown token type", nil)
	// ErrAuthFailed matches every *AuthError.
	ErrAuthFailed = qaerr.API(qaerr.ErrCodeAuthFailed, "auth", "authentication failed", nil)
)

func unknownTokenType(tokenType string) error {
	return qaerr.API(qaerr.ErrCodeUnknownTokenType, "auth", fmt.Sprintf("unknown token type %q", tokenType), nil)
}

// AuthError reports a credential exchange answered with a non-2xx status.
type AuthError struct {
	TokenType  string
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("[%s] auth: %s authentication returned %d %s",
		qaerr.ErrCodeAuthFailed, e.TokenType, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + truncate(e.Body, 200)
	}
	return msg
}

// Is matches ErrAuthFailed and the API kind target.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*qaerr.FrameworkError)
	if !ok {
		return false
	}
	if t.Code == "" {
		return t.Kind == qaerr.KindAPI
	}
	return t.Code == qaerr.ErrCodeAuthFailed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var parserUnverified = jwt.NewParser()

// jwtExpiry reads the exp claim without verifying the signature.
func jwtExpiry(token string) (time.Time, bool) {
	parsed, _, err := parserUnverified.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
