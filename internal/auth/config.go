package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/xkilldash9x/qaframe/internal/apiclient"
	"github.com/xkilldash9x/qaframe/internal/config"
	"github.com/xkilldash9x/qaframe/internal/qaerr"
)

// NewFromConfig builds a Manager with one flow per configured token type. Login
// endpoints are resolved against the API client's base URL.
func NewFromConfig(ctx context.Context, cfg config.AuthConfig, client *apiclient.Client, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := []Option{WithRefreshSkew(cfg.RefreshSkew)}
	if cfg.Store == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, qaerr.Framework(qaerr.ErrCodeConfiguration, "auth",
				fmt.Sprintf("cannot reach token store at %s", cfg.Redis.Addr), err)
		}
		base = append(base, WithStore(NewRedisStore(rdb, cfg.Redis.KeyPrefix)))
		logger.Info("Using Redis token store.", zap.String("addr", cfg.Redis.Addr))
	}

	m := NewManager(logger, append(base, opts...)...)
	for name, tc := range cfg.Tokens {
		ttl := tc.TTL
		if ttl == 0 {
			ttl = cfg.DefaultTTL
		}
		flow, err := buildFlow(name, tc, ttl, client, m)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		m.Register(name, flow)
	}
	return m, nil
}

func buildFlow(name string, tc config.TokenConfig, ttl time.Duration, client *apiclient.Client, m *Manager) (Flow, error) {
	switch tc.Flow {
	case "password":
		if client == nil {
			return nil, qaerr.Framework(qaerr.ErrCodeConfiguration, "auth", name+": password flow needs an API client", nil)
		}
		return &PasswordFlow{
			TokenType:  name,
			Client:     client,
			Endpoint:   tc.Endpoint,
			Username:   tc.Username,
			Password:   tc.Password,
			TokenPath:  tc.TokenPath,
			DefaultTTL: ttl,
			Now:        m.now,
		}, nil

	case "client_credentials":
		tokenURL := tc.Endpoint
		var httpClient *http.Client
		if client != nil {
			resolved, err := client.Resolve(tc.Endpoint)
			if err != nil {
				return nil, qaerr.Framework(qaerr.ErrCodeConfiguration, "auth", name+": invalid token endpoint", err)
			}
			tokenURL = resolved
			httpClient = client.HTTPClient()
		}
		return &ClientCredentialsFlow{
			TokenType: name,
			Config: clientcredentials.Config{
				ClientID:     tc.ClientID,
				ClientSecret: tc.ClientSecret,
				TokenURL:     tokenURL,
				Scopes:       tc.Scopes,
			},
			HTTPClient: httpClient,
			DefaultTTL: ttl,
			Now:        m.now,
		}, nil

	case "static":
		// Static tokens only expire when a TTL is set explicitly on the token.
		return &StaticFlow{Token: tc.Token, TTL: tc.TTL, Now: m.now}, nil
	}
	return nil, qaerr.Framework(qaerr.ErrCodeConfiguration, "auth", fmt.Sprintf("%s: unknown flow %q", name, tc.Flow), nil)
}
