package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ifarma/backoffice-backend/pkg/config"
	pkgerrors "github.com/ifarma/backoffice-backend/pkg/errors"
	"github.com/ifarma/backoffice-backend/pkg/logger"
)

const defaultProvider = "asaas"

// TokenStore is the cache surface behind gateway session tokens.
type TokenStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	GatewayTokenKey(provider string) string
}

// TokenSourceParams configure a gateway token source.
type TokenSourceParams struct {
	Store    TokenStore
	Logger   *logger.Logger
	Gateway  config.GatewayConfig
	Provider string
}

// TokenSource hands out the gateway credential, caching the active session in
// Redis so every API pod and cron worker shares the same one. An empty cache
// with no configured key means the credential expired and cannot be refreshed.
type TokenSource struct {
	store    TokenStore
	log      *logger.Logger
	apiKey   string
	ttl      time.Duration
	provider string
}

// NewTokenSource wires a token source from its params.
func NewTokenSource(params TokenSourceParams) (*TokenSource, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("token source requires a store")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("token source requires a logger")
	}
	provider := strings.TrimSpace(params.Provider)
	if provider == "" {
		provider = defaultProvider
	}
	ttl := params.Gateway.SessionTokenTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &TokenSource{
		store:    params.Store,
		log:      params.Logger,
		apiKey:   strings.TrimSpace(params.Gateway.APIKey),
		ttl:      ttl,
		provider: provider,
	}, nil
}

// Fresh returns the current gateway session token, seeding the cache from the
// configured key when the session has lapsed. It fails with an unauthorized
// code when no credential is left to refresh from.
func (s *TokenSource) Fresh(ctx context.Context) (string, error) {
	key := s.store.GatewayTokenKey(s.provider)

	token, err := s.store.Get(ctx, key)
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read gateway session token")
	}
	if token != "" {
		return token, nil
	}

	if s.apiKey == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "gateway session expired and no credential is configured")
	}
	if err := s.store.Set(ctx, key, s.apiKey, s.ttl); err != nil {
		// Callers still get a working credential; only the shared cache is stale.
		s.log.Warn(ctx, fmt.Sprintf("cache gateway session token: %v", err))
	}
	return s.apiKey, nil
}

// Invalidate drops the cached session, forcing the next Fresh to reseed.
func (s *TokenSource) Invalidate(ctx context.Context) error {
	return s.store.Del(ctx, s.store.GatewayTokenKey(s.provider))
}
