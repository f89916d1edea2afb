// Package config loads verification settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	core "github.com/PaulFidika/jwtverify/core"
	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	redislimiter "github.com/PaulFidika/jwtverify/ratelimit/redis"
	redisstore "github.com/PaulFidika/jwtverify/storage/redis"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Env mirrors core.Config as environment variables.
type Env struct {
	// Secret is a shared HMAC secret or PEM public key. ENV: JWT_SECRET
	Secret string `env:"JWT_SECRET"`
	// SecretsDir holds a mounted jwt-secret file. ENV: JWT_SECRETS_DIR
	SecretsDir string `env:"JWT_SECRETS_DIR,default=/vault/auth"`

	JWKSEnabled bool `env:"JWKS_ENABLED"`
	// JWKSEndpointURL fixes the key-set location. ENV: JWKS_ENDPOINT_URL
	JWKSEndpointURL string `env:"JWKS_ENDPOINT_URL"`
	// AllowedIssuerDomains is a ;-separated list. ENV: JWKS_ALLOWED_ISSUER_DOMAINS
	AllowedIssuerDomains []string      `env:"JWKS_ALLOWED_ISSUER_DOMAINS"`
	Discovery            bool          `env:"JWKS_DISCOVERY"`
	CacheTTL             time.Duration `env:"JWKS_CACHE_TTL,default=10m"`
	FetchTimeout         time.Duration `env:"JWKS_FETCH_TIMEOUT,default=5s"`

	Namespace string        `env:"JWT_NAMESPACE"`
	Issuer    string        `env:"JWT_ISSUER"`
	Audience  string        `env:"JWT_AUDIENCE"`
	Leeway    time.Duration `env:"JWT_LEEWAY"`

	// RedisAddr like "localhost:6379" shares the key-set cache and refetch
	// budget between replicas. Empty keeps both in memory. ENV: REDIS_ADDR
	RedisAddr      string `env:"REDIS_ADDR"`
	RedisKeyPrefix string `env:"JWKS_REDIS_PREFIX,default=auth:jwks:"`
}

// FromEnv decodes Env from the process environment.
func FromEnv() (Env, error) {
	var e Env
	if err := envdecode.Decode(&e); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Env{}, fmt.Errorf("config: %w", err)
	}
	return e, nil
}

// Core builds the verification config. Without JWKS_ENABLED the secret is
// taken from JWT_SECRET or, failing that, the mounted secret file.
func (e Env) Core() (core.Config, error) {
	cfg := core.Config{
		Namespace: e.Namespace,
		Issuer:    e.Issuer,
		Audience:  e.Audience,
		Leeway:    e.Leeway,
	}
	if e.JWKSEnabled {
		cfg.JWKS = &core.JWKSConfig{
			EndpointURL:          strings.TrimSpace(e.JWKSEndpointURL),
			AllowedIssuerDomains: trimAll(e.AllowedIssuerDomains),
			Discovery:            e.Discovery,
			CacheTTL:             e.CacheTTL,
			FetchTimeout:         e.FetchTimeout,
		}
	} else if e.Secret != "" {
		cfg.Secret = []byte(e.Secret)
	} else {
		secret, err := jwtkit.LoadSecret(e.SecretsDir)
		if err != nil {
			return core.Config{}, fmt.Errorf("config: %w", err)
		}
		cfg.Secret = secret
	}
	if err := cfg.Validate(); err != nil {
		return core.Config{}, err
	}
	return cfg, nil
}

// Options returns the service options implied by the environment. With
// REDIS_ADDR set the key-set cache and refetch limiter move to Redis; the
// returned close func releases the client.
func (e Env) Options(ctx context.Context) ([]core.Option, func() error, error) {
	noop := func() error { return nil }
	if e.RedisAddr == "" || !e.JWKSEnabled {
		return nil, noop, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: e.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, noop, fmt.Errorf("redis ping: %w", err)
	}
	opts := []core.Option{
		core.WithKeySetCache(redisstore.NewKeySetCache(rdb, e.RedisKeyPrefix, e.CacheTTL)),
		core.WithRefreshLimiter(redislimiter.New(rdb, e.RedisKeyPrefix+"refresh:", redislimiter.Limit{})),
	}
	return opts, rdb.Close, nil
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
