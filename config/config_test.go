package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	core "github.com/PaulFidika/jwtverify/core"
)

func TestFromEnv_JWKS(t *testing.T) {
	t.Setenv("JWKS_ENABLED", "true")
	t.Setenv("JWKS_ALLOWED_ISSUER_DOMAINS", "issuer.example; https://other.example/")
	t.Setenv("JWKS_CACHE_TTL", "2m")
	t.Setenv("JWT_NAMESPACE", "https://app.example/")
	t.Setenv("JWT_LEEWAY", "30s")

	env, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	cfg, err := env.Core()
	if err != nil {
		t.Fatalf("Core: %v", err)
	}
	if cfg.JWKS == nil || len(cfg.Secret) != 0 {
		t.Fatalf("expected jwks mode, got %+v", cfg)
	}
	if got := cfg.JWKS.AllowedIssuerDomains; len(got) != 2 || got[0] != "issuer.example" || got[1] != "https://other.example/" {
		t.Fatalf("unexpected allow-list %q", got)
	}
	if cfg.JWKS.CacheTTL != 2*time.Minute || cfg.JWKS.FetchTimeout != 5*time.Second {
		t.Fatalf("unexpected durations %v %v", cfg.JWKS.CacheTTL, cfg.JWKS.FetchTimeout)
	}
	if cfg.Namespace != "https://app.example/" || cfg.Leeway != 30*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}

	opts, closeFn, err := env.Options(context.Background())
	if err != nil || opts != nil {
		t.Fatalf("expected in-memory defaults without REDIS_ADDR, got %v %v", opts, err)
	}
	_ = closeFn()
}

func TestFromEnv_Secret(t *testing.T) {
	t.Setenv("JWT_SECRET", "supersecret")
	env, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	cfg, err := env.Core()
	if err != nil {
		t.Fatalf("Core: %v", err)
	}
	if string(cfg.Secret) != "supersecret" || cfg.JWKS != nil {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestFromEnv_SecretFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "jwt-secret"), []byte("mounted\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", "")
	t.Setenv("JWT_SECRETS_DIR", dir)

	env, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	cfg, err := env.Core()
	if err != nil {
		t.Fatalf("Core: %v", err)
	}
	if string(cfg.Secret) != "mounted" {
		t.Fatalf("expected mounted secret, got %q", cfg.Secret)
	}
}

func TestCore_NothingConfigured(t *testing.T) {
	env := Env{SecretsDir: t.TempDir()}
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_SECRET_FILE", "")
	if _, err := env.Core(); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, err := (Env{JWKSEnabled: true, JWKSEndpointURL: "not a url"}).Core(); err == nil {
		t.Fatalf("expected invalid endpoint to be rejected")
	}
}

func TestOptions_Redis(t *testing.T) {
	env := Env{JWKSEnabled: true, RedisAddr: "127.0.0.1:6379", RedisKeyPrefix: "test:jwks:"}
	opts, closeFn, err := env.Options(context.Background())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer closeFn()
	if len(opts) != 2 {
		t.Fatalf("expected cache and limiter options, got %d", len(opts))
	}
	svc, err := core.NewService(core.Config{JWKS: &core.JWKSConfig{}}, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	_ = svc.Close()
}
