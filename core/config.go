package core

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultCacheTTL is how long a fetched key set stays fresh.
	DefaultCacheTTL = 10 * time.Minute
	// DefaultFetchTimeout bounds one key-set download.
	DefaultFetchTimeout = 5 * time.Second
)

// Config selects how tokens are verified. Exactly one of Secret or JWKS must
// be set. A Config is read once by NewService and not retained by reference.
type Config struct {
	// Secret is a shared HMAC secret, or a PEM-encoded public key.
	Secret []byte
	// JWKS enables key resolution from a remote key set.
	JWKS *JWKSConfig

	// Namespace is stripped from claim names before claims reach handlers.
	Namespace string

	// Issuer and Audience, when set, must match the verified token.
	Issuer   string
	Audience string
	// Leeway tolerates clock skew on exp, nbf and iat.
	Leeway time.Duration
}

// JWKSConfig describes remote key-set resolution.
type JWKSConfig struct {
	// EndpointURL fixes the key-set location. When empty the location is
	// derived from the token issuer as <iss>/.well-known/jwks.json.
	EndpointURL string
	// AllowedIssuerDomains restricts which issuers may be trusted. Entries may
	// be bare hosts or URLs; only the host is compared.
	AllowedIssuerDomains []string
	// Discovery resolves the location through the issuer's OpenID
	// configuration instead of the conventional path.
	Discovery bool
	// CacheTTL bounds how long a fetched set is reused. Defaults to 10 minutes.
	CacheTTL time.Duration
	// FetchTimeout bounds one download. Defaults to 5 seconds.
	FetchTimeout time.Duration
}

// Validate checks that exactly one verification mode is configured.
func (c Config) Validate() error {
	switch {
	case len(c.Secret) == 0 && c.JWKS == nil:
		return errors.New("config: one of secret or jwks is required")
	case len(c.Secret) > 0 && c.JWKS != nil:
		return errors.New("config: secret and jwks are mutually exclusive")
	}
	if c.Leeway < 0 {
		return errors.New("config: leeway must not be negative")
	}
	if c.JWKS != nil {
		if c.JWKS.EndpointURL != "" {
			u, err := url.Parse(c.JWKS.EndpointURL)
			if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
				return fmt.Errorf("config: invalid jwks endpoint url %q", c.JWKS.EndpointURL)
			}
		}
		for _, d := range c.JWKS.AllowedIssuerDomains {
			if domainHost(d) == "" {
				return fmt.Errorf("config: invalid allowed issuer domain %q", d)
			}
		}
	}
	return nil
}

func (j *JWKSConfig) cacheTTL() time.Duration {
	if j.CacheTTL <= 0 {
		return DefaultCacheTTL
	}
	return j.CacheTTL
}

func (j *JWKSConfig) fetchTimeout() time.Duration {
	if j.FetchTimeout <= 0 {
		return DefaultFetchTimeout
	}
	return j.FetchTimeout
}

// issuerBase normalizes an issuer to a scheme-qualified URL without a trailing
// slash. Bare hosts are assumed to be https.
func issuerBase(issuer string) string {
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return ""
	}
	if !strings.Contains(issuer, "://") {
		issuer = "https://" + issuer
	}
	return strings.TrimRight(issuer, "/")
}

// domainHost returns the lower-cased host of an issuer or domain entry.
func domainHost(s string) string {
	base := issuerBase(s)
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
