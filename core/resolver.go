package core

import (
	"context"
	"errors"
	"fmt"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	"github.com/PaulFidika/jwtverify/jwks"
)

// KeyResolver picks the verification key for a token from its untrusted
// header and payload preview.
type KeyResolver interface {
	Resolve(ctx context.Context, h jwtkit.Header, p jwtkit.Preview) (jwtkit.Key, error)
}

// keySetSource is the part of jwks.Client the resolver needs.
type keySetSource interface {
	Lookup(ctx context.Context, url, kid string) (jwks.Entry, error)
}

// jwksLocator resolves an issuer to its key-set URL via discovery.
type jwksLocator interface {
	JWKSURL(ctx context.Context, issuer string) (string, error)
}

// staticResolver serves the configured secret for every token. An algorithm
// mismatch surfaces during verification, not here.
type staticResolver struct {
	key jwtkit.Key
}

func (r staticResolver) Resolve(context.Context, jwtkit.Header, jwtkit.Preview) (jwtkit.Key, error) {
	return r.key, nil
}

type jwksResolver struct {
	endpoint string
	allowed  map[string]struct{}
	keys     keySetSource
	locator  jwksLocator
}

func newJWKSResolver(cfg *JWKSConfig, keys keySetSource, locator jwksLocator) *jwksResolver {
	r := &jwksResolver{endpoint: cfg.EndpointURL, keys: keys}
	if cfg.Discovery {
		r.locator = locator
	}
	if len(cfg.AllowedIssuerDomains) > 0 {
		r.allowed = make(map[string]struct{}, len(cfg.AllowedIssuerDomains))
		for _, d := range cfg.AllowedIssuerDomains {
			r.allowed[domainHost(d)] = struct{}{}
		}
	}
	return r
}

func (r *jwksResolver) Resolve(ctx context.Context, h jwtkit.Header, p jwtkit.Preview) (jwtkit.Key, error) {
	issuer := issuerBase(p.Issuer)

	// Allow-list is enforced before any network call.
	if r.allowed != nil {
		host := domainHost(issuer)
		if _, ok := r.allowed[host]; !ok || host == "" {
			return jwtkit.Key{}, errDomainNotAllowed(host)
		}
	}

	url := r.endpoint
	if url == "" {
		if issuer == "" {
			return jwtkit.Key{}, errTokenInvalid(errors.New("token has no issuer to derive the key set from"))
		}
		if r.locator != nil {
			discovered, err := r.locator.JWKSURL(ctx, issuer)
			if err != nil {
				return jwtkit.Key{}, errJWKSRequestFailed(fmt.Errorf("discovery: %w", err))
			}
			url = discovered
		} else {
			url = issuer + "/.well-known/jwks.json"
		}
	}

	e, err := r.keys.Lookup(ctx, url, h.KeyID)
	switch {
	case errors.Is(err, jwks.ErrKeyNotFound):
		return jwtkit.Key{}, errJWKNotFound(err)
	case err != nil:
		return jwtkit.Key{}, errJWKSRequestFailed(err)
	}
	return e.VerificationKey(), nil
}
