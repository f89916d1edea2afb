// Package oidckit resolves a key-set location through OpenID Connect
// discovery for issuers that do not publish at the conventional path.
package oidckit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type discoveryDoc struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// Discoverer looks up and caches jwks_uri per issuer.
type Discoverer struct {
	http  *http.Client
	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]entry
	group singleflight.Group
	now   func() time.Time
}

type entry struct {
	jwksURI string
	exp     time.Time
}

// NewDiscoverer builds a Discoverer. A nil client uses http.DefaultClient;
// ttl <= 0 defaults to one hour.
func NewDiscoverer(hc *http.Client, ttl time.Duration) *Discoverer {
	if hc == nil {
		hc = http.DefaultClient
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Discoverer{http: hc, ttl: ttl, cache: make(map[string]entry), now: time.Now}
}

// JWKSURL returns the jwks_uri advertised by issuer.
func (d *Discoverer) JWKSURL(ctx context.Context, issuer string) (string, error) {
	issuer = strings.TrimRight(issuer, "/")
	if issuer == "" {
		return "", errors.New("oidc: issuer is empty")
	}
	d.mu.RLock()
	e, ok := d.cache[issuer]
	d.mu.RUnlock()
	if ok && d.now().Before(e.exp) {
		return e.jwksURI, nil
	}
	ch := d.group.DoChan(issuer, func() (any, error) {
		doc, err := discoverOIDC(context.WithoutCancel(ctx), d.http, issuer)
		if err != nil {
			return "", err
		}
		d.mu.Lock()
		d.cache[issuer] = entry{jwksURI: doc.JWKSURI, exp: d.now().Add(d.ttl)}
		d.mu.Unlock()
		return doc.JWKSURI, nil
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func discoverOIDC(ctx context.Context, hc *http.Client, issuer string) (*discoveryDoc, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	discoveryURL := issuer + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("oidc: discovery failed: %s", resp.Status)
	}
	var doc discoveryDoc
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, err
	}
	discoveredIssuer := strings.TrimRight(doc.Issuer, "/")
	if discoveredIssuer != "" && discoveredIssuer != issuer {
		return nil, fmt.Errorf("oidc: issuer mismatch: %s", doc.Issuer)
	}
	if doc.JWKSURI == "" {
		return nil, errors.New("oidc: discovery missing jwks_uri")
	}
	return &doc, nil
}
