// Package jwks fetches, parses and caches remote JSON Web Key Sets.
package jwks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds a single key-set download.
	DefaultTimeout = 5 * time.Second

	maxDocumentSize = 1 << 20
)

var (
	// ErrRequestFailed wraps every transport, status or decoding failure of a fetch.
	ErrRequestFailed = errors.New("jwks: request failed")
	// ErrKeyNotFound means the key set was fetched but holds no matching key id.
	ErrKeyNotFound = errors.New("jwks: key not found")
)

// Cache stores key-set snapshots by URL. Implementations own the freshness
// lifetime and must replace snapshots atomically.
type Cache interface {
	Get(ctx context.Context, url string) (*KeySet, bool, error)
	Put(ctx context.Context, url string, ks *KeySet) error
}

// RefreshLimiter gates forced refetches triggered by unknown key ids.
type RefreshLimiter interface {
	AllowRefresh(ctx context.Context, url string) (bool, error)
}

// Client downloads key sets and serves them through a Cache.
type Client struct {
	http    *http.Client
	cache   Cache
	limiter RefreshLimiter
	timeout time.Duration
	log     logrus.FieldLogger
	now     func() time.Time
	group   singleflight.Group
}

// ClientOpt configures a Client.
type ClientOpt func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) ClientOpt {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each download. Values <= 0 keep DefaultTimeout.
func WithTimeout(d time.Duration) ClientOpt {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRefreshLimiter enables refetching a cached set when a key id is missing.
func WithRefreshLimiter(l RefreshLimiter) ClientOpt {
	return func(c *Client) { c.limiter = l }
}

// WithLogger sets the logger used for fetch diagnostics.
func WithLogger(l logrus.FieldLogger) ClientOpt {
	return func(c *Client) { c.log = l }
}

// NewClient builds a Client backed by cache, which must not be nil.
func NewClient(cache Cache, opts ...ClientOpt) *Client {
	c := &Client{
		http:    http.DefaultClient,
		cache:   cache,
		timeout: DefaultTimeout,
		log:     logrus.StandardLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the key set published at url, from cache when fresh.
func (c *Client) Fetch(ctx context.Context, url string) (*KeySet, error) {
	ks, _, err := c.fetch(ctx, url)
	return ks, err
}

// Lookup returns the entry with key id kid from the set at url. A cached set
// that lacks kid is refetched once if the refresh limiter allows it, which
// picks up rotated keys before the cache entry expires.
func (c *Client) Lookup(ctx context.Context, url, kid string) (Entry, error) {
	ks, cached, err := c.fetch(ctx, url)
	if err != nil {
		return Entry{}, err
	}
	if e, ok := ks.Find(kid); ok {
		return e, nil
	}
	if cached && c.limiter != nil {
		allowed, err := c.limiter.AllowRefresh(ctx, url)
		if err != nil {
			c.log.WithError(err).WithField("url", url).Warn("jwks refresh limiter failed")
		}
		if allowed {
			c.log.WithFields(logrus.Fields{"url": url, "kid": kid}).Debug("unknown kid, refetching jwks")
			if ks, err = c.Refresh(ctx, url); err != nil {
				return Entry{}, err
			}
			if e, ok := ks.Find(kid); ok {
				return e, nil
			}
		}
	}
	return Entry{}, fmt.Errorf("%w: kid %q at %s", ErrKeyNotFound, kid, url)
}

// Refresh downloads the set at url and replaces the cached snapshot.
// Concurrent callers for the same url share one download. The download is
// detached from ctx so a caller giving up does not abort it for the others;
// ctx only bounds how long this caller waits.
func (c *Client) Refresh(ctx context.Context, url string) (*KeySet, error) {
	ch := c.group.DoChan(url, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		ks, err := c.download(fctx, url)
		if err != nil {
			return nil, err
		}
		if err := c.cache.Put(fctx, url, ks); err != nil {
			c.log.WithError(err).WithField("url", url).Warn("jwks cache put failed")
		}
		return ks, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestFailed, url, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*KeySet), nil
	}
}

func (c *Client) fetch(ctx context.Context, url string) (*KeySet, bool, error) {
	ks, ok, err := c.cache.Get(ctx, url)
	if err != nil {
		c.log.WithError(err).WithField("url", url).Warn("jwks cache get failed")
	}
	if err == nil && ok {
		return ks, true, nil
	}
	ks, err = c.Refresh(ctx, url)
	return ks, false, err
}

func (c *Client) download(ctx context.Context, url string) (*KeySet, error) {
	start := c.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestFailed, url, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.WithError(err).WithField("url", url).Warn("jwks fetch failed")
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestFailed, url, err)
	}
	defer resp.Body.Close()

	fields := logrus.Fields{"url": url, "status": resp.StatusCode}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.WithFields(fields).Warn("jwks endpoint returned error status")
		return nil, fmt.Errorf("%w: %s: unexpected status %s", ErrRequestFailed, url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestFailed, url, err)
	}
	ks, err := ParseKeySet(url, body, c.now())
	if err != nil {
		c.log.WithError(err).WithFields(fields).Warn("jwks document rejected")
		return nil, fmt.Errorf("%w: %s: %w", ErrRequestFailed, url, err)
	}
	fields["keys"] = len(ks.Keys)
	fields["duration"] = c.now().Sub(start)
	c.log.WithFields(fields).Debug("jwks fetched")
	return ks, nil
}
