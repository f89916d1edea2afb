package core

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PaulFidika/jwtverify/claims"
	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	"github.com/PaulFidika/jwtverify/jwks"
	oidckit "github.com/PaulFidika/jwtverify/oidc"
	memorylimiter "github.com/PaulFidika/jwtverify/ratelimit/memory"
	memorystore "github.com/PaulFidika/jwtverify/storage/memory"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// Service verifies bearer tokens. It is safe for concurrent use; the key-set
// cache is its only mutable state.
type Service struct {
	resolver  KeyResolver
	verifier  *jwtkit.Verifier
	namespace string
	log       logrus.FieldLogger

	client    *jwks.Client
	endpoint  string
	cacheTTL  time.Duration
	refresher *jwks.Refresher
	closers   []io.Closer
}

type settings struct {
	log        logrus.FieldLogger
	httpClient *http.Client
	cache      jwks.Cache
	limiter    jwks.RefreshLimiter
	now        func() time.Time
}

// Option customizes a Service.
type Option func(*settings)

// WithLogger sets the logger. Defaults to logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *settings) { s.log = l }
}

// WithHTTPClient sets the client used for key-set and discovery requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.httpClient = hc }
}

// WithKeySetCache replaces the in-memory key-set cache (e.g. with Redis).
func WithKeySetCache(c jwks.Cache) Option {
	return func(s *settings) { s.cache = c }
}

// WithRefreshLimiter replaces the in-memory limiter for unknown-kid refetches.
func WithRefreshLimiter(l jwks.RefreshLimiter) Option {
	return func(s *settings) { s.limiter = l }
}

// WithClock overrides the time source for temporal claim checks.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// NewService validates cfg and wires the resolver chosen by it.
func NewService(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st := settings{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&st)
	}

	vopts := []jwtkit.VerifierOpt{jwtkit.WithLeeway(cfg.Leeway)}
	if cfg.Issuer != "" {
		vopts = append(vopts, jwtkit.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		vopts = append(vopts, jwtkit.WithAudience(cfg.Audience))
	}
	if st.now != nil {
		vopts = append(vopts, jwtkit.WithClock(st.now))
	}
	s := &Service{
		verifier:  jwtkit.NewVerifier(vopts...),
		namespace: cfg.Namespace,
		log:       st.log,
	}

	if len(cfg.Secret) > 0 {
		key, err := jwtkit.StaticKey(cfg.Secret)
		if err != nil {
			return nil, err
		}
		s.resolver = staticResolver{key: key}
		return s, nil
	}

	s.cacheTTL = cfg.JWKS.cacheTTL()
	s.endpoint = cfg.JWKS.EndpointURL
	cache := st.cache
	if cache == nil {
		mc := memorystore.NewKeySetCache(s.cacheTTL)
		s.closers = append(s.closers, mc)
		cache = mc
	}
	limiter := st.limiter
	if limiter == nil {
		limiter = memorylimiter.New(memorylimiter.DefaultLimit)
	}
	copts := []jwks.ClientOpt{
		jwks.WithTimeout(cfg.JWKS.fetchTimeout()),
		jwks.WithRefreshLimiter(limiter),
		jwks.WithLogger(st.log),
	}
	if st.httpClient != nil {
		copts = append(copts, jwks.WithHTTPClient(st.httpClient))
	}
	s.client = jwks.NewClient(cache, copts...)
	s.resolver = newJWKSResolver(cfg.JWKS, s.client, oidckit.NewDiscoverer(st.httpClient, 0))
	return s, nil
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>" value.
func ExtractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", NewError(http.StatusUnauthorized, CodeNoAuthorization, "Missing Authorization HTTP header.", nil)
	}
	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.ContainsAny(token, " \t") {
		return "", NewError(http.StatusUnauthorized, CodeBadAuthorization, "Authorization header should be in format: Bearer [token].", nil)
	}
	return token, nil
}

// Authenticate runs the whole chain for one request: extract the bearer
// token, resolve its key, verify it, then normalize its claims. Each step
// starts only after the previous one succeeded; the first failure is returned
// as an *Error and no claims are produced.
func (s *Service) Authenticate(ctx context.Context, authorization string) (claims.Claims, error) {
	token, err := ExtractBearer(authorization)
	if err != nil {
		return nil, err
	}
	return s.VerifyToken(ctx, token)
}

// VerifyToken resolves, verifies and normalizes a raw token.
func (s *Service) VerifyToken(ctx context.Context, raw string) (claims.Claims, error) {
	h, p, err := jwtkit.ParseHeader(raw)
	if err != nil {
		return nil, s.reject(classify(err))
	}
	key, err := s.resolver.Resolve(ctx, h, p)
	if err != nil {
		return nil, s.reject(AsError(err))
	}
	payload, err := s.verifier.Verify(raw, key)
	if err != nil {
		return nil, s.reject(classify(err))
	}
	return claims.Normalize(payload, s.namespace), nil
}

// StartRefresher keeps the configured key-set endpoint warm by refetching it
// every half cache lifetime. It is a no-op unless an explicit endpoint is
// configured. Close stops it.
func (s *Service) StartRefresher() error {
	if s.client == nil || s.endpoint == "" || s.refresher != nil {
		return nil
	}
	r, err := jwks.NewRefresher(s.client, s.cacheTTL/2, s.endpoint)
	if err != nil {
		return err
	}
	r.Start()
	s.refresher = r
	return nil
}

// Close releases background resources.
func (s *Service) Close() error {
	if s.refresher != nil {
		<-s.refresher.Stop().Done()
		s.refresher = nil
	}
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Service) reject(e *Error) *Error {
	entry := s.log.WithField("code", e.Code)
	if e.Err != nil {
		entry = entry.WithError(e.Err)
	}
	if e.StatusCode >= http.StatusInternalServerError {
		entry.Warn("token verification failed")
	} else {
		entry.Debug("token rejected")
	}
	return e
}

// classify maps parser and validation errors onto response errors.
func classify(err error) *Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return NewError(http.StatusUnauthorized, CodeTokenExpired, "Authorization token expired.", err)
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return NewError(http.StatusUnauthorized, CodeTokenNotActive, "Authorization token is not active yet.", err)
	default:
		return errTokenInvalid(err)
	}
}
