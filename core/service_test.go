package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/PaulFidika/jwtverify/claims"
	authtest "github.com/PaulFidika/jwtverify/testing"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func quietLogger() logrus.FieldLogger {
	l, _ := logtest.NewNullLogger()
	return l
}

func newService(t *testing.T, cfg Config, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	svc, err := NewService(cfg, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// jsonEqual compares values after a JSON round trip, since decoded numbers
// come back as float64.
func jsonEqual(t *testing.T, want any, got claims.Claims) {
	t.Helper()
	wb, _ := json.Marshal(want)
	var w map[string]any
	_ = json.Unmarshal(wb, &w)
	if !reflect.DeepEqual(map[string]any(got), w) {
		t.Fatalf("claims mismatch:\nwant %#v\n got %#v", w, got)
	}
}

func expectCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error with %s, got %v", code, err)
	}
	if e.StatusCode != status || e.Code != code {
		t.Fatalf("expected %d %s, got %d %s (%v)", status, code, e.StatusCode, e.Code, e)
	}
}

func TestService_SecretScenario(t *testing.T) {
	svc := newService(t, Config{Secret: []byte("supersecret")})
	tok := authtest.CreateHMACToken("supersecret", map[string]any{"USER-ID": 42})

	got, err := svc.Authenticate(context.Background(), "Bearer "+tok)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	jsonEqual(t, map[string]any{"USER-ID": 42}, got)
}

func TestService_SecretRoundTrip(t *testing.T) {
	svc := newService(t, Config{Secret: []byte("supersecret")})
	payloads := []map[string]any{
		{"sub": "user-1"},
		{"roles": []any{"admin", "user"}, "nested": map[string]any{"a": true}},
		{"n": 1.5, "s": "x", "null": nil},
		{"exp": time.Now().Add(time.Hour).Unix(), "https://x/id": "kept-verbatim"},
	}
	for _, p := range payloads {
		got, err := svc.VerifyToken(context.Background(), authtest.CreateHMACToken("supersecret", p))
		if err != nil {
			t.Fatalf("VerifyToken(%v): %v", p, err)
		}
		jsonEqual(t, p, got)
	}
}

func TestService_SecretRejectsAsymmetricToken(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	defer issuer.Close()
	svc := newService(t, Config{Secret: []byte("supersecret")})

	_, err := svc.VerifyToken(context.Background(), issuer.CreateToken(map[string]any{"sub": "u1"}))
	expectCode(t, err, http.StatusUnauthorized, CodeTokenInvalid)
}

func TestService_TokenFailures(t *testing.T) {
	svc := newService(t, Config{Secret: []byte("supersecret")})
	ctx := context.Background()

	_, err := svc.VerifyToken(ctx, "not.a.token")
	expectCode(t, err, http.StatusUnauthorized, CodeTokenInvalid)

	_, err = svc.VerifyToken(ctx, authtest.CreateHMACToken("wrong", map[string]any{"sub": "u1"}))
	expectCode(t, err, http.StatusUnauthorized, CodeTokenInvalid)

	expired := authtest.CreateHMACToken("supersecret", map[string]any{"exp": time.Now().Add(-time.Hour).Unix()})
	_, err = svc.VerifyToken(ctx, expired)
	expectCode(t, err, http.StatusUnauthorized, CodeTokenExpired)

	future := authtest.CreateHMACToken("supersecret", map[string]any{"nbf": time.Now().Add(time.Hour).Unix()})
	_, err = svc.VerifyToken(ctx, future)
	expectCode(t, err, http.StatusUnauthorized, CodeTokenNotActive)

	_, err = svc.Authenticate(ctx, "")
	expectCode(t, err, http.StatusUnauthorized, CodeNoAuthorization)
}

func TestService_IssuerAudienceAndClock(t *testing.T) {
	now := time.Now()
	svc := newService(t, Config{
		Secret:   []byte("supersecret"),
		Issuer:   "https://issuer.example/",
		Audience: "api",
	}, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	ok := authtest.CreateHMACToken("supersecret", map[string]any{"iss": "https://issuer.example/", "aud": "api", "exp": now.Add(time.Minute).Unix()})
	if _, err := svc.VerifyToken(ctx, ok); err != nil {
		t.Fatalf("expected token accepted: %v", err)
	}
	wrongAud := authtest.CreateHMACToken("supersecret", map[string]any{"iss": "https://issuer.example/", "aud": "other"})
	_, err := svc.VerifyToken(ctx, wrongAud)
	expectCode(t, err, http.StatusUnauthorized, CodeTokenInvalid)

	now = now.Add(2 * time.Minute)
	_, err = svc.VerifyToken(ctx, ok)
	expectCode(t, err, http.StatusUnauthorized, CodeTokenExpired)
}

func TestService_Namespace(t *testing.T) {
	svc := newService(t, Config{Secret: []byte("supersecret"), Namespace: "https://x/"})
	tok := authtest.CreateHMACToken("supersecret", map[string]any{"https://x/USER-ID": 42, "sub": "u1"})
	got, err := svc.VerifyToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	jsonEqual(t, map[string]any{"USER-ID": 42, "sub": "u1"}, got)
}

func TestService_JWKSFromIssuer(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	defer issuer.Close()
	svc := newService(t, Config{JWKS: &JWKSConfig{}}, WithHTTPClient(issuer.Client()))

	payload := map[string]any{"USER-ID": 42, "iss": issuer.Issuer()}
	for i := 0; i < 3; i++ {
		got, err := svc.VerifyToken(context.Background(), issuer.CreateToken(payload))
		if err != nil {
			t.Fatalf("VerifyToken: %v", err)
		}
		jsonEqual(t, payload, got)
	}
	if issuer.Hits() != 1 {
		t.Fatalf("expected key set to be fetched once, got %d", issuer.Hits())
	}
}

func TestService_JWKSExplicitEndpoint(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	defer issuer.Close()
	svc := newService(t, Config{JWKS: &JWKSConfig{EndpointURL: issuer.JWKSURL()}}, WithHTTPClient(issuer.Client()))

	// The endpoint wins over whatever the token claims as issuer.
	tok := issuer.CreateToken(map[string]any{"iss": "https://elsewhere.example/", "sub": "u1"})
	if _, err := svc.VerifyToken(context.Background(), tok); err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
}

func TestService_JWKNotFound(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	defer issuer.Close()
	svc := newService(t, Config{JWKS: &JWKSConfig{}}, WithHTTPClient(issuer.Client()))

	_, err := svc.VerifyToken(context.Background(), issuer.CreateTokenWithKID("unknown-kid", map[string]any{"sub": "u1"}))
	expectCode(t, err, http.StatusInternalServerError, CodeJWKNotFound)

	// Cached set + unknown kid triggers one throttled refetch, then stops.
	for i := 0; i < 3; i++ {
		_, err = svc.VerifyToken(context.Background(), issuer.CreateTokenWithKID("unknown-kid", map[string]any{"sub": "u1"}))
		expectCode(t, err, http.StatusInternalServerError, CodeJWKNotFound)
	}
	if issuer.Hits() != 2 {
		t.Fatalf("expected initial fetch plus one forced refresh, got %d", issuer.Hits())
	}
}

func TestService_DomainNotAllowed(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	defer issuer.Close()
	svc := newService(t, Config{JWKS: &JWKSConfig{
		AllowedIssuerDomains: []string{"https://trusted.example/", "other.example"},
	}}, WithHTTPClient(issuer.Client()))

	_, err := svc.VerifyToken(context.Background(), issuer.CreateToken(map[string]any{"sub": "u1"}))
	expectCode(t, err, http.StatusInternalServerError, CodeDomainNotAllowed)

	_, err = svc.VerifyToken(context.Background(), issuer.CreateToken(map[string]any{"sub": "u1", "iss": ""}))
	expectCode(t, err, http.StatusInternalServerError, CodeDomainNotAllowed)

	if issuer.Hits() != 0 {
		t.Fatalf("expected no network fetch, got %d", issuer.Hits())
	}
}

func TestService_DomainAllowed(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	defer issuer.Close()
	svc := newService(t, Config{JWKS: &JWKSConfig{
		AllowedIssuerDomains: []string{issuer.URL()},
	}}, WithHTTPClient(issuer.Client()))

	if _, err := svc.VerifyToken(context.Background(), issuer.CreateUserToken("u1", "u1@example.com")); err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
}

func TestService_JWKSRequestFailed(t *testing.T) {
	for _, mode := range []authtest.Mode{authtest.ServeError, authtest.ServeGarbage} {
		issuer := authtest.NewTestIssuer()
		issuer.SetMode(mode)
		svc := newService(t, Config{JWKS: &JWKSConfig{}}, WithHTTPClient(issuer.Client()))

		_, err := svc.VerifyToken(context.Background(), issuer.CreateToken(map[string]any{"sub": "u1"}))
		expectCode(t, err, http.StatusInternalServerError, CodeJWKSRequestFailed)
		issuer.Close()
	}

	// Unreachable endpoint.
	issuer := authtest.NewTestIssuer()
	tok := issuer.CreateToken(map[string]any{"sub": "u1"})
	issuer.Close()
	svc := newService(t, Config{JWKS: &JWKSConfig{FetchTimeout: time.Second}})
	_, err := svc.VerifyToken(context.Background(), tok)
	expectCode(t, err, http.StatusInternalServerError, CodeJWKSRequestFailed)
}

func TestService_MissingIssuer(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	defer issuer.Close()
	svc := newService(t, Config{JWKS: &JWKSConfig{}}, WithHTTPClient(issuer.Client()))

	_, err := svc.VerifyToken(context.Background(), issuer.CreateToken(map[string]any{"sub": "u1", "iss": ""}))
	expectCode(t, err, http.StatusUnauthorized, CodeTokenInvalid)
}

func TestService_ConcurrentRequestsShareFetch(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	defer issuer.Close()
	issuer.SetDelay(100 * time.Millisecond)
	svc := newService(t, Config{JWKS: &JWKSConfig{}}, WithHTTPClient(issuer.Client()))
	tok := issuer.CreateUserToken("u1", "u1@example.com")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.VerifyToken(context.Background(), tok)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("VerifyToken: %v", err)
		}
	}
	if issuer.Hits() > 2 {
		t.Fatalf("expected shared fetch, got %d requests", issuer.Hits())
	}
}

func TestService_CancelledRequesterDoesNotAbortSharedFetch(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	defer issuer.Close()
	issuer.SetDelay(200 * time.Millisecond)
	svc := newService(t, Config{JWKS: &JWKSConfig{}}, WithHTTPClient(issuer.Client()))
	tok := issuer.CreateUserToken("u1", "u1@example.com")

	impatient, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var patientErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, patientErr = svc.VerifyToken(context.Background(), tok)
	}()

	_, err := svc.VerifyToken(impatient, tok)
	expectCode(t, err, http.StatusInternalServerError, CodeJWKSRequestFailed)

	wg.Wait()
	if patientErr != nil {
		t.Fatalf("expected patient requester to succeed: %v", patientErr)
	}
	if issuer.Hits() != 1 {
		t.Fatalf("expected a single shared fetch, got %d", issuer.Hits())
	}
}

func TestService_StartRefresher(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	defer issuer.Close()
	svc := newService(t, Config{JWKS: &JWKSConfig{EndpointURL: issuer.JWKSURL(), CacheTTL: 2 * time.Second}}, WithHTTPClient(issuer.Client()))
	if err := svc.StartRefresher(); err != nil {
		t.Fatalf("StartRefresher: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for issuer.Hits() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if issuer.Hits() == 0 {
		t.Fatalf("expected scheduled refresh to fetch the key set")
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestExtractBearer(t *testing.T) {
	cases := []struct {
		header string
		token  string
		code   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", ""},
		{"bearer abc", "abc", ""},
		{"", "", CodeNoAuthorization},
		{"   ", "", CodeNoAuthorization},
		{"Basic dXNlcjpwYXNz", "", CodeBadAuthorization},
		{"Bearer", "", CodeBadAuthorization},
		{"Bearer a b", "", CodeBadAuthorization},
	}
	for _, tc := range cases {
		tok, err := ExtractBearer(tc.header)
		if tc.code == "" {
			if err != nil || tok != tc.token {
				t.Fatalf("ExtractBearer(%q) = %q, %v", tc.header, tok, err)
			}
			continue
		}
		expectCode(t, err, http.StatusUnauthorized, tc.code)
	}
}

func TestConfig_Validate(t *testing.T) {
	bad := []Config{
		{},
		{Secret: []byte("s"), JWKS: &JWKSConfig{}},
		{JWKS: &JWKSConfig{EndpointURL: "not a url"}},
		{JWKS: &JWKSConfig{EndpointURL: "ftp://x.example/jwks"}},
		{JWKS: &JWKSConfig{AllowedIssuerDomains: []string{""}}},
		{Secret: []byte("s"), Leeway: -time.Second},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
	good := []Config{
		{Secret: []byte("s")},
		{JWKS: &JWKSConfig{}},
		{JWKS: &JWKSConfig{EndpointURL: "https://x.example/jwks", AllowedIssuerDomains: []string{"x.example"}}},
	}
	for i, c := range good {
		if err := c.Validate(); err != nil {
			t.Fatalf("case %d: %v", i, err)
		}
	}
}

func TestError_Body(t *testing.T) {
	e := errJWKNotFound(nil)
	b, _ := json.Marshal(e.Body())
	var got map[string]any
	_ = json.Unmarshal(b, &got)
	want := map[string]any{
		"statusCode": float64(500),
		"code":       "JWK_NOT_FOUND",
		"error":      "Internal Server Error",
		"message":    "No matching key found in the key set.",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected body %#v", got)
	}
	if AsError(errors.New("boom")).StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected unknown errors to map to 500")
	}
	if !IsCode(e, CodeJWKNotFound) || IsCode(errors.New("x"), CodeJWKNotFound) {
		t.Fatalf("IsCode mismatch")
	}
}

func TestService_Discovery(t *testing.T) {
	issuer := authtest.NewTestIssuer()
	defer issuer.Close()
	svc := newService(t, Config{JWKS: &JWKSConfig{Discovery: true}}, WithHTTPClient(issuer.Client()))

	for i := 0; i < 2; i++ {
		if _, err := svc.VerifyToken(context.Background(), issuer.CreateUserToken("u1", "u1@example.com")); err != nil {
			t.Fatalf("VerifyToken: %v", err)
		}
	}
	if issuer.DiscoveryHits() != 1 || issuer.Hits() != 1 {
		t.Fatalf("expected one discovery and one key-set fetch, got %d and %d", issuer.DiscoveryHits(), issuer.Hits())
	}
}
