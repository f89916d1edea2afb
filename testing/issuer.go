// Package testing provides utilities for testing applications that verify
// tokens with jwtverify. It runs a mock issuer that serves a JWKS document
// and signs tokens that validate against it, so integration tests need no
// real authorization server.
//
// Example usage:
//
//	issuer := testing.NewTestIssuer()
//	defer issuer.Close()
//
//	cfg := core.Config{JWKS: &core.JWKSConfig{}}
//	token := issuer.CreateUserToken("user-123", "test@example.com")
package testing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// JWKSPath is where the issuer publishes its key set.
	JWKSPath           = "/.well-known/jwks.json"
	// DiscoveryPath serves an OpenID configuration whose jwks_uri is
	// DiscoveredJWKSPath.
	DiscoveryPath      = "/.well-known/openid-configuration"
	DiscoveredJWKSPath = "/oauth/keys"
)

// Mode selects how the JWKS endpoint answers.
type Mode int

const (
	// ServeKeys answers with the signing key (default).
	ServeKeys Mode = iota
	// ServeError answers 500.
	ServeError
	// ServeGarbage answers 200 with a body that is not a key set.
	ServeGarbage
)

// TestIssuer runs an HTTP server that serves JWKS at /.well-known/jwks.json
// and signs RS256 tokens whose iss is the server URL.
type TestIssuer struct {
	server *httptest.Server
	signer *jwtkit.RSASigner
	hits   atomic.Int64
	disco  atomic.Int64
	mu     sync.Mutex
	mode   Mode
	delay  time.Duration
}

// NewTestIssuer creates a new test issuer with a JWKS endpoint.
// The issuer generates a new RSA key pair and serves the public key as JWKS.
// Call Close() when done to shut down the test server.
func NewTestIssuer() *TestIssuer {
	return NewTestIssuerWithKID("test-key-1")
}

// NewTestIssuerWithKID creates a test issuer whose key carries kid.
func NewTestIssuerWithKID(kid string) *TestIssuer {
	signer, err := jwtkit.NewRSASigner(2048, kid)
	if err != nil {
		panic("failed to create RSA signer: " + err.Error())
	}
	ti := &TestIssuer{signer: signer}

	mux := http.NewServeMux()
	mux.HandleFunc(JWKSPath, ti.handleJWKS)
	mux.HandleFunc(DiscoveredJWKSPath, ti.handleJWKS)
	mux.HandleFunc(DiscoveryPath, ti.handleDiscovery)
	ti.server = httptest.NewServer(mux)
	return ti
}

// URL returns the base URL of the test issuer server.
func (ti *TestIssuer) URL() string { return ti.server.URL }

// Issuer returns the iss value placed in tokens (URL with a trailing slash).
func (ti *TestIssuer) Issuer() string { return ti.server.URL + "/" }

// JWKSURL returns the full key-set URL.
func (ti *TestIssuer) JWKSURL() string { return ti.server.URL + JWKSPath }

// KID returns the key id of the signing key.
func (ti *TestIssuer) KID() string { return ti.signer.KID() }

// Client returns an HTTP client that trusts the test server.
func (ti *TestIssuer) Client() *http.Client { return ti.server.Client() }

// Hits reports how many JWKS requests were served.
func (ti *TestIssuer) Hits() int64 { return ti.hits.Load() }

// DiscoveryHits reports how many OpenID configuration requests were served.
func (ti *TestIssuer) DiscoveryHits() int64 { return ti.disco.Load() }

// SetMode switches how the JWKS endpoint answers.
func (ti *TestIssuer) SetMode(m Mode) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.mode = m
}

// SetDelay slows every JWKS response by d.
func (ti *TestIssuer) SetDelay(d time.Duration) {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.delay = d
}

// Close shuts down the test server.
func (ti *TestIssuer) Close() {
	if ti.server != nil {
		ti.server.Close()
	}
}

func (ti *TestIssuer) handleJWKS(w http.ResponseWriter, r *http.Request) {
	ti.hits.Add(1)
	ti.mu.Lock()
	mode, delay := ti.mode, ti.delay
	ti.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	switch mode {
	case ServeError:
		http.Error(w, "unavailable", http.StatusInternalServerError)
	case ServeGarbage:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys": "nope"`))
	default:
		jwtkit.ServeJWKS(w, r, jwtkit.JWKS{Keys: []jwtkit.JWK{ti.signer.JWK()}})
	}
}

func (ti *TestIssuer) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	ti.disco.Add(1)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"issuer":   ti.Issuer(),
		"jwks_uri": ti.server.URL + DiscoveredJWKSPath,
	})
}

// CreateToken signs claims as given, adding iss when absent.
func (ti *TestIssuer) CreateToken(claims map[string]any) string {
	return ti.CreateTokenWithKID(ti.signer.KID(), claims)
}

// CreateTokenWithKID signs claims with the issuer key but advertises kid in
// the header, which lets tests present a key id the key set does not hold.
func (ti *TestIssuer) CreateTokenWithKID(kid string, claims map[string]any) string {
	mc := jwt.MapClaims{}
	for k, v := range claims {
		mc[k] = v
	}
	if _, ok := mc["iss"]; !ok {
		mc["iss"] = ti.Issuer()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, mc)
	if kid != "" {
		token.Header["kid"] = kid
	}
	s, err := token.SignedString(ti.signer.PrivateKey())
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return s
}

// CreateUserToken creates a typical access token for userID.
func (ti *TestIssuer) CreateUserToken(userID, email string) string {
	now := time.Now()
	s, err := ti.signer.Sign(context.Background(), jwt.MapClaims{
		"sub":   userID,
		"email": email,
		"iss":   ti.Issuer(),
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
		"jti":   uuid.NewString(),
	})
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return s
}

// CreateExpiredToken creates a token that has already expired.
func (ti *TestIssuer) CreateExpiredToken(userID string) string {
	return ti.CreateToken(map[string]any{
		"sub": userID,
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
}

// CreateHMACToken signs claims with a shared secret for secret-mode tests.
func CreateHMACToken(secret string, claims map[string]any) string {
	s, err := jwtkit.NewHMACSigner([]byte(secret), "")
	if err != nil {
		panic(err.Error())
	}
	tok, err := s.Sign(context.Background(), jwt.MapClaims(claims))
	if err != nil {
		panic("failed to sign token: " + err.Error())
	}
	return tok
}
