package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	jwt "github.com/golang-jwt/jwt/v5"
)

func serveDocument(t *testing.T, doc []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signRS256(t *testing.T, s *jwtkit.RSASigner, kid string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "u1"})
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(s.PrivateKey())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestService_EmptyKeySetIsKeyNotFound(t *testing.T) {
	signer, err := jwtkit.NewRSASigner(2048, "k1")
	if err != nil {
		t.Fatalf("NewRSASigner: %v", err)
	}
	srv := serveDocument(t, []byte(`{"keys":[]}`))
	svc := newService(t, Config{JWKS: &JWKSConfig{EndpointURL: srv.URL}}, WithHTTPClient(srv.Client()))

	_, err = svc.VerifyToken(context.Background(), signRS256(t, signer, "k1"))
	expectCode(t, err, http.StatusInternalServerError, CodeJWKNotFound)
}

func TestService_UnknownKeyTypeDoesNotPoisonSet(t *testing.T) {
	signer, err := jwtkit.NewRSASigner(2048, "k1")
	if err != nil {
		t.Fatalf("NewRSASigner: %v", err)
	}
	good, err := json.Marshal(signer.JWK())
	if err != nil {
		t.Fatalf("marshal jwk: %v", err)
	}
	srv := serveDocument(t, []byte(`{"keys":[`+string(good)+`,{"kty":"FOO","kid":"x"}]}`))
	svc := newService(t, Config{JWKS: &JWKSConfig{EndpointURL: srv.URL}}, WithHTTPClient(srv.Client()))

	got, err := svc.VerifyToken(context.Background(), signRS256(t, signer, "k1"))
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if got.Subject() != "u1" {
		t.Fatalf("unexpected claims %v", got)
	}

	_, err = svc.VerifyToken(context.Background(), signRS256(t, signer, "x"))
	expectCode(t, err, http.StatusInternalServerError, CodeJWKNotFound)
}
