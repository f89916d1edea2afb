package jwtkit

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Signer mints JWTs. The package only verifies tokens in production paths;
// signers exist for fixtures, local issuers and round-trip checks.
type Signer interface {
	// Algorithm returns the JWS algorithm (e.g., RS256, HS256).
	Algorithm() string
	// KID returns the key id placed in the token header, if any.
	KID() string
	// Sign creates a signed JWT with provided claims.
	Sign(ctx context.Context, claims jwt.MapClaims) (token string, err error)
}

// RSASigner signs RS256 tokens with an in-memory key.
type RSASigner struct {
	key *rsa.PrivateKey
	kid string
}

func NewRSASigner(bits int, kid string) (*RSASigner, error) {
	if bits == 0 {
		bits = 2048
	}
	k, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	return &RSASigner{key: k, kid: kid}, nil
}

func (s *RSASigner) Algorithm() string           { return jwt.SigningMethodRS256.Alg() }
func (s *RSASigner) KID() string                 { return s.kid }
func (s *RSASigner) PublicKey() *rsa.PublicKey   { return &s.key.PublicKey }
func (s *RSASigner) PrivateKey() *rsa.PrivateKey { return s.key }

// JWK returns the public half of the signer as a JWK.
func (s *RSASigner) JWK() JWK { return RSAPublicToJWK(s.PublicKey(), s.kid, s.Algorithm()) }

func (s *RSASigner) Sign(_ context.Context, claims jwt.MapClaims) (string, error) {
	return signWith(jwt.SigningMethodRS256, s.kid, claims, s.key)
}

// HMACSigner signs HS256 tokens with a shared secret.
type HMACSigner struct {
	secret []byte
	kid    string
}

// NewHMACSigner returns a signer for the given secret. kid may be empty.
func NewHMACSigner(secret []byte, kid string) (*HMACSigner, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty hmac secret")
	}
	return &HMACSigner{secret: append([]byte(nil), secret...), kid: kid}, nil
}

func (s *HMACSigner) Algorithm() string { return jwt.SigningMethodHS256.Alg() }
func (s *HMACSigner) KID() string       { return s.kid }

func (s *HMACSigner) Sign(_ context.Context, claims jwt.MapClaims) (string, error) {
	return signWith(jwt.SigningMethodHS256, s.kid, claims, s.secret)
}

func signWith(method jwt.SigningMethod, kid string, claims jwt.MapClaims, key any) (string, error) {
	token := jwt.NewWithClaims(method, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	return token.SignedString(key)
}
