package jwtkit

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrNoUsableAlgorithm is returned when the resolved key admits no JWS
// algorithm (e.g. a JWK whose "alg" does not fit its key type).
var ErrNoUsableAlgorithm = errors.New("no usable signing algorithm for key")

// Header is the untrusted JOSE header of a token, read before verification.
type Header struct {
	KeyID     string
	Algorithm string
	Type      string
}

// Preview carries unverified payload fields needed to pick a key.
type Preview struct {
	Issuer string
}

// ParseHeader decodes the header and previews the payload without checking
// the signature. Nothing returned here may be trusted on its own.
func ParseHeader(raw string) (Header, Preview, error) {
	mc := jwt.MapClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(raw, mc)
	if err != nil {
		return Header{}, Preview{}, err
	}
	h := Header{}
	h.KeyID, _ = tok.Header["kid"].(string)
	h.Algorithm, _ = tok.Header["alg"].(string)
	h.Type, _ = tok.Header["typ"].(string)
	p := Preview{}
	p.Issuer, _ = mc["iss"].(string)
	return h, p, nil
}

// Verifier checks signatures and registered claims.
type Verifier struct {
	leeway   time.Duration
	issuer   string
	audience string
	now      func() time.Time
}

// VerifierOpt configures a Verifier.
type VerifierOpt func(*Verifier)

// WithLeeway tolerates clock skew on exp, nbf and iat.
func WithLeeway(d time.Duration) VerifierOpt {
	return func(v *Verifier) { v.leeway = d }
}

// WithIssuer requires the "iss" claim to equal issuer.
func WithIssuer(issuer string) VerifierOpt {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithAudience requires the "aud" claim to contain audience.
func WithAudience(audience string) VerifierOpt {
	return func(v *Verifier) { v.audience = audience }
}

// WithClock overrides the time source used for temporal claims.
func WithClock(now func() time.Time) VerifierOpt {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier builds a Verifier. Without options only signature and
// temporal claims (when present) are checked.
func NewVerifier(opts ...VerifierOpt) *Verifier {
	v := &Verifier{}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks raw against key and returns the decoded payload. The header
// "alg" must be one of key.Methods, which blocks algorithm substitution such
// as an HS256 token presented against an RSA public key.
func (v *Verifier) Verify(raw string, key Key) (map[string]any, error) {
	if len(key.Methods) == 0 {
		return nil, ErrNoUsableAlgorithm
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(key.Methods),
		jwt.WithLeeway(v.leeway),
		jwt.WithIssuedAt(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.now != nil {
		opts = append(opts, jwt.WithTimeFunc(v.now))
	}
	mc := jwt.MapClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(raw, mc, func(*jwt.Token) (any, error) {
		return key.Material, nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any(mc), nil
}
