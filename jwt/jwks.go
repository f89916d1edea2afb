package jwtkit

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
)

// JWK minimal fields for RSA and EC public keys.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	N   string `json:"n,omitempty"`   // base64url
	E   string `json:"e,omitempty"`   // base64url
	Crv string `json:"crv,omitempty"` // EC only
	X   string `json:"x,omitempty"`   // EC only
	Y   string `json:"y,omitempty"`   // EC only
}

type JWKS struct {
	Keys []JWK `json:"keys"`
}

// RSAPublicToJWK converts an RSA public key to a JWK.
func RSAPublicToJWK(pub *rsa.PublicKey, kid, alg string) JWK {
	n := base64URLEncode(pub.N)
	e := base64URLEncode(big.NewInt(int64(pub.E)))
	return JWK{Kty: "RSA", Use: "sig", Kid: kid, Alg: alg, N: n, E: e}
}

// ECPublicToJWK converts an ECDSA public key to a JWK. Coordinates are padded
// to the curve size as RFC 7518 requires.
func ECPublicToJWK(pub *ecdsa.PublicKey, kid, alg string) JWK {
	size := (pub.Curve.Params().BitSize + 7) / 8
	return JWK{
		Kty: "EC",
		Use: "sig",
		Kid: kid,
		Alg: alg,
		Crv: pub.Curve.Params().Name,
		X:   base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, size))),
		Y:   base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, size))),
	}
}

// ServeJWKS writes JWKS JSON to the ResponseWriter.
func ServeJWKS(w http.ResponseWriter, r *http.Request, ks JWKS) {
	// Marshal first to compute a stable ETag and set cache headers
	b, _ := json.Marshal(ks)
	sum := sha256.Sum256(b)
	etag := "\"" + hex.EncodeToString(sum[:]) + "\""

	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300, must-revalidate")
	w.Header().Set("ETag", etag)
	_, _ = w.Write(b)
}

func base64URLEncode(i *big.Int) string {
	b := i.Bytes()
	for len(b) > 0 && b[0] == 0x00 {
		b = b[1:]
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
