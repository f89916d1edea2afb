package jwtkit

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSecretsPath is the default directory where External Secrets mounts auth material
	DefaultSecretsPath = "/vault/auth"
	secretFile         = "jwt-secret"
)

var (
	hmacMethods  = []string{"HS256", "HS384", "HS512"}
	rsaMethods   = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512"}
	eddsaMethods = []string{"EdDSA"}
)

// Key is resolved verification material plus the JWS algorithms it may verify.
// An empty Methods list verifies nothing.
type Key struct {
	KeyID    string
	Material any
	Methods  []string
}

// NewKey builds a Key for material, restricting the algorithm family to alg
// when alg is set (e.g. the "alg" member of a JWK).
func NewKey(kid string, material any, alg string) Key {
	methods := MethodsFor(material)
	if alg != "" {
		if slices.Contains(methods, alg) {
			methods = []string{alg}
		} else {
			methods = nil
		}
	}
	return Key{KeyID: kid, Material: material, Methods: methods}
}

// MethodsFor returns the JWS algorithms compatible with the key type.
func MethodsFor(material any) []string {
	switch k := material.(type) {
	case []byte:
		return slices.Clone(hmacMethods)
	case *rsa.PublicKey:
		return slices.Clone(rsaMethods)
	case *ecdsa.PublicKey:
		switch k.Curve.Params().Name {
		case "P-256":
			return []string{"ES256"}
		case "P-384":
			return []string{"ES384"}
		case "P-521":
			return []string{"ES512"}
		}
	case ed25519.PublicKey:
		return slices.Clone(eddsaMethods)
	}
	return nil
}

// StaticKey turns a configured secret into verification material. A
// PEM-encoded public key becomes an asymmetric key, anything else is an HMAC
// secret used verbatim.
func StaticKey(secret []byte) (Key, error) {
	if len(secret) == 0 {
		return Key{}, errors.New("empty secret")
	}
	trimmed := bytes.TrimSpace(secret)
	if !bytes.HasPrefix(trimmed, []byte("-----BEGIN")) {
		return NewKey("", slices.Clone(secret), ""), nil
	}
	if pub, err := jwt.ParseRSAPublicKeyFromPEM(trimmed); err == nil {
		return NewKey("", pub, ""), nil
	}
	if pub, err := jwt.ParseECPublicKeyFromPEM(trimmed); err == nil {
		return NewKey("", pub, ""), nil
	}
	if pub, err := jwt.ParseEdPublicKeyFromPEM(trimmed); err == nil {
		return NewKey("", pub, ""), nil
	}
	return Key{}, errors.New("secret looks like PEM but is not an RSA, EC or Ed25519 public key")
}

// LoadSecret discovers a verification secret with the following priority:
// 1. JWT_SECRET environment variable
// 2. JWT_SECRET_FILE environment variable naming a file
// 3. <dir>/jwt-secret (External Secrets mount; dir defaults to /vault/auth)
//
// Returns (nil, nil) when nothing is configured.
func LoadSecret(dir string) ([]byte, error) {
	if s := os.Getenv("JWT_SECRET"); strings.TrimSpace(s) != "" {
		return []byte(s), nil
	}
	if p := strings.TrimSpace(os.Getenv("JWT_SECRET_FILE")); p != "" {
		b, err := readSecretFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWT_SECRET_FILE: %w", err)
		}
		return b, nil
	}
	if dir == "" {
		dir = DefaultSecretsPath
	}
	b, err := readSecretFile(filepath.Join(dir, secretFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", secretFile, err)
	}
	return b, nil
}

func readSecretFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Mounted secrets frequently end with a newline; PEM keeps its own framing.
	if !bytes.HasPrefix(bytes.TrimSpace(b), []byte("-----BEGIN")) {
		b = bytes.TrimRight(b, "\r\n")
	}
	if len(b) == 0 {
		return nil, errors.New("secret file is empty")
	}
	return b, nil
}
