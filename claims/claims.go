// Package claims holds the verified claim set exposed to handlers and the
// namespace normalization applied before it is attached to a request.
package claims

import (
	"encoding/json"
	"strings"
)

// Claims is the open claim set of a verified token. Values keep the shape the
// JSON decoder produced (float64 for numbers, []any for arrays, and so on).
type Claims map[string]any

// Normalize strips namespace from every claim name that starts with it.
// Claim names without the prefix are kept verbatim. When both "ns+X" and "X"
// are present the namespaced value wins.
func Normalize(raw map[string]any, namespace string) Claims {
	out := make(Claims, len(raw))
	if namespace == "" {
		for k, v := range raw {
			out[k] = v
		}
		return out
	}
	for k, v := range raw {
		if len(k) > len(namespace) && strings.HasPrefix(k, namespace) {
			continue
		}
		out[k] = v
	}
	for k, v := range raw {
		if name, ok := strings.CutPrefix(k, namespace); ok && name != "" {
			out[name] = v
		}
	}
	return out
}

// String returns the named claim when it is a non-empty string.
func (c Claims) String(name string) (string, bool) {
	s, ok := c[name].(string)
	return s, ok && s != ""
}

// Subject returns the "sub" claim.
func (c Claims) Subject() string {
	s, _ := c.String("sub")
	return s
}

// Issuer returns the "iss" claim.
func (c Claims) Issuer() string {
	s, _ := c.String("iss")
	return s
}

// To decodes the claims into the value pointed to by ref.
func (c Claims) To(ref any) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
