package jwks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	jwtkit "github.com/PaulFidika/jwtverify/jwt"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Entry is one verification key of a published key set.
type Entry struct {
	KeyID     string
	Algorithm string
	KeyType   string
	Use       string
	Material  any
}

// VerificationKey returns the entry as verification material restricted to
// the algorithm family of the key (and to Algorithm when the JWK pins one).
func (e Entry) VerificationKey() jwtkit.Key {
	return jwtkit.NewKey(e.KeyID, e.Material, e.Algorithm)
}

// KeySet is an immutable snapshot of a key-set document. Caches replace whole
// snapshots; entries are never edited in place.
type KeySet struct {
	URL       string
	Keys      []Entry
	FetchedAt time.Time
	// Raw is the document as served, kept so out-of-process caches can store it.
	Raw []byte
}

// Find returns the entry whose key id equals kid.
func (ks *KeySet) Find(kid string) (Entry, bool) {
	if ks == nil {
		return Entry{}, false
	}
	for _, e := range ks.Keys {
		if e.KeyID == kid {
			return e, true
		}
	}
	return Entry{}, false
}

// ParseKeySet decodes a JWKS document. Entries jwx cannot decode, encryption
// keys, symmetric keys and keys without a key id are skipped; the first entry
// wins on duplicate ids. A well-formed document may yield an empty set; only a
// malformed envelope is an error.
func ParseKeySet(url string, raw []byte, fetchedAt time.Time) (*KeySet, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse jwks: %w", err)
	}
	if doc.Keys == nil {
		return nil, errors.New("parse jwks: missing \"keys\" array")
	}
	ks := &KeySet{URL: url, FetchedAt: fetchedAt, Raw: append([]byte(nil), raw...)}
	seen := make(map[string]struct{}, len(doc.Keys))
	for _, rawKey := range doc.Keys {
		e, ok := parseEntry(rawKey)
		if !ok {
			continue
		}
		if _, dup := seen[e.KeyID]; dup {
			continue
		}
		seen[e.KeyID] = struct{}{}
		ks.Keys = append(ks.Keys, e)
	}
	return ks, nil
}

func parseEntry(raw json.RawMessage) (Entry, bool) {
	key, err := jwk.ParseKey(raw)
	if err != nil {
		return Entry{}, false
	}
	kid := key.KeyID()
	if kid == "" || key.KeyUsage() == "enc" || key.KeyType().String() == "oct" {
		return Entry{}, false
	}
	pub, err := jwk.PublicKeyOf(key)
	if err != nil {
		return Entry{}, false
	}
	var material any
	if err := pub.Raw(&material); err != nil {
		return Entry{}, false
	}
	alg := ""
	if a := key.Algorithm(); a != nil {
		alg = a.String()
	}
	return Entry{
		KeyID:     kid,
		Algorithm: alg,
		KeyType:   key.KeyType().String(),
		Use:       key.KeyUsage(),
		Material:  material,
	}, true
}
