package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Key is the cache identity of a loader. It is comparable and therefore
// usable as a map key; two keys are equal exactly when their kind and digest
// match.
type Key struct {
	kind   string
	digest string
}

// NewKey derives a key from a variant kind and its effective parameters. The
// parameters are serialized as canonical JSON (map keys sorted) and hashed.
func NewKey(kind string, params ...any) Key {
	data, err := json.Marshal(params)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", params))
	}
	sum := sha256.Sum256(data)
	return Key{kind: kind, digest: hex.EncodeToString(sum[:16])}
}

// ExplicitKey wraps a caller-chosen identity.
func ExplicitKey(id string) Key { return Key{kind: "explicit", digest: id} }

// Kind returns the variant kind the key was derived for.
func (k Key) Kind() string { return k.kind }

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool { return k == Key{} }

// String returns "kind:digest".
func (k Key) String() string { return k.kind + ":" + k.digest }
