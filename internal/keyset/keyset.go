// Package keyset resolves the RSA verification key named by a token header
// from a remote JSON Web Key Set.
package keyset

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/aspect-build/attestproof/internal/b64url"
)

// DefaultMinKeyBits is the smallest RSA modulus accepted unless overridden.
const DefaultMinKeyBits = 2048

var (
	ErrURLNotAllowed = errors.New("key set url not allowed")
	ErrFetch         = errors.New("key set fetch failed")
	ErrFormat        = errors.New("key set format invalid")
	ErrKeyNotFound   = errors.New("key not found in key set")
	ErrKeyMaterial   = errors.New("key material invalid")
)

// KeyNotFoundError reports a kid that matched no entry of the fetched set.
type KeyNotFoundError struct {
	KeyID      string
	Candidates int
}

func (e *KeyNotFoundError) Error() string {
	return fmt.Sprintf("key %q not found among %d keys", e.KeyID, e.Candidates)
}

func (e *KeyNotFoundError) Is(target error) bool {
	return target == ErrKeyNotFound
}

// Resolver maps a (key set URL, key id) pair to a usable public key.
type Resolver interface {
	Resolve(ctx context.Context, keySetURL, kid string) (*PublicKey, error)
}

// JWK is one entry of a key set as published. Only RSA members are modeled.
type JWK struct {
	KeyID   string   `json:"kid"`
	KeyType string   `json:"kty,omitempty"`
	Use     string   `json:"use,omitempty"`
	KeyOps  []string `json:"key_ops,omitempty"`
	Alg     string   `json:"alg,omitempty"`
	N       string   `json:"n,omitempty"`
	E       string   `json:"e,omitempty"`
}

// KeySet keeps entries in publication order.
type KeySet struct {
	URL  string `json:"-"`
	Keys []JWK  `json:"keys"`
}

// Select returns the first entry whose kid equals kid exactly.
func (s *KeySet) Select(kid string) (JWK, error) {
	for _, k := range s.Keys {
		if k.KeyID == kid {
			return k, nil
		}
	}
	return JWK{}, &KeyNotFoundError{KeyID: kid, Candidates: len(s.Keys)}
}

// ParseKeySet decodes a {"keys":[...]} document.
func ParseKeySet(body []byte) (*KeySet, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	raw, ok := doc["keys"]
	if !ok {
		return nil, fmt.Errorf("%w: missing \"keys\" member", ErrFormat)
	}
	if string(raw) == "null" {
		return nil, fmt.Errorf("%w: \"keys\" is null", ErrFormat)
	}
	var keys []JWK
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("%w: \"keys\" is not an array of key objects: %v", ErrFormat, err)
	}
	return &KeySet{Keys: keys}, nil
}

// PublicKey is the decoded RSA key plus the exact big-endian bytes it was
// built from. The canonical encoder needs the original widths.
type PublicKey struct {
	KeyID string
	Key   *rsa.PublicKey
	N     []byte
	E     []byte
}

// Bits returns the modulus size in bits.
func (p *PublicKey) Bits() int {
	if p == nil || p.Key == nil {
		return 0
	}
	return p.Key.N.BitLen()
}

// Size returns the modulus size in bytes, which is also the signature length.
func (p *PublicKey) Size() int {
	if p == nil || p.Key == nil {
		return 0
	}
	return p.Key.Size()
}

const maxExponent = 1<<31 - 1

// ToPublicKey validates a key set entry and converts it.
func ToPublicKey(k JWK, minBits int) (*PublicKey, error) {
	if k.KeyType != "" && k.KeyType != "RSA" {
		return nil, fmt.Errorf("%w: kty %q is not RSA", ErrKeyMaterial, k.KeyType)
	}
	nb, err := b64url.Decode(k.N)
	if err != nil {
		return nil, fmt.Errorf("%w: modulus: %v", ErrKeyMaterial, err)
	}
	eb, err := b64url.Decode(k.E)
	if err != nil {
		return nil, fmt.Errorf("%w: exponent: %v", ErrKeyMaterial, err)
	}

	n := new(big.Int).SetBytes(nb)
	if n.Sign() == 0 {
		return nil, fmt.Errorf("%w: empty modulus", ErrKeyMaterial)
	}
	if minBits > 0 && n.BitLen() < minBits {
		return nil, fmt.Errorf("%w: modulus is %d bits, minimum %d", ErrKeyMaterial, n.BitLen(), minBits)
	}

	e := new(big.Int).SetBytes(eb)
	switch {
	case e.Sign() == 0:
		return nil, fmt.Errorf("%w: zero exponent", ErrKeyMaterial)
	case e.Bit(0) == 0:
		return nil, fmt.Errorf("%w: even exponent", ErrKeyMaterial)
	case e.BitLen() > 31 || e.Int64() > maxExponent:
		return nil, fmt.Errorf("%w: exponent exceeds %d", ErrKeyMaterial, maxExponent)
	}

	return &PublicKey{
		KeyID: k.KeyID,
		Key:   &rsa.PublicKey{N: n, E: int(e.Int64())},
		N:     nb,
		E:     eb,
	}, nil
}
