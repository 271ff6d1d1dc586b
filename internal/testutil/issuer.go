// Package testutil mints Azure-shaped attestation tokens signed by a local
// key and serves the matching key set over HTTP.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"

	"github.com/aspect-build/attestproof/internal/keyset"
)

var (
	keyMu    sync.Mutex
	keyCache = map[string]*rsa.PrivateKey{}
)

// Key returns a 2048-bit key that is stable per name within a process.
func Key(name string) (*rsa.PrivateKey, error) {
	keyMu.Lock()
	defer keyMu.Unlock()
	if k, ok := keyCache[name]; ok {
		return k, nil
	}
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	keyCache[name] = k
	return k, nil
}

// Issuer plays the attestation service: it signs tokens with Key under KeyID
// and publishes the key set at URL.
type Issuer struct {
	KeyID string
	Key   *rsa.PrivateKey
	URL   string

	server *httptest.Server
	hits   atomic.Int32

	mu    sync.RWMutex
	extra []jose.JSONWebKey
	down  bool
}

// NewIssuer starts the key-set server. Close releases it.
func NewIssuer(kid string) (*Issuer, error) {
	key, err := Key(kid)
	if err != nil {
		return nil, err
	}
	iss := &Issuer{KeyID: kid, Key: key}
	iss.server = httptest.NewServer(http.HandlerFunc(iss.serveKeys))
	iss.URL = iss.server.URL + "/certs"
	return iss, nil
}

func (i *Issuer) Close() { i.server.Close() }

// Hits counts key-set requests served.
func (i *Issuer) Hits() int { return int(i.hits.Load()) }

// SetDown makes the key-set endpoint answer 503.
func (i *Issuer) SetDown(down bool) {
	i.mu.Lock()
	i.down = down
	i.mu.Unlock()
}

// PublishFirst puts an extra entry ahead of the signing key.
func (i *Issuer) PublishFirst(k jose.JSONWebKey) {
	i.mu.Lock()
	i.extra = append(i.extra, k)
	i.mu.Unlock()
}

// Publish adds a signing key under kid ahead of the existing ones, as a
// rotating issuer would, and returns its private half.
func (i *Issuer) Publish(kid string) (*rsa.PrivateKey, error) {
	k, err := Key(kid)
	if err != nil {
		return nil, err
	}
	i.PublishFirst(jose.JSONWebKey{Key: &k.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"})
	return k, nil
}

// KeySet is the document served at URL.
func (i *Issuer) KeySet() jose.JSONWebKeySet {
	i.mu.RLock()
	defer i.mu.RUnlock()
	keys := append([]jose.JSONWebKey(nil), i.extra...)
	keys = append(keys, jose.JSONWebKey{
		Key:       &i.Key.PublicKey,
		KeyID:     i.KeyID,
		Algorithm: "RS256",
		Use:       "sig",
	})
	return jose.JSONWebKeySet{Keys: keys}
}

func (i *Issuer) serveKeys(w http.ResponseWriter, r *http.Request) {
	i.hits.Add(1)
	if r.URL.Path != "/certs" {
		http.NotFound(w, r)
		return
	}
	i.mu.RLock()
	down := i.down
	i.mu.RUnlock()
	if down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(i.KeySet())
}

// ResolverOptions allows exactly this issuer's key-set URL.
func (i *Issuer) ResolverOptions() keyset.Options {
	return keyset.Options{
		Allowlist:         []string{i.URL},
		AllowInsecureHTTP: true,
	}
}

// Mint signs claims with RS256 and sets the jku and kid headers.
func (i *Issuer) Mint(claims jwt.MapClaims) (string, error) {
	return i.MintWith(claims, nil, i.Key)
}

// MintWith overrides header members (a nil value deletes one) and signs
// with key.
func (i *Issuer) MintWith(claims jwt.MapClaims, header map[string]any, key *rsa.PrivateKey) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["jku"] = i.URL
	t.Header["kid"] = i.KeyID
	for k, v := range header {
		if v == nil {
			delete(t.Header, k)
			continue
		}
		t.Header[k] = v
	}
	return t.SignedString(key)
}

// B64 encodes a client-payload value the way the workload does.
func B64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Claims returns a complete SEV-SNP payload with a client payload carrying
// price 3500.5, timestamp 1734719094 and nonce "n-1".
func Claims(issuedAt int64) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":                              "https://sharedeus2.eus2.attest.azure.net",
		"iat":                              issuedAt,
		"nbf":                              issuedAt,
		"exp":                              issuedAt + 8*3600,
		"jti":                              "0f4c1b2d",
		"x-ms-ver":                         "1.0",
		"secureboot":                       true,
		"x-ms-attestation-type":            "azurevm",
		"x-ms-azurevm-debuggersdisabled":   true,
		"x-ms-azurevm-bootdebug-enabled":   false,
		"x-ms-azurevm-kerneldebug-enabled": false,
		"x-ms-isolation-tee": map[string]any{
			"x-ms-attestation-type":           "sevsnpvm",
			"x-ms-compliance-status":          "azure-compliant-cvm",
			"x-ms-sevsnpvm-is-debuggable":     false,
			"x-ms-sevsnpvm-vmpl":              0,
			"x-ms-sevsnpvm-guestsvn":          7,
			"x-ms-sevsnpvm-microcode-svn":     211,
			"x-ms-sevsnpvm-smt-allowed":       true,
			"x-ms-sevsnpvm-launchmeasurement": "a1b2",
		},
		"x-ms-runtime": map[string]any{
			"client-payload": map[string]any{
				"price":     "MzUwMC41",
				"timestamp": B64("1734719094"),
				"nonce":     B64("n-1"),
			},
		},
	}
}
