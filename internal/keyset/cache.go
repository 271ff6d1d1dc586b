package keyset

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aspect-build/attestproof/internal/logx"
	"github.com/aspect-build/attestproof/internal/metrics"
)

// DefaultCacheMaxAge bounds how long a stored key set is trusted.
const DefaultCacheMaxAge = time.Hour

// StoredKeySet is a key set snapshot as persisted by a KeyStore. Keys keep
// publication order.
type StoredKeySet struct {
	URL       string
	Keys      []JWK
	FetchedAt time.Time
}

// KeyStore persists fetched key sets. GetKeySet returns nil, nil when the URL
// has no entry.
type KeyStore interface {
	GetKeySet(url string) (*StoredKeySet, error)
	PutKeySet(set *StoredKeySet) error
	DeleteKeySet(url string) (bool, error)
	DeleteAllKeySets() (int64, error)
}

// CachingResolver serves keys from a KeyStore while the snapshot is younger
// than MaxAge, and refetches on staleness or on a kid miss.
type CachingResolver struct {
	fetcher *HTTPResolver
	store   KeyStore
	maxAge  time.Duration
	group   singleflight.Group

	// Now is overridable for tests.
	Now func() time.Time
}

func NewCachingResolver(fetcher *HTTPResolver, store KeyStore, maxAge time.Duration) *CachingResolver {
	if maxAge <= 0 {
		maxAge = DefaultCacheMaxAge
	}
	return &CachingResolver{
		fetcher: fetcher,
		store:   store,
		maxAge:  maxAge,
		Now:     time.Now,
	}
}

func (c *CachingResolver) Resolve(ctx context.Context, keySetURL, kid string) (*PublicKey, error) {
	// Stored sets may predate an allowlist change.
	if err := c.fetcher.CheckURL(keySetURL); err != nil {
		return nil, err
	}

	stored, err := c.store.GetKeySet(keySetURL)
	if err != nil {
		logx.Warnf("keyset.cache.read_failed url=%s err=%v", keySetURL, err)
		stored = nil
	}
	switch {
	case stored == nil:
		metrics.KeySetCache.WithLabelValues("miss").Inc()
	case c.Now().Sub(stored.FetchedAt) > c.maxAge:
		metrics.KeySetCache.WithLabelValues("stale").Inc()
		logx.Debugf("keyset.cache.stale url=%s age=%s", keySetURL, c.Now().Sub(stored.FetchedAt))
	default:
		set := &KeySet{URL: stored.URL, Keys: stored.Keys}
		if jwk, err := set.Select(kid); err == nil {
			metrics.KeySetCache.WithLabelValues("hit").Inc()
			return ToPublicKey(jwk, c.fetcher.MinKeyBits())
		}
		metrics.KeySetCache.WithLabelValues("miss").Inc()
		logx.Infof("keyset.cache.kid_miss url=%s kid=%s refetching", keySetURL, kid)
	}

	set, err := c.refresh(ctx, keySetURL)
	if err != nil {
		return nil, err
	}
	jwk, err := set.Select(kid)
	if err != nil {
		return nil, err
	}
	return ToPublicKey(jwk, c.fetcher.MinKeyBits())
}

// refresh fetches keySetURL once per concurrent burst and stores the result.
func (c *CachingResolver) refresh(ctx context.Context, keySetURL string) (*KeySet, error) {
	// The shared fetch outlives any one caller; FetchTimeout still bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(keySetURL, func() (any, error) {
		set, err := c.fetcher.FetchKeySet(fetchCtx, keySetURL)
		if err != nil {
			return nil, err
		}
		if err := c.store.PutKeySet(&StoredKeySet{
			URL:       keySetURL,
			Keys:      set.Keys,
			FetchedAt: c.Now(),
		}); err != nil {
			logx.Warnf("keyset.cache.write_failed url=%s err=%v", keySetURL, err)
		}
		return set, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, keySetURL, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		logx.Debugf("keyset.cache.shared_fetch url=%s", keySetURL)
	}
	return res.Val.(*KeySet), nil
}

// Invalidate drops the stored snapshot for keySetURL.
func (c *CachingResolver) Invalidate(keySetURL string) (bool, error) {
	return c.store.DeleteKeySet(keySetURL)
}

// InvalidateAll drops every stored snapshot.
func (c *CachingResolver) InvalidateAll() (int64, error) {
	return c.store.DeleteAllKeySets()
}

// MemoryStore is a process-local KeyStore.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[string]StoredKeySet
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[string]StoredKeySet)}
}

func (m *MemoryStore) GetKeySet(url string) (*StoredKeySet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sets[url]
	if !ok {
		return nil, nil
	}
	s.Keys = append([]JWK(nil), s.Keys...)
	return &s, nil
}

func (m *MemoryStore) PutKeySet(set *StoredKeySet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *set
	cp.Keys = append([]JWK(nil), set.Keys...)
	m.sets[set.URL] = cp
	return nil
}

func (m *MemoryStore) DeleteKeySet(url string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[url]
	delete(m.sets, url)
	return ok, nil
}

func (m *MemoryStore) DeleteAllKeySets() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.sets))
	m.sets = make(map[string]StoredKeySet)
	return n, nil
}
