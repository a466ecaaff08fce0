/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package jwks

import (
	"context"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/lrucache"
	"golang.org/x/sync/singleflight"

	"github.com/acronis/go-dcrkit/internal/metrics"
)

// DefaultCacheMaxEntries is the default number of keys URLs (issuers) whose key sets are kept in memory.
const DefaultCacheMaxEntries = 64

// CachingClientOpts contains options for CachingClient.
type CachingClientOpts struct {
	ClientOpts

	// CacheMaxEntries is a maximum number of cached key sets (one per keys URL).
	// Default: DefaultCacheMaxEntries.
	CacheMaxEntries int

	// RefetchMinInterval is a minimal interval between forced refetches (InvalidateCache) for the same keys URL.
	// Zero means that every forced refetch hits the keys endpoint.
	RefetchMinInterval time.Duration
}

// CachingClient is a Client for getting keys from a remote endpoint with a caching mechanism.
// A cached key set is served until its expiration time, which comes from the Cache-Control header.
// Concurrent refreshes of the same keys URL are collapsed into one HTTP request.
type CachingClient struct {
	rawClient          *Client
	cache              *lrucache.LRUCache[string, KeySet]
	sfGroup            singleflight.Group
	refetchMinInterval time.Duration
	now                func() time.Time
}

// NewCachingClient returns a new Client that can cache fetched data.
func NewCachingClient() (*CachingClient, error) {
	return NewCachingClientWithOpts(CachingClientOpts{})
}

// NewCachingClientWithOpts returns a new Client that can cache fetched data with options.
func NewCachingClientWithOpts(opts CachingClientOpts) (*CachingClient, error) {
	if opts.CacheMaxEntries <= 0 {
		opts.CacheMaxEntries = DefaultCacheMaxEntries
	}
	promMetrics := metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceKeysClient)
	cache, err := lrucache.New[string, KeySet](opts.CacheMaxEntries, promMetrics.KeysCache)
	if err != nil {
		return nil, fmt.Errorf("new lru cache for signing keys: %w", err)
	}
	return &CachingClient{
		rawClient:          NewClientWithOpts(opts.ClientOpts),
		cache:              cache,
		refetchMinInterval: opts.RefetchMinInterval,
		now:                time.Now,
	}, nil
}

// GetKeys returns the key set for the keys URL.
// A set that is cached and not expired is returned without network calls,
// otherwise the set is fetched and cached until its expiration time.
func (cc *CachingClient) GetKeys(ctx context.Context, keysURL string) (KeySet, error) {
	if keySet, ok := cc.cache.Get(keysURL); ok && !keySet.IsExpired(cc.now()) {
		return keySet, nil
	}
	return cc.refresh(ctx, keysURL, false)
}

// InvalidateCache forces a synchronous refetch of the key set and returns the new one.
// If RefetchMinInterval is set and the cached set is younger than it, the cached set is returned as is.
func (cc *CachingClient) InvalidateCache(ctx context.Context, keysURL string) (KeySet, error) {
	if cc.refetchMinInterval > 0 {
		keySet, ok := cc.cache.Get(keysURL)
		if ok && !keySet.IsExpired(cc.now()) && cc.now().Sub(keySet.FetchedAt) < cc.refetchMinInterval {
			return keySet, nil
		}
	}
	return cc.refresh(ctx, keysURL, true)
}

// GetPublicKey returns the public key with the given ID.
// If the key is missing in the cached set, the set is refetched once.
func (cc *CachingClient) GetPublicKey(ctx context.Context, keysURL, keyID string) (interface{}, error) {
	keySet, err := cc.GetKeys(ctx, keysURL)
	if err != nil {
		return nil, err
	}
	if pubKey, ok := keySet.Keys[keyID]; ok {
		return pubKey, nil
	}
	if keySet, err = cc.InvalidateCache(ctx, keysURL); err != nil {
		return nil, err
	}
	if pubKey, ok := keySet.Keys[keyID]; ok {
		return pubKey, nil
	}
	return nil, &KeyNotFoundError{KeysURL: keysURL, KeyID: keyID}
}

// refresh fetches the key set, one request per keys URL is in flight at a time.
// Not forced refresh reuses the set that another caller may have cached in the meantime.
func (cc *CachingClient) refresh(ctx context.Context, keysURL string, force bool) (KeySet, error) {
	flightKey := "get:" + keysURL
	if force {
		flightKey = "refetch:" + keysURL
	}
	res, err, _ := cc.sfGroup.Do(flightKey, func() (interface{}, error) {
		if !force {
			if keySet, ok := cc.cache.Get(keysURL); ok && !keySet.IsExpired(cc.now()) {
				return keySet, nil
			}
		}
		keySet, fetchErr := cc.rawClient.FetchKeys(ctx, keysURL)
		if fetchErr != nil {
			return KeySet{}, fetchErr
		}
		cc.cache.Add(keysURL, keySet)
		return keySet, nil
	})
	if err != nil {
		return KeySet{}, err
	}
	return res.(KeySet), nil
}
