/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptoken

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/lrucache"

	"github.com/acronis/go-dcrkit/internal/strutil"
)

const (
	// DefaultIntrospectionClaimsCacheMaxEntries is a default maximum number of entries in the claims cache.
	// Claims cache is used for storing introspected active tokens.
	DefaultIntrospectionClaimsCacheMaxEntries = 1000

	// DefaultIntrospectionClaimsCacheTTL is a default time-to-live for the claims cache.
	DefaultIntrospectionClaimsCacheTTL = 1 * time.Minute

	// DefaultIntrospectionNegativeCacheMaxEntries is a default maximum number of entries in the negative cache.
	// Negative cache is used for storing tokens that are not active.
	DefaultIntrospectionNegativeCacheMaxEntries = 1000

	// DefaultIntrospectionNegativeCacheTTL is a default time-to-live for the negative cache.
	DefaultIntrospectionNegativeCacheTTL = 10 * time.Minute
)

// TokenIntrospector introspects access tokens. Introspector and CachingIntrospector implement it.
type TokenIntrospector interface {
	IntrospectToken(ctx context.Context, token string) (IntrospectionResult, error)
}

type introspectionCacheItem struct {
	Result    IntrospectionResult
	ExpiresAt time.Time
}

// CachingIntrospectorCacheOpts contains options of one of the CachingIntrospector caches.
type CachingIntrospectorCacheOpts struct {
	Enabled    bool
	MaxEntries int
	TTL        time.Duration
}

// CachingIntrospectorOpts is a set of options for creating CachingIntrospector.
type CachingIntrospectorOpts struct {
	IntrospectorOpts
	ClaimsCache   CachingIntrospectorCacheOpts
	NegativeCache CachingIntrospectorCacheOpts
}

// CachingIntrospector is an Introspector that keeps results for a short time.
// Active tokens are kept in the claims cache, inactive ones in the negative cache.
// Tokens are stored by their SHA-256 hash.
type CachingIntrospector struct {
	*Introspector
	claimsCache      *lrucache.LRUCache[[sha256.Size]byte, introspectionCacheItem]
	negativeCache    *lrucache.LRUCache[[sha256.Size]byte, introspectionCacheItem]
	claimsCacheTTL   time.Duration
	negativeCacheTTL time.Duration
	now              func() time.Time
}

// NewCachingIntrospectorWithOpts creates a new CachingIntrospector.
func NewCachingIntrospectorWithOpts(
	endpointURL, clientID, clientSecret string, opts CachingIntrospectorOpts,
) (*CachingIntrospector, error) {
	if !opts.ClaimsCache.Enabled && !opts.NegativeCache.Enabled {
		return nil, fmt.Errorf("at least one of claims or negative cache must be enabled")
	}

	introspector := NewIntrospectorWithOpts(endpointURL, clientID, clientSecret, opts.IntrospectorOpts)
	ci := &CachingIntrospector{Introspector: introspector, now: time.Now}

	if opts.ClaimsCache.Enabled {
		if opts.ClaimsCache.TTL == 0 {
			opts.ClaimsCache.TTL = DefaultIntrospectionClaimsCacheTTL
		}
		if opts.ClaimsCache.MaxEntries == 0 {
			opts.ClaimsCache.MaxEntries = DefaultIntrospectionClaimsCacheMaxEntries
		}
		cache, err := lrucache.New[[sha256.Size]byte, introspectionCacheItem](
			opts.ClaimsCache.MaxEntries, introspector.promMetrics.TokenClaimsCache)
		if err != nil {
			return nil, err
		}
		ci.claimsCache, ci.claimsCacheTTL = cache, opts.ClaimsCache.TTL
	}

	if opts.NegativeCache.Enabled {
		if opts.NegativeCache.TTL == 0 {
			opts.NegativeCache.TTL = DefaultIntrospectionNegativeCacheTTL
		}
		if opts.NegativeCache.MaxEntries == 0 {
			opts.NegativeCache.MaxEntries = DefaultIntrospectionNegativeCacheMaxEntries
		}
		cache, err := lrucache.New[[sha256.Size]byte, introspectionCacheItem](
			opts.NegativeCache.MaxEntries, introspector.promMetrics.TokenNegativeCache)
		if err != nil {
			return nil, err
		}
		ci.negativeCache, ci.negativeCacheTTL = cache, opts.NegativeCache.TTL
	}

	return ci, nil
}

// IntrospectToken returns a cached result if it is fresh, otherwise it calls the introspection endpoint.
// An active result is never cached past the token's own expiration ("exp"). Errors are never cached.
func (i *CachingIntrospector) IntrospectToken(ctx context.Context, token string) (IntrospectionResult, error) {
	cacheKey := sha256.Sum256(strutil.StringToBytesUnsafe(token))
	now := i.now()

	if i.claimsCache != nil {
		if c, ok := i.claimsCache.Get(cacheKey); ok && c.ExpiresAt.After(now) {
			return c.Result, nil
		}
	}
	if i.negativeCache != nil {
		if c, ok := i.negativeCache.Get(cacheKey); ok && c.ExpiresAt.After(now) {
			return c.Result, nil
		}
	}

	res, err := i.Introspector.IntrospectToken(ctx, token)
	if err != nil {
		return IntrospectionResult{}, err
	}
	now = i.now()
	if res.Active {
		if i.claimsCache != nil {
			expiresAt := now.Add(i.claimsCacheTTL)
			if res.Exp > 0 {
				if tokenExpiresAt := time.Unix(res.Exp, 0); tokenExpiresAt.Before(expiresAt) {
					expiresAt = tokenExpiresAt
				}
			}
			i.claimsCache.Add(cacheKey, introspectionCacheItem{Result: res, ExpiresAt: expiresAt})
		}
	} else if i.negativeCache != nil {
		i.negativeCache.Add(cacheKey, introspectionCacheItem{Result: res, ExpiresAt: now.Add(i.negativeCacheTTL)})
	}
	return res, nil
}

// ClaimsCacheLen returns the number of cached active tokens.
func (i *CachingIntrospector) ClaimsCacheLen() int {
	if i.claimsCache == nil {
		return 0
	}
	return i.claimsCache.Len()
}

// NegativeCacheLen returns the number of cached inactive tokens.
func (i *CachingIntrospector) NegativeCacheLen() int {
	if i.negativeCache == nil {
		return 0
	}
	return i.negativeCache.Len()
}

// PurgeCaches removes all cached results.
func (i *CachingIntrospector) PurgeCaches() {
	if i.claimsCache != nil {
		i.claimsCache.Purge()
	}
	if i.negativeCache != nil {
		i.negativeCache.Purge()
	}
}
