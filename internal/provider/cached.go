package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/i474232898/geodata-aggregation/internal/raster"
)

// CachedProvider serves raster assets cache-first. On a miss, concurrent
// requests for the same key coalesce into a single remote fetch; distinct keys
// proceed fully in parallel. A fetch keeps running even if the caller aborts,
// because other coalesced waiters may depend on its result.
type CachedProvider struct {
	cache   *Cache
	source  Source
	timeout time.Duration
	group   singleflight.Group
}

// New builds a provider over the given cache directory and remote source.
func New(cacheDir string, source Source, timeout time.Duration) (*CachedProvider, error) {
	cache, err := NewCache(cacheDir)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CachedProvider{cache: cache, source: source, timeout: timeout}, nil
}

// Fetch returns a handle to the asset for key, fetching and caching it when
// absent. Fetch failures map to ErrMissingAssets and are never cached, so a
// later request for the same key retries the source.
func (p *CachedProvider) Fetch(ctx context.Context, key Key) (AssetHandle, error) {
	key = NewKey(key.DatasetID, key.Parameter, key.Date, key.Band)

	if handle, ok := p.cache.Lookup(key); ok {
		return handle, nil
	}

	ch := p.group.DoChan(key.String(), func() (interface{}, error) {
		// Re-check under the flight: a concurrent fetch may have landed
		// between the miss above and this call.
		if handle, ok := p.cache.Lookup(key); ok {
			return handle, nil
		}
		return p.fetchAndStore(ctx, key)
	})

	select {
	case <-ctx.Done():
		// The in-flight fetch continues for other waiters.
		return AssetHandle{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return AssetHandle{}, res.Err
		}
		return res.Val.(AssetHandle), nil
	}
}

func (p *CachedProvider) fetchAndStore(ctx context.Context, key Key) (AssetHandle, error) {
	// Detach from the caller: an abort must not cancel the fetch for
	// coalesced waiters. The configured timeout still bounds it.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	data, err := p.source.Fetch(fetchCtx, key)
	if err != nil {
		return AssetHandle{}, fmt.Errorf("%w: %s: %v", ErrMissingAssets, key, err)
	}
	// Reject payloads the compute layer could never read; a malformed body is
	// a fetch failure, not a cache entry.
	if _, err := raster.DecodeGrid(data); err != nil {
		return AssetHandle{}, fmt.Errorf("%w: %s: %v", ErrMissingAssets, key, err)
	}

	handle, err := p.cache.Store(key, data)
	if err != nil {
		return AssetHandle{}, fmt.Errorf("%w: %s: %v", ErrMissingAssets, key, err)
	}
	return handle, nil
}
