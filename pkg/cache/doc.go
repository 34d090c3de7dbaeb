// Package cache stores CMS API responses in Redis.
//
// The CMS serves documents through a CDN that tells clients how long a
// response stays fresh. The cache manager follows those hints:
//
// - TTL from Cache-Control max-age, falling back to Expires, then DefaultTTL
// - ETag support for conditional requests (If-None-Match)
// - Last-Modified support (If-Modified-Since)
// - Deterministic keys that never contain the access token
// - Entries stored as Redis hashes so a 304 only moves the expiry
// - A per-ref index so entries of a superseded release can be purged
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient)
//
//	key := cache.Key{
//		Path:  "/api/v2/documents/search",
//		Query: url.Values{"ref": []string{"YF8x..."}, "pageSize": []string{"20"}},
//	}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from the CMS
//	}
//
// # HTTP Response Caching
//
//	entry, err := cache.ResponseToEntry(resp)
//	if err != nil {
//		return err
//	}
//	if err := manager.Set(ctx, key, entry); err != nil {
//		return err
//	}
//
// # Conditional Requests
//
//	if cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//		// a 304 reply means the cached body is still current:
//		// manager.Touch(ctx, key, refreshed.Expires)
//	}
//
// # Releases
//
// Every search URL carries the ref of the release it reads. When the master
// ref moves, the entries of the old ref can never be requested again:
//
//	purged, err := manager.PurgeRef(ctx, oldRef)
//
// # Metrics
//
//   - cms_cache_hits_total - Cache hits
//   - cms_cache_misses_total - Cache misses
//   - cms_cache_written_bytes_total - Response bytes written to the cache
//   - cms_cache_purged_entries_total - Entries removed with their ref
//   - cms_304_responses_total - Conditional request successes
//   - cms_conditional_requests_total - Conditional requests sent
//   - cms_cache_errors_total{operation} - Cache operation errors
package cache
