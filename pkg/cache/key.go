package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache key in Redis.
const KeyPrefix = "cms"

// excludedParams never become part of a key.
var excludedParams = map[string]bool{
	"access_token": true,
}

// Key identifies a cached CMS response.
type Key struct {
	// Path is the API path (e.g., "/api/v2/documents/search")
	Path string

	// Query holds the query parameters (ref, q, pageSize, page, fetch ...)
	Query url.Values
}

// KeyFromURL builds a key from a request URL.
func KeyFromURL(u *url.URL) Key {
	return Key{
		Path:  u.Path,
		Query: u.Query(),
	}
}

// Ref returns the content release the key was requested under, "" if none.
func (k Key) Ref() string {
	return k.Query.Get("ref")
}

// String generates a deterministic key string.
// Format: cms:path:query1=val1,val2:query2=val3
//
// Example:
//
//	cms:api/v2/documents/search:page=2:pageSize=20:ref=YF8x
func (k Key) String() string {
	parts := []string{KeyPrefix}

	path := strings.Trim(k.Path, "/")
	if path != "" {
		parts = append(parts, path)
	}

	if len(k.Query) > 0 {
		queryKeys := make([]string, 0, len(k.Query))
		for key := range k.Query {
			if excludedParams[key] {
				continue
			}
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(k.Query[key], ",")))
		}
	}

	return strings.Join(parts, ":")
}
