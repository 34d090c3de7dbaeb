package cache

import (
	"net/http"
	"time"
)

// Entry is a cached CMS response.
type Entry struct {
	// Ref is the content release the response was served for. Set by
	// Manager.Set from the key's ref parameter.
	Ref string

	Data       []byte
	StatusCode int
	Headers    http.Header

	// ETag and LastModified validate the entry with a conditional request.
	ETag         string
	LastModified time.Time

	Expires  time.Time
	CachedAt time.Time
}

// IsExpired reports whether the entry is past its expiry.
func (e *Entry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration, 0 once expired.
func (e *Entry) TTL() time.Duration {
	return max(time.Until(e.Expires), 0)
}

// Age returns how long ago the entry was cached.
func (e *Entry) Age() time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	return time.Since(e.CachedAt)
}
