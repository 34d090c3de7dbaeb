package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry could not be decoded
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// RefIndexTTL bounds how long the per-ref key index outlives its last write.
const RefIndexTTL = 24 * time.Hour

// Hash fields of a stored entry.
const (
	fieldRef          = "ref"
	fieldData         = "data"
	fieldStatus       = "status"
	fieldHeaders      = "headers"
	fieldETag         = "etag"
	fieldLastModified = "last_modified"
	fieldExpires      = "expires"
	fieldCachedAt     = "cached_at"
)

// touchScript moves the expiry of an entry that still exists.
var touchScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[1], "expires", ARGV[1])
redis.call("PEXPIREAT", KEYS[1], ARGV[1])
return 1
`)

// Manager stores CMS responses in Redis. Each entry is a hash expiring with
// the response; entries are also indexed by the ref they were fetched under
// so a superseded release can be purged in one call.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a cache manager. It panics on a nil client.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{redis: redisClient}
}

func refIndexKey(ref string) string {
	return KeyPrefix + ":ref:" + ref
}

// Get returns the entry stored under key, or ErrCacheMiss.
func (m *Manager) Get(ctx context.Context, key Key) (*Entry, error) {
	fields, err := m.redis.HGetAll(ctx, key.String()).Result()
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	entry, err := decodeEntry(fields)
	if err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = m.Delete(ctx, key)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return entry, nil
}

// Set stores entry under key until entry.Expires. Expired entries are not
// stored. The entry's Ref is taken from the key.
func (m *Manager) Set(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.TTL() <= 0 {
		return nil
	}

	e := *entry
	e.Ref = key.Ref()

	fields, err := encodeEntry(&e)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return err
	}

	k := key.String()
	_, err = m.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k, fields)
		pipe.PExpireAt(ctx, k, e.Expires)
		if e.Ref != "" {
			pipe.SAdd(ctx, refIndexKey(e.Ref), k)
			pipe.Expire(ctx, refIndexKey(e.Ref), RefIndexTTL)
		}
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set entry: %w", err)
	}

	CacheBytesWritten.Add(float64(len(e.Data)))
	return nil
}

// Touch moves the expiry of an existing entry without rewriting its body,
// typically after the CMS answered a conditional request with 304.
func (m *Manager) Touch(ctx context.Context, key Key, expires time.Time) error {
	n, err := touchScript.Run(ctx, m.redis, []string{key.String()}, expires.UnixMilli()).Int()
	if err != nil {
		CacheErrors.WithLabelValues("touch").Inc()
		return fmt.Errorf("redis touch: %w", err)
	}
	if n == 0 {
		return ErrCacheMiss
	}
	return nil
}

// Delete removes the entry stored under key.
func (m *Manager) Delete(ctx context.Context, key Key) error {
	k := key.String()
	_, err := m.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		if ref := key.Ref(); ref != "" {
			pipe.SRem(ctx, refIndexKey(ref), k)
		}
		return nil
	})
	if err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// PurgeRef deletes every entry fetched under ref and returns how many were
// still present.
func (m *Manager) PurgeRef(ctx context.Context, ref string) (int, error) {
	idx := refIndexKey(ref)

	keys, err := m.redis.SMembers(ctx, idx).Result()
	if err != nil {
		CacheErrors.WithLabelValues("purge").Inc()
		return 0, fmt.Errorf("redis smembers: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := m.redis.Del(ctx, append(keys, idx)...).Result()
	if err != nil {
		CacheErrors.WithLabelValues("purge").Inc()
		return 0, fmt.Errorf("redis del: %w", err)
	}

	// n counts the index key itself.
	purged := max(int(n)-1, 0)
	CachePurgedEntries.Add(float64(purged))
	return purged, nil
}

func encodeEntry(e *Entry) (map[string]any, error) {
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return nil, fmt.Errorf("marshal headers: %w", err)
	}

	fields := map[string]any{
		fieldRef:      e.Ref,
		fieldData:     e.Data,
		fieldStatus:   e.StatusCode,
		fieldHeaders:  headers,
		fieldETag:     e.ETag,
		fieldExpires:  e.Expires.UnixMilli(),
		fieldCachedAt: e.CachedAt.UnixMilli(),
	}
	if !e.LastModified.IsZero() {
		fields[fieldLastModified] = e.LastModified.Unix()
	}
	return fields, nil
}

func decodeEntry(fields map[string]string) (*Entry, error) {
	data, ok := fields[fieldData]
	if !ok {
		return nil, errors.New("missing body")
	}

	status, err := strconv.Atoi(fields[fieldStatus])
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	expires, err := strconv.ParseInt(fields[fieldExpires], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("expires: %w", err)
	}

	e := &Entry{
		Ref:        fields[fieldRef],
		Data:       []byte(data),
		StatusCode: status,
		ETag:       fields[fieldETag],
		Expires:    time.UnixMilli(expires),
	}

	if v := fields[fieldCachedAt]; v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
			e.CachedAt = time.UnixMilli(ms)
		}
	}
	if v := fields[fieldLastModified]; v != "" {
		sec, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("last_modified: %w", err)
		}
		e.LastModified = time.Unix(sec, 0).UTC()
	}
	if v := fields[fieldHeaders]; v != "" && v != "null" {
		if err := json.Unmarshal([]byte(v), &e.Headers); err != nil {
			return nil, fmt.Errorf("headers: %w", err)
		}
	}
	return e, nil
}
