package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_cache_hits_total",
		Help: "Total number of CMS response cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_cache_misses_total",
		Help: "Total number of CMS response cache misses",
	})

	// CacheBytesWritten counts response body bytes stored. Redis expires
	// entries on its own, so no gauge of the live size is kept.
	CacheBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_cache_written_bytes_total",
		Help: "Total bytes of CMS response bodies written to the cache",
	})

	CachePurgedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_cache_purged_entries_total",
		Help: "Total cache entries removed because their ref was superseded",
	})

	NotModifiedResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_304_responses_total",
		Help: "Total number of CMS 304 Not Modified responses",
	})

	ConditionalRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cms_conditional_requests_total",
		Help: "Total number of conditional requests sent to the CMS",
	})

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cms_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // get, set, touch, delete, purge
	)
)
