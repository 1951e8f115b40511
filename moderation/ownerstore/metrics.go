package ownerstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ownerCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_blob_owner_cache_hits",
	Help: "Number of cache hits for blob owner lookups",
}, []string{"cache"})

var ownerCacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "moderation_blob_owner_cache_misses",
	Help: "Number of cache misses for blob owner lookups",
}, []string{"cache"})

var ownerRequestsCoalesced = promauto.NewCounter(prometheus.CounterOpts{
	Name: "moderation_blob_owner_requests_coalesced",
	Help: "Number of blob owner lookups coalesced with an in-flight lookup",
})
