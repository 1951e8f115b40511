package ownerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/stratos/atproto/syntax"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// In-process LRU in front of another OwnerStore. Concurrent misses for the same blob are coalesced into a single lookup against the inner store.
type CacheOwnerStore struct {
	Inner OwnerStore
	// how long "not found" answers are trusted; zero disables negative caching
	MissTTL time.Duration
	// bound on a shared lookup against the inner store, which outlives any single caller's context
	LookupTimeout time.Duration

	cache *expirable.LRU[syntax.CID, ownerEntry]
	group singleflight.Group
}

type ownerEntry struct {
	Updated time.Time
	DID     syntax.DID
	Missing bool
}

var _ OwnerStore = (*CacheOwnerStore)(nil)

var defaultLookupTimeout = 10 * time.Second

// Capacity of zero means unlimited size. Similarly, hitTTL of zero means unlimited duration.
func NewCacheOwnerStore(inner OwnerStore, capacity int, hitTTL, missTTL time.Duration) *CacheOwnerStore {
	return &CacheOwnerStore{
		Inner:         inner,
		MissTTL:       missTTL,
		LookupTimeout: defaultLookupTimeout,
		cache:         expirable.NewLRU[syntax.CID, ownerEntry](capacity, nil, hitTTL),
	}
}

func (s *CacheOwnerStore) isStale(e *ownerEntry) bool {
	return e.Missing && time.Since(e.Updated) > s.MissTTL
}

func (s *CacheOwnerStore) LookupBlobOwner(ctx context.Context, cid syntax.CID) (syntax.DID, error) {
	entry, ok := s.cache.Get(cid)
	if ok && !s.isStale(&entry) {
		ownerCacheHits.WithLabelValues("memory").Inc()
		return entry.result(cid)
	}
	ownerCacheMisses.WithLabelValues("memory").Inc()

	// the lookup is shared with other callers, so it must not die with whichever caller happened to start it
	ch := s.group.DoChan(cid.String(), func() (any, error) {
		lctx, cancel := detachedContext(ctx, s.LookupTimeout)
		defer cancel()
		did, err := s.Inner.LookupBlobOwner(lctx, cid)
		if errors.Is(err, ErrOwnerNotFound) {
			e := ownerEntry{Updated: time.Now(), Missing: true}
			if s.MissTTL > 0 {
				s.cache.Add(cid, e)
			}
			return e, nil
		}
		if err != nil {
			// transient failures are not cached
			return nil, err
		}
		e := ownerEntry{Updated: time.Now(), DID: did}
		s.cache.Add(cid, e)
		return e, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Shared {
			ownerRequestsCoalesced.Inc()
		}
		if res.Err != nil {
			return "", res.Err
		}
		e := res.Val.(ownerEntry)
		return e.result(cid)
	}
}

// Keeps the values of ctx but not its cancellation, bounded by timeout instead (when positive).
func detachedContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (e *ownerEntry) result(cid syntax.CID) (syntax.DID, error) {
	if e.Missing {
		return "", fmt.Errorf("%w: %s", ErrOwnerNotFound, cid)
	}
	return e.DID, nil
}

// Writes through to the inner store, then refreshes the cache.
func (s *CacheOwnerStore) PutBlobOwner(ctx context.Context, cid syntax.CID, did syntax.DID) error {
	if err := s.Inner.PutBlobOwner(ctx, cid, did); err != nil {
		s.cache.Remove(cid)
		return err
	}
	s.cache.Add(cid, ownerEntry{Updated: time.Now(), DID: did})
	return nil
}

func (s *CacheOwnerStore) Purge(cid syntax.CID) {
	s.cache.Remove(cid)
}
