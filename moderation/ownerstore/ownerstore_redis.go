package ownerstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bluesky-social/stratos/atproto/syntax"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// prefix string for all the Redis keys this cache uses
var redisOwnerPrefix = "blobowner/"

// Uses redis as a shared cache in front of another OwnerStore, so that several processes can share ownership lookups.
//
// Includes an in-process LRU as well (provided by the redis client library) for hot blobs.
type RedisOwnerStore struct {
	Inner   OwnerStore
	HitTTL  time.Duration
	MissTTL time.Duration

	data *cache.Cache
}

type redisOwnerEntry struct {
	Updated time.Time
	// empty when the blob is unknown
	DID string
}

var _ OwnerStore = (*RedisOwnerStore)(nil)

func NewRedisOwnerStore(inner OwnerStore, redisURL string, hitTTL, missTTL time.Duration, lruSize int) (*RedisOwnerStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("could not configure redis blob owner cache: %w", err)
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(context.TODO()).Result()
	if err != nil {
		return nil, fmt.Errorf("could not connect to redis blob owner cache: %w", err)
	}
	data := cache.New(&cache.Options{
		Redis:      rdb,
		LocalCache: cache.NewTinyLFU(lruSize, hitTTL),
	})
	return &RedisOwnerStore{
		Inner:   inner,
		HitTTL:  hitTTL,
		MissTTL: missTTL,
		data:    data,
	}, nil
}

func (s *RedisOwnerStore) LookupBlobOwner(ctx context.Context, cid syntax.CID) (syntax.DID, error) {
	key := redisOwnerPrefix + cid.String()

	var entry redisOwnerEntry
	err := s.data.Once(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: &entry,
		TTL:   s.HitTTL,
		Do: func(item *cache.Item) (any, error) {
			ownerCacheMisses.WithLabelValues("redis").Inc()
			// concurrent callers for the same key wait on this one
			lctx, cancel := detachedContext(ctx, defaultLookupTimeout)
			defer cancel()
			did, err := s.Inner.LookupBlobOwner(lctx, cid)
			if errors.Is(err, ErrOwnerNotFound) {
				item.TTL = s.MissTTL
				return &redisOwnerEntry{Updated: time.Now()}, nil
			}
			if err != nil {
				return nil, err
			}
			return &redisOwnerEntry{Updated: time.Now(), DID: did.String()}, nil
		},
	})
	if err != nil {
		return "", err
	}
	if entry.DID == "" {
		return "", fmt.Errorf("%w: %s", ErrOwnerNotFound, cid)
	}
	did, err := syntax.ParseDID(entry.DID)
	if err != nil {
		return "", fmt.Errorf("cached owner of blob %s: %w", cid, err)
	}
	return did, nil
}

func (s *RedisOwnerStore) PutBlobOwner(ctx context.Context, cid syntax.CID, did syntax.DID) error {
	if err := s.Inner.PutBlobOwner(ctx, cid, did); err != nil {
		return err
	}
	err := s.data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisOwnerPrefix + cid.String(),
		Value: redisOwnerEntry{Updated: time.Now(), DID: did.String()},
		TTL:   s.HitTTL,
	})
	if err != nil {
		// the inner store is authoritative; a stale cache entry only delays ancestry
		slog.Error("blob owner cache write failed", "cid", cid, "err", err)
	}
	return nil
}
