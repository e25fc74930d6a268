package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

var _ MessageCache = (*RedisCache)(nil)

func termKey(term string) string {
	return "corr:" + term
}

// IndexTerms adds queueItemID to the set under each term and refreshes the
// set's TTL.
func (c *RedisCache) IndexTerms(ctx context.Context, queueItemID int64, terms []string) error {
	if len(terms) == 0 {
		return nil
	}
	id := strconv.FormatInt(queueItemID, 10)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, term := range terms {
			key := termKey(term)
			p.SAdd(ctx, key, id)
			p.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	return err
}

func (c *RedisCache) Lookup(ctx context.Context, term string) ([]int64, error) {
	members, err := c.rdb.SMembers(ctx, termKey(term)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt correlation entry for %q: %w", term, err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	return ids, nil
}
