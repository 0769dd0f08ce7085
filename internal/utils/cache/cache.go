// Package cache is a sharded in-memory map safe for concurrent use. The
// sharding follows the go-cache design (github.com/fanjindong/go-cache), with
// the key hashed once to pick a shard so writers on different shards never
// contend.
package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

type Cache[K comparable, V any] interface {
	Set(k K, v V)
	Get(k K) (V, bool)
	GetAll() map[K]V
	Del(keys ...K)
}

// New builds a cache with the given shard count, which must be a power of
// two. Non-positive counts fall back to a single shard.
func New[K comparable, V any](shards int) Cache[K, V] {
	if shards <= 0 {
		shards = 1
	}

	c := &cache[K, V]{
		shards:    make([]*shard[K, V], shards),
		shardMask: uint64(shards - 1),
	}
	for i := 0; i < shards; i++ {
		c.shards[i] = &shard[K, V]{hashmap: map[K]V{}}
	}
	return c
}

type cache[K comparable, V any] struct {
	shards    []*shard[K, V]
	shardMask uint64
}

func (c *cache[K, V]) shardFor(k K) *shard[K, V] {
	hashed := xxhash.Sum64String(fmt.Sprintf("%v", k))
	return c.shards[hashed&c.shardMask]
}

func (c *cache[K, V]) Set(k K, v V) {
	c.shardFor(k).set(k, v)
}

func (c *cache[K, V]) Get(k K) (V, bool) {
	return c.shardFor(k).get(k)
}

func (c *cache[K, V]) GetAll() map[K]V {
	result := make(map[K]V)
	for _, s := range c.shards {
		for k, v := range s.getAll() {
			result[k] = v
		}
	}
	return result
}

func (c *cache[K, V]) Del(ks ...K) {
	for _, k := range ks {
		c.shardFor(k).del(k)
	}
}
