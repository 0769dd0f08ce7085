package cache

import (
	"sync"
)

type shard[K comparable, V any] struct {
	hashmap map[K]V
	lock    sync.RWMutex
}

func (s *shard[K, V]) set(k K, v V) {
	s.lock.Lock()
	s.hashmap[k] = v
	s.lock.Unlock()
}

func (s *shard[K, V]) get(k K) (V, bool) {
	s.lock.RLock()
	item, exist := s.hashmap[k]
	s.lock.RUnlock()
	if !exist {
		var zero V
		return zero, false
	}
	return item, true
}

func (s *shard[K, V]) del(k K) {
	s.lock.Lock()
	delete(s.hashmap, k)
	s.lock.Unlock()
}

func (s *shard[K, V]) getAll() map[K]V {
	s.lock.RLock()
	defer s.lock.RUnlock()
	result := make(map[K]V, len(s.hashmap))
	for k, v := range s.hashmap {
		result[k] = v
	}
	return result
}
