package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheSetGetDel(t *testing.T) {
	c := New[string, int](8)
	c.Set("a", 1)
	c.Set("b", 2)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Equal(t, map[string]int{"a": 1, "b": 2}, c.GetAll())

	c.Del("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestCacheSingleShardFallback(t *testing.T) {
	c := New[string, string](0)
	c.Set("k", "v")
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}
