package cache_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hybridsearch/docengine/internal/cache"
	"github.com/hybridsearch/docengine/internal/model"
)

func TestCacheHitMiss(t *testing.T) {
	c := cache.New[string, int](10, time.Minute)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k", 42)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate(), 1e-9)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := cache.New[string, int](10, 5*time.Millisecond)
	c.Put("k", 1)
	time.Sleep(20 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestResultKeyIncludesCollectionVersion(t *testing.T) {
	req := model.SearchRequest{Query: "hello", TopK: 10, SearchType: model.SearchTypeHybrid}
	k1 := cache.NewResultKey(req, 1)
	k2 := cache.NewResultKey(req, 2)
	assert.NotEqual(t, k1, k2)
}

func TestFilterFingerprintDeterministic(t *testing.T) {
	req := model.SearchRequest{
		Query: "hello",
		Filters: model.SearchFilters{
			CollectionName: "docs",
			Custom:         map[string]string{"b": "2", "a": "1"},
		},
	}
	k1 := cache.NewResultKey(req, 1)
	k2 := cache.NewResultKey(req, 1)
	assert.Equal(t, k1, k2)
}
