package cycle

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wheelhouse-dev/wheelhouse/internal/dedup"
)

// RecentTitleCache bounds the "recent ticket titles" set the exact-match
// dedup step compares new proposals against, so a
// long-running continuous session doesn't grow that comparison set forever.
// Keyed by normalized title; recency-evicted since only the most recently
// seen tickets are useful for catching an agent re-proposing the same thing
// in a tight window.
type RecentTitleCache struct {
	cache *lru.Cache[string, string]
}

// NewRecentTitleCache returns a cache bounded to the given number of titles.
func NewRecentTitleCache(size int) *RecentTitleCache {
	if size <= 0 {
		size = 200
	}
	c, err := lru.New[string, string](size)
	if err != nil {
		// Only returned by lru.New for size <= 0, already guarded above.
		panic(err)
	}
	return &RecentTitleCache{cache: c}
}

// Record adds a title to the cache, keyed by its normalized form.
func (c *RecentTitleCache) Record(title string) {
	c.cache.Add(dedup.Normalize(title), title)
}

// Titles returns the cache's current contents in recency order (most
// recently used last), suitable for GatherOptions.RecentTitles.
func (c *RecentTitleCache) Titles() []string {
	keys := c.cache.Keys()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := c.cache.Peek(k); ok {
			out = append(out, v)
		}
	}
	return out
}

// Len reports the number of titles currently cached.
func (c *RecentTitleCache) Len() int {
	return c.cache.Len()
}
