package grammar

// #region imports
import (
	"container/list"
	"sync"

	"github.com/danielpatrickdp/noe-kernel/internal/canonical"
)

// #endregion imports

// #region cache

// DefaultCacheSize bounds the number of parsed chains kept resident.
const DefaultCacheSize = 1000

// Cache is a bounded LRU of parsed chains keyed by grammar version and
// canonical chain text. Entries are content-addressed: the same chain
// under the same grammar always yields the same tree, so cached trees
// are handed out shared and must never be mutated.
type Cache struct {
	mu    sync.Mutex
	max   int
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key  string
	root *ChainNode
}

// NewCache creates a cache holding at most max parsed chains.
func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		max:   max,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// CacheKey derives the content address for a chain.
func CacheKey(canonicalChain string) string {
	return VersionHash() + ":" + canonicalChain
}

// Parse returns the parsed tree for chain, serving repeat chains from
// the cache without re-parsing. Parse errors are never cached.
func (c *Cache) Parse(chain string) (*ChainNode, error) {
	canon := canonical.CanonicalizeChain(chain)
	key := CacheKey(canon)

	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		root := el.Value.(*cacheEntry).root
		c.mu.Unlock()
		return root, nil
	}
	c.mu.Unlock()

	root, err := Parse(canon)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).root, nil
	}
	el := c.order.PushFront(&cacheEntry{key: key, root: root})
	c.items[key] = el
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
	return root, nil
}

// Len reports the number of resident entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// #endregion cache
