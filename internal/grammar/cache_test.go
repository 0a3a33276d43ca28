package grammar

import "testing"

func TestCacheServesSharedTree(t *testing.T) {
	c := NewCache(10)
	first, err := c.Parse("@a an @b")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	second, err := c.Parse("  @a   an @b")
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if first != second {
		t.Fatal("equivalent chains did not share a cached tree")
	}
	if c.Len() != 1 {
		t.Fatalf("cache len = %d", c.Len())
	}
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewCache(2)
	a, _ := c.Parse("@a")
	if _, err := c.Parse("@b"); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	// Touch @a so @b is the eviction candidate.
	if again, _ := c.Parse("@a"); again != a {
		t.Fatal("touch did not hit cache")
	}
	if _, err := c.Parse("@c"); err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if c.Len() != 2 {
		t.Fatalf("cache len = %d", c.Len())
	}
	if again, _ := c.Parse("@a"); again != a {
		t.Fatal("recently used entry was evicted")
	}
}

func TestCacheDoesNotCacheFailures(t *testing.T) {
	c := NewCache(10)
	if _, err := c.Parse("@a an"); err == nil {
		t.Fatal("expected parse error")
	}
	if c.Len() != 0 {
		t.Fatalf("cache len = %d after failure", c.Len())
	}
}

func TestCacheKeyCarriesGrammarVersion(t *testing.T) {
	key := CacheKey("@a")
	if key != VersionHash()+":@a" {
		t.Fatalf("key = %q", key)
	}
}
