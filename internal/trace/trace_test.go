package trace

import "testing"

func TestLookupMissOnEmptyCache(t *testing.T) {
	c := NewCache(1000)
	if _, ok := c.Lookup(0x1000, 1); ok {
		t.Fatalf("expected a miss on an empty cache")
	}
}

func TestStoreThenLookupHit(t *testing.T) {
	c := NewCache(1000)
	c.Store(0x1000, 7, "payload", 1)

	v, ok := c.Lookup(0x1000, 7)
	if !ok {
		t.Fatalf("expected a hit")
	}
	if v.(string) != "payload" {
		t.Fatalf("unexpected payload: %v", v)
	}
}

func TestLookupMissesOnStateHashChange(t *testing.T) {
	c := NewCache(1000)
	c.Store(0x1000, 7, "payload", 1)
	if _, ok := c.Lookup(0x1000, 8); ok {
		t.Fatalf("expected a miss when the state hash differs")
	}
}

func TestInvalidateDropsOnlyMatchingTag(t *testing.T) {
	c := NewCache(1000)
	c.Store(0x2000, 1, "a", 1)
	c.Invalidate(0x12000) // same bucket, different tag
	if _, ok := c.Lookup(0x2000, 1); !ok {
		t.Fatalf("expected Invalidate of another tag in the same bucket to keep the entry")
	}
	c.Invalidate(0x2000)
	if _, ok := c.Lookup(0x2000, 1); ok {
		t.Fatalf("expected Invalidate to drop the entry")
	}
}

func TestInvalidateChunkSweepsAll128Bytes(t *testing.T) {
	c := NewCache(1000)
	c.Store(0x3000, 1, "a", 1)
	c.Store(0x3000+127, 1, "b", 1)

	if !c.InvalidateChunk(0x3000) {
		t.Fatalf("expected InvalidateChunk to report a hit")
	}
	if _, ok := c.Lookup(0x3000, 1); ok {
		t.Fatalf("expected entry at chunk base to be gone")
	}
	if _, ok := c.Lookup(0x3000+127, 1); ok {
		t.Fatalf("expected entry at the chunk's last byte to be gone")
	}
}

func TestStoreFlushesOnceCapacityExceeded(t *testing.T) {
	c := NewCache(2)
	c.Store(0x10, 1, "a", 1)
	c.Store(0x20, 1, "b", 2) // used(1)+cost(2) >= capacity(2) -> flush first

	if _, ok := c.Lookup(0x10, 1); ok {
		t.Fatalf("expected the earlier entry to be flushed out")
	}
	if _, ok := c.Lookup(0x20, 1); !ok {
		t.Fatalf("expected the triggering store to still be present after the flush")
	}
}

func TestFlushEmptiesCache(t *testing.T) {
	c := NewCache(1000)
	c.Store(0x40, 1, "a", 1)
	c.Flush()
	if _, ok := c.Lookup(0x40, 1); ok {
		t.Fatalf("expected Flush to empty the cache")
	}
}
