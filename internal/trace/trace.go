/*
trace: decoded-instruction trace cache.

Copyright (c) 2024, Richard Cornwell

Permission is hereby granted, free of charge, to any person obtaining a
copy of this software and associated documentation files (the "Software"),
to deal in the Software without restriction, including without limitation
the rights to use, copy, modify, merge, publish, distribute, sublicense,
and/or sell copies of the Software, and to permit persons to whom the
Software is furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
*/

// Package trace implements the decode/trace cache described in §3.4: a
// direct-mapped table keyed on (physical EIP, state hash) so that once an
// instruction stream has been decoded it is never decoded again, as long
// as nothing on its page is self-modified and the CS.Big/address-size
// view of it hasn't changed. Grounded on original_source/src/cpu/trace.c.
//
// Entry payloads are opaque (any): the cpu package is the only caller and
// decides what a trace actually holds, which keeps this package free of an
// import cycle back to cpu.
package trace

// entries must be a power of two; hashEIP masks phys against entries-1
// exactly as hash_eip does in the original.
const entries = 1 << 16

type slot struct {
	phys      uint32
	stateHash uint32
	valid     bool
	data      any
	cost      int
}

// Cache is a direct-mapped decode cache with a soft capacity budget: once
// the cumulative cost of cached entries would exceed it, the whole table
// is flushed rather than evicted piecemeal (matching TRACE_CACHE_SIZE).
type Cache struct {
	info     [entries]slot
	used     int
	capacity int
}

// NewCache builds a trace cache with the given soft capacity (an
// arbitrary cost unit; cmd/ia32run sizes it after a conservative working-set
// cache default).
func NewCache(capacity int) *Cache {
	return &Cache{capacity: capacity}
}

func hashEIP(phys uint32) uint32 { return phys & (entries - 1) }

// Lookup returns the cached payload for (phys, stateHash), or nil, false
// on a miss (wrong tag, wrong state hash, or empty slot).
func (c *Cache) Lookup(phys, stateHash uint32) (any, bool) {
	s := &c.info[hashEIP(phys)]
	if !s.valid || s.phys != phys || s.stateHash != stateHash {
		return nil, false
	}
	return s.data, true
}

// Store installs data as the decode result for (phys, stateHash). cost is
// an opaque size hint (e.g. instruction count) used only to decide when to
// flush; Store never evicts a single slot to make room, it flushes
// everything once the budget is exceeded, exactly like the C original.
func (c *Cache) Store(phys, stateHash uint32, data any, cost int) {
	if c.used+cost >= c.capacity {
		c.Flush()
	}
	c.info[hashEIP(phys)] = slot{phys: phys, stateHash: stateHash, valid: true, data: data, cost: cost}
	c.used += cost
}

// Flush empties the entire cache (§4.4: CPU reset, CR0.PG toggle, trace
// cache exhaustion).
func (c *Cache) Flush() {
	for i := range c.info {
		c.info[i] = slot{}
	}
	c.used = 0
}

// Invalidate drops the single slot tagged with phys, if any.
func (c *Cache) Invalidate(phys uint32) {
	s := &c.info[hashEIP(phys)]
	if s.valid && s.phys == phys {
		*s = slot{}
	}
}

// InvalidateChunk drops every slot whose hash bucket could be reached by
// any of the 128 addresses in the chunk starting at base, matching
// cpu_smc_invalidate's blanket per-byte sweep: it does not check whether
// the resident entry's tag actually falls in range, it simply clears
// every bucket a write to this chunk could have produced a trace key for.
func (c *Cache) InvalidateChunk(base uint32) bool {
	hit := false
	for j := uint32(0); j < 128; j++ {
		s := &c.info[hashEIP(base+j)]
		if s.valid {
			hit = true
			*s = slot{}
		}
	}
	return hit
}
