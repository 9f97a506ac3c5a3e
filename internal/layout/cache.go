package layout

import "wasmgen/internal/ir"

type cacheEntry struct {
	Layout TypeLayout
	Err    *LayoutError
}

type cache struct {
	byID map[ir.LayoutID]*cacheEntry
}

func newCache() *cache {
	return &cache{byID: make(map[ir.LayoutID]*cacheEntry, 256)}
}

func (c *cache) get(id ir.LayoutID) (*cacheEntry, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.byID[id]
	return e, ok
}

func (c *cache) put(id ir.LayoutID, e *cacheEntry) {
	if c == nil {
		return
	}
	if e == nil {
		delete(c.byID, id)
		return
	}
	c.byID[id] = e
}
