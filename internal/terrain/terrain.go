// Package terrain maps opaque map ids to their playable bounds.
package terrain

import (
	"battleserver/internal/marine"
)

// Catalog is read-only after construction.
type Catalog struct {
	sizes    map[int32]marine.Size
	fallback marine.Size
}

func NewCatalog(sizes map[int32]marine.Size, fallback marine.Size) *Catalog {
	c := &Catalog{sizes: make(map[int32]marine.Size, len(sizes)), fallback: fallback}
	for id, s := range sizes {
		c.sizes[id] = s
	}
	return c
}

// Size は未登録の map id に対してフォールバックの大きさを返す
func (c *Catalog) Size(mapID int32) marine.Size {
	if s, ok := c.sizes[mapID]; ok {
		return s
	}
	return c.fallback
}

func (c *Catalog) Known(mapID int32) bool {
	_, ok := c.sizes[mapID]
	return ok
}
