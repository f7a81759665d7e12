package routing

import (
	"cmp"

	"github.com/google/btree"
)

type seenEntry struct {
	expiry float64
	id     string
}

func seenLess(a, b seenEntry) bool {
	if c := cmp.Compare(a.expiry, b.expiry); c != 0 {
		return c < 0
	}
	return a.id < b.id
}

// SeenCache remembers message ids with an expiry time. Entries stay visible
// until pruned; Prune walks the expiry index so its cost is proportional to
// the number of entries removed.
type SeenCache struct {
	byID     map[string]float64
	byExpiry *btree.BTreeG[seenEntry]
}

func NewSeenCache() *SeenCache {
	return &SeenCache{
		byID:     make(map[string]float64),
		byExpiry: btree.NewG[seenEntry](8, seenLess),
	}
}

// Add records id until expiry, replacing any earlier entry for it.
func (c *SeenCache) Add(id string, expiry float64) {
	if old, ok := c.byID[id]; ok {
		c.byExpiry.Delete(seenEntry{expiry: old, id: id})
	}
	c.byID[id] = expiry
	c.byExpiry.ReplaceOrInsert(seenEntry{expiry: expiry, id: id})
}

func (c *SeenCache) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Prune drops every entry whose expiry is at or before now and returns how
// many were removed.
func (c *SeenCache) Prune(now float64) int {
	n := 0
	for {
		first, ok := c.byExpiry.Min()
		if !ok || first.expiry > now {
			return n
		}
		c.byExpiry.DeleteMin()
		delete(c.byID, first.id)
		n++
	}
}

func (c *SeenCache) Len() int { return len(c.byID) }

func (c *SeenCache) Clear() {
	clear(c.byID)
	c.byExpiry.Clear(false)
}
