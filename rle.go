package btcache

// RLEExpand overrides part of a repeated-value run on a run-length encoded
// column-store leaf. Each entry anchors its own update chain; entries that
// collided into the same run slot are linked through Next. Entries are
// individual allocations, unlike update records.
type RLEExpand struct {
	Next  *RLEExpand
	Recno uint64
	Upd   *Update
}

// discardRLEExpand releases every expansion chain anchored in the page's
// expansion array, then the array itself. For each entry the update chain
// goes first, then the entry struct.
func (c *Cache) discardRLEExpand(pl *ColRLE) {
	for i, exp := range pl.Expand {
		if exp == nil {
			continue
		}
		for exp != nil {
			next := exp.Next
			if exp.Upd != nil {
				c.discardUpdateList(exp.Upd)
				exp.Upd = nil
			}
			exp.Next = nil
			c.memFree(rleExpandSize)
			exp = next
		}
		pl.Expand[i] = nil
	}
	c.memFree(len(pl.Expand) * expandPtrSize)
}
