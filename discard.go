package btcache

import (
	"unsafe"

	log "github.com/sirupsen/logrus"
)

// evictGuard is the capability minted by Cache.Evict once a page is known
// to be clean and unpinned. discard demands one, so teardown cannot be
// reached without going through the coordinator.
type evictGuard struct{}

// imageAliased reports whether b points into the page's disk image. A page
// without an image has nothing on-page, so everything is off-page by
// definition. Kept alongside the explicit KeyRef tag as a consistency
// check; the tag decides what gets freed.
func imageAliased(p *Page, b []byte) bool {
	if len(p.image) == 0 || len(b) == 0 {
		return false
	}
	start := uintptr(unsafe.Pointer(&p.image[0]))
	ptr := uintptr(unsafe.Pointer(&b[0]))
	return ptr >= start && ptr < start+uintptr(len(p.image))
}

// checkKeyTag cross-checks a key's owned/on-page tag against the pointer
// range check. A mismatch means a key was materialized with the wrong tag
// somewhere upstream; freeing by the wrong rule either corrupts the shared
// image or leaks, so this is fatal.
func (c *Cache) checkKeyTag(p *Page, key KeyRef) {
	if key.OnPage != imageAliased(p, key.Data) {
		log.Panicf("btcache: key tag mismatch on page %d (on-page=%v)",
			p.Addr, key.OnPage)
	}
}

// discard releases all memory reachable from the page. The page must be
// clean and unreachable; a dirty page here is a fatal contract breach, not
// an error. Accounting is told first, then the variant payload is torn
// down, then the image copies, then the page struct itself. Once discard
// returns, every pointer previously reachable from the page is gone.
func (c *Cache) discard(g evictGuard, p *Page) {
	_ = g

	if Has(p.flags, pageDirty) {
		log.Panicf("btcache: discard of dirty page %d (type %s)",
			p.Addr, p.Type())
	}

	if c.opts.Verbose {
		log.Debugf("discard addr %d (type %s)", p.Addr, p.Type())
	}

	// we've got more space
	c.pageOut(p.footprint())

	switch pl := p.payload.(type) {
	case *ColFix:
		c.discardColLeaf(pl.Index, pl.Updates)
		pl.Index, pl.Updates = nil, nil
	case *ColVar:
		c.discardColLeaf(pl.Index, pl.Updates)
		pl.Index, pl.Updates = nil, nil
	case *ColInt:
		c.discardColInt(pl)
	case *ColRLE:
		c.discardColRLE(pl)
	case *RowInt:
		c.discardRowInt(p, pl)
	case *RowLeaf:
		c.discardRowLeaf(p, pl)
	default:
		log.Panicf("btcache: page %d has unknown payload %T", p.Addr, p.payload)
	}

	if p.image != nil {
		c.memFree(len(p.image))
		p.image = nil
	}
	if p.zimage != nil {
		c.memFree(len(p.zimage))
		p.zimage = nil
	}

	c.memFree(pageStructSize + payloadStructSize(p.payload))
	p.payload = nil
	p.flags = Set(p.flags, pageDiscarded)
}

// discardColLeaf tears down the shared shape of the fixed- and
// variable-width column-store leaves: the entry array and the update
// array. Entry data aliases the image, so only the array storage counts.
func (c *Cache) discardColLeaf(index []ColEntry, updates []*Update) {
	if index != nil {
		c.memFree(len(index) * colEntrySize)
	}
	if updates != nil {
		c.discardUpdates(updates)
	}
}

// discardColInt frees the subtree-reference array. Child pages are
// separate cache entities and are left alone.
func (c *Cache) discardColInt(pl *ColInt) {
	if pl.Refs != nil {
		c.memFree(len(pl.Refs) * colRefSize)
		pl.Refs = nil
	}
}

func (c *Cache) discardColRLE(pl *ColRLE) {
	if pl.Index != nil {
		c.memFree(len(pl.Index) * colEntrySize)
		pl.Index = nil
	}
	if pl.Expand != nil {
		c.discardRLEExpand(pl)
		pl.Expand = nil
	}
}

// discardRowInt frees each subtree reference's key if it was a separate
// allocation, then the reference array. Child pages are not touched.
func (c *Cache) discardRowInt(p *Page, pl *RowInt) {
	for i := range pl.Refs {
		ref := &pl.Refs[i]
		if c.opts.StrictMode {
			c.checkKeyTag(p, ref.Key)
		}
		if !ref.Key.OnPage {
			c.memFree(len(ref.Key.Data))
		}
		ref.Key.Data = nil
		ref.Child = nil
	}
	if pl.Refs != nil {
		c.memFree(len(pl.Refs) * rowRefSize)
		pl.Refs = nil
	}
}

// discardRowLeaf frees each entry's key if it was a separate allocation,
// then the entry array and the update array.
func (c *Cache) discardRowLeaf(p *Page, pl *RowLeaf) {
	for i := range pl.Index {
		rip := &pl.Index[i]
		if c.opts.StrictMode {
			c.checkKeyTag(p, rip.Key)
		}
		if !rip.Key.OnPage {
			c.memFree(len(rip.Key.Data))
		}
		rip.Key.Data = nil
		rip.Value = nil
	}
	if pl.Index != nil {
		c.memFree(len(pl.Index) * rowEntrySize)
		pl.Index = nil
	}
	if pl.Updates != nil {
		c.discardUpdates(pl.Updates)
		pl.Updates = nil
	}
}
