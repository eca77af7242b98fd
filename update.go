package btcache

import (
	log "github.com/sirupsen/logrus"
)

// Update is one node of a singly linked, newest-first version chain for a
// single logical entry. The record and its value bytes are drawn from the
// arena of its session buffer; walking a chain releases no memory on its
// own, bytes come back only when the owning buffer drains.
type Update struct {
	Next *Update
	// value bytes, backed by the session buffer arena; nil marks a delete
	Data []byte

	sb *SessionBuffer
}

func (u *Update) Buffer() *SessionBuffer { return u.sb }

// SessionBuffer is an arena backing a batch of update records created
// together, typically by one session. It is released exactly once, when
// the last record drawn from it has been discarded. Records drawn from one
// buffer may end up chained on several pages, so the buffer routinely
// outlives any single page's discard.
//
// The counter pair is not atomic: it is only ever mutated under the
// cache's eviction lock (see Cache.Evict).
type SessionBuffer struct {
	size      int
	allocated uint32
	freed     uint32
}

// NewUpdate draws a record from the buffer's arena.
func (sb *SessionBuffer) NewUpdate(data []byte) *Update {
	sb.allocated++
	return &Update{Data: data, sb: sb}
}

func (sb *SessionBuffer) Size() int { return sb.size }

func (sb *SessionBuffer) drained() bool { return sb.freed == sb.allocated }

// discardUpdateList walks one update chain and releases every record back
// to its session buffer, freeing a buffer the moment its last record is
// released. The walk is iterative: chains can be arbitrarily long.
func (c *Cache) discardUpdateList(upd *Update) {
	for upd != nil {
		next := upd.Next

		sb := upd.sb
		if sb.freed >= sb.allocated {
			log.Panicf("btcache: session buffer over-freed (%d/%d)",
				sb.freed, sb.allocated)
		}
		sb.freed++
		if sb.drained() {
			c.releaseBuffer(sb)
		}

		upd.Next = nil
		upd.Data = nil
		upd.sb = nil
		upd = next
	}
}

// discardUpdates releases every chain anchored in the page's update array,
// then the array itself.
func (c *Cache) discardUpdates(heads []*Update) {
	for i, upd := range heads {
		if upd == nil {
			continue
		}
		c.discardUpdateList(upd)
		heads[i] = nil
	}
	c.memFree(len(heads) * chainPtrSize)
}
