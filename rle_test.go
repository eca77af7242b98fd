package btcache

import (
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

// Run-length encoded leaf: one run slot holds two collided expansion
// entries, each anchoring a chain of two records, all four records drawn
// from one buffer. The buffer must be freed exactly once, when the fourth
// record goes.
func TestDiscardColRLE(t *testing.T) {
	assert := assertion.New(t)
	c := NewCache(nil)
	sb := c.NewSessionBuffer(256)

	exp2 := &RLEExpand{Recno: 42}
	exp2.Upd = sb.NewUpdate([]byte("b2"))
	exp2.Upd.Next = sb.NewUpdate([]byte("b1"))

	exp1 := &RLEExpand{Recno: 40, Next: exp2}
	exp1.Upd = sb.NewUpdate([]byte("a2"))
	exp1.Upd.Next = sb.NewUpdate([]byte("a1"))

	pl := &ColRLE{Expand: make([]*RLEExpand, 4)}
	pl.Expand[2] = exp1

	p := NewPage(1, pl, nil)
	assert.NoError(c.AddPage(p))
	assert.Equal(uint32(4), sb.allocated)

	assert.NoError(c.Evict(p))

	s := c.Stats()
	assert.Equal(uint32(4), sb.freed)
	assert.True(sb.drained())
	assert.Equal(uint64(1), s.BufferDrains)
	assert.False(c.buffers.Contains(sb))

	want := 2*rleExpandSize + // both expansion entries
		4*expandPtrSize + // the slot array
		256 + // drained buffer arena
		pageStructSize + payloadStructSize(&ColRLE{})
	assert.Equal(uint64(want), s.MemFreed)

	assert.Nil(pl.Expand)
	assert.True(p.Discarded())
	assert.NoError(c.Check())
}

func TestDiscardColRLEWithIndex(t *testing.T) {
	assert := assertion.New(t)
	c := NewCache(nil)

	image := make([]byte, 96)
	pl := &ColRLE{
		Index:  []ColEntry{{Data: image[0:8]}, {Data: image[8:16]}, {Data: image[16:24]}},
		Expand: make([]*RLEExpand, 2),
	}
	p := NewPage(2, pl, image)
	assert.NoError(c.AddPage(p))
	assert.NoError(c.Evict(p))

	want := 3*colEntrySize +
		2*expandPtrSize +
		96 +
		pageStructSize + payloadStructSize(&ColRLE{})
	assert.Equal(uint64(want), c.Stats().MemFreed)
}

// An expansion entry with no updates is just a struct to free.
func TestDiscardRLEExpandBareEntry(t *testing.T) {
	assert := assertion.New(t)
	c := NewCache(nil)

	pl := &ColRLE{Expand: []*RLEExpand{{Recno: 7}}}
	c.discardRLEExpand(pl)

	want := rleExpandSize + 1*expandPtrSize
	assert.Equal(uint64(want), c.Stats().MemFreed)
}
