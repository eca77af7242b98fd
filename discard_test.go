package btcache

import (
	"bytes"
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

// Row-store leaf: one materialized key is freed on its own, on-page keys
// go with the image.
func TestDiscardRowLeaf(t *testing.T) {
	assert := assertion.New(t)
	c := NewCache(nil)

	image := bytes.Repeat([]byte{0xEE}, 100)
	leaf := &RowLeaf{
		Index: []RowEntry{
			{Key: KeyRef{Data: image[0:8], OnPage: true}},
			{Key: KeyRef{Data: []byte("12-byte--key"), OnPage: false}},
			{Key: KeyRef{Data: image[16:24], OnPage: true}},
		},
		Updates: make([]*Update, 3),
	}
	p := NewPage(1, leaf, image)
	assert.NoError(c.AddPage(p))
	assert.Equal(int64(100), c.BytesInUse())

	assert.NoError(c.Evict(p))

	s := c.Stats()
	assert.Equal(uint64(1), s.PagesOut)
	assert.Equal(uint64(100), s.BytesOut)
	want := 12 + // the one materialized key
		3*rowEntrySize + // index array
		3*chainPtrSize + // update-chain array
		100 + // image
		pageStructSize + payloadStructSize(&RowLeaf{})
	assert.Equal(uint64(want), s.MemFreed)

	assert.True(p.Discarded())
	assert.Nil(p.Image())
	assert.Nil(p.Payload())
	assert.Nil(leaf.Index)
	assert.Nil(leaf.Updates)
	assert.Equal(int64(0), c.BytesInUse())
	assert.NoError(c.Check())
}

func TestDiscardRowInt(t *testing.T) {
	assert := assertion.New(t)
	c := NewCache(nil)

	image := bytes.Repeat([]byte{0x11}, 64)
	child := NewPage(10, &RowLeaf{}, nil)
	ri := &RowInt{
		Refs: []RowRef{
			{Addr: 10, Key: KeyRef{Data: image[0:4], OnPage: true}, Child: child},
			{Addr: 11, Key: KeyRef{Data: []byte("offpage"), OnPage: false}},
		},
	}
	p := NewPage(2, ri, image)
	assert.NoError(c.AddPage(p))
	assert.NoError(c.Evict(p))

	want := 7 + // the off-page key
		2*rowRefSize +
		64 +
		pageStructSize + payloadStructSize(&RowInt{})
	assert.Equal(uint64(want), c.Stats().MemFreed)
	assert.Nil(ri.Refs)

	// the child is a separate cache entity
	assert.False(child.Discarded())
}

// Column-store internal page with no image: only the reference array and
// the page struct go.
func TestDiscardColInt(t *testing.T) {
	assert := assertion.New(t)
	c := NewCache(nil)

	children := make([]*Page, 5)
	refs := make([]ColRef, 5)
	for i := range refs {
		children[i] = NewPage(PageAddr(20+i), &ColVar{}, nil)
		refs[i] = ColRef{Addr: PageAddr(20 + i), Child: children[i]}
	}
	p := NewPage(3, &ColInt{Refs: refs}, nil)
	assert.NoError(c.AddPage(p))
	assert.NoError(c.Evict(p))

	s := c.Stats()
	assert.Equal(uint64(0), s.BytesOut)
	want := 5*colRefSize + pageStructSize + payloadStructSize(&ColInt{})
	assert.Equal(uint64(want), s.MemFreed)
	for _, ch := range children {
		assert.False(ch.Discarded())
	}
	assert.NoError(c.Check())
}

func TestDiscardColVar(t *testing.T) {
	assert := assertion.New(t)
	c := NewCache(nil)

	image := bytes.Repeat([]byte{0x77}, 256)
	pl := &ColVar{
		Index:   []ColEntry{{Data: image[0:8]}, {Data: image[8:20]}},
		Updates: make([]*Update, 2),
	}
	sb := c.NewSessionBuffer(128)
	pl.Updates[0] = sb.NewUpdate([]byte("new"))
	pl.Updates[0].Next = sb.NewUpdate([]byte("old"))

	p := NewPage(4, pl, image)
	assert.NoError(c.AddPage(p))
	assert.NoError(c.Evict(p))

	s := c.Stats()
	assert.Equal(uint64(1), s.BufferDrains)
	want := 2*colEntrySize +
		2*chainPtrSize +
		128 + // drained session buffer arena
		256 +
		pageStructSize + payloadStructSize(&ColVar{})
	assert.Equal(uint64(want), s.MemFreed)
	assert.Equal(int64(0), c.BytesInUse())
	assert.NoError(c.Check())
}

func TestDiscardColFix(t *testing.T) {
	assert := assertion.New(t)
	c := NewCache(nil)

	image := bytes.Repeat([]byte{0x01}, 32)
	pl := &ColFix{Index: []ColEntry{{Data: image[0:1]}, {Data: image[1:2]}}}
	p := NewPage(5, pl, image)
	assert.NoError(c.AddPage(p))
	assert.NoError(c.Evict(p))

	want := 2*colEntrySize + 32 + pageStructSize + payloadStructSize(&ColFix{})
	assert.Equal(uint64(want), c.Stats().MemFreed)
}

// Discarding a dirty page is a contract breach by the caller and fatal;
// nothing may be freed before the check fires.
func TestDiscardDirtyPanics(t *testing.T) {
	assert := assertion.New(t)
	c := NewCache(nil)

	p := NewPage(6, &RowLeaf{Index: []RowEntry{{Key: KeyRef{Data: []byte("k")}}}}, nil)
	p.SetDirty()

	assert.Panics(func() { c.discard(evictGuard{}, p) })

	s := c.Stats()
	assert.Equal(uint64(0), s.PagesOut)
	assert.Equal(uint64(0), s.MemFreed)
	assert.False(p.Discarded())
}

// Strict mode cross-checks the explicit tag against the pointer range.
func TestStrictKeyTagMismatch(t *testing.T) {
	assert := assertion.New(t)
	c := NewCache(&Options{StrictMode: true})

	image := bytes.Repeat([]byte{0x42}, 50)
	leaf := &RowLeaf{Index: []RowEntry{
		// claims on-page but points to the heap
		{Key: KeyRef{Data: []byte("liar"), OnPage: true}},
	}}
	p := NewPage(7, leaf, image)
	assert.NoError(c.AddPage(p))
	assert.Panics(func() { c.discard(evictGuard{}, p) })
}

func TestStrictKeyTagHonest(t *testing.T) {
	assert := assertion.New(t)
	c := NewCache(&Options{StrictMode: true})

	image := bytes.Repeat([]byte{0x42}, 50)
	leaf := &RowLeaf{Index: []RowEntry{
		{Key: KeyRef{Data: image[0:4], OnPage: true}},
		{Key: KeyRef{Data: []byte("heap"), OnPage: false}},
	}}
	p := NewPage(8, leaf, image)
	assert.NoError(c.AddPage(p))
	assert.NoError(c.Evict(p))
	assert.True(p.Discarded())
}
