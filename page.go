package btcache

import "unsafe"

var (
	//DefaultPageSize = os.Getpagesize()
	// default system pagesize for most OS
	DefaultPageSize = 4096
)

type PageAddr uint64
type PageSz uint32

type PageType uint8

const (
	// column-store leaf, fixed-width entries
	PageColFix PageType = iota + 1
	// column-store internal
	PageColInt
	// column-store leaf, run-length encoded
	PageColRLE
	// column-store leaf, variable-width entries
	PageColVar
	// row-store internal
	PageRowInt
	// row-store leaf
	PageRowLeaf
)

func (t PageType) String() string {
	switch t {
	case PageColFix:
		return "col-fix"
	case PageColInt:
		return "col-int"
	case PageColRLE:
		return "col-rle"
	case PageColVar:
		return "col-var"
	case PageRowInt:
		return "row-int"
	case PageRowLeaf:
		return "row-leaf"
	}
	return "unknown"
}

type PageFlag uint8

const (
	// page has in-memory changes not yet written back
	pageDirty PageFlag = 1 << iota
	// page is held by a reader and must not be evicted
	pagePinned
	// image replaced by a compressed in-cache copy
	pageSquashed
	// page went through discard; every reachable pointer is gone
	pageDiscarded
)

// Payload is the in-memory layout of one page variant. Exactly one of
// ColFix, ColInt, ColRLE, ColVar, RowInt and RowLeaf implements it; the
// page's type tag is derived from the payload's dynamic type so the two
// can never disagree.
type Payload interface {
	pageType() PageType
}

// KeyRef is a key reference inside a row-store page. Data either aliases
// the page image (OnPage set, freed implicitly with the image) or is an
// independent allocation the page owns.
type KeyRef struct {
	Data   []byte
	OnPage bool
}

// ColEntry is one decoded column-store cell. Data always aliases the page
// image and is never freed on its own.
type ColEntry struct {
	Data []byte
}

// ColRef references one subtree below a column-store internal page. The
// child page is a separate cache entity, not owned by the parent.
type ColRef struct {
	Addr  PageAddr
	Recno uint64
	Child *Page
}

// RowRef references one subtree below a row-store internal page.
type RowRef struct {
	Addr  PageAddr
	Key   KeyRef
	Child *Page
}

// RowEntry is one row-store leaf entry. Value aliases the page image.
type RowEntry struct {
	Key   KeyRef
	Value []byte
}

// ColFix is the payload of a fixed-width column-store leaf.
type ColFix struct {
	Index   []ColEntry
	Updates []*Update
}

// ColVar is the payload of a variable-width column-store leaf.
type ColVar struct {
	Index   []ColEntry
	Updates []*Update
}

// ColInt is the payload of a column-store internal page.
type ColInt struct {
	Refs []ColRef
}

// ColRLE is the payload of a run-length encoded column-store leaf. Expand
// holds one chain head per run slot, overriding parts of repeated runs.
type ColRLE struct {
	Index  []ColEntry
	Expand []*RLEExpand
}

// RowInt is the payload of a row-store internal page.
type RowInt struct {
	Refs []RowRef
}

// RowLeaf is the payload of a row-store leaf.
type RowLeaf struct {
	Index   []RowEntry
	Updates []*Update
}

func (*ColFix) pageType() PageType  { return PageColFix }
func (*ColInt) pageType() PageType  { return PageColInt }
func (*ColRLE) pageType() PageType  { return PageColRLE }
func (*ColVar) pageType() PageType  { return PageColVar }
func (*RowInt) pageType() PageType  { return PageRowInt }
func (*RowLeaf) pageType() PageType { return PageRowLeaf }

// Page is the in-memory form of one B-tree node.
type Page struct {
	Addr PageAddr
	// byte length of the on-disk image
	Size PageSz

	flags   PageFlag
	image   []byte
	zimage  []byte
	payload Payload
}

// NewPage builds a page around a decoded payload. image may be nil for a
// purely in-memory page; when present, Size is taken from its length.
func NewPage(addr PageAddr, payload Payload, image []byte) *Page {
	return &Page{
		Addr:    addr,
		Size:    PageSz(len(image)),
		image:   image,
		payload: payload,
	}
}

func (p *Page) Type() PageType {
	if p.payload == nil {
		return 0
	}
	return p.payload.pageType()
}

func (p *Page) Payload() Payload { return p.payload }
func (p *Page) Image() []byte    { return p.image }

func (p *Page) Dirty() bool      { return Has(p.flags, pageDirty) }
func (p *Page) SetDirty()        { p.flags = Set(p.flags, pageDirty) }
func (p *Page) ClearDirty()      { p.flags = Clear(p.flags, pageDirty) }
func (p *Page) Pinned() bool     { return Has(p.flags, pagePinned) }
func (p *Page) Pin()             { p.flags = Set(p.flags, pagePinned) }
func (p *Page) Unpin()           { p.flags = Clear(p.flags, pagePinned) }
func (p *Page) Squashed() bool   { return Has(p.flags, pageSquashed) }
func (p *Page) Discarded() bool  { return Has(p.flags, pageDiscarded) }

// footprint is the page's resident image size: the raw image normally, the
// compressed copy when the image has been squashed.
func (p *Page) footprint() int64 {
	if Has(p.flags, pageSquashed) {
		return int64(len(p.zimage))
	}
	return int64(p.Size)
}

// struct sizes used by the teardown accounting arithmetic
var (
	pageStructSize = int(unsafe.Sizeof(Page{}))
	colEntrySize   = int(unsafe.Sizeof(ColEntry{}))
	colRefSize     = int(unsafe.Sizeof(ColRef{}))
	rowRefSize     = int(unsafe.Sizeof(RowRef{}))
	rowEntrySize   = int(unsafe.Sizeof(RowEntry{}))
	rleExpandSize  = int(unsafe.Sizeof(RLEExpand{}))
	chainPtrSize   = int(unsafe.Sizeof((*Update)(nil)))
	expandPtrSize  = int(unsafe.Sizeof((*RLEExpand)(nil)))
)

func payloadStructSize(pl Payload) int {
	switch pl.(type) {
	case *ColFix:
		return int(unsafe.Sizeof(ColFix{}))
	case *ColInt:
		return int(unsafe.Sizeof(ColInt{}))
	case *ColRLE:
		return int(unsafe.Sizeof(ColRLE{}))
	case *ColVar:
		return int(unsafe.Sizeof(ColVar{}))
	case *RowInt:
		return int(unsafe.Sizeof(RowInt{}))
	case *RowLeaf:
		return int(unsafe.Sizeof(RowLeaf{}))
	}
	return 0
}
