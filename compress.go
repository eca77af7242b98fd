package btcache

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

var (
	ErrNoImage        = errors.New("page has no raw image")
	ErrImageAliased   = errors.New("page keys alias the image")
	ErrIncompressible = errors.New("image did not shrink")
	ErrNotSquashed    = errors.New("page image is not squashed")
)

type CompressAlgorithm uint16

const (
	CompSnappy CompressAlgorithm = iota // default
	CompNone
	CompLz4
)

func (a CompressAlgorithm) String() string {
	switch a {
	case CompSnappy:
		return "snappy"
	case CompNone:
		return "none"
	case CompLz4:
		return "lz4"
	}
	return "unknown"
}

type Compressor func([]byte) []byte
type DeCompressor func([]byte) ([]byte, error)

var (
	SnappyCompress Compressor = func(in []byte) []byte {
		return snappy.Encode(nil, in)
	}
	SnappyDeCompress DeCompressor = func(in []byte) ([]byte, error) {
		return snappy.Decode(nil, in)
	}
)

var (
	Lz4Compress Compressor = func(in []byte) []byte {
		buf := &bytes.Buffer{}
		writer := lz4.NewWriter(buf)
		defer writer.Close()
		writer.NoChecksum = true
		_, err := writer.Write(in)
		if err != nil {
			panic(err)
		}
		_ = writer.Flush()
		return buf.Bytes()
	}

	Lz4DeCompress DeCompressor = func(in []byte) ([]byte, error) {
		buf := &bytes.Buffer{}
		reader := lz4.NewReader(bytes.NewReader(in))
		_, err := buf.ReadFrom(reader)
		return buf.Bytes(), err
	}
)

func (a CompressAlgorithm) codec() (Compressor, DeCompressor, error) {
	switch a {
	case CompSnappy:
		return SnappyCompress, SnappyDeCompress, nil
	case CompLz4:
		return Lz4Compress, Lz4DeCompress, nil
	case CompNone:
		return nil, nil, errors.New("compression disabled")
	}
	return nil, nil, errors.Errorf("unknown compression algorithm %d", a)
}

// payloadAliasesImage reports whether any decoded entry on the page is a
// zero-copy slice of the image. Such pages cannot lose their raw image
// without the entries dangling. Keys carry an explicit tag; cell data and
// values are untagged and fall back to the range check.
func payloadAliasesImage(p *Page) bool {
	switch pl := p.payload.(type) {
	case *ColFix:
		return colEntriesAlias(p, pl.Index)
	case *ColVar:
		return colEntriesAlias(p, pl.Index)
	case *ColRLE:
		return colEntriesAlias(p, pl.Index)
	case *RowInt:
		for i := range pl.Refs {
			if pl.Refs[i].Key.OnPage {
				return true
			}
		}
	case *RowLeaf:
		for i := range pl.Index {
			if pl.Index[i].Key.OnPage || imageAliased(p, pl.Index[i].Value) {
				return true
			}
		}
	}
	return false
}

func colEntriesAlias(p *Page, index []ColEntry) bool {
	for i := range index {
		if imageAliased(p, index[i].Data) {
			return true
		}
	}
	return false
}

// CompactPage swaps a clean, unpinned page's raw image for a compressed
// in-cache copy, shrinking the resident byte count by the saving. Pages
// with entries decoded as zero-copy slices of the image keep their raw
// image. The page stays evictable while squashed; readers need an
// InflatePage (and a re-decode by the read path) first.
func (c *Cache) CompactPage(p *Page) error {
	c.evictLock.Lock()
	defer c.evictLock.Unlock()

	if p.Discarded() {
		return errors.Wrapf(ErrPageDiscarded, "compact page %d", p.Addr)
	}
	if p.Pinned() {
		return errors.Wrapf(ErrPageBusy, "compact page %d", p.Addr)
	}
	if p.Dirty() {
		return errors.Wrapf(ErrPageDirty, "compact page %d", p.Addr)
	}
	if p.Squashed() || p.image == nil {
		return errors.Wrapf(ErrNoImage, "compact page %d", p.Addr)
	}
	if payloadAliasesImage(p) {
		return errors.Wrapf(ErrImageAliased, "compact page %d", p.Addr)
	}

	comp, _, err := c.opts.Compression.codec()
	if err != nil {
		return errors.Wrapf(err, "compact page %d", p.Addr)
	}
	z := comp(p.image)
	if len(z) >= len(p.image) {
		return errors.Wrapf(ErrIncompressible, "compact page %d", p.Addr)
	}

	saving := int64(len(p.image)) - int64(len(z))
	p.zimage = z
	p.image = nil
	p.flags = Set(p.flags, pageSquashed)

	c.statlock.Lock()
	c.bytesInUse -= saving
	c.stats.Compactions++
	c.statlock.Unlock()
	return nil
}

// InflatePage restores a squashed page's raw image and grows the resident
// byte count back.
func (c *Cache) InflatePage(p *Page) error {
	c.evictLock.Lock()
	defer c.evictLock.Unlock()

	if p.Discarded() {
		return errors.Wrapf(ErrPageDiscarded, "inflate page %d", p.Addr)
	}
	if !p.Squashed() {
		return errors.Wrapf(ErrNotSquashed, "inflate page %d", p.Addr)
	}

	_, decomp, err := c.opts.Compression.codec()
	if err != nil {
		return errors.Wrapf(err, "inflate page %d", p.Addr)
	}
	img, err := decomp(p.zimage)
	if err != nil {
		return errors.Wrapf(err, "inflate page %d image", p.Addr)
	}

	growth := int64(len(img)) - int64(len(p.zimage))
	p.image = img
	p.zimage = nil
	p.flags = Clear(p.flags, pageSquashed)

	c.statlock.Lock()
	c.bytesInUse += growth
	c.stats.Inflations++
	c.statlock.Unlock()
	return nil
}
