package btcache

import (
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	ErrPageBusy      = errors.New("page is pinned")
	ErrPageDirty     = errors.New("page has unwritten changes")
	ErrPageDiscarded = errors.New("page was already discarded")
)

// Options represents the options that can be set when creating a cache.
type Options struct {
	// MaxBytes is the resident-size threshold above which Pressure
	// reports true. The cache itself never refuses pages; eviction
	// policy belongs to the caller.
	MaxBytes int64

	// Compression selects the algorithm CompactPage squashes clean
	// page images with.
	Compression CompressAlgorithm

	// When enabled, discard cross-checks every key's owned/on-page tag
	// against the image range and panics on a mismatch. This has a
	// per-key cost so it should only be used for debugging purposes.
	StrictMode bool

	// Log every discard at debug level.
	Verbose bool
}

var DefaultOptions = &Options{
	MaxBytes:    64 * 1024 * 1024,
	Compression: CompSnappy,
}

// Stats holds cumulative cache counters.
type Stats struct {
	// pages and image bytes handed in by the read path
	PagesIn uint64
	BytesIn uint64
	// pages and image bytes returned by eviction
	PagesOut uint64
	BytesOut uint64
	// every byte released by teardown: images, arrays, keys, entry
	// structs, drained buffer arenas and page structs
	MemFreed uint64
	// session buffers released after their last record was discarded
	BufferDrains uint64

	Compactions uint64
	Inflations  uint64
}

// Cache tracks the memory resident in the page cache and is the sole way
// into page teardown. Eviction is serialized: evictLock is held for the
// whole of every discard, which is what lets session-buffer counters stay
// plain integers even when one buffer spans several pages.
type Cache struct {
	opts Options

	evictLock sync.Mutex
	statlock  sync.RWMutex

	bytesInUse int64
	stats      Stats

	// live session buffers, for strict-mode leak sweeps
	buffers mapset.Set
}

func NewCache(options *Options) *Cache {
	if options == nil {
		options = DefaultOptions
	}
	return &Cache{
		opts:    *options,
		buffers: mapset.NewSet(),
	}
}

// AddPage accounts a freshly decoded page as resident. Decoding itself is
// the read path's business; the cache only wants the footprint.
func (c *Cache) AddPage(p *Page) error {
	if p.Discarded() {
		return errors.Wrapf(ErrPageDiscarded, "add page %d", p.Addr)
	}
	c.statlock.Lock()
	c.bytesInUse += p.footprint()
	c.stats.PagesIn++
	c.stats.BytesIn += uint64(p.footprint())
	c.statlock.Unlock()
	return nil
}

// Evict tears a page down and returns its memory to the cache. The page
// must be clean and unpinned; dirty or pinned pages are refused with an
// error so the eviction scan can move on to another candidate. Unreachable
// from the index structure is the caller's guarantee, it cannot be checked
// here.
func (c *Cache) Evict(p *Page) error {
	c.evictLock.Lock()
	defer c.evictLock.Unlock()

	if p.Discarded() {
		return errors.Wrapf(ErrPageDiscarded, "evict page %d", p.Addr)
	}
	if p.Pinned() {
		return errors.Wrapf(ErrPageBusy, "evict page %d", p.Addr)
	}
	if p.Dirty() {
		return errors.Wrapf(ErrPageDirty, "evict page %d", p.Addr)
	}

	c.discard(evictGuard{}, p)
	return nil
}

// NewSessionBuffer draws a tracked arena of the given byte size. Update
// records created from it count against the cache until the buffer drains.
func (c *Cache) NewSessionBuffer(size int) *SessionBuffer {
	sb := &SessionBuffer{size: size}
	c.buffers.Add(sb)
	c.statlock.Lock()
	c.bytesInUse += int64(size)
	c.statlock.Unlock()
	return sb
}

// releaseBuffer returns a drained session buffer's arena. Called exactly
// once per buffer, by whichever discard released its last record.
func (c *Cache) releaseBuffer(sb *SessionBuffer) {
	c.buffers.Remove(sb)
	c.statlock.Lock()
	c.bytesInUse -= int64(sb.size)
	c.stats.MemFreed += uint64(sb.size)
	c.stats.BufferDrains++
	c.statlock.Unlock()
}

// pageOut reports n resident bytes returned by an eviction, before any
// memory is actually released, so memory-pressure callers can make
// progress.
func (c *Cache) pageOut(n int64) {
	c.statlock.Lock()
	c.bytesInUse -= n
	c.stats.PagesOut++
	c.stats.BytesOut += uint64(n)
	if c.bytesInUse < 0 {
		c.statlock.Unlock()
		log.Panicf("btcache: resident byte count went negative (%d)", c.bytesInUse)
	}
	c.statlock.Unlock()
}

// memFree records n bytes of page-graph memory released by teardown.
func (c *Cache) memFree(n int) {
	c.statlock.Lock()
	c.stats.MemFreed += uint64(n)
	c.statlock.Unlock()
}

// BytesInUse returns the resident byte count.
func (c *Cache) BytesInUse() int64 {
	c.statlock.RLock()
	defer c.statlock.RUnlock()
	return c.bytesInUse
}

// Pressure reports whether the cache is over its configured size and the
// caller should evict.
func (c *Cache) Pressure() bool {
	return c.BytesInUse() > c.opts.MaxBytes
}

// Stats returns a copy of the cumulative counters.
func (c *Cache) Stats() Stats {
	c.statlock.RLock()
	defer c.statlock.RUnlock()
	return c.stats
}

// Check sweeps the cache for inconsistencies once every page has been
// evicted: leftover resident bytes or session buffers that never drained
// mean a chain head was lost before discard could walk it.
func (c *Cache) Check() error {
	c.statlock.RLock()
	inUse := c.bytesInUse
	c.statlock.RUnlock()

	if n := c.buffers.Cardinality(); n != 0 {
		return errors.Errorf("%d session buffer(s) never drained", n)
	}
	if inUse != 0 {
		return errors.Errorf("%d byte(s) still accounted as resident", inUse)
	}
	return nil
}
