package main

import (
	"bytes"
	"flag"
	"fmt"
	"unsafe"

	"btcache"

	"github.com/magiconair/properties"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfgPath := flag.String("config", "", "optional .properties config file")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	opts := loadOptions(*cfgPath)
	opts.Verbose = *verbose
	c := btcache.NewCache(opts)

	fmt.Println("Page", unsafe.Alignof(btcache.Page{}), unsafe.Sizeof(btcache.Page{}))
	fmt.Println("RowEntry", unsafe.Alignof(btcache.RowEntry{}), unsafe.Sizeof(btcache.RowEntry{}))
	fmt.Println("Update", unsafe.Alignof(btcache.Update{}), unsafe.Sizeof(btcache.Update{}))
	fmt.Println("RLEExpand", unsafe.Alignof(btcache.RLEExpand{}), unsafe.Sizeof(btcache.RLEExpand{}))

	// a row-store leaf with one materialized key and two on-page keys
	image := bytes.Repeat([]byte{0xAB}, 4096)
	leaf := &btcache.RowLeaf{
		Index: []btcache.RowEntry{
			{Key: btcache.KeyRef{Data: image[0:8], OnPage: true}},
			{Key: btcache.KeyRef{Data: []byte("materialized"), OnPage: false}},
			{Key: btcache.KeyRef{Data: image[16:24], OnPage: true}},
		},
		Updates: make([]*btcache.Update, 3),
	}
	p1 := btcache.NewPage(1, leaf, image)

	sb := c.NewSessionBuffer(256)
	leaf.Updates[1] = sb.NewUpdate([]byte("v2"))
	leaf.Updates[1].Next = sb.NewUpdate([]byte("v1"))

	// a column-store internal page, no image
	p2 := btcache.NewPage(2, &btcache.ColInt{Refs: make([]btcache.ColRef, 5)}, nil)

	for _, p := range []*btcache.Page{p1, p2} {
		if err := c.AddPage(p); err != nil {
			log.Fatalf("add page: %v", err)
		}
	}
	log.Infof("resident: %d bytes, pressure: %v", c.BytesInUse(), c.Pressure())

	for _, p := range []*btcache.Page{p1, p2} {
		if err := c.Evict(p); err != nil {
			log.Fatalf("evict page %d: %v", p.Addr, err)
		}
	}

	if err := c.Check(); err != nil {
		log.Fatalf("cache check: %v", err)
	}

	s := c.Stats()
	log.Infof("pages out: %d, bytes out: %d, mem freed: %d, buffers drained: %d",
		s.PagesOut, s.BytesOut, s.MemFreed, s.BufferDrains)
}

func loadOptions(path string) *btcache.Options {
	opts := *btcache.DefaultOptions
	if path == "" {
		return &opts
	}
	p := properties.MustLoadFile(path, properties.UTF8)
	opts.MaxBytes = p.GetInt64("cache.max_bytes", opts.MaxBytes)
	opts.StrictMode = p.GetBool("cache.strict", false)
	switch p.GetString("cache.compression", "snappy") {
	case "snappy":
		opts.Compression = btcache.CompSnappy
	case "lz4":
		opts.Compression = btcache.CompLz4
	case "none":
		opts.Compression = btcache.CompNone
	default:
		log.Fatalf("unknown cache.compression value")
	}
	return &opts
}
