// Package cache implements the bounded, in-process image cache shared by the
// pairwise registrar and the iterative refiner. Entries are keyed by the
// path they were loaded from together with a type tag identifying what kind
// of image is stored there (a raw slide versus a resliced intermediate, for
// instance); requesting a cached path under the wrong tag is a
// stackerr.CacheTypeMismatch, not a silent reload.
//
// Eviction is LRU by access order, with two independent caps: a maximum
// resident count and a maximum total byte footprint. Eviction runs before
// each insertion, evicting the least-recently-used resident until the new
// entry would fit, so a cap smaller than any single image still terminates
// the eviction loop (it simply empties the cache) rather than looping
// forever.
package cache

import (
	"container/list"
	"sync"

	"histostack/pkg/engine"
	"histostack/pkg/stackerr"
)

// Loader reads the image at path from its backing store on a cache miss.
type Loader func(path string) (engine.Image, error)

// Sizer is implemented by image types that know their own footprint, in
// bytes, for the cache's byte cap. Images that don't implement it are
// charged one byte against the byte cap.
type Sizer interface {
	ByteSize() int64
}

type entry struct {
	key     string
	typeTag string
	img     engine.Image
	bytes   int64
}

// Cache is a bounded, LRU image cache. A zero MaxImages or MaxBytes disables
// that particular cap. The zero value is not usable; construct with New.
type Cache struct {
	maxImages int
	maxBytes  int64
	load      Loader

	mu        sync.Mutex
	ll        *list.List
	byKey     map[string]*list.Element
	usedBytes int64
}

// New returns a Cache backed by load, capped at maxImages resident images
// and maxBytes total footprint. A cap of 0 means unlimited.
func New(load Loader, maxImages int, maxBytes int64) *Cache {
	return &Cache{
		maxImages: maxImages,
		maxBytes:  maxBytes,
		load:      load,
		ll:        list.New(),
		byKey:     make(map[string]*list.Element),
	}
}

// Get returns the image at path tagged typeTag, loading it on a miss. If
// path is already cached under a different tag, it returns
// stackerr.CacheTypeMismatch rather than reloading or overwriting.
func (c *Cache) Get(path, typeTag string) (engine.Image, error) {
	c.mu.Lock()
	if el, ok := c.byKey[path]; ok {
		e := el.Value.(*entry)
		if e.typeTag != typeTag {
			c.mu.Unlock()
			return nil, &stackerr.CacheTypeMismatch{Key: path, TypeTag: typeTag, CachedAs: e.typeTag}
		}
		c.ll.MoveToFront(el)
		img := e.img
		c.mu.Unlock()
		return img, nil
	}
	c.mu.Unlock()

	img, err := c.load(path)
	if err != nil {
		return nil, err
	}

	var sz int64 = 1
	if s, ok := img.(Sizer); ok {
		sz = s.ByteSize()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have raced us to load the same path; prefer the
	// already-resident copy so we don't hold two independently-evictable
	// entries for the same key.
	if el, ok := c.byKey[path]; ok {
		e := el.Value.(*entry)
		if e.typeTag != typeTag {
			return nil, &stackerr.CacheTypeMismatch{Key: path, TypeTag: typeTag, CachedAs: e.typeTag}
		}
		c.ll.MoveToFront(el)
		return e.img, nil
	}

	c.evictFor(sz)

	e := &entry{key: path, typeTag: typeTag, img: img, bytes: sz}
	el := c.ll.PushFront(e)
	c.byKey[path] = el
	c.usedBytes += sz

	return img, nil
}

// evictFor evicts least-recently-used entries until admitting an entry of
// the given size would not exceed either cap, or the cache is empty.
func (c *Cache) evictFor(incomingBytes int64) {
	for c.ll.Len() > 0 && c.overCapWith(incomingBytes) {
		back := c.ll.Back()
		c.removeElement(back)
	}
}

func (c *Cache) overCapWith(incomingBytes int64) bool {
	if c.maxImages > 0 && c.ll.Len()+1 > c.maxImages {
		return true
	}
	if c.maxBytes > 0 && c.usedBytes+incomingBytes > c.maxBytes {
		return true
	}
	return false
}

func (c *Cache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.byKey, e.key)
	c.usedBytes -= e.bytes
}

// Purge evicts every resident image.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.byKey = make(map[string]*list.Element)
	c.usedBytes = 0
}

// Len reports the number of resident images.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Resident reports whether path is currently cached, and under what tag.
func (c *Cache) Resident(path string) (typeTag string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, found := c.byKey[path]
	if !found {
		return "", false
	}
	return el.Value.(*entry).typeTag, true
}
