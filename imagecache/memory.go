package imagecache

import (
	"github.com/bluele/gcache"

	"github.com/mhbvr/gallery/bufpool"
)

// MemoryCache is an in-process LRU of encoded images. Older versions of a
// rendition are not removed on put; they age out of the LRU.
type MemoryCache struct {
	lru gcache.Cache
}

// DefaultMemoryEntries is used when NewMemory gets a non-positive size.
const DefaultMemoryEntries = 1024

// NewMemory returns a cache holding at most entries images.
func NewMemory(entries int) *MemoryCache {
	if entries <= 0 {
		entries = DefaultMemoryEntries
	}
	return &MemoryCache{lru: gcache.New(entries).LRU().Build()}
}

func (c *MemoryCache) GetImageData(key Key, buf *bufpool.Buffer) (bool, error) {
	v, err := c.lru.Get(key)
	if err == gcache.KeyNotFoundError {
		buf.Reset()
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fill(buf, v.([]byte)), nil
}

func (c *MemoryCache) PutImageData(key Key, data []byte) error {
	stored := make([]byte, len(data))
	copy(stored, data)
	return c.lru.Set(key, stored)
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
