// Package imagecache stores encoded (JPEG) renditions of media items so
// that later requests for the same variant skip decoding the original.
package imagecache

import (
	"encoding/binary"
	"fmt"

	"github.com/mhbvr/gallery"
	"github.com/mhbvr/gallery/bufpool"
)

// Key identifies one rendition. Version and TargetSize are part of the key,
// so a rewritten item or a new size setting never reads a stale entry.
type Key struct {
	Path       gallery.Path
	Version    uint64
	Kind       gallery.RequestKind
	TargetSize int
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%d/%s/%d", k.Path, k.Version, k.Kind, k.TargetSize)
}

// variant is the key prefix shared by all versions of the same rendition:
// path, zero byte, kind, target size.
func (k Key) variant() []byte {
	b := make([]byte, 0, len(k.Path)+1+1+4+8)
	b = append(b, k.Path...)
	b = append(b, 0, byte(k.Kind))
	return binary.BigEndian.AppendUint32(b, uint32(k.TargetSize))
}

func (k Key) bytes() []byte {
	return binary.BigEndian.AppendUint64(k.variant(), k.Version)
}

// Cache is a store of encoded images.
type Cache interface {
	// GetImageData copies the entry for key into buf. It reports false
	// when there is no entry or the entry does not fit into buf; buf is
	// left empty in that case.
	GetImageData(key Key, buf *bufpool.Buffer) (bool, error)
	// PutImageData stores data under key, replacing older versions of the
	// same rendition.
	PutImageData(key Key, data []byte) error
	Close() error
}

// fill copies data into buf. A value larger than the buffer is a miss.
func fill(buf *bufpool.Buffer, data []byte) bool {
	buf.Reset()
	if len(data) > len(buf.Data) {
		return false
	}
	buf.Length = copy(buf.Data, data)
	return true
}
