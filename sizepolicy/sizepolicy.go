// Package sizepolicy maps request kinds to target pixel sizes.
package sizepolicy

import (
	"fmt"
	"sync"

	"github.com/mhbvr/gallery"
)

// Policy holds the configurable thumbnail sizes. It is created by the
// composition root and shared by the media items it builds; changes are
// visible to every later request.
type Policy struct {
	mu        sync.RWMutex
	thumbnail int
	micro     int
	listeners []func(oldSize, newSize int)
}

// New returns a policy with the default sizes.
func New() *Policy {
	return &Policy{
		thumbnail: gallery.ThumbnailTargetSize,
		micro:     gallery.MicroThumbnailTargetSize,
	}
}

// TargetSize returns the target size of kind. Decode always maps to the
// fixed thumbnail constant. An unknown kind panics.
func (p *Policy) TargetSize(kind gallery.RequestKind) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch kind {
	case gallery.Thumbnail:
		return p.thumbnail
	case gallery.MicroThumbnail:
		return p.micro
	case gallery.Decode:
		return gallery.ThumbnailTargetSize
	default:
		panic(fmt.Sprintf("sizepolicy: should only request thumb/microthumb, got %v", kind))
	}
}

// SetSizes overwrites the thumbnail size. The micro-thumbnail size is only
// written, and its listeners only called, when it actually changes.
func (p *Policy) SetSizes(thumbnail, micro int) {
	if thumbnail <= 0 || micro <= 0 {
		panic(fmt.Sprintf("sizepolicy: sizes must be positive, got %d/%d", thumbnail, micro))
	}

	p.mu.Lock()
	p.thumbnail = thumbnail
	if p.micro == micro {
		p.mu.Unlock()
		return
	}
	old := p.micro
	p.micro = micro
	listeners := append([]func(int, int){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(old, micro)
	}
}

// OnMicroThumbnailSizeChange registers fn to be called after every change
// of the micro-thumbnail size.
func (p *Policy) OnMicroThumbnailSizeChange(fn func(oldSize, newSize int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Sizes returns the configured thumbnail and micro-thumbnail sizes.
func (p *Policy) Sizes() (thumbnail, micro int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.thumbnail, p.micro
}
