package sizepolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mhbvr/gallery"
)

func TestTargetSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		thumb       int
		micro       int
		setSizes    bool
		wantThumb   int
		wantMicro   int
		wantDecoded int
	}{
		{
			name:        "defaults",
			wantThumb:   640,
			wantMicro:   200,
			wantDecoded: 640,
		},
		{
			name:        "configured",
			thumb:       1024,
			micro:       256,
			setSizes:    true,
			wantThumb:   1024,
			wantMicro:   256,
			wantDecoded: gallery.ThumbnailTargetSize,
		},
		{
			name:        "smaller than defaults",
			thumb:       320,
			micro:       96,
			setSizes:    true,
			wantThumb:   320,
			wantMicro:   96,
			wantDecoded: gallery.ThumbnailTargetSize,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New()
			if tt.setSizes {
				p.SetSizes(tt.thumb, tt.micro)
			}
			assert.Equal(t, tt.wantThumb, p.TargetSize(gallery.Thumbnail))
			assert.Equal(t, tt.wantMicro, p.TargetSize(gallery.MicroThumbnail))
			assert.Equal(t, tt.wantDecoded, p.TargetSize(gallery.Decode))
		})
	}
}

func TestTargetSizeUnknownKindPanics(t *testing.T) {
	p := New()
	assert.Panics(t, func() { p.TargetSize(gallery.RequestKind(0)) })
	assert.Panics(t, func() { p.TargetSize(gallery.RequestKind(42)) })
}

func TestSetSizesRejectsNonPositive(t *testing.T) {
	p := New()
	assert.Panics(t, func() { p.SetSizes(0, 200) })
	assert.Panics(t, func() { p.SetSizes(640, -1) })

	thumb, micro := p.Sizes()
	assert.Equal(t, 640, thumb)
	assert.Equal(t, 200, micro)
}

func TestSetSizesMicroChangeSignalledOnce(t *testing.T) {
	p := New()

	type change struct{ old, new int }
	var changes []change
	p.OnMicroThumbnailSizeChange(func(oldSize, newSize int) {
		changes = append(changes, change{oldSize, newSize})
	})

	p.SetSizes(800, 300)
	p.SetSizes(900, 300)
	p.SetSizes(1000, 300)

	assert.Equal(t, []change{{200, 300}}, changes)
	// The thumbnail size is overwritten on every call.
	assert.Equal(t, 1000, p.TargetSize(gallery.Thumbnail))

	p.SetSizes(1000, 200)
	assert.Equal(t, []change{{200, 300}, {300, 200}}, changes)
}

func TestSetSizesDefaultMicroIsNoop(t *testing.T) {
	p := New()
	var calls int
	p.OnMicroThumbnailSizeChange(func(int, int) { calls++ })

	p.SetSizes(gallery.ThumbnailTargetSize, gallery.MicroThumbnailTargetSize)
	assert.Equal(t, 0, calls)
}
