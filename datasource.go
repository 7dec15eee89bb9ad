package gallery

import (
	"image"
	"sync"
)

// ContentListener is told when already enumerated content got new data,
// e.g. a bitmap finished loading.
type ContentListener interface {
	OnContentDirty()
}

// ContentListenerFunc adapts a function to ContentListener.
type ContentListenerFunc func()

func (f ContentListenerFunc) OnContentDirty() { f() }

// DataSource is an ordered, re-enumerable list of renderable entries.
// Size, Image and ContentURI describe the state left by the last completed
// Reload; positions are not stable across reloads.
type DataSource interface {
	Size() int
	// Image returns the bitmap at position, or false while it is still
	// loading or when position is out of range.
	Image(position int) (image.Image, bool)
	ContentURI(position int) string
	// Reload re-enumerates the entries. On failure the previous entries
	// are kept.
	Reload() error
	SetContentListener(l ContentListener)
	Close() error
}

// Notifier tells the host that a view must be re-rendered.
type Notifier interface {
	NotifyViewDataChanged(widgetID, viewID string)
	// NotifyReloadFailed reports a failed reload; the view keeps showing
	// the previous data.
	NotifyReloadFailed(widgetID string, err error)
}

// ChangeSource emits a signal every time the backing content changes.
type ChangeSource interface {
	// Subscribe registers fn and returns the function that removes it.
	Subscribe(fn func()) (unsubscribe func())
}

// ChangeFeed is an in-process ChangeSource. Publish calls every subscriber
// synchronously, so subscribers must not block.
type ChangeFeed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func()
}

func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{subs: make(map[int]func())}
}

func (f *ChangeFeed) Subscribe(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
		})
	}
}

// Publish signals a change to all subscribers.
func (f *ChangeFeed) Publish() {
	f.mu.RLock()
	subs := make([]func(), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}

// Subscribers returns the number of registered subscribers.
func (f *ChangeFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
