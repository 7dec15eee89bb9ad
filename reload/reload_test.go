package reload

import (
	"errors"
	"image"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhbvr/gallery"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock fires due timers synchronously from Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type fakeSource struct {
	reloads atomic.Int32
	err     error
	block   chan struct{}
	entered chan struct{}
	running atomic.Int32
	maxRun  atomic.Int32
}

func (s *fakeSource) Size() int                                  { return 0 }
func (s *fakeSource) Image(int) (image.Image, bool)              { return nil, false }
func (s *fakeSource) ContentURI(int) string                      { return "" }
func (s *fakeSource) SetContentListener(gallery.ContentListener) {}
func (s *fakeSource) Close() error                               { return nil }

func (s *fakeSource) Reload() error {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		m := s.maxRun.Load()
		if n <= m || s.maxRun.CompareAndSwap(m, n) {
			break
		}
	}
	s.reloads.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	return s.err
}

type fakeNotifier struct {
	mu      sync.Mutex
	changed []string
	failed  []error
}

func (n *fakeNotifier) NotifyViewDataChanged(widgetID, viewID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, widgetID+"/"+viewID)
}

func (n *fakeNotifier) NotifyReloadFailed(widgetID string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, err)
}

func (n *fakeNotifier) counts() (changed, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changed), len(n.failed)
}

func newTestCoordinator(src gallery.DataSource, n gallery.Notifier, clock Clock) *Coordinator {
	return New("w1", "stack", src, n, WithClock(clock), WithDelay(3000*time.Millisecond))
}

func TestDefaults(t *testing.T) {
	t.Parallel()

	c := New("w", "v", &fakeSource{}, &fakeNotifier{})
	assert.Equal(t, DefaultDelay, c.Delay())
	assert.Equal(t, 3*time.Second, c.Delay())
	assert.Equal(t, Idle, c.State())
	assert.True(t, c.Deadline().IsZero())
}

func TestBurstYieldsSingleReload(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	src := &fakeSource{}
	n := &fakeNotifier{}
	c := newTestCoordinator(src, n, clock)
	start := clock.Now()

	// Signals at t=0, t=500ms and t=2900ms
	c.OnChange()
	clock.Advance(500 * time.Millisecond)
	c.OnChange()
	clock.Advance(2400 * time.Millisecond)
	c.OnChange()
	assert.Equal(t, Pending, c.State())
	assert.Equal(t, start.Add(5900*time.Millisecond), c.Deadline())

	clock.Advance(2999 * time.Millisecond)
	assert.Zero(t, src.reloads.Load(), "no reload before t=5900ms")

	clock.Advance(time.Millisecond)
	assert.Equal(t, int32(1), src.reloads.Load())
	assert.Equal(t, Idle, c.State())
	assert.True(t, c.Deadline().IsZero())

	changed, failed := n.counts()
	assert.Equal(t, 1, changed)
	assert.Zero(t, failed)
	assert.Equal(t, []string{"w1/stack"}, n.changed)

	clock.Advance(time.Hour)
	assert.Equal(t, int32(1), src.reloads.Load())
}

func TestSeparateBursts(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	src := &fakeSource{}
	n := &fakeNotifier{}
	c := newTestCoordinator(src, n, clock)

	c.OnChange()
	clock.Advance(3 * time.Second)
	c.OnChange()
	clock.Advance(3 * time.Second)

	assert.Equal(t, int32(2), src.reloads.Load())
	changed, _ := n.counts()
	assert.Equal(t, 2, changed)
}

func TestReloadFailure(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	boom := errors.New("store is down")
	src := &fakeSource{err: boom}
	n := &fakeNotifier{}
	c := newTestCoordinator(src, n, clock)

	c.OnChange()
	clock.Advance(3 * time.Second)

	changed, failed := n.counts()
	assert.Zero(t, changed)
	require.Equal(t, 1, failed)
	assert.ErrorIs(t, n.failed[0], boom)
	assert.Equal(t, Idle, c.State())

	// No automatic retry
	clock.Advance(time.Hour)
	assert.Equal(t, int32(1), src.reloads.Load())
}

func TestClose(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	src := &fakeSource{}
	n := &fakeNotifier{}
	feed := gallery.NewChangeFeed()
	c := newTestCoordinator(src, n, clock)
	c.Attach(feed)
	require.Equal(t, 1, feed.Subscribers())

	feed.Publish()
	assert.Equal(t, Pending, c.State())

	c.Close()
	assert.Equal(t, Closed, c.State())
	assert.Zero(t, feed.Subscribers())

	clock.Advance(time.Hour)
	c.OnChange()
	clock.Advance(time.Hour)
	assert.Zero(t, src.reloads.Load())
	assert.Equal(t, Closed, c.State())

	// Attaching after Close does not subscribe
	c.Attach(feed)
	assert.Zero(t, feed.Subscribers())

	c.Close()
}

func TestAttachedFeedTriggersReload(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	src := &fakeSource{}
	n := &fakeNotifier{}
	feed := gallery.NewChangeFeed()
	c := newTestCoordinator(src, n, clock)
	c.Attach(feed)
	defer c.Close()

	for i := 0; i < 10; i++ {
		feed.Publish()
		clock.Advance(100 * time.Millisecond)
	}
	clock.Advance(3 * time.Second)
	assert.Equal(t, int32(1), src.reloads.Load())
}

func TestReloadsNeverOverlap(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 4),
	}
	n := &fakeNotifier{}
	c := New("w2", "stack", src, n, WithDelay(time.Millisecond))
	defer c.Close()

	c.OnChange()
	<-src.entered

	// A second burst fires while the first reload is still running
	c.OnChange()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), src.running.Load())

	close(src.block)
	<-src.entered
	require.Eventually(t, func() bool {
		changed, _ := n.counts()
		return changed == 2
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, int32(1), src.maxRun.Load())
}

func TestReloadNow(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	n := &fakeNotifier{}
	c := newTestCoordinator(src, n, newFakeClock())

	require.NoError(t, c.ReloadNow())
	assert.Equal(t, int32(1), src.reloads.Load())
	changed, _ := n.counts()
	assert.Zero(t, changed)
}

func TestNotificationsStayDelayApart(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	src := &fakeSource{
		block:   make(chan struct{}),
		entered: make(chan struct{}, 4),
	}
	n := &fakeNotifier{}
	c := newTestCoordinator(src, n, clock)
	start := clock.Now()

	// t=0 signal, its reload starts at t=3s and runs until t=7s
	c.OnChange()
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		clock.Advance(3 * time.Second)
	}()
	<-src.entered

	// t=3s signal during the reload, its wake-up at t=6s waits for the lock
	c.OnChange()
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		clock.Advance(3 * time.Second)
	}()
	require.Eventually(t, func() bool {
		return c.State() == Idle
	}, 5*time.Second, time.Millisecond)

	clock.Advance(time.Second)
	close(src.block)
	<-firstDone
	<-secondDone

	changed, _ := n.counts()
	assert.Equal(t, 1, changed, "first reload notifies at t=7s")
	assert.Equal(t, int32(1), src.reloads.Load())
	assert.Equal(t, Pending, c.State())
	assert.Equal(t, start.Add(10*time.Second), c.Deadline())

	clock.Advance(2999 * time.Millisecond)
	changed, _ = n.counts()
	assert.Equal(t, 1, changed, "no second notification before t=10s")

	clock.Advance(time.Millisecond)
	changed, _ = n.counts()
	assert.Equal(t, 2, changed)
	assert.Equal(t, int32(2), src.reloads.Load())
	assert.Equal(t, Idle, c.State())
}
