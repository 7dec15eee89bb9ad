// Package reload collapses bursts of content change signals into a single
// data source reload.
package reload

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mhbvr/gallery"
	"github.com/mhbvr/gallery/logging"
)

// DefaultDelay is the quiet period that must follow the last change signal
// before the reload runs.
const DefaultDelay = 3000 * time.Millisecond

type State int

const (
	Idle State = iota
	Pending
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type Option func(*Coordinator)

func WithDelay(d time.Duration) Option {
	return func(c *Coordinator) {
		c.delay = d
	}
}

func WithClock(clock Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		c.tracer = t
	}
}

// Coordinator reloads a data source once the change signals stop for the
// configured delay, then tells the notifier that the view changed. Every
// signal pushes the deadline back, so a burst yields one reload timed from
// its last signal. Reloads never overlap.
type Coordinator struct {
	widgetID string
	viewID   string
	source   gallery.DataSource
	notifier gallery.Notifier

	delay  time.Duration
	clock  Clock
	logger *log.Entry
	tracer trace.Tracer

	mu          sync.Mutex
	state       State
	deadline    time.Time
	timer       Timer
	generation  uint64 // Bumped on every schedule, stale wake-ups compare it
	lastNotify  time.Time
	unsubscribe []func()

	reloadMu sync.Mutex
}

// New returns an idle coordinator for the view viewID of widget widgetID.
func New(widgetID, viewID string, source gallery.DataSource, notifier gallery.Notifier, opts ...Option) *Coordinator {
	c := &Coordinator{
		widgetID: widgetID,
		viewID:   viewID,
		source:   source,
		notifier: notifier,
		delay:    DefaultDelay,
		clock:    realClock{},
		logger:   logging.Discard(),
		tracer:   otel.Tracer("reload"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithField(logging.FieldWidgetID, widgetID)
	return c
}

// Delay returns the debounce delay.
func (c *Coordinator) Delay() time.Duration {
	return c.delay
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Deadline returns when the pending reload fires. It is zero unless the
// coordinator is Pending.
func (c *Coordinator) Deadline() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Pending {
		return time.Time{}
	}
	return c.deadline
}

// OnChange records a change signal. It replaces any pending wake-up with
// one at now+delay. Signals after Close are ignored.
func (c *Coordinator) OnChange() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Closed {
		return
	}
	c.scheduleLocked(c.delay)
}

// scheduleLocked replaces any pending wake-up with one d from now. c.mu
// must be held.
func (c *Coordinator) scheduleLocked(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}

	c.generation++
	gen := c.generation
	c.state = Pending
	c.deadline = c.clock.Now().Add(d)
	c.timer = c.clock.AfterFunc(d, func() {
		c.fire(gen)
	})
}

// Attach subscribes the coordinator to src until Close.
func (c *Coordinator) Attach(src gallery.ChangeSource) {
	unsubscribe := src.Subscribe(c.OnChange)

	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		unsubscribe()
		return
	}
	c.unsubscribe = append(c.unsubscribe, unsubscribe)
	c.mu.Unlock()
}

// Close cancels the pending wake-up and detaches from every change source.
// A reload already running completes but is not followed by a notification.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	c.logger.Debug("Reload coordinator closed")
}

// ReloadNow reloads the source right away, serialized with the debounced
// reloads. It does not notify; the caller asked for the data.
func (c *Coordinator) ReloadNow() error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()
	return c.source.Reload()
}

func (c *Coordinator) fire(gen uint64) {
	c.mu.Lock()
	if c.state != Pending || c.generation != gen {
		// Superseded by a later signal, or closed
		c.mu.Unlock()
		return
	}
	c.state = Idle
	c.timer = nil
	c.mu.Unlock()

	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	// The wait for reloadMu may have outlasted a reload that notified less
	// than delay ago. Notifications stay at least delay apart.
	c.mu.Lock()
	if c.state != Idle || c.generation != gen {
		c.mu.Unlock()
		return
	}
	if !c.lastNotify.IsZero() {
		if wait := c.lastNotify.Add(c.delay).Sub(c.clock.Now()); wait > 0 {
			c.scheduleLocked(wait)
			c.mu.Unlock()
			return
		}
	}
	c.mu.Unlock()

	_, span := c.tracer.Start(context.Background(), "reload "+c.widgetID,
		trace.WithAttributes(attribute.String("widget.id", c.widgetID)))
	defer span.End()

	start := c.clock.Now()
	err := c.source.Reload()

	if c.State() == Closed {
		span.SetStatus(codes.Error, "closed")
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.WithError(err).Warn("Reload failed, keeping previous data")
		c.markNotified()
		c.notifier.NotifyReloadFailed(c.widgetID, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	c.logger.WithField("elapsed", c.clock.Now().Sub(start)).Debug("Reloaded")
	c.markNotified()
	c.notifier.NotifyViewDataChanged(c.widgetID, c.viewID)
}

func (c *Coordinator) markNotified() {
	c.mu.Lock()
	c.lastNotify = c.clock.Now()
	c.mu.Unlock()
}
