package job

import (
	"context"
	"sync"

	gerrors "github.com/mhbvr/gallery/errors"
)

// State is the lifecycle state of a job. Completed, Failed and Cancelled are
// terminal: once reached, the state never changes again.
type State int32

const (
	Pending State = iota
	Running
	Completed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Func is a unit of work. It should watch ctx and return early once it is
// done; cancellation is advisory.
type Func[T any] func(ctx context.Context) (T, error)

// Listener receives the outcome of a job that completed or failed. It is
// never called for a cancelled job.
type Listener[T any] func(result T, err error)

// Handle is the caller side of a submitted job.
type Handle[T any] struct {
	name   string
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu       sync.Mutex
	state    State
	result   T
	err      error
	done     chan struct{}
	listener Listener[T]
}

func newHandle[T any](parent context.Context, name string, listener Listener[T]) *Handle[T] {
	ctx, cancel := context.WithCancelCause(parent)
	return &Handle[T]{
		name:     name,
		ctx:      ctx,
		cancel:   cancel,
		state:    Pending,
		done:     make(chan struct{}),
		listener: listener,
	}
}

// Name returns the name the job was submitted with.
func (h *Handle[T]) Name() string {
	return h.name
}

// State returns the current state.
func (h *Handle[T]) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the job reaches a terminal state.
func (h *Handle[T]) Done() <-chan struct{} {
	return h.done
}

// IsCancelled reports whether the job ended in the Cancelled state.
func (h *Handle[T]) IsCancelled() bool {
	return h.State() == Cancelled
}

// Cancel moves a pending or running job to Cancelled and interrupts its
// context. The result of a cancelled job is never delivered. Cancelling a
// finished job does nothing.
func (h *Handle[T]) Cancel() {
	h.abort(gerrors.NewCancelled("job " + h.name + " cancelled"))
}

// Await blocks until the job finishes or ctx is done. Giving up on ctx does
// not cancel the job.
func (h *Handle[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		var zero T
		return zero, gerrors.NewCancelled("await " + h.name).WithCause(context.Cause(ctx))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, h.err
}

// start moves the job to Running. It returns false if the job was
// cancelled before it got a chance to run.
func (h *Handle[T]) start() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Pending {
		return false
	}
	h.state = Running
	return true
}

func (h *Handle[T]) abort(cause error) bool {
	h.mu.Lock()
	if h.state.Terminal() {
		h.mu.Unlock()
		return false
	}
	h.state = Cancelled
	if _, ok := cause.(*gerrors.Err); !ok {
		cause = gerrors.NewCancelled("job " + h.name + " cancelled").WithCause(cause)
	}
	h.err = cause
	close(h.done)
	h.mu.Unlock()

	h.cancel(cause)
	return true
}

// finish stores the outcome and notifies the listener. A job whose context
// was cancelled while it ran ends up Cancelled whatever fn returned.
func (h *Handle[T]) finish(result T, err error) bool {
	if h.ctx.Err() != nil {
		return h.abort(context.Cause(h.ctx))
	}

	h.mu.Lock()
	if h.state.Terminal() {
		h.mu.Unlock()
		return false
	}
	if err != nil {
		h.state = Failed
		h.err = err
	} else {
		h.state = Completed
		h.result = result
	}
	close(h.done)
	listener := h.listener
	h.mu.Unlock()

	h.cancel(nil)
	if listener != nil {
		listener(result, err)
	}
	return true
}
