package job

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gerrors "github.com/mhbvr/gallery/errors"
	"github.com/mhbvr/gallery/logging"
)

var executorClosed = errors.New("executor closed")

// DefaultMaxInFlight matches the core pool size of the gallery thread pool.
const DefaultMaxInFlight = 4

type Option func(*Executor)

// Executor runs submitted jobs off the caller's goroutine, with at most
// maxInFlight of them running at the same time. Submission never blocks;
// jobs waiting for a slot stay Pending and can still be cancelled.
type Executor struct {
	ctx         context.Context
	cancelCause context.CancelCauseFunc

	maxInFlight int
	tokens      chan struct{} // One token per running job slot

	logger  *log.Entry
	metrics *Metrics
	tracer  trace.Tracer
}

// NewExecutor creates an executor bound to ctx. Cancelling ctx has the same
// effect as Close.
func NewExecutor(ctx context.Context, opts ...Option) (*Executor, error) {
	res := &Executor{
		maxInFlight: DefaultMaxInFlight,
		logger:      logging.Discard(),
		tracer:      otel.Tracer("job"),
	}

	for _, opt := range opts {
		opt(res)
	}

	if res.maxInFlight <= 0 {
		return nil, fmt.Errorf("maxInFlight <= 0")
	}

	res.tokens = make(chan struct{}, res.maxInFlight)
	for i := 0; i < res.maxInFlight; i++ {
		res.tokens <- struct{}{}
	}

	res.ctx, res.cancelCause = context.WithCancelCause(ctx)

	res.logger.WithField("maxInFlight", res.maxInFlight).Info("Starting executor")
	return res, nil
}

func WithMaxInFlight(maxInFlight int) Option {
	return func(e *Executor) {
		e.maxInFlight = maxInFlight
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = t
	}
}

// MaxInFlight returns the number of job slots.
func (e *Executor) MaxInFlight() int {
	return e.maxInFlight
}

// Close cancels every pending and running job. Jobs submitted afterwards
// are cancelled immediately.
func (e *Executor) Close() {
	e.cancelCause(executorClosed)
	e.logger.Info("Executor closed")
}

// Submit schedules fn and returns its handle right away. The optional
// listener is called from the executing goroutine once the job completes or
// fails.
func Submit[T any](e *Executor, name string, fn Func[T], listener ...Listener[T]) *Handle[T] {
	var l Listener[T]
	if len(listener) > 0 {
		l = listener[0]
	}
	h := newHandle(e.ctx, name, l)
	e.metrics.submitted()
	go run(e, h, fn)
	return h
}

func run[T any](e *Executor, h *Handle[T], fn Func[T]) {
	select {
	case <-h.ctx.Done():
		// Cancelled while waiting for a slot
		if h.abort(context.Cause(h.ctx)) {
			e.logger.WithField(logging.FieldJob, h.name).Debug("Job cancelled before start")
		}
		e.metrics.finished(Cancelled)
		return
	case <-e.tokens:
	}

	defer func() {
		e.tokens <- struct{}{}
	}()

	if !h.start() {
		e.metrics.finished(Cancelled)
		return
	}

	ctx, span := e.tracer.Start(h.ctx, "job "+h.name)
	defer span.End()

	e.metrics.started()
	start := time.Now()
	result, err := call(e, ctx, h.name, fn)
	h.finish(result, err)
	elapsed := time.Since(start)

	state := h.State()
	e.metrics.stopped(state, elapsed)
	e.metrics.finished(state)
	span.SetAttributes(attribute.String("job.state", state.String()))

	switch state {
	case Failed:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.WithError(err).WithField(logging.FieldJob, h.name).Debug("Job failed")
	case Cancelled:
		span.SetStatus(codes.Error, "cancelled")
	default:
		span.SetStatus(codes.Ok, "")
	}
}

// call runs fn and turns a panic into an Internal error so the job fails
// instead of taking the process down.
func call[T any](e *Executor, ctx context.Context, name string, fn Func[T]) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField(logging.FieldJob, name).
				WithField("stack", string(debug.Stack())).
				Errorf("Job panicked: %v", r)
			var zero T
			result = zero
			err = gerrors.NewInternal(fmt.Sprintf("job %s panicked: %v", name, r))
		}
	}()
	return fn(ctx)
}
