package job

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	gerrors "github.com/mhbvr/gallery/errors"
)

func newTestExecutor(t *testing.T, opts ...Option) *Executor {
	t.Helper()
	e, err := NewExecutor(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func awaitTimeout[T any](t *testing.T, h *Handle[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.Await(ctx)
}

// TestNewExecutor tests the Executor constructor with various parameters
func TestNewExecutor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{
			name: "defaults",
		},
		{
			name: "custom in flight",
			opts: []Option{WithMaxInFlight(8)},
		},
		{
			name:    "zero in flight",
			opts:    []Option{WithMaxInFlight(0)},
			wantErr: true,
		},
		{
			name:    "negative in flight",
			opts:    []Option{WithMaxInFlight(-1)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewExecutor(context.Background(), tt.opts...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			e.Close()
		})
	}
}

func TestSubmitCompletes(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t)

	var got atomic.Int64
	h := Submit(e, "answer", func(ctx context.Context) (int, error) {
		return 42, nil
	}, func(v int, err error) {
		got.Store(int64(v))
	})

	v, err := awaitTimeout(t, h)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, Completed, h.State())
	assert.Eventually(t, func() bool { return got.Load() == 42 }, time.Second, time.Millisecond)
}

func TestSubmitFails(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t)

	listenerErr := make(chan error, 1)
	h := Submit(e, "broken", func(ctx context.Context) (string, error) {
		return "", gerrors.NewDecodeFailure("bad bytes")
	}, func(_ string, err error) {
		listenerErr <- err
	})

	_, err := awaitTimeout(t, h)
	assert.ErrorIs(t, err, gerrors.ErrDecodeFailure)
	assert.Equal(t, Failed, h.State())

	select {
	case err := <-listenerErr:
		assert.ErrorIs(t, err, gerrors.ErrDecodeFailure)
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
}

func TestCancelBeforeCompletion(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t)

	started := make(chan struct{})
	release := make(chan struct{})
	var delivered atomic.Bool

	// The job ignores its context and returns a value after cancellation.
	h := Submit(e, "stubborn", func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 1, nil
	}, func(int, error) {
		delivered.Store(true)
	})

	<-started
	h.Cancel()
	close(release)

	_, err := awaitTimeout(t, h)
	assert.ErrorIs(t, err, gerrors.ErrCancelled)
	assert.True(t, h.IsCancelled())

	// Give the job goroutine time to return its value.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Cancelled, h.State())
	assert.False(t, delivered.Load(), "listener fired for a cancelled job")
}

func TestCancelInterruptsContext(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t)

	started := make(chan struct{})
	h := Submit(e, "polite", func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})

	<-started
	h.Cancel()

	_, err := awaitTimeout(t, h)
	assert.ErrorIs(t, err, gerrors.ErrCancelled)
}

func TestCancelAfterCompletionIsNoop(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t)

	h := Submit(e, "quick", func(ctx context.Context) (int, error) {
		return 7, nil
	})
	v, err := awaitTimeout(t, h)
	require.NoError(t, err)

	assert.NotPanics(t, h.Cancel)
	assert.NotPanics(t, h.Cancel)
	assert.Equal(t, Completed, h.State())

	v2, err := awaitTimeout(t, h)
	require.NoError(t, err)
	assert.Equal(t, v, v2)
}

func TestCancelPendingJobNeverRuns(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t, WithMaxInFlight(1))

	release := make(chan struct{})
	blocker := Submit(e, "blocker", func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	})

	var ran atomic.Bool
	pending := Submit(e, "pending", func(ctx context.Context) (int, error) {
		ran.Store(true)
		return 0, nil
	})
	pending.Cancel()
	close(release)

	_, err := awaitTimeout(t, blocker)
	require.NoError(t, err)
	_, err = awaitTimeout(t, pending)
	assert.ErrorIs(t, err, gerrors.ErrCancelled)

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestSubmitNeverBlocks(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t, WithMaxInFlight(1))

	release := make(chan struct{})
	handles := make([]*Handle[int], 0, 100)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			handles = append(handles, Submit(e, "wait", func(ctx context.Context) (int, error) {
				<-release
				return 0, nil
			}))
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked with a full executor")
	}

	close(release)
	for _, h := range handles {
		_, err := awaitTimeout(t, h)
		require.NoError(t, err)
	}
}

func TestMaxInFlight(t *testing.T) {
	t.Parallel()
	const limit = 3
	e := newTestExecutor(t, WithMaxInFlight(limit))

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		h := Submit(e, "count", func(ctx context.Context) (int, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return 0, nil
		})
		go func() {
			defer wg.Done()
			_, _ = awaitTimeout(t, h)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(limit))
	assert.Greater(t, peak.Load(), int32(0))
}

func TestExecutorClose(t *testing.T) {
	t.Parallel()
	e, err := NewExecutor(context.Background(), WithMaxInFlight(1))
	require.NoError(t, err)

	started := make(chan struct{})
	running := Submit(e, "running", func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	<-started

	e.Close()

	_, err = awaitTimeout(t, running)
	assert.ErrorIs(t, err, gerrors.ErrCancelled)
	assert.True(t, errors.Is(err, executorClosed))

	late := Submit(e, "late", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	_, err = awaitTimeout(t, late)
	assert.ErrorIs(t, err, gerrors.ErrCancelled)
}

func TestAwaitContext(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t)

	release := make(chan struct{})
	defer close(release)
	h := Submit(e, "slow", func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := h.Await(ctx)
	assert.ErrorIs(t, err, gerrors.ErrCancelled)

	// Giving up on Await does not cancel the job itself.
	assert.NotEqual(t, Cancelled, h.State())
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	e := newTestExecutor(t, WithMetrics(m))

	ok := Submit(e, "ok", func(ctx context.Context) (int, error) { return 1, nil })
	bad := Submit(e, "bad", func(ctx context.Context) (int, error) {
		return 0, gerrors.NewDecodeFailure("x")
	})
	_, _ = awaitTimeout(t, ok)
	_, _ = awaitTimeout(t, bad)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Finished.WithLabelValues("completed")) == 1 &&
			testutil.ToFloat64(m.Finished.WithLabelValues("failed")) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Submitted))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Running))
}

func TestSpans(t *testing.T) {
	t.Parallel()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	e := newTestExecutor(t, WithTracer(tp.Tracer("test")))

	ok := Submit(e, "ok", func(ctx context.Context) (int, error) { return 1, nil })
	bad := Submit(e, "bad", func(ctx context.Context) (int, error) { return 0, errors.New("boom") })
	_, err := awaitTimeout(t, ok)
	require.NoError(t, err)
	_, err = awaitTimeout(t, bad)
	require.Error(t, err)

	require.Eventually(t, func() bool { return len(recorder.Ended()) == 2 }, 2*time.Second, 5*time.Millisecond)
	states := map[string]string{}
	for _, span := range recorder.Ended() {
		states[span.Name()] = span.Status().Code.String()
	}
	assert.Equal(t, map[string]string{"job ok": "Ok", "job bad": "Error"}, states)
}

func TestPanicBecomesFailed(t *testing.T) {
	t.Parallel()
	e := newTestExecutor(t, WithMaxInFlight(1))

	h := Submit(e, "nil-map", func(ctx context.Context) (int, error) {
		var m map[string]int
		m["x"] = 1
		return 1, nil
	})
	v, err := awaitTimeout(t, h)
	require.Error(t, err)
	assert.ErrorIs(t, err, gerrors.ErrInternal)
	assert.Contains(t, err.Error(), "nil-map")
	assert.Zero(t, v)
	assert.Equal(t, Failed, h.State())

	// The only slot went back to the executor
	next := Submit(e, "next", func(ctx context.Context) (int, error) {
		return 7, nil
	})
	v, err = awaitTimeout(t, next)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
