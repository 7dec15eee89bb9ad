// Package bufpool provides a fixed-capacity pool of fixed-size byte
// buffers shared by concurrent decode jobs.
package bufpool

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	gerrors "github.com/mhbvr/gallery/errors"
)

const (
	DefaultCapacity   = 4
	DefaultBufferSize = 200 * 1024
)

// Policy decides what Acquire does when every buffer is checked out.
type Policy int

const (
	// Block waits until a buffer is released or the context is done.
	Block Policy = iota
	// FailFast returns a ResourceExhaustion error right away.
	FailFast
)

func (p Policy) String() string {
	switch p {
	case Block:
		return "block"
	case FailFast:
		return "failfast"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the names produced by String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "block", "":
		return Block, nil
	case "failfast", "fail-fast":
		return FailFast, nil
	default:
		return 0, fmt.Errorf("unknown pool policy %q", s)
	}
}

// Buffer is a pool-owned byte slice of exactly the pool's buffer size.
// Offset and Length describe the valid part of Data.
type Buffer struct {
	Data   []byte
	Offset int
	Length int

	pool *Pool
	out  bool // Checked out, guarded by pool.mu
}

// Bytes returns the valid part of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.Data[b.Offset : b.Offset+b.Length]
}

// Reset marks the buffer empty.
func (b *Buffer) Reset() {
	b.Offset = 0
	b.Length = 0
}

// ReadFrom fills the buffer from r. The buffer never grows: if r holds more
// than len(Data) bytes, ReadFrom returns io.ErrShortBuffer.
func (b *Buffer) ReadFrom(r io.Reader) (int64, error) {
	b.Reset()
	n, err := io.ReadFull(r, b.Data)
	b.Length = n
	switch err {
	case io.EOF, io.ErrUnexpectedEOF:
		return int64(n), nil
	case nil:
		var probe [1]byte
		if m, _ := r.Read(probe[:]); m > 0 {
			return int64(n), io.ErrShortBuffer
		}
		return int64(n), nil
	default:
		return int64(n), err
	}
}

type Option func(*Pool)

// WithPolicy sets the exhaustion policy. The default is Block.
func WithPolicy(policy Policy) Option {
	return func(p *Pool) {
		p.policy = policy
	}
}

// Pool hands out at most capacity buffers of size bytes each. Buffers are
// allocated lazily and recycled; they are never freed individually.
type Pool struct {
	size     int
	capacity int
	policy   Policy

	free chan *Buffer // Released buffers, FIFO

	mu          sync.Mutex
	allocated   int
	outstanding int

	closed    chan struct{}
	closeOnce sync.Once

	capacityDesc    *prometheus.Desc
	allocatedDesc   *prometheus.Desc
	outstandingDesc *prometheus.Desc
}

// New creates a pool of capacity buffers of size bytes.
func New(capacity, size int, opts ...Option) (*Pool, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity <= 0")
	}
	if size <= 0 {
		return nil, fmt.Errorf("buffer size <= 0")
	}

	p := &Pool{
		size:     size,
		capacity: capacity,
		free:     make(chan *Buffer, capacity),
		closed:   make(chan struct{}),
		capacityDesc: prometheus.NewDesc("gallery_bufpool_capacity",
			"Maximum number of buffers in the pool", nil, nil),
		allocatedDesc: prometheus.NewDesc("gallery_bufpool_allocated",
			"Number of buffers allocated so far", nil, nil),
		outstandingDesc: prometheus.NewDesc("gallery_bufpool_outstanding",
			"Number of buffers currently checked out", nil, nil),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pool) Capacity() int  { return p.capacity }
func (p *Pool) Size() int      { return p.size }
func (p *Pool) Policy() Policy { return p.policy }

// Allocated returns the number of buffers created so far.
func (p *Pool) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// Outstanding returns the number of buffers currently checked out.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Acquire checks out a buffer. When none is free and capacity is reached it
// blocks or fails according to the pool policy.
func (p *Pool) Acquire(ctx context.Context) (*Buffer, error) {
	select {
	case <-p.closed:
		return nil, gerrors.NewResourceUnavailable("buffer pool closed")
	case b := <-p.free:
		return p.checkout(b), nil
	default:
	}

	p.mu.Lock()
	if p.allocated < p.capacity {
		p.allocated++
		b := &Buffer{Data: make([]byte, p.size), pool: p}
		b.out = true
		p.outstanding++
		p.mu.Unlock()
		return b, nil
	}
	if p.policy == FailFast {
		// Release hands buffers back under p.mu, so every buffer that is
		// not outstanding is in p.free by now.
		select {
		case b := <-p.free:
			b.out = true
			p.outstanding++
			p.mu.Unlock()
			return b, nil
		default:
		}
		p.mu.Unlock()
		return nil, gerrors.NewResourceExhaustion(fmt.Sprintf("all %d buffers checked out", p.capacity))
	}
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, gerrors.NewCancelled("waiting for buffer").WithCause(context.Cause(ctx))
	case <-p.closed:
		return nil, gerrors.NewResourceUnavailable("buffer pool closed")
	case b := <-p.free:
		return p.checkout(b), nil
	}
}

func (p *Pool) checkout(b *Buffer) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	b.out = true
	p.outstanding++
	return b
}

// Release returns b to the pool. Releasing a buffer twice or a buffer of
// another pool panics.
func (p *Pool) Release(b *Buffer) {
	if b == nil || b.pool != p {
		panic("bufpool: release of a buffer not owned by this pool")
	}

	p.mu.Lock()
	if !b.out {
		p.mu.Unlock()
		panic("bufpool: buffer released twice")
	}
	b.out = false
	p.outstanding--
	b.Reset()
	// At most capacity buffers exist, so the channel always has room.
	p.free <- b
	p.mu.Unlock()
}

// Close wakes blocked acquirers and makes further Acquire calls fail.
// Buffers still checked out may be released afterwards.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
	})
}

// Describe implements prometheus.Collector.
func (p *Pool) Describe(ch chan<- *prometheus.Desc) {
	ch <- p.capacityDesc
	ch <- p.allocatedDesc
	ch <- p.outstandingDesc
}

// Collect implements prometheus.Collector.
func (p *Pool) Collect(ch chan<- prometheus.Metric) {
	p.mu.Lock()
	allocated, outstanding := p.allocated, p.outstanding
	p.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(p.capacityDesc, prometheus.GaugeValue, float64(p.capacity))
	ch <- prometheus.MustNewConstMetric(p.allocatedDesc, prometheus.GaugeValue, float64(allocated))
	ch <- prometheus.MustNewConstMetric(p.outstandingDesc, prometheus.GaugeValue, float64(outstanding))
}
