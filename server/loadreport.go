package main

import (
	"sync"
	"time"

	"google.golang.org/grpc/orca"
)

// LoadReporter publishes how busy image serving is as ORCA server metrics,
// streamed to load balancers by the gRPC ORCA service. Utilization is the
// time spent serving images over a window divided by the window length.
type LoadReporter struct {
	recorder orca.ServerMetricsRecorder
	every    int
	now      func() time.Time

	mu          sync.Mutex
	windowStart time.Time
	requests    int
	busy        time.Duration
}

// NewLoadReporter publishes new values after every requests served.
func NewLoadReporter(every int) *LoadReporter {
	if every <= 0 {
		every = 1
	}
	return &LoadReporter{
		recorder:    orca.NewServerMetricsRecorder(),
		every:       every,
		now:         time.Now,
		windowStart: time.Now(),
	}
}

func (l *LoadReporter) ServerMetricsProvider() orca.ServerMetricsProvider {
	return l.recorder
}

// RecordRequest accounts one served image request.
func (l *LoadReporter) RecordRequest(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests++
	l.busy += d
	if l.requests >= l.every {
		l.publish()
	}
}

func (l *LoadReporter) publish() {
	now := l.now()
	window := now.Sub(l.windowStart)
	if window <= 0 {
		return
	}
	l.recorder.SetApplicationUtilization(float64(l.busy) / float64(window))
	l.recorder.SetQPS(float64(l.requests) / window.Seconds())

	l.requests = 0
	l.busy = 0
	l.windowStart = now
}
