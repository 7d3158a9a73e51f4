// Package worker implements a single acceptor loop feeding a bounded
// connection queue, and a fixed number of long-lived workers draining it
// and running the request handler.
package worker

import (
	"context"
	"net"

	"github.com/proxylab/cacheproxy/internal/handler"
	"github.com/proxylab/cacheproxy/internal/metrics"
	"github.com/proxylab/cacheproxy/internal/queue"
)

// DefaultPoolSize is the worker count used when configuration doesn't
// override it.
const DefaultPoolSize = 4

// Control is a stable index into the pool, recorded at startup and
// read-only thereafter, used to correlate a worker's log lines across its
// lifetime.
type Control struct {
	WorkerID int
}

// Pool owns the worker goroutines and the queue they drain.
type Pool struct {
	size    int
	queue   *queue.Queue
	handler *handler.Handler
	metrics *metrics.Metrics
}

// New constructs a Pool of size workers draining q through h.
func New(size int, q *queue.Queue, h *handler.Handler) *Pool {
	return &Pool{size: size, queue: q, handler: h}
}

// WithMetrics attaches Prometheus instrumentation and returns p. Wired in,
// the pool reports the queue's occupancy every time a worker dequeues a
// connection.
func (p *Pool) WithMetrics(m *metrics.Metrics) *Pool {
	p.metrics = m
	return p
}

// Run starts size worker goroutines and blocks until ctx is done, at
// which point all workers stop pulling from the queue and Run returns.
// Each worker loops: dequeue, serve, close.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{}, p.size)
	for i := 0; i < p.size; i++ {
		go p.runWorker(ctx, Control{WorkerID: i}, done)
	}
	for i := 0; i < p.size; i++ {
		<-done
	}
}

func (p *Pool) runWorker(ctx context.Context, ctrl Control, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		conn, err := p.queue.Remove(ctx)
		if err != nil {
			return
		}
		if p.metrics != nil {
			p.metrics.SetQueueDepth(p.queue.Len())
		}
		p.serveOne(ctx, ctrl, conn)
	}
}

// serveOne runs the handler over conn and unconditionally closes it
// afterward, regardless of how Serve returned.
func (p *Pool) serveOne(ctx context.Context, ctrl Control, conn net.Conn) {
	defer conn.Close()
	p.handler.Serve(ctx, conn, ctrl.WorkerID)
}

// Acceptor is the single producer loop: it accepts connections from a
// listener and inserts them into the queue.
type Acceptor struct {
	ln      net.Listener
	queue   *queue.Queue
	metrics *metrics.Metrics
}

// NewAcceptor constructs an Acceptor over ln feeding q.
func NewAcceptor(ln net.Listener, q *queue.Queue) *Acceptor {
	return &Acceptor{ln: ln, queue: q}
}

// WithMetrics attaches Prometheus instrumentation and returns a.
func (a *Acceptor) WithMetrics(m *metrics.Metrics) *Acceptor {
	a.metrics = m
	return a
}

// Run accepts connections until ctx is done or Accept fails (typically
// because the listener was closed during shutdown), inserting each into
// the queue. A connection that cannot be inserted before ctx is done is
// closed without being served.
func (a *Acceptor) Run(ctx context.Context) error {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if err := a.queue.Insert(ctx, conn); err != nil {
			conn.Close()
			return nil
		}
		if a.metrics != nil {
			a.metrics.SetQueueDepth(a.queue.Len())
		}
	}
}
