package bridge

import (
	"net"
	"sync"

	"github.com/eapache/queue"
)

// dispatcher hands accepted connections to handlers. Without a handler
// limit every connection gets its own goroutine. With one, a fixed set
// of workers drains a FIFO backlog and overflow is refused with a 503.
type dispatcher struct {
	srv     *Server
	workers int
	backlog int

	once    sync.Once
	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.Queue
	closed  bool
}

func newDispatcher(s *Server) *dispatcher {
	d := &dispatcher{srv: s, workers: s.MaxHandlers, backlog: s.Backlog}
	if d.backlog <= 0 {
		d.backlog = DefaultBacklog
	}
	d.cond = sync.NewCond(&d.mu)
	d.pending = queue.New()
	return d
}

func (d *dispatcher) bounded() bool { return d.workers > 0 }

// start launches the workers once. It is a no-op when unbounded.
func (d *dispatcher) start() {
	d.once.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.srv.goTracked(d.work)
		}
	})
}

func (d *dispatcher) dispatch(c net.Conn) {
	if !d.bounded() {
		if !d.srv.goTracked(func() { d.srv.serveConn(c) }) {
			_ = c.Close()
		}
		return
	}
	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		_ = c.Close()
		return
	case d.pending.Length() >= d.backlog:
		d.mu.Unlock()
		d.reject(c)
		return
	}
	d.pending.Add(c)
	d.cond.Signal()
	d.mu.Unlock()
}

// reject answers 503 from its own goroutine so a slow peer cannot stall
// the accept loop.
func (d *dispatcher) reject(c net.Conn) {
	d.srv.meter().Counter("appbridge_backlog_rejected_total", 1)
	ok := d.srv.goTracked(func() {
		h := d.srv.newHandler(c)
		defer h.close()
		h.log.Warn("backlog_full", "backlog", d.backlog)
		// Consume the request so closing does not reset the connection
		// before the client reads the 503.
		_, _ = h.conn.Read(make([]byte, d.srv.readBufferSize()))
		h.writeError(503, "")
	})
	if !ok {
		_ = c.Close()
	}
}

// work serves queued connections until the dispatcher is closed and the
// backlog is empty.
func (d *dispatcher) work() {
	for {
		d.mu.Lock()
		for d.pending.Length() == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.pending.Length() == 0 {
			d.mu.Unlock()
			return
		}
		c := d.pending.Remove().(net.Conn)
		d.mu.Unlock()
		d.srv.serveConn(c)
	}
}

// pendingLen reports the current backlog length.
func (d *dispatcher) pendingLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending.Length()
}

func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
}
