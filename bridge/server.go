package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"dqx0.com/go/appbridge/internal/obs"
	"dqx0.com/go/appbridge/internal/sockopt"
)

const (
	// DefaultReadBufferSize bounds the request line and headers read from
	// each connection. Anything beyond it is dropped.
	DefaultReadBufferSize = 1024
	DefaultIdent          = "appbridge/0.2"
	DefaultBacklog        = 64

	dateFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
)

// Server accepts TCP connections and serves one request per connection
// through App.
type Server struct {
	Addr string
	App  Application

	// ServerName is reported as SERVER_NAME. Defaults to the host name.
	ServerName string
	// Ident is the value of the injected Server header.
	Ident string
	// StaticDate, when set, is used verbatim as the injected Date header.
	// Otherwise the current time is used.
	StaticDate     string
	ReadBufferSize int
	Detection      BinaryDetection

	// MaxHandlers bounds concurrent handlers. Zero starts one goroutine
	// per connection with no limit.
	MaxHandlers int
	// Backlog is how many accepted connections may wait for a handler
	// when MaxHandlers is set. Further connections get a 503.
	Backlog int
	// AcceptRate limits accepted connections per second when positive.
	AcceptRate  float64
	AcceptBurst int

	// ErrorLog is exposed to applications as wsgi.errors. Defaults to
	// os.Stderr.
	ErrorLog io.Writer
	Logger   *slog.Logger
	Meter    obs.Meter

	mu       sync.Mutex
	ln       net.Listener
	port     string
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
	handlers sync.WaitGroup
	disp     *dispatcher
	serving  atomic.Bool

	// sleep replaces the accept retry pause in tests.
	sleep func(time.Duration)
}

// Listen binds addr and returns a Server ready for ServeForever.
func Listen(addr string, app Application) (*Server, error) {
	s := &Server{Addr: addr, App: app}
	if err := s.Bind(); err != nil {
		return nil, err
	}
	return s, nil
}

// Bind acquires the listening socket. Errors match ErrBind.
func (s *Server) Bind() error {
	addr := s.Addr
	if addr == "" {
		addr = ":8888"
	}
	lc := sockopt.ListenConfig()
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %w", ErrBind, addr, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	return nil
}

// ListenAddr returns the bound address, or nil before Bind.
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) ListenAndServe() error {
	if s.ListenAddr() == nil {
		if err := s.Bind(); err != nil {
			return err
		}
	}
	return s.ServeForever()
}

// ServeForever serves the listener acquired by Bind.
func (s *Server) ServeForever() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("%w: not bound", ErrBind)
	}
	return s.Serve(ln)
}

// Serve accepts connections on l until Shutdown is called or Accept
// fails permanently. Each connection is handed to its own handler and
// the loop goes straight back to Accept.
func (s *Server) Serve(l net.Listener) error {
	if s.App == nil {
		return errors.New("appbridge: Server.App is nil")
	}
	ctx, err := s.track(l)
	if err != nil {
		l.Close()
		return err
	}
	defer l.Close()
	s.serving.Store(true)
	defer s.serving.Store(false)

	d := s.dispatcher()
	d.start()

	var limiter *rate.Limiter
	if s.AcceptRate > 0 {
		burst := s.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(s.AcceptRate), burst)
	}
	s.logger().Info("server_serving", "addr", l.Addr().String(), "server_name", s.serverName(),
		"max_handlers", s.MaxHandlers, "detection", s.Detection.String())

	var delay time.Duration
	for {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return ErrServerClosed
			}
		}
		c, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if temporaryAccept(err) {
				delay = backoff(delay)
				s.logger().Warn("accept_failed", "error", err, "retry_in", delay)
				s.meter().Counter("appbridge_accept_errors_total", 1)
				s.pause(ctx, delay)
				continue
			}
			s.logger().Error("accept_failed_permanently", "error", err)
			return err
		}
		delay = 0
		s.meter().Counter("appbridge_conns_accepted_total", 1)
		d.dispatch(c)
	}
}

// Shutdown stops accepting, lets queued and running handlers finish and
// waits for them until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	ln, cancel := s.ln, s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.dispatcher().close()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger().Info("server_drained")
		return nil
	case <-ctx.Done():
		s.logger().Warn("server_drain_timeout", "error", ctx.Err())
		return ctx.Err()
	}
}

// Serving reports whether the accept loop is running.
func (s *Server) Serving() bool {
	return s.serving.Load()
}

func (s *Server) track(l net.Listener) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServerClosed
	}
	s.ln = l
	if _, port, err := net.SplitHostPort(l.Addr().String()); err == nil {
		s.port = port
	}
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	return s.ctx, nil
}

// goTracked runs fn in a goroutine Shutdown waits for. It returns false
// without running fn once Shutdown has begun.
func (s *Server) goTracked(fn func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.handlers.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.handlers.Done()
		fn()
	}()
	return true
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Server) dispatcher() *dispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disp == nil {
		s.disp = newDispatcher(s)
	}
	return s.disp
}

// info describes the server to the environ builder. The port comes from
// the listener, or from the connection's local address when serveConn is
// used without one.
func (s *Server) info(c net.Conn) serverInfo {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == "" && c.LocalAddr() != nil {
		if _, p, err := net.SplitHostPort(c.LocalAddr().String()); err == nil {
			port = p
		}
	}
	errw := s.ErrorLog
	if errw == nil {
		errw = os.Stderr
	}
	return serverInfo{name: s.serverName(), port: port, errors: errw}
}

func (s *Server) serverName() string {
	if s.ServerName != "" {
		return s.ServerName
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "localhost"
}

// serverHeaders returns the Date and Server headers appended to every
// response.
func (s *Server) serverHeaders() []HeaderField {
	date := s.StaticDate
	if date == "" {
		date = time.Now().UTC().Format(dateFormat)
	}
	ident := s.Ident
	if ident == "" {
		ident = DefaultIdent
	}
	return []HeaderField{{Name: "Date", Value: date}, {Name: "Server", Value: ident}}
}

func (s *Server) readBufferSize() int {
	if s.ReadBufferSize <= 0 {
		return DefaultReadBufferSize
	}
	return s.ReadBufferSize
}

func (s *Server) logger() *slog.Logger {
	return obs.OrDiscard(s.Logger)
}

func (s *Server) meter() obs.Meter {
	if s.Meter != nil {
		return s.Meter
	}
	return obs.NopMeter{}
}

// pause waits d before the next Accept, returning early on Shutdown.
func (s *Server) pause(ctx context.Context, d time.Duration) {
	if s.sleep != nil {
		s.sleep(d)
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// temporaryAccept reports whether a failed Accept may succeed when
// retried: timeouts, descriptor exhaustion, memory pressure and
// connections reset before they were accepted.
func temporaryAccept(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ECONNABORTED, syscall.ENOBUFS, syscall.ENOMEM} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
