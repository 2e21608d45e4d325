package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		select {
		case err := <-done:
			if !errors.Is(err, ErrServerClosed) {
				t.Errorf("Serve returned %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Serve did not return after Shutdown")
		}
	})
	return ln.Addr().String()
}

func roundTrip(t *testing.T, addr, req string) string {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.Write([]byte(req)); err != nil {
		t.Fatalf("write: %v", err)
	}
	b, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(b)
}

func TestServer_RoundTrip(t *testing.T) {
	s := newTestServer(textApp("200 OK", []HeaderField{{Name: "Content-Type", Value: "text/plain"}}, []byte("hi")))
	addr := startServer(t, s)
	got := roundTrip(t, addr, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	want := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nDate: " + testDate + "\r\nServer: " + testIdent + "\r\n\r\nhi"
	if got != want {
		t.Fatalf("response=%q\nwant    %q", got, want)
	}
}

func TestServer_EnvironPortAndRemote(t *testing.T) {
	envs := make(chan Environ, 1)
	app := AppFunc(func(env Environ, start StartResponse) (Body, error) {
		envs <- env
		return Text(), start("200 OK", nil, nil)
	})
	addr := startServer(t, newTestServer(app))
	roundTrip(t, addr, "GET / HTTP/1.1\r\n\r\n")
	env := <-envs
	_, port, _ := net.SplitHostPort(addr)
	if env.ServerPort != port {
		t.Fatalf("SERVER_PORT=%q want %q", env.ServerPort, port)
	}
	if !strings.HasPrefix(env.RemoteAddr, "127.0.0.1:") {
		t.Fatalf("REMOTE_ADDR=%q", env.RemoteAddr)
	}
}

func TestServer_ConcurrentConnections(t *testing.T) {
	app := AppFunc(func(env Environ, start StartResponse) (Body, error) {
		_ = start("200 OK", nil, nil)
		return Text([]byte(env.PathInfo)), nil
	})
	addr := startServer(t, newTestServer(app))

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/req/%d", i)
			c, err := net.Dial("tcp", addr)
			if err != nil {
				errs <- err
				return
			}
			defer c.Close()
			_ = c.SetDeadline(time.Now().Add(5 * time.Second))
			if _, err := c.Write([]byte("GET " + path + " HTTP/1.1\r\n\r\n")); err != nil {
				errs <- err
				return
			}
			b, err := io.ReadAll(c)
			if err != nil {
				errs <- err
				return
			}
			if !strings.HasSuffix(string(b), "\r\n\r\n"+path) {
				errs <- fmt.Errorf("%s: got %q", path, b)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestServer_SlowHandlerDoesNotBlockAccept(t *testing.T) {
	release := make(chan struct{})
	app := AppFunc(func(env Environ, start StartResponse) (Body, error) {
		if env.PathInfo == "/slow" {
			<-release
		}
		_ = start("200 OK", nil, nil)
		return Text([]byte("done")), nil
	})
	addr := startServer(t, newTestServer(app))
	defer close(release)

	slow, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer slow.Close()
	if _, err := slow.Write([]byte("GET /slow HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := roundTrip(t, addr, "GET /fast HTTP/1.1\r\n\r\n"); !strings.HasSuffix(got, "done") {
		t.Fatalf("fast response=%q", got)
	}
}

func TestServer_BacklogOverflowGets503(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 4)
	app := AppFunc(func(env Environ, start StartResponse) (Body, error) {
		entered <- struct{}{}
		<-release
		_ = start("200 OK", nil, nil)
		return Text([]byte("ok")), nil
	})
	s := newTestServer(app)
	s.MaxHandlers = 1
	s.Backlog = 1
	addr := startServer(t, s)

	dial := func(path string) net.Conn {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		_ = c.SetDeadline(time.Now().Add(5 * time.Second))
		if _, err := c.Write([]byte("GET " + path + " HTTP/1.1\r\n\r\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		return c
	}

	busy := dial("/busy")
	defer busy.Close()
	<-entered
	queued := dial("/queued")
	defer queued.Close()
	waitFor(t, func() bool { return s.dispatcher().pendingLen() == 1 })

	got := roundTrip(t, addr, "GET /overflow HTTP/1.1\r\n\r\n")
	if !strings.HasPrefix(got, "HTTP/1.1 503 Service Unavailable\r\n") {
		t.Fatalf("overflow response=%q", got)
	}

	close(release)
	for _, c := range []net.Conn{busy, queued} {
		b, err := io.ReadAll(c)
		if err != nil || !strings.HasSuffix(string(b), "ok") {
			t.Fatalf("queued response=%q err=%v", b, err)
		}
	}
}

func TestServer_ShutdownDrainsInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	app := AppFunc(func(env Environ, start StartResponse) (Body, error) {
		close(entered)
		<-release
		_ = start("200 OK", nil, nil)
		return Text([]byte("finished")), nil
	})
	s := newTestServer(app)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	served := make(chan error, 1)
	go func() { served <- s.Serve(ln) }()

	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	_, _ = c.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	<-entered

	shut := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shut <- s.Shutdown(ctx)
	}()

	if err := <-served; !errors.Is(err, ErrServerClosed) {
		t.Fatalf("Serve returned %v", err)
	}
	select {
	case err := <-shut:
		t.Fatalf("Shutdown returned %v before handler finished", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	if err := <-shut; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	b, _ := io.ReadAll(c)
	if !strings.HasSuffix(string(b), "finished") {
		t.Fatalf("response=%q", b)
	}
}

func TestServer_ShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{})
	app := AppFunc(func(env Environ, start StartResponse) (Body, error) {
		close(entered)
		<-release
		return Text(), start("200 OK", nil, nil)
	})
	s := newTestServer(app)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = s.Serve(ln) }()
	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	_, _ = c.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown err=%v", err)
	}
}

func TestServer_ServeAfterShutdown(t *testing.T) {
	s := newTestServer(textApp("200 OK", nil))
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := s.Serve(ln); !errors.Is(err, ErrServerClosed) {
		t.Fatalf("Serve err=%v", err)
	}
	if _, err := ln.Accept(); err == nil {
		t.Fatal("listener left open")
	}
}

func TestServer_BindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	_, err = Listen(ln.Addr().String(), textApp("200 OK", nil))
	if !errors.Is(err, ErrBind) {
		t.Fatalf("err=%v, want ErrBind", err)
	}
}

func TestServer_ListenAndServeForever(t *testing.T) {
	s, err := Listen("127.0.0.1:0", textApp("200 OK", nil, []byte("bound")))
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s.StaticDate = testDate
	s.ErrorLog = io.Discard
	addr := s.ListenAddr()
	if addr == nil {
		t.Fatal("no listen address after Listen")
	}
	done := make(chan error, 1)
	go func() { done <- s.ServeForever() }()
	if got := roundTrip(t, addr.String(), "GET / HTTP/1.1\r\n\r\n"); !strings.HasSuffix(got, "bound") {
		t.Fatalf("response=%q", got)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrServerClosed) {
		t.Fatalf("ServeForever err=%v", err)
	}
}

func TestServer_AcceptRateLimited(t *testing.T) {
	s := newTestServer(textApp("200 OK", nil, []byte("x")))
	s.AcceptRate = 20
	s.AcceptBurst = 1
	addr := startServer(t, s)
	begin := time.Now()
	for i := 0; i < 3; i++ {
		roundTrip(t, addr, "GET / HTTP/1.1\r\n\r\n")
	}
	if d := time.Since(begin); d < 60*time.Millisecond {
		t.Fatalf("3 accepts at 20/s took %v", d)
	}
}

func TestServer_DefaultDateHeader(t *testing.T) {
	s := &Server{App: textApp("200 OK", nil)}
	hdr := s.serverHeaders()
	if hdr[0].Name != "Date" || !strings.HasSuffix(hdr[0].Value, " GMT") {
		t.Fatalf("date header=%+v", hdr[0])
	}
	if _, err := time.Parse(dateFormat, hdr[0].Value); err != nil {
		t.Fatalf("date %q: %v", hdr[0].Value, err)
	}
	if hdr[1].Value != DefaultIdent {
		t.Fatalf("server header=%q", hdr[1].Value)
	}
}

// flakyListener fails Accept with the queued errors, one per call, before
// handing out real connections. A nil entry passes one call through.
type flakyListener struct {
	net.Listener
	mu   sync.Mutex
	errs []error
}

func (l *flakyListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	var err error
	if len(l.errs) > 0 {
		err, l.errs = l.errs[0], l.errs[1:]
	}
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return l.Listener.Accept()
}

func acceptErr(errno syscall.Errno) error {
	return &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", errno)}
}

func TestServer_AcceptRetriesTemporaryErrors(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fl := &flakyListener{Listener: ln, errs: []error{
		acceptErr(syscall.EMFILE),
		acceptErr(syscall.ENFILE),
		nil,
		acceptErr(syscall.ECONNABORTED),
	}}
	meter := &recMeter{}
	s := newTestServer(textApp("200 OK", nil, []byte("up")))
	s.Meter = meter
	var mu sync.Mutex
	var delays []time.Duration
	s.sleep = func(d time.Duration) {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
	}
	done := make(chan error, 1)
	go func() { done <- s.Serve(fl) }()

	for i := 0; i < 2; i++ {
		if got := roundTrip(t, ln.Addr().String(), "GET / HTTP/1.1\r\n\r\n"); !strings.HasSuffix(got, "up") {
			t.Fatalf("request %d: response=%q", i, got)
		}
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrServerClosed) {
		t.Fatalf("Serve err=%v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{5 * time.Millisecond, 10 * time.Millisecond, 5 * time.Millisecond}
	if fmt.Sprint(delays) != fmt.Sprint(want) {
		t.Fatalf("retry delays=%v want %v", delays, want)
	}
	if got := meter.get("appbridge_accept_errors_total"); got != 3 {
		t.Fatalf("accept errors=%v", got)
	}
}

func TestServer_AcceptPermanentErrorStopsServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	boom := errors.New("listener broken")
	s := newTestServer(textApp("200 OK", nil))
	if err := s.Serve(&flakyListener{Listener: ln, errs: []error{boom}}); !errors.Is(err, boom) {
		t.Fatalf("Serve err=%v", err)
	}
	if _, err := ln.Accept(); err == nil {
		t.Fatal("listener left open")
	}
}

func TestBackoff(t *testing.T) {
	var d time.Duration
	var got []time.Duration
	for i := 0; i < 10; i++ {
		d = backoff(d)
		got = append(got, d)
	}
	if got[0] != 5*time.Millisecond || got[1] != 10*time.Millisecond || got[9] != time.Second {
		t.Fatalf("backoff sequence=%v", got)
	}
}

func TestTemporaryAccept(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ECONNABORTED, syscall.ENOBUFS, syscall.ENOMEM} {
		if !temporaryAccept(acceptErr(errno)) {
			t.Errorf("%v not retried", errno)
		}
	}
	if temporaryAccept(net.ErrClosed) || temporaryAccept(errors.New("x")) {
		t.Error("permanent error classified as temporary")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
