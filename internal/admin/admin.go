// Package admin serves health, readiness and Prometheus metrics on a
// listener separate from the bridge.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"dqx0.com/go/appbridge/internal/obs"
)

// Server is the admin listener. Ready reports whether the bridge is
// accepting connections; nil means always ready.
type Server struct {
	Gatherer prometheus.Gatherer
	Ready    func() bool
	Version  string
	Logger   *slog.Logger

	srv     *fasthttp.Server
	ln      net.Listener
	metrics fasthttp.RequestHandler
}

// New builds an admin server exposing reg on /metrics.
func New(reg prometheus.Gatherer, ready func() bool, version string, log *slog.Logger) *Server {
	s := &Server{Gatherer: reg, Ready: ready, Version: version, Logger: obs.OrDiscard(log)}
	if reg != nil {
		s.metrics = fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	s.srv = &fasthttp.Server{
		Handler:            s.Handle,
		Name:               "appbridge-admin",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1 << 16,
	}
	return s
}

// Listen binds addr. Use Addr for the bound address.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	return nil
}

func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start serves in the background and returns a channel that delivers the
// serve error, if any.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	if s.ln == nil {
		errCh <- errors.New("admin: not listening")
		return errCh
	}
	s.Logger.Info("admin_listening", "addr", s.ln.Addr().String())
	go func() {
		if err := s.srv.Serve(s.ln); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops the listener and waits for open requests, giving up when
// ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.srv.Shutdown() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle routes admin requests.
func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz", "/health":
		s.healthz(ctx)
	case "/readyz":
		s.readyz(ctx)
	case "/metrics":
		if s.metrics == nil {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		s.metrics(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		ctx.SetContentType("application/json")
		_, _ = ctx.WriteString("{\"error\":\"not found\"}")
	}
}

func (s *Server) healthz(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	_, _ = ctx.WriteString("{\"status\":\"ok\"}")
}

type readiness struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) readyz(ctx *fasthttp.RequestCtx) {
	ctx.SetContentType("application/json")
	if s.Ready != nil && !s.Ready() {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
		_, _ = ctx.WriteString("{\"status\":\"not ready\"}")
		return
	}
	ver := s.Version
	if ver == "" {
		ver = "dev"
	}
	body, err := json.Marshal(readiness{Status: "ok", Version: ver})
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	_, _ = ctx.Write(body)
}
