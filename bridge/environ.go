package bridge

import (
	"bytes"
	"context"
	"io"

	"dqx0.com/go/appbridge/bridge/internal/wire"
)

// Environ is the request context handed to the application. It is built
// once per connection from the request line only; header lines are never
// parsed into it. Applications receive it by value and should treat it
// as read-only.
type Environ struct {
	Version      [2]int    // wsgi.version
	URLScheme    string    // wsgi.url_scheme
	Input        io.Reader // wsgi.input: the raw bytes read from the connection
	Errors       io.Writer // wsgi.errors
	MultiThread  bool      // wsgi.multithread
	MultiProcess bool      // wsgi.multiprocess
	RunOnce      bool      // wsgi.run_once

	RequestMethod  string
	PathInfo       string
	ServerName     string
	ServerPort     string
	ServerProtocol string
	RemoteAddr     string
	RequestID      string

	ctx context.Context
}

// Context returns the request's context. EnvironFrom recovers the
// Environ from it and from anything derived from it.
func (e Environ) Context() context.Context {
	if e.ctx == nil {
		return context.Background()
	}
	return e.ctx
}

// Map renders the environment under its gateway key names.
func (e Environ) Map() map[string]any {
	return map[string]any{
		"wsgi.version":      e.Version,
		"wsgi.url_scheme":   e.URLScheme,
		"wsgi.input":        e.Input,
		"wsgi.errors":       e.Errors,
		"wsgi.multithread":  e.MultiThread,
		"wsgi.multiprocess": e.MultiProcess,
		"wsgi.run_once":     e.RunOnce,
		"REQUEST_METHOD":    e.RequestMethod,
		"PATH_INFO":         e.PathInfo,
		"SERVER_NAME":       e.ServerName,
		"SERVER_PORT":       e.ServerPort,
		"SERVER_PROTOCOL":   e.ServerProtocol,
		"REMOTE_ADDR":       e.RemoteAddr,
	}
}

// serverInfo is what the listener knows about itself.
type serverInfo struct {
	name   string
	port   string
	errors io.Writer
}

// buildEnviron assembles the request context. It performs no I/O.
func buildEnviron(ctx context.Context, rl wire.RequestLine, raw []byte, si serverInfo, remote, id string) Environ {
	env := Environ{
		Version:        [2]int{1, 0},
		URLScheme:      "http",
		Input:          bytes.NewReader(raw),
		Errors:         si.errors,
		MultiThread:    true,
		MultiProcess:   false,
		RunOnce:        true,
		RequestMethod:  rl.Method,
		PathInfo:       rl.Target,
		ServerName:     si.name,
		ServerPort:     si.port,
		ServerProtocol: rl.Proto,
		RemoteAddr:     remote,
		RequestID:      id,
	}
	env.ctx = withEnviron(ctx, env)
	return env
}

// ParseRequestLine validates the first line of raw and splits it into
// method, path and protocol. Errors match ErrMalformedRequest.
func ParseRequestLine(raw []byte) (method, path, proto string, err error) {
	rl, err := parseRequestLine(raw)
	if err != nil {
		return "", "", "", err
	}
	return rl.Method, rl.Target, rl.Proto, nil
}

func parseRequestLine(raw []byte) (wire.RequestLine, error) {
	rl, err := wire.ParseRequestLine(raw)
	if err != nil {
		return wire.RequestLine{}, &MalformedRequestError{Err: err}
	}
	return rl, nil
}
