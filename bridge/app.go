package bridge

import (
	"io"

	"dqx0.com/go/appbridge/bridge/internal/wire"
)

// HeaderField is one response header. Applications pass headers as an
// ordered slice so the wire order matches the order given.
type HeaderField = wire.Field

// StartResponse is the capture callback handed to the application. It
// must be called once before the application returns. A second call is
// only allowed with a non-nil excInfo, in which case it replaces the
// previously captured status and headers.
type StartResponse func(status string, headers []HeaderField, excInfo error) error

// Application is the gateway contract: it receives the request context
// and the capture callback and returns the response body.
type Application interface {
	Serve(env Environ, start StartResponse) (Body, error)
}

// AppFunc adapts a function to Application.
type AppFunc func(env Environ, start StartResponse) (Body, error)

func (f AppFunc) Serve(env Environ, start StartResponse) (Body, error) {
	return f(env, start)
}

// Body is the application's response payload: a TextBody or a
// StreamBody.
type Body interface {
	binary() bool
}

// TextBody is a sequence of UTF-8 chunks joined and sent in one write
// together with the status and headers.
type TextBody struct {
	Chunks [][]byte
}

func (TextBody) binary() bool { return false }

// Text builds a TextBody from chunks.
func Text(chunks ...[]byte) TextBody {
	return TextBody{Chunks: chunks}
}

// StreamBody is an opaque byte stream copied to the connection without
// decoding. If R is also an io.Closer it is closed once sent.
type StreamBody struct {
	R io.Reader
}

func (StreamBody) binary() bool { return true }

// Stream builds a StreamBody over r.
func Stream(r io.Reader) StreamBody {
	return StreamBody{R: r}
}

func closeBody(b Body) {
	if sb, ok := b.(StreamBody); ok && sb.R != nil {
		if c, ok := sb.R.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
