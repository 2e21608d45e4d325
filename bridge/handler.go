package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"dqx0.com/go/appbridge/bridge/internal/wire"
	"dqx0.com/go/appbridge/internal/obs"
)

// connHandler serves exactly one request on one connection. Nothing in
// it is shared with other handlers.
type connHandler struct {
	srv  *Server
	conn net.Conn
	id   string
	log  *slog.Logger
}

func (s *Server) newHandler(c net.Conn) *connHandler {
	id := newRequestID()
	return &connHandler{
		srv:  s,
		conn: c,
		id:   id,
		log:  s.logger().With("request_id", id, "remote", remoteAddr(c)),
	}
}

// serveConn handles one connection and always closes it.
func (s *Server) serveConn(c net.Conn) {
	s.newHandler(c).handleOneRequest()
}

func (h *connHandler) handleOneRequest() {
	begin := time.Now()
	defer h.close()
	h.log.Debug("conn_accepted")

	buf := make([]byte, h.srv.readBufferSize())
	n, err := h.conn.Read(buf)
	raw := buf[:n]
	if n == 0 {
		h.malformed(fmt.Errorf("%w: read returned no data: %v", ErrMalformedRequest, err))
		return
	}

	rl, err := parseRequestLine(raw)
	if err != nil {
		h.malformed(err)
		return
	}
	h.srv.meter().Counter("appbridge_requests_total", 1, obs.Label{Key: "method", Value: rl.Method})

	env := buildEnviron(h.srv.baseContext(), rl, raw, h.srv.info(h.conn), remoteAddr(h.conn), h.id)
	st, body, err := h.invoke(env)
	if err != nil {
		h.log.Error("application_failed", "method", rl.Method, "path", rl.Target, "error", err)
		h.writeError(500, "")
		return
	}

	path, err := writeResponse(h.conn, h.srv.Detection, st, body)
	switch {
	case errors.Is(err, ErrBinaryDecode):
		h.log.Error("response_decode_failed", "path", rl.Target, "error", err)
		h.writeError(500, "")
		return
	case err != nil:
		h.log.Warn("response_send_failed", "path", rl.Target, "branch", path, "error", err)
		h.srv.meter().Counter("appbridge_transmission_errors_total", 1)
		return
	}
	h.srv.meter().Counter("appbridge_responses_total", 1,
		obs.Label{Key: "status", Value: statusLabel(st.status)}, obs.Label{Key: "path", Value: path})
	h.srv.meter().Histogram("appbridge_request_duration_ms", float64(time.Since(begin).Milliseconds()))
	h.log.Info("request_served", "method", rl.Method, "path", rl.Target, "status", st.status, "branch", path,
		"duration", time.Since(begin))
}

// invoke calls the application exactly once. A panic, an error, or a
// return without start_response all become an error.
func (h *connHandler) invoke(env Environ) (st responseState, body Body, err error) {
	c := &capture{serverHeaders: h.srv.serverHeaders()}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("appbridge: application panic: %v", r)
		}
		if err != nil {
			closeBody(body)
			body = nil
		}
	}()
	body, err = h.srv.App.Serve(env, c.start)
	if err != nil {
		return responseState{}, body, err
	}
	if !c.state.started {
		return responseState{}, body, ErrNoResponse
	}
	return c.state, body, nil
}

func (h *connHandler) malformed(err error) {
	h.log.Warn("malformed_request", "error", err)
	h.srv.meter().Counter("appbridge_malformed_requests_total", 1)
	h.writeError(400, "")
}

// writeError sends a minimal error response. Failures are only logged;
// the connection is closed by the caller either way.
func (h *connHandler) writeError(code int, msg string) {
	b := wire.AppendError(nil, code, msg, h.srv.serverHeaders())
	if _, err := h.conn.Write(b); err != nil {
		h.log.Debug("error_response_send_failed", "status", code, "error", err)
		h.srv.meter().Counter("appbridge_transmission_errors_total", 1)
		return
	}
	h.srv.meter().Counter("appbridge_responses_total", 1,
		obs.Label{Key: "status", Value: strconv.Itoa(code)}, obs.Label{Key: "path", Value: "error"})
}

func (h *connHandler) close() {
	if err := h.conn.Close(); err != nil {
		h.log.Debug("conn_close_failed", "error", err)
	}
}

func statusLabel(status string) string {
	if code := wire.StatusCode(status); code != 0 {
		return strconv.Itoa(code)
	}
	return "invalid"
}

func remoteAddr(c net.Conn) string {
	if a := c.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
