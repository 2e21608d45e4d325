// Package bridge connects raw TCP connections to gateway-style
// applications.
//
// Each accepted connection carries exactly one request. The server reads
// at most ReadBufferSize bytes once, validates the request line, builds an
// Environ and calls the Application with a StartResponse callback. The
// captured status and headers, followed by Date and Server, are written
// with the body and the connection is closed.
//
// Highlights
//   - One handler goroutine per connection, or a bounded worker set with
//     a FIFO backlog (MaxHandlers, Backlog). Overflow gets a 503.
//   - Text bodies are checked as UTF-8 and sent in a single write.
//     Stream bodies go out unchanged after the head, via sendfile for
//     files.
//   - Malformed requests get a 400 and application failures a 500;
//     the application is never called for a bad request line.
//   - Graceful Shutdown that waits for in-flight handlers.
//   - Observability: slog Logger and obs.Meter hooks.
//
// Quick start:
//
//	app := bridge.AppFunc(func(env bridge.Environ, start bridge.StartResponse) (bridge.Body, error) {
//	    if err := start("200 OK", []bridge.HeaderField{{Name: "Content-Type", Value: "text/plain"}}, nil); err != nil {
//	        return nil, err
//	    }
//	    return bridge.Text([]byte("hello")), nil
//	})
//	s, err := bridge.Listen(":8888", app)
//	if err != nil { log.Fatal(err) }
//	log.Fatal(s.ServeForever())
package bridge
