package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// RequestLine is the first line of a request split into its three tokens.
type RequestLine struct {
	Method string
	Target string
	Proto  string
}

var (
	errEmptyRequest = errors.New("empty request")
	errNotUTF8      = errors.New("request line is not valid UTF-8")
)

// firstLine returns the bytes before the first LF with trailing CR/LF
// removed. Everything after it is ignored.
func firstLine(raw []byte) []byte {
	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		raw = raw[:i]
	}
	return bytes.TrimRight(raw, "\r\n")
}

// ParseRequestLine extracts method, target and protocol from the first
// line of raw. The line must be UTF-8 and hold exactly three
// whitespace-separated tokens.
func ParseRequestLine(raw []byte) (RequestLine, error) {
	if len(raw) == 0 {
		return RequestLine{}, errEmptyRequest
	}
	line := firstLine(raw)
	if !utf8.Valid(line) {
		return RequestLine{}, errNotUTF8
	}
	parts := strings.Fields(string(line))
	if len(parts) != 3 {
		return RequestLine{}, fmt.Errorf("request line %q: want 3 tokens, got %d", truncate(string(line), 64), len(parts))
	}
	return RequestLine{Method: parts[0], Target: parts[1], Proto: parts[2]}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
