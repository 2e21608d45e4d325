package bridge

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"dqx0.com/go/appbridge/bridge/internal/wire"
)

// BinaryDetection selects how the serializer decides between the text
// path and the binary passthrough.
type BinaryDetection int

const (
	// DetectTagged uses the body's type: StreamBody is binary, TextBody
	// is text.
	DetectTagged BinaryDetection = iota
	// DetectSniff treats the response as binary when the status and
	// header text contains "image", whatever the body's type.
	DetectSniff
)

func (d BinaryDetection) String() string {
	switch d {
	case DetectTagged:
		return "tagged"
	case DetectSniff:
		return "sniff"
	default:
		return fmt.Sprintf("BinaryDetection(%d)", int(d))
	}
}

// ParseBinaryDetection maps "tagged" or "sniff" to a BinaryDetection.
func ParseBinaryDetection(s string) (BinaryDetection, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "tagged":
		return DetectTagged, nil
	case "sniff":
		return DetectSniff, nil
	default:
		return DetectTagged, fmt.Errorf("appbridge: unknown binary detection mode %q", s)
	}
}

const sniffMarker = "image"

// isBinary reports whether body goes through the passthrough path.
func (d BinaryDetection) isBinary(head []byte, body Body) bool {
	if d == DetectSniff {
		return bytes.Contains(head, []byte(sniffMarker))
	}
	return body != nil && body.binary()
}

const (
	pathText   = "text"
	pathBinary = "binary"
)

// writeResponse renders st and body onto w and reports which path was
// taken. Errors matching ErrBinaryDecode mean nothing was written;
// errors matching ErrTransmission mean the write failed part way.
func writeResponse(w io.Writer, d BinaryDetection, st responseState, body Body) (string, error) {
	defer closeBody(body)
	head := wire.AppendHead(make([]byte, 0, 512), st.status, st.headers)
	if d.isBinary(head, body) {
		return pathBinary, writeBinary(w, head, body)
	}
	return pathText, writeText(w, head, body)
}

// writeBinary sends the head in one write, then the body bytes as they
// are. io.Copy lets *os.File bodies reach a TCP connection via sendfile.
func writeBinary(w io.Writer, head []byte, body Body) error {
	if _, err := w.Write(head); err != nil {
		return fmt.Errorf("%w: head: %w", ErrTransmission, err)
	}
	switch b := body.(type) {
	case StreamBody:
		if b.R == nil {
			return nil
		}
		if _, err := io.Copy(w, b.R); err != nil {
			return fmt.Errorf("%w: body: %w", ErrTransmission, err)
		}
	case TextBody:
		for _, c := range b.Chunks {
			if _, err := w.Write(c); err != nil {
				return fmt.Errorf("%w: body: %w", ErrTransmission, err)
			}
		}
	}
	return nil
}

// writeText validates every chunk as UTF-8, joins them after the head
// and sends the whole response in a single write.
func writeText(w io.Writer, head []byte, body Body) error {
	var chunks [][]byte
	switch b := body.(type) {
	case TextBody:
		chunks = b.Chunks
	case StreamBody:
		if b.R != nil {
			data, err := io.ReadAll(b.R)
			if err != nil {
				return fmt.Errorf("%w: reading stream body: %w", ErrBinaryDecode, err)
			}
			chunks = [][]byte{data}
		}
	}
	out := head
	for i, c := range chunks {
		if !utf8.Valid(c) {
			return fmt.Errorf("%w: chunk %d", ErrBinaryDecode, i)
		}
		out = append(out, c...)
	}
	if _, err := w.Write(out); err != nil {
		return fmt.Errorf("%w: %w", ErrTransmission, err)
	}
	return nil
}
