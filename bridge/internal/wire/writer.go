package wire

import (
	"strconv"
	"strings"
)

// Field is one response header line. Order is preserved on the wire and
// duplicate names are written as given.
type Field struct {
	Name  string
	Value string
}

// AppendHead appends the status line, one line per field and the blank
// separator line to b.
func AppendHead(b []byte, status string, hdr []Field) []byte {
	b = append(b, "HTTP/1.1 "...)
	b = append(b, SanitizeHeaderValue(status)...)
	b = append(b, "\r\n"...)
	for _, f := range hdr {
		k := SanitizeHeaderKey(f.Name)
		if k == "" {
			continue
		}
		b = append(b, k...)
		b = append(b, ": "...)
		b = append(b, SanitizeHeaderValue(f.Value)...)
		b = append(b, "\r\n"...)
	}
	return append(b, "\r\n"...)
}

// AppendError appends a complete plain-text error response for code.
// extra fields follow the generated ones.
func AppendError(b []byte, code int, msg string, extra []Field) []byte {
	if msg == "" {
		msg = StatusText(code)
	}
	msg += "\n"
	hdr := make([]Field, 0, 3+len(extra))
	hdr = append(hdr,
		Field{"Content-Type", "text/plain; charset=utf-8"},
		Field{"Content-Length", strconv.Itoa(len(msg))},
		Field{"Connection", "close"},
	)
	hdr = append(hdr, extra...)
	b = AppendHead(b, Status(code), hdr)
	return append(b, msg...)
}

// Status renders "<code> <reason>".
func Status(code int) string {
	return strconv.Itoa(code) + " " + StatusText(code)
}

// StatusCode returns the leading numeric code of a status string such as
// "200 OK", or 0 when it does not start with one.
func StatusCode(status string) int {
	s := strings.TrimSpace(status)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 100 || n > 999 {
		return 0
	}
	return n
}

func StatusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 204:
		return "No Content"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	default:
		return "Status " + strconv.Itoa(code)
	}
}

// SanitizeHeaderKey ensures header name is a valid token; returns empty string if invalid.
func SanitizeHeaderKey(k string) string {
	if k == "" {
		return ""
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			continue
		}
		switch c {
		case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
			continue
		default:
			return ""
		}
	}
	return k
}

// SanitizeHeaderValue removes CR/LF and control chars except HTAB.
func SanitizeHeaderValue(v string) string {
	if v == "" {
		return v
	}
	clean := true
	for i := 0; i < len(v); i++ {
		if c := v[i]; c == 0x7f || (c < 0x20 && c != '\t') {
			clean = false
			break
		}
	}
	if clean {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == 0x7f || (c < 0x20 && c != '\t') {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
