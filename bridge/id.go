package bridge

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync/atomic"
)

var idSeq atomic.Uint64

// newRequestID returns a 16-hex-digit identifier for one handled
// connection. A process-local sequence number is used if the random
// source fails.
func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return "seq-" + strconv.FormatUint(idSeq.Add(1), 10)
}
