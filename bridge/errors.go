package bridge

import "errors"

var (
	ErrBind             = errors.New("appbridge: bind failed")
	ErrMalformedRequest = errors.New("appbridge: malformed request")
	ErrTransmission     = errors.New("appbridge: transmission failed")
	ErrBinaryDecode     = errors.New("appbridge: text body is not valid UTF-8")
	ErrResponseStarted  = errors.New("appbridge: start_response called twice without exc_info")
	ErrNoResponse       = errors.New("appbridge: application returned without calling start_response")
	ErrServerClosed     = errors.New("appbridge: server closed")
)

// MalformedRequestError reports a request line that could not be split
// into method, path and protocol.
type MalformedRequestError struct {
	Err error
}

func (e *MalformedRequestError) Error() string {
	return ErrMalformedRequest.Error() + ": " + e.Err.Error()
}

func (e *MalformedRequestError) Is(target error) bool { return target == ErrMalformedRequest }

func (e *MalformedRequestError) Unwrap() error { return e.Err }
