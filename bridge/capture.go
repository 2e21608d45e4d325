package bridge

// responseState is the status and headers captured for one request. It
// belongs to the connection's handler and is passed by value to the
// serializer.
type responseState struct {
	status  string
	headers []HeaderField
	started bool
}

type capture struct {
	state         responseState
	serverHeaders []HeaderField
}

// start is the StartResponse handed to the application. Server headers
// are appended after the application's; duplicates are kept.
func (c *capture) start(status string, headers []HeaderField, excInfo error) error {
	if c.state.started && excInfo == nil {
		return ErrResponseStarted
	}
	hdr := make([]HeaderField, 0, len(headers)+len(c.serverHeaders))
	hdr = append(hdr, headers...)
	hdr = append(hdr, c.serverHeaders...)
	c.state = responseState{status: status, headers: hdr, started: true}
	return nil
}
