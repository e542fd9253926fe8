package stratum

import (
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned by the codec when a line cannot be parsed as
// a request, response, or notification.
var ErrMalformedFrame = errors.New("stratum: malformed frame")

// ErrDisconnected is returned to every pending call when the transport run
// terminates, whether by stop or by I/O failure.
var ErrDisconnected = errors.New("stratum: disconnected")

// ErrTimeout is returned when a call's configured deadline elapses before a
// reply arrives. It never terminates the run.
var ErrTimeout = errors.New("stratum: call timed out")

// ErrClosed is returned by Call/Subscribe once the transport has terminated,
// whether by Stop or by I/O failure.
var ErrClosed = errors.New("stratum: client closed")

// RpcError wraps the raw payload of a server "error" response.
type RpcError struct {
	Method  string
	Payload []byte
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("stratum: rpc error calling %s: %s", e.Method, e.Payload)
}
