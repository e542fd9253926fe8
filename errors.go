package stratumcore

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned by every facade operation when issued without
// a live ConnectionRun.
var ErrNotConnected = errors.New("stratumcore: not connected")

// DecodeError wraps a reply that did not match the shape expected for its
// RPC method. The dependent listener callback is not invoked (spec §7).
type DecodeError struct {
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("stratumcore: decoding reply to %s: %s", e.Method, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// AddressFormatError is returned when an address notification's first
// parameter is not a string or is not the address that was subscribed to.
// Addresses are not validated against the configured CoinType.
type AddressFormatError struct {
	Raw string
	Err error
}

func (e *AddressFormatError) Error() string {
	return fmt.Sprintf("stratumcore: invalid address %q: %s", e.Raw, e.Err)
}

func (e *AddressFormatError) Unwrap() error { return e.Err }

// BroadcastMismatchError means the server-returned txid did not equal the
// submitted transaction's hash -- the correctness criterion spec §4.E
// adopts in place of trusting the server's acknowledgement outright.
type BroadcastMismatchError struct {
	Submitted string
	Returned  string
}

func (e *BroadcastMismatchError) Error() string {
	return fmt.Sprintf("stratumcore: broadcast txid mismatch: submitted %s, server returned %s", e.Submitted, e.Returned)
}
