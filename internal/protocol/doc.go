// Package protocol implements the framed command protocol spoken between
// client applications and the oxd daemon.
//
// Every request and response travels as a frame: four zero-padded ASCII digits
// holding the payload length in bytes, followed by the payload itself.
//
//	0042{"command":"get_rp","params":{"oxd_id":"..."}}
//
// Request payloads are JSON encoded Command values, response payloads are JSON
// encoded CommandResponse values. Payloads are between 1 and 9999 bytes long.
//
// # Reading frames
//
// ReadFrame accumulates reads until one full frame is buffered and returns the
// bytes that followed it so that the next call can pick them up. Reader wraps
// this for connection loops.
//
// # Errors
//
// Expected failures are reported with an *Error carrying a stable ErrorCode.
// Anything else is reported as InternalErrorResponse.
package protocol
