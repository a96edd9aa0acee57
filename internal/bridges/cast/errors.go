package cast

import "errors"

// Domain errors for the Cast bridge package.
var (
	// ErrNotConnected is returned when an operation requires an established
	// session but the controller is not connected to a receiver.
	ErrNotConnected = errors.New("cast: not connected to receiver")

	// ErrConnectionFailed is returned when transport establishment fails.
	ErrConnectionFailed = errors.New("cast: connection to receiver failed")

	// ErrInvalidState is returned when an operation is not permitted in the
	// current connection state (e.g. Connect on a live session).
	ErrInvalidState = errors.New("cast: operation not valid in current state")

	// ErrFrameTooLarge is returned when an envelope body exceeds the maximum
	// frame size, on either the encode or decode path.
	ErrFrameTooLarge = errors.New("cast: frame exceeds maximum size")

	// ErrMalformedEnvelope is returned when a received frame cannot be
	// decoded into an Envelope.
	ErrMalformedEnvelope = errors.New("cast: malformed envelope")

	// ErrResourceExhausted is returned when a payload exceeds the resource
	// budget, or when the memory guard refuses an allocation-heavy send.
	ErrResourceExhausted = errors.New("cast: resource budget exhausted")

	// ErrSendFailed is returned when writing a frame to the transport fails.
	ErrSendFailed = errors.New("cast: message send failed")
)
