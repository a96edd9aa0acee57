package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrReceiverNotFound) {
//	    // handle not found case
//	}
var (
	// ErrReceiverNotFound is returned when a receiver UUID does not exist.
	ErrReceiverNotFound = errors.New("device: receiver not found")

	// ErrInvalidReceiver is returned when a receiver record is missing its
	// identity or address.
	ErrInvalidReceiver = errors.New("device: invalid receiver")
)
