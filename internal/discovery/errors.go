package discovery

import "errors"

// Domain errors for receiver discovery.
var (
	// ErrDiscoveryActive is returned when a one-shot discovery is requested
	// while another sweep is already running.
	ErrDiscoveryActive = errors.New("discovery: sweep already in progress")

	// ErrPeriodicActive is returned when periodic discovery is started twice.
	ErrPeriodicActive = errors.New("discovery: periodic discovery already running")

	// ErrQueryFailed is returned when the underlying mDNS query fails.
	ErrQueryFailed = errors.New("discovery: mdns query failed")
)
