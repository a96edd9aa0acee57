// Package discovery locates Cast receivers on the local network via mDNS.
//
// Receivers advertise the _googlecast._tcp service with TXT records carrying
// the friendly name (fn), model (md), and device identifier (id). This
// package queries that service and normalises advertisements into Device
// values the bridge can connect to.
//
// Three modes are offered:
//
//   - Discover: one blocking sweep
//   - DiscoverAsync: one background sweep with a completion callback
//   - StartPeriodic: repeated background sweeps feeding a results channel
//
// One-shot sweeps are mutually exclusive; a sweep requested while another is
// running is rejected with ErrDiscoveryActive. Periodic sweeps run on their
// own cadence and only deliver devices not seen before.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package discovery
