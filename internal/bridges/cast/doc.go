// Package cast implements the Google Cast protocol bridge for Gray Logic.
//
// This package provides device-side connectivity to Cast receivers
// (Chromecast and Cast-enabled speakers/displays) over the CastV2 control
// channel. It translates between Gray Logic's internal representation and
// Cast protocol envelopes.
//
// # Architecture
//
// The bridge operates as a translator between two transports:
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Gray Logic    │   MQTT   │   Cast Bridge   │   TLS:8009
//	│      Core       │◄────────►│   (this pkg)    │◄────────► Receiver
//	└─────────────────┘          └─────────────────┘
//
// # Key Responsibilities
//
//   - Establish TLS sessions to Cast receivers on port 8009
//   - Maintain the virtual connection and heartbeat on the tp namespaces
//   - Translate MQTT commands to receiver control messages
//   - Translate receiver status into MQTT state messages
//   - Frame and parse CastV2 envelopes (length prefix + protobuf body)
//   - Publish health status and metrics
//
// # Wire Format
//
// Every message is a frame: a 4-byte big-endian length prefix followed by a
// protobuf-encoded envelope carrying source/destination ids, a namespace,
// and a UTF-8 JSON payload. Control payloads are JSON objects with a "type"
// field and, for request/response pairs, a "requestId".
//
// Example:
//
//	ctrl := cast.NewController(cast.ControllerConfig{})
//	if err := ctrl.Connect(ctx, "192.168.1.50", 0); err != nil {
//	    return err
//	}
//	defer ctrl.Disconnect()
//	ctrl.SetVolume(0.4, false)
//
// # Session Lifecycle
//
// A controller owns one session at a time and moves through
// Disconnected → Connecting → Connected. A failed session enters Error and
// stays there until an explicit Disconnect; there is no automatic retry.
// Receiver-initiated CLOSE drops the session straight to Disconnected.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
//
// # References
//
//   - Cast protocol: https://developers.google.com/cast
package cast
