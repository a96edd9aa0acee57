// Package device manages the registry of Cast receivers known to this
// installation.
//
// Receivers appear on the network via mDNS discovery and are recorded here
// as sightings: a new receiver gets a row in SQLite, a known one gets its
// name, address, and last-seen timestamp refreshed. The registry layers an
// in-memory cache over the repository so command handlers can resolve a
// receiver without a database round-trip.
//
// # Architecture
//
//	discovery sweep ──► Registry.RecordSighting ──► Repository (SQLite)
//	                          │
//	command handler ◄── Registry.Get / List (cache)
//
// Receivers not seen for a configurable retention window are removed by
// Prune, typically on a timer in the bridge.
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Repository implementations are
// safe when the underlying *sql.DB is.
package device
