package mqtt

import "fmt"

// Topic prefixes for Gray Logic Cast.
//
// All bridge topics use the flat scheme: graycast/{category}/{protocol}/{address}
// This matches the cast bridge's messages.go and all runtime subscribers.
const (
	// TopicPrefixBridge is the base for all bridge topics.
	// Flat scheme: graycast/{category}/{protocol}/{address_or_id}
	TopicPrefixBridge = "graycast"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graycast/system"
)

// Topics provides builders for Gray Logic Cast MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// Bridge topics use the flat scheme matching the cast bridge's messages.go:
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.BridgeState("cast", "living-room-tv")
//	// Returns: "graycast/state/cast/living-room-tv"
type Topics struct{}

// =============================================================================
// Bridge Topics
// =============================================================================

// BridgeState returns the topic for receiver state updates from a bridge.
//
// Example: graycast/state/cast/living-room-tv
func (Topics) BridgeState(protocol, address string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeCommand returns the topic for commands to a bridge.
//
// Example: graycast/command/cast/living-room-tv
func (Topics) BridgeCommand(protocol, address string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeAck returns the topic for command acknowledgements from a bridge.
//
// Example: graycast/ack/cast/living-room-tv
func (Topics) BridgeAck(protocol, address string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, address)
}

// BridgeHealth returns the topic for bridge health status.
//
// Example: graycast/health/cast
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeDiscovery returns the topic for receiver discovery results from a bridge.
//
// Example: graycast/discovery/cast
func (Topics) BridgeDiscovery(protocol string) string {
	return fmt.Sprintf("%s/discovery/%s", TopicPrefixBridge, protocol)
}

// BridgeEvent returns the topic for unsolicited receiver events from a bridge.
//
// Example: graycast/event/cast/living-room-tv
func (Topics) BridgeEvent(protocol, address string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefixBridge, protocol, address)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: graycast/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: graycast/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllBridgeStates returns a pattern matching all bridge state updates.
//
// Pattern: graycast/state/+/+
func (Topics) AllBridgeStates() string {
	return fmt.Sprintf("%s/state/+/+", TopicPrefixBridge)
}

// AllBridgeCommands returns a pattern matching all commands to bridges.
//
// Pattern: graycast/command/+/+
func (Topics) AllBridgeCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefixBridge)
}

// BridgeCommands returns a pattern matching all commands for one protocol.
//
// Pattern: graycast/command/cast/+
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefixBridge, protocol)
}

// AllBridgeAcks returns a pattern matching all bridge acknowledgements.
//
// Pattern: graycast/ack/+/+
func (Topics) AllBridgeAcks() string {
	return fmt.Sprintf("%s/ack/+/+", TopicPrefixBridge)
}

// AllBridgeHealth returns a pattern matching all bridge health updates.
//
// Pattern: graycast/health/+
func (Topics) AllBridgeHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefixBridge)
}

// AllBridgeDiscovery returns a pattern matching all bridge discovery topics.
//
// Pattern: graycast/discovery/+
func (Topics) AllBridgeDiscovery() string {
	return fmt.Sprintf("%s/discovery/+", TopicPrefixBridge)
}

// AllBridgeEvents returns a pattern matching all bridge event topics.
//
// Pattern: graycast/event/+/+
func (Topics) AllBridgeEvents() string {
	return fmt.Sprintf("%s/event/+/+", TopicPrefixBridge)
}

// AllTopics returns a pattern matching all Gray Logic Cast topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: graycast/#
func (Topics) AllTopics() string {
	return "graycast/#"
}
