package cast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MQTT message types for communication between Gray Logic Core and the Cast
// bridge. These mirror the bridge interface used by the other protocol
// bridges: commands in, acks/state/health/discovery out.

// CommandMessage is sent from Core to the bridge to execute a receiver command.
// Topic: graycast/command/cast/{receiver_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// ReceiverID is the target receiver UUID. Empty for bridge-level
	// commands such as "discover".
	ReceiverID string `json:"receiver_id,omitempty"`

	// Command is the command name.
	// Values: "connect", "disconnect", "set_volume", "get_status", "discover"
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"level": 0.35, "muted": false} for set_volume
	//   {"host": "192.168.1.50"} for connect to an explicit address
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was received and sent to the receiver.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the receiver did not respond within the timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graycast/ack/cast/{receiver_id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// ReceiverID is the target receiver UUID.
	ReceiverID string `json:"receiver_id,omitempty"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Protocol is the protocol identifier ("cast").
	Protocol string `json:"protocol"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "RECEIVER_UNREACHABLE", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeReceiverUnreachable = "RECEIVER_UNREACHABLE"
	ErrCodeInvalidCommand      = "INVALID_COMMAND"
	ErrCodeInvalidParameters   = "INVALID_PARAMETERS"
	ErrCodeProtocolError       = "PROTOCOL_ERROR"
	ErrCodeNotConnected        = "NOT_CONNECTED"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeNotKnown            = "RECEIVER_NOT_KNOWN"
	ErrCodeBridgeError         = "BRIDGE_ERROR"
)

// StateMessage is sent from the bridge to Core when the session state or the
// receiver's reported volume changes.
// Topic: graycast/state/cast/{receiver_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// ReceiverID is the receiver UUID, or "session" until one is known.
	ReceiverID string `json:"receiver_id"`

	// Timestamp is when the state was observed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// State contains the current session state.
	// Examples:
	//   {"session": "connected"}
	//   {"volume_level": 0.35, "volume_muted": false}
	State map[string]any `json:"state"`

	// Protocol is the protocol identifier ("cast").
	Protocol string `json:"protocol"`

	// Address is the receiver's host:port, when a session exists.
	Address string `json:"address,omitempty"`
}

// EventMessage carries a raw namespace message received from the receiver
// that the bridge did not consume itself.
// Topic: graycast/event/cast/{receiver_id}
type EventMessage struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Timestamp is when the message was received (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// ReceiverID is the receiver UUID, or "session" until one is known.
	ReceiverID string `json:"receiver_id"`

	// Namespace is the Cast namespace the message arrived on.
	Namespace string `json:"namespace"`

	// Payload is the raw JSON payload as received.
	Payload string `json:"payload"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is operating with issues.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from the bridge to Core to report operational status.
// Topic: graycast/health/cast
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	// Bridge is the bridge identifier (e.g., "graycast-001").
	Bridge string `json:"bridge"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Session contains receiver session details.
	Session *SessionStatus `json:"session,omitempty"`

	// Statistics contains operational metrics.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// ReceiversKnown is the number of receivers in the registry.
	ReceiversKnown int `json:"receivers_known"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// SessionStatus describes the receiver session state.
type SessionStatus struct {
	// State is the session state ("disconnected", "connecting", "connected", "error").
	State string `json:"state"`

	// ReceiverID is the connected receiver's UUID, if any.
	ReceiverID string `json:"receiver_id,omitempty"`

	// Address is the receiver's host:port, if a session exists.
	Address string `json:"address,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	// MessagesReceived is the total number of envelopes received.
	MessagesReceived uint64 `json:"messages_received"`

	// MessagesSent is the total number of envelopes sent.
	MessagesSent uint64 `json:"messages_sent"`

	// Errors is the total number of receive errors encountered.
	Errors uint64 `json:"errors"`

	// EventsDropped is the number of controller events dropped on overflow.
	EventsDropped uint64 `json:"events_dropped"`
}

// DiscoveryMessage is sent from the bridge to Core to announce discovered
// receivers.
// Topic: graycast/discovery/cast
type DiscoveryMessage struct {
	// ID uniquely identifies this discovery sweep.
	ID string `json:"id"`

	// Timestamp is when discovery was performed (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Bridge is the bridge identifier.
	Bridge string `json:"bridge"`

	// Receivers contains the discovered receivers.
	Receivers []DiscoveredReceiver `json:"receivers"`
}

// DiscoveredReceiver represents a receiver found during discovery.
type DiscoveredReceiver struct {
	// UUID is the receiver's unique identifier from its TXT record.
	UUID string `json:"uuid"`

	// Name is the friendly name.
	Name string `json:"name"`

	// Model is the receiver model, if advertised.
	Model string `json:"model,omitempty"`

	// Address is the receiver's IPv4 address.
	Address string `json:"address"`

	// Port is the control channel port.
	Port int `json:"port"`
}

// JSON marshalling helpers

// MarshalJSON marshals a CommandMessage to JSON.
func (m *CommandMessage) MarshalJSON() ([]byte, error) {
	type Alias CommandMessage
	return json.Marshal(&struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias:     (*Alias)(m),
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
	})
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus) AckMessage {
	return AckMessage{
		CommandID:  cmd.ID,
		Timestamp:  time.Now().UTC(),
		ReceiverID: cmd.ReceiverID,
		Status:     status,
		Protocol:   "cast",
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, code, message string) AckMessage {
	return AckMessage{
		CommandID:  cmd.ID,
		Timestamp:  time.Now().UTC(),
		ReceiverID: cmd.ReceiverID,
		Status:     AckFailed,
		Protocol:   "cast",
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message for a receiver session.
func NewStateMessage(receiverID, address string, state map[string]any) StateMessage {
	return StateMessage{
		ReceiverID: receiverID,
		Timestamp:  time.Now().UTC(),
		State:      state,
		Protocol:   "cast",
		Address:    address,
	}
}

// NewEventMessage creates an event message for a raw namespace message.
func NewEventMessage(receiverID, namespace, payload string) EventMessage {
	return EventMessage{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		ReceiverID: receiverID,
		Namespace:  namespace,
		Payload:    payload,
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats ControllerStats, receiverCount int, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		ReceiversKnown: receiverCount,
	}

	msg.Session = &SessionStatus{
		State: stats.State.String(),
	}

	msg.Statistics = &BridgeStatistics{
		MessagesReceived: stats.MessagesRx,
		MessagesSent:     stats.MessagesTx,
		Errors:           stats.ErrorsTotal,
		EventsDropped:    stats.EventsDropped,
	}

	return msg
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// This message is published by the broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// NewDiscoveryMessage creates a discovery announcement.
func NewDiscoveryMessage(bridgeID string, receivers []DiscoveredReceiver) DiscoveryMessage {
	if receivers == nil {
		receivers = []DiscoveredReceiver{}
	}
	return DiscoveryMessage{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Bridge:    bridgeID,
		Receivers: receivers,
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all Gray Logic Cast messages.
	TopicPrefix = "graycast"

	// sessionPlaceholderID is used in topics before a receiver UUID is known.
	sessionPlaceholderID = "session"
)

// CommandTopic returns the MQTT topic for commands to a specific receiver.
// Example: graycast/command/cast/a1b2c3d4
func CommandTopic(receiverID string) string {
	return fmt.Sprintf("%s/command/cast/%s", TopicPrefix, topicID(receiverID))
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: graycast/ack/cast/a1b2c3d4
func AckTopic(receiverID string) string {
	return fmt.Sprintf("%s/ack/cast/%s", TopicPrefix, topicID(receiverID))
}

// StateTopic returns the MQTT topic for state updates.
// Example: graycast/state/cast/a1b2c3d4
func StateTopic(receiverID string) string {
	return fmt.Sprintf("%s/state/cast/%s", TopicPrefix, topicID(receiverID))
}

// EventTopic returns the MQTT topic for raw namespace messages.
// Example: graycast/event/cast/a1b2c3d4
func EventTopic(receiverID string) string {
	return fmt.Sprintf("%s/event/cast/%s", TopicPrefix, topicID(receiverID))
}

// HealthTopic returns the MQTT topic for health status.
// Example: graycast/health/cast
func HealthTopic() string {
	return fmt.Sprintf("%s/health/cast", TopicPrefix)
}

// DiscoveryTopic returns the MQTT topic for receiver discovery.
// Example: graycast/discovery/cast
func DiscoveryTopic() string {
	return fmt.Sprintf("%s/discovery/cast", TopicPrefix)
}

// CommandSubscribeTopic returns the MQTT subscription pattern for all commands.
// Example: graycast/command/cast/#
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/cast/#", TopicPrefix)
}

// topicID returns the receiver ID for use in a topic, substituting a
// placeholder when no UUID is known yet.
func topicID(receiverID string) string {
	if receiverID == "" {
		return sessionPlaceholderID
	}
	return receiverID
}
