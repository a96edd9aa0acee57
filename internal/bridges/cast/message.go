package cast

import (
	"encoding/json"
	"fmt"
)

// Control channel namespaces. Each selects the sub-protocol a payload
// belongs to.
const (
	// NamespaceConnection carries the virtual-connection handshake
	// (CONNECT/CLOSE).
	NamespaceConnection = "urn:x-cast:com.google.cast.tp.connection"

	// NamespaceHeartbeat carries the liveness probes (PING/PONG).
	NamespaceHeartbeat = "urn:x-cast:com.google.cast.tp.heartbeat"

	// NamespaceReceiver carries receiver control (status, volume).
	NamespaceReceiver = "urn:x-cast:com.google.cast.receiver"
)

// Control message type discriminators.
const (
	TypeConnect        = "CONNECT"
	TypeClose          = "CLOSE"
	TypePing           = "PING"
	TypePong           = "PONG"
	TypeGetStatus      = "GET_STATUS"
	TypeSetVolume      = "SET_VOLUME"
	TypeReceiverStatus = "RECEIVER_STATUS"
)

// DefaultMaxPayloadSize bounds a single control JSON payload. Larger inbound
// payloads are dropped as a resource error; larger outbound payloads are
// refused before transmission.
const DefaultMaxPayloadSize = 4096

// VolumeInfo is a receiver volume observation extracted from a
// RECEIVER_STATUS message. It is never authoritative until the receiver
// echoes it back.
type VolumeInfo struct {
	// Level is the volume level in [0.0, 1.0].
	Level float64 `json:"level"`

	// Muted indicates whether the receiver output is muted.
	Muted bool `json:"muted"`
}

// clampLevel bounds a volume level to [0.0, 1.0] before transmission.
func clampLevel(level float64) float64 {
	switch {
	case level < 0:
		return 0
	case level > 1:
		return 1
	default:
		return level
	}
}

// buildControlPayload builds an outbound control JSON object of the form
// {"type": t, "requestId": id, ...extra}.
//
// Values from extra are deep-copied into the result so that later mutation of
// the caller's maps cannot race with serialization. Empty keys are skipped.
// The reserved "type" and "requestId" keys cannot be overridden.
//
// Parameters:
//   - msgType: Message type discriminator (e.g. TypeSetVolume)
//   - requestID: Request identifier, already assigned by the session
//   - extra: Optional type-specific fields (may be nil)
//
// Returns:
//   - []byte: Serialized JSON payload
//   - error: If serialization fails
func buildControlPayload(msgType string, requestID uint32, extra map[string]any) ([]byte, error) {
	obj := make(map[string]any, len(extra)+2)
	obj["type"] = msgType
	obj["requestId"] = requestID

	for key, value := range extra {
		if key == "" || key == "type" || key == "requestId" {
			continue
		}
		obj[key] = cloneValue(value)
	}

	payload, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return payload, nil
}

// cloneValue deep-copies JSON-shaped values (maps, slices, scalars).
// Empty map keys are skipped, matching buildControlPayload.
func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, value := range t {
			if key == "" {
				continue
			}
			out[key] = cloneValue(value)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, value := range t {
			out[i] = cloneValue(value)
		}
		return out
	default:
		return v
	}
}

// controlMessage is the common shape of every inbound control payload.
type controlMessage struct {
	Type      string `json:"type"`
	RequestID uint32 `json:"requestId"`
}

// parseControlMessage decodes the type discriminator of an inbound payload.
// A payload without a type cannot be dispatched and is treated as malformed.
func parseControlMessage(payload []byte) (controlMessage, error) {
	var msg controlMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return controlMessage{}, fmt.Errorf("parse control payload: %w", err)
	}
	if msg.Type == "" {
		return controlMessage{}, fmt.Errorf("control payload missing type")
	}
	return msg, nil
}

// receiverStatusMessage mirrors the nested RECEIVER_STATUS payload shape:
// {"type":"RECEIVER_STATUS","status":{"volume":{"level":0.5,"muted":false}}}.
type receiverStatusMessage struct {
	Type   string `json:"type"`
	Status struct {
		Volume *VolumeInfo `json:"volume"`
	} `json:"status"`
}

// parseReceiverStatus extracts the volume observation from a RECEIVER_STATUS
// payload. Returns nil if the payload carries no volume object.
func parseReceiverStatus(payload []byte) (*VolumeInfo, error) {
	var msg receiverStatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("parse receiver status: %w", err)
	}
	return msg.Status.Volume, nil
}
