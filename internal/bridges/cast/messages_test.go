package cast

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCommandMessageJSON(t *testing.T) {
	cmd := CommandMessage{
		ID:         "cmd-123",
		Timestamp:  time.Date(2026, 1, 20, 10, 30, 0, 0, time.UTC),
		ReceiverID: "a1b2c3d4",
		Command:    "set_volume",
		Parameters: map[string]any{
			"level": 0.35,
			"muted": false,
		},
		Source: "api",
	}

	// Marshal to JSON
	data, err := json.Marshal(&cmd)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	// Verify timestamp format
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal to map failed: %v", err)
	}
	ts, ok := raw["timestamp"].(string)
	if !ok {
		t.Fatal("timestamp should be a string")
	}
	if ts != "2026-01-20T10:30:00Z" {
		t.Errorf("timestamp = %q, want 2026-01-20T10:30:00Z", ts)
	}

	// Unmarshal back
	var decoded CommandMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.ID != cmd.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, cmd.ID)
	}
	if decoded.ReceiverID != cmd.ReceiverID {
		t.Errorf("ReceiverID = %q, want %q", decoded.ReceiverID, cmd.ReceiverID)
	}
	if decoded.Command != cmd.Command {
		t.Errorf("Command = %q, want %q", decoded.Command, cmd.Command)
	}
	if !decoded.Timestamp.Equal(cmd.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, cmd.Timestamp)
	}
}

func TestNewAckMessage(t *testing.T) {
	cmd := CommandMessage{
		ID:         "cmd-456",
		Timestamp:  time.Now().UTC(),
		ReceiverID: "a1b2c3d4",
		Command:    "connect",
		Source:     "automation",
	}

	ack := NewAckMessage(cmd, AckAccepted)

	if ack.CommandID != cmd.ID {
		t.Errorf("CommandID = %q, want %q", ack.CommandID, cmd.ID)
	}
	if ack.ReceiverID != cmd.ReceiverID {
		t.Errorf("ReceiverID = %q, want %q", ack.ReceiverID, cmd.ReceiverID)
	}
	if ack.Status != AckAccepted {
		t.Errorf("Status = %q, want %q", ack.Status, AckAccepted)
	}
	if ack.Protocol != "cast" {
		t.Errorf("Protocol = %q, want cast", ack.Protocol)
	}
	if ack.Error != nil {
		t.Error("Error should be nil for accepted status")
	}
}

func TestNewAckError(t *testing.T) {
	cmd := CommandMessage{
		ID:         "cmd-789",
		ReceiverID: "a1b2c3d4",
	}

	ack := NewAckError(cmd, ErrCodeReceiverUnreachable, "TLS dial failed")

	if ack.Status != AckFailed {
		t.Errorf("Status = %q, want %q", ack.Status, AckFailed)
	}
	if ack.Error == nil {
		t.Fatal("Error should not be nil")
	}
	if ack.Error.Code != ErrCodeReceiverUnreachable {
		t.Errorf("Error.Code = %q, want %q", ack.Error.Code, ErrCodeReceiverUnreachable)
	}
	if ack.Error.Message != "TLS dial failed" {
		t.Errorf("Error.Message = %q, want 'TLS dial failed'", ack.Error.Message)
	}
}

func TestNewStateMessage(t *testing.T) {
	state := map[string]any{
		"session": "connected",
	}

	msg := NewStateMessage("a1b2c3d4", "192.168.1.50:8009", state)

	if msg.ReceiverID != "a1b2c3d4" {
		t.Errorf("ReceiverID = %q, want a1b2c3d4", msg.ReceiverID)
	}
	if msg.Protocol != "cast" {
		t.Errorf("Protocol = %q, want cast", msg.Protocol)
	}
	if msg.Address != "192.168.1.50:8009" {
		t.Errorf("Address = %q, want 192.168.1.50:8009", msg.Address)
	}
	if msg.State["session"] != "connected" {
		t.Errorf("State[session] = %v, want connected", msg.State["session"])
	}
}

func TestNewEventMessage(t *testing.T) {
	msg := NewEventMessage("a1b2c3d4", "urn:x-cast:com.google.cast.media", `{"type":"MEDIA_STATUS"}`)

	if msg.ID == "" {
		t.Error("ID should be generated")
	}
	if msg.ReceiverID != "a1b2c3d4" {
		t.Errorf("ReceiverID = %q, want a1b2c3d4", msg.ReceiverID)
	}
	if msg.Namespace != "urn:x-cast:com.google.cast.media" {
		t.Errorf("Namespace = %q", msg.Namespace)
	}
	if msg.Payload != `{"type":"MEDIA_STATUS"}` {
		t.Errorf("Payload = %q", msg.Payload)
	}
}

func TestNewHealthMessage(t *testing.T) {
	stats := ControllerStats{
		MessagesTx:  100,
		MessagesRx:  500,
		ErrorsTotal: 2,
		State:       StateConnected,
	}
	startTime := time.Now().Add(-1 * time.Hour)

	msg := NewHealthMessage("graycast-001", "1.0.0", HealthHealthy, stats, 3, startTime)

	if msg.Bridge != "graycast-001" {
		t.Errorf("Bridge = %q, want graycast-001", msg.Bridge)
	}
	if msg.Status != HealthHealthy {
		t.Errorf("Status = %q, want %q", msg.Status, HealthHealthy)
	}
	if msg.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", msg.Version)
	}
	if msg.ReceiversKnown != 3 {
		t.Errorf("ReceiversKnown = %d, want 3", msg.ReceiversKnown)
	}
	if msg.UptimeSeconds < 3500 || msg.UptimeSeconds > 3700 {
		t.Errorf("UptimeSeconds = %d, want ~3600", msg.UptimeSeconds)
	}
	if msg.Session == nil {
		t.Fatal("Session should not be nil")
	}
	if msg.Session.State != "connected" {
		t.Errorf("Session.State = %q, want connected", msg.Session.State)
	}
	if msg.Statistics == nil {
		t.Fatal("Statistics should not be nil")
	}
	if msg.Statistics.MessagesSent != 100 {
		t.Errorf("Statistics.MessagesSent = %d, want 100", msg.Statistics.MessagesSent)
	}
	if msg.Statistics.MessagesReceived != 500 {
		t.Errorf("Statistics.MessagesReceived = %d, want 500", msg.Statistics.MessagesReceived)
	}
}

func TestNewLWTMessage(t *testing.T) {
	msg := NewLWTMessage("graycast-001")

	if msg.Bridge != "graycast-001" {
		t.Errorf("Bridge = %q, want graycast-001", msg.Bridge)
	}
	if msg.Status != HealthOffline {
		t.Errorf("Status = %q, want %q", msg.Status, HealthOffline)
	}
	if msg.Reason != "unexpected_disconnect" {
		t.Errorf("Reason = %q, want unexpected_disconnect", msg.Reason)
	}
}

func TestNewDiscoveryMessage(t *testing.T) {
	receivers := []DiscoveredReceiver{
		{
			UUID:    "a1b2c3d4",
			Name:    "Living Room TV",
			Model:   "Chromecast Ultra",
			Address: "192.168.1.50",
			Port:    8009,
		},
	}

	msg := NewDiscoveryMessage("graycast-001", receivers)

	if msg.ID == "" {
		t.Error("ID should be generated")
	}
	if msg.Bridge != "graycast-001" {
		t.Errorf("Bridge = %q, want graycast-001", msg.Bridge)
	}
	if len(msg.Receivers) != 1 {
		t.Fatalf("Receivers = %d, want 1", len(msg.Receivers))
	}
	if msg.Receivers[0].Name != "Living Room TV" {
		t.Errorf("Receivers[0].Name = %q", msg.Receivers[0].Name)
	}
}

func TestNewDiscoveryMessageEmpty(t *testing.T) {
	msg := NewDiscoveryMessage("graycast-001", nil)

	if msg.Receivers == nil {
		t.Error("Receivers should be an empty slice, not nil")
	}

	// Verify it serializes as [] rather than null
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if _, ok := raw["receivers"].([]any); !ok {
		t.Errorf("receivers = %v, want JSON array", raw["receivers"])
	}
}

func TestTopicHelpers(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"CommandTopic", CommandTopic("a1b2c3d4"), "graycast/command/cast/a1b2c3d4"},
		{"CommandTopicEmpty", CommandTopic(""), "graycast/command/cast/session"},
		{"AckTopic", AckTopic("a1b2c3d4"), "graycast/ack/cast/a1b2c3d4"},
		{"StateTopic", StateTopic("a1b2c3d4"), "graycast/state/cast/a1b2c3d4"},
		{"StateTopicEmpty", StateTopic(""), "graycast/state/cast/session"},
		{"EventTopic", EventTopic("a1b2c3d4"), "graycast/event/cast/a1b2c3d4"},
		{"HealthTopic", HealthTopic(), "graycast/health/cast"},
		{"DiscoveryTopic", DiscoveryTopic(), "graycast/discovery/cast"},
		{"CommandSubscribeTopic", CommandSubscribeTopic(), "graycast/command/cast/#"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestAckMessageJSON(t *testing.T) {
	ack := AckMessage{
		CommandID:  "cmd-test",
		Timestamp:  time.Date(2026, 1, 20, 11, 0, 0, 0, time.UTC),
		ReceiverID: "a1b2c3d4",
		Status:     AckFailed,
		Protocol:   "cast",
		Error: &AckError{
			Code:    ErrCodeNotConnected,
			Message: "no active receiver session",
		},
	}

	data, err := json.Marshal(ack)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded AckMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.CommandID != ack.CommandID {
		t.Errorf("CommandID = %q, want %q", decoded.CommandID, ack.CommandID)
	}
	if decoded.Status != ack.Status {
		t.Errorf("Status = %q, want %q", decoded.Status, ack.Status)
	}
	if decoded.Error == nil {
		t.Fatal("Error should not be nil")
	}
	if decoded.Error.Code != ack.Error.Code {
		t.Errorf("Error.Code = %q, want %q", decoded.Error.Code, ack.Error.Code)
	}
}

func TestStateMessageJSON(t *testing.T) {
	msg := StateMessage{
		ReceiverID: "a1b2c3d4",
		Timestamp:  time.Date(2026, 1, 20, 12, 0, 0, 0, time.UTC),
		State: map[string]any{
			"volume_level": 0.35,
			"volume_muted": false,
		},
		Protocol: "cast",
		Address:  "192.168.1.50:8009",
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded StateMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if decoded.ReceiverID != msg.ReceiverID {
		t.Errorf("ReceiverID = %q, want %q", decoded.ReceiverID, msg.ReceiverID)
	}
	if decoded.State["volume_level"].(float64) != 0.35 {
		t.Errorf("State[volume_level] = %v, want 0.35", decoded.State["volume_level"])
	}
	if decoded.State["volume_muted"].(bool) != false {
		t.Errorf("State[volume_muted] = %v, want false", decoded.State["volume_muted"])
	}
}
