package cast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-cast/internal/device"
	"github.com/nerrad567/gray-logic-cast/internal/discovery"
)

// Bridge operation constants.
const (
	// minTopicParts is the minimum number of parts in a valid MQTT topic.
	minTopicParts = 3

	// commandTimeout is the timeout for receiver commands.
	commandTimeout = 5 * time.Second

	// connectTimeout is the timeout for the connect command, which covers
	// TLS establishment plus the virtual connection handshake.
	connectTimeout = 15 * time.Second
)

// Bridge orchestrates bidirectional translation between the Cast control
// channel and MQTT. It handles:
//   - Receiving commands from Core via MQTT and driving the controller
//   - Consuming controller events and publishing state updates to MQTT
//   - Discovery sweeps, registry sightings, and health reporting
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt       MQTTClient
	controller SessionController
	discoverer Discoverer
	registry   ReceiverRegistry // Optional receiver registry for sighting persistence
	metrics    MetricsSink      // Optional telemetry sink
	health     *HealthReporter

	// Active session tracking
	active   sessionTarget
	activeMu sync.RWMutex

	// Shutdown coordination. stopping guards wg.Add so no goroutine is
	// spawned once Stop has begun waiting.
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	stopMu    sync.Mutex
	stopping  bool
	ctx       context.Context    // Bridge-level context, cancelled on Stop()
	ctxCancel context.CancelFunc // Cancel function for ctx

	// Logger
	logger   Logger
	loggerMu sync.RWMutex

	bridgeID string
}

// sessionTarget identifies the receiver the bridge is (or was last) talking to.
type sessionTarget struct {
	uuid    string
	address string
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// SessionController is the controller surface the bridge drives.
// Satisfied by *Controller; an interface so tests can substitute a fake.
type SessionController interface {
	Connect(ctx context.Context, host string, port int) error
	Disconnect() error
	SetVolume(level float64, muted bool) error
	GetStatus() error
	State() ConnectionState
	Stats() ControllerStats
	Address() string
	Events() <-chan Event
}

// Discoverer runs mDNS sweeps for receivers on the local network.
// Satisfied by *discovery.Engine. Optional - if nil, the "discover"
// command is rejected.
type Discoverer interface {
	Discover(ctx context.Context) ([]discovery.Device, error)
}

// ReceiverRegistry persists receiver sightings.
// Satisfied by *device.Registry. Optional - if nil, the bridge operates
// without persistence and "connect" requires an explicit host parameter.
type ReceiverRegistry interface {
	// RecordSighting upserts a receiver observed during discovery.
	RecordSighting(ctx context.Context, r device.Receiver) error

	// Get returns a cached receiver by UUID.
	Get(uuid string) (device.Receiver, error)

	// Count returns the number of known receivers.
	Count() int
}

// MetricsSink receives telemetry points for session and discovery activity.
// Satisfied by *influxdb.Client. Optional - if nil, no telemetry is written.
type MetricsSink interface {
	WriteReceiverState(receiverID string, state string)
	WriteVolume(receiverID string, level float64, muted bool)
	WriteDiscoverySweep(found int, duration time.Duration)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// BridgeID identifies this bridge in health and discovery messages.
	BridgeID string

	// Version is the bridge software version for health messages.
	Version string

	// HealthInterval is how often to publish health status.
	// Default: 30 seconds.
	HealthInterval time.Duration

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Controller is the receiver session controller.
	Controller SessionController

	// Discoverer is optional mDNS discovery. If nil, the "discover"
	// command is rejected.
	Discoverer Discoverer

	// Registry is optional receiver persistence.
	Registry ReceiverRegistry

	// Metrics is optional telemetry.
	Metrics MetricsSink

	// Logger is optional structured logger.
	Logger Logger
}

// NewBridge creates a new bridge instance.
// Call Start() to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	if opts.BridgeID == "" {
		return nil, fmt.Errorf("bridge ID is required")
	}

	// Create bridge-level context for command cancellation on shutdown
	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		mqtt:       opts.MQTTClient,
		controller: opts.Controller,
		discoverer: opts.Discoverer, // May be nil (optional)
		registry:   opts.Registry,   // May be nil (optional)
		metrics:    opts.Metrics,    // May be nil (optional)
		done:       make(chan struct{}),
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		logger:     opts.Logger,
		bridgeID:   opts.BridgeID,
	}

	// Create health reporter
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:   opts.BridgeID,
		Version:    opts.Version,
		Interval:   opts.HealthInterval,
		Publisher:  opts.MQTTClient,
		Controller: opts.Controller,
	})
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start begins bridge operation.
// This subscribes to MQTT command topics, starts the controller event pump,
// and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	// Publish starting status
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	// Subscribe to command topics
	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	// Pump controller events to MQTT
	b.wg.Add(1)
	go b.eventPump()

	// Start health reporting
	b.health.Start(ctx)
	if b.registry != nil {
		b.health.SetReceiverCount(b.registry.Count())
	}

	// Publish initial healthy status
	if err := b.health.PublishNow(); err != nil {
		b.logError("failed to publish healthy status", err)
	}

	b.logInfo("bridge started", "bridge_id", b.bridgeID)

	return nil
}

// Stop gracefully shuts down the bridge.
// The controller session itself is owned by the caller and is not torn down
// here; main disconnects it after the bridge stops.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.stopMu.Lock()
		b.stopping = true
		b.stopMu.Unlock()

		close(b.done)

		// Cancel bridge context to abort in-flight commands
		b.ctxCancel()

		// Stop health reporting (publishes "stopping" status)
		b.health.Stop()

		// Wait for pending operations
		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// eventPump consumes controller events and publishes them to MQTT.
func (b *Bridge) eventPump() {
	defer b.wg.Done()

	events := b.controller.Events()

	for {
		select {
		case <-b.done:
			return
		case ev := <-events:
			b.handleEvent(ev)
		}
	}
}

// handleEvent translates a controller event into MQTT publications.
func (b *Bridge) handleEvent(ev Event) {
	uuid, address := b.activeReceiver()

	switch e := ev.(type) {
	case StateEvent:
		b.publishState(uuid, address, map[string]any{
			"session": e.State.String(),
		})
		if b.metrics != nil {
			b.metrics.WriteReceiverState(topicID(uuid), e.State.String())
		}

	case VolumeEvent:
		b.publishState(uuid, address, map[string]any{
			"volume_level": e.Volume.Level,
			"volume_muted": e.Volume.Muted,
		})
		if b.metrics != nil {
			b.metrics.WriteVolume(topicID(uuid), e.Volume.Level, e.Volume.Muted)
		}

	case MessageEvent:
		b.publishRawMessage(uuid, e)
	}
}

// publishState publishes a retained state message for the active receiver.
func (b *Bridge) publishState(uuid, address string, state map[string]any) {
	msg := NewStateMessage(topicID(uuid), address, state)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal state", err)
		return
	}

	topic := StateTopic(uuid)
	if err := b.mqtt.Publish(topic, payload, 1, true); err != nil {
		b.logError("failed to publish state", err)
	}
}

// publishRawMessage publishes an unconsumed namespace message.
func (b *Bridge) publishRawMessage(uuid string, e MessageEvent) {
	msg := NewEventMessage(topicID(uuid), e.Namespace, e.Payload)

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal event", err)
		return
	}

	topic := EventTopic(uuid)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish event", err)
	}
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	// Parse topic to determine message type
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	messageType := parts[1] // command, etc.

	switch messageType {
	case "command":
		b.handleCommand(payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", messageType))
	}
}

// handleCommand processes a command message from Core.
func (b *Bridge) handleCommand(payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}

	b.logInfo("received command",
		"command_id", cmd.ID,
		"receiver_id", cmd.ReceiverID,
		"command", cmd.Command)

	switch cmd.Command {
	case "connect":
		b.executeConnect(cmd)
	case "disconnect":
		b.executeDisconnect(cmd)
	case "set_volume":
		b.executeSetVolume(cmd)
	case "get_status":
		b.executeGetStatus(cmd)
	case "discover":
		b.executeDiscover(cmd)
	default:
		b.publishAckError(cmd, ErrCodeInvalidCommand,
			fmt.Sprintf("unknown command: %s", cmd.Command))
	}
}

// executeConnect resolves the target address and establishes a session.
//
// The target is either an explicit {"host": ..., "port": ...} parameter or
// the registry entry for cmd.ReceiverID.
func (b *Bridge) executeConnect(cmd CommandMessage) {
	host, port, uuid, ok := b.resolveTarget(cmd)
	if !ok {
		return // ack error already published
	}

	ctx, cancel := context.WithTimeout(b.ctx, connectTimeout)
	defer cancel()

	if err := b.controller.Connect(ctx, host, port); err != nil {
		switch {
		case errors.Is(err, ErrInvalidState):
			b.publishAckError(cmd, ErrCodeInvalidState,
				"a session is already active, disconnect first")
		case errors.Is(err, ErrConnectionFailed):
			b.publishAckError(cmd, ErrCodeReceiverUnreachable,
				fmt.Sprintf("connect failed: %v", err))
		default:
			b.publishAckError(cmd, ErrCodeProtocolError,
				fmt.Sprintf("connect failed: %v", err))
		}
		return
	}

	b.setActiveReceiver(uuid, b.controller.Address())
	b.health.SetSessionReceiver(uuid)
	b.publishAck(cmd, AckAccepted)
}

// resolveTarget determines the receiver host and port for a connect command.
// A zero port means the controller's configured default. Publishes an ack
// error and returns ok=false when resolution fails.
func (b *Bridge) resolveTarget(cmd CommandMessage) (host string, port int, uuid string, ok bool) {
	if hostAny, found := cmd.Parameters["host"]; found {
		hostStr, isStr := hostAny.(string)
		if !isStr || hostStr == "" {
			b.publishAckError(cmd, ErrCodeInvalidParameters,
				"'host' must be a non-empty string")
			return "", 0, "", false
		}
		if portAny, hasPort := cmd.Parameters["port"]; hasPort {
			portNum, isNum := portAny.(float64)
			if !isNum || portNum <= 0 || portNum > 65535 {
				b.publishAckError(cmd, ErrCodeInvalidParameters,
					"'port' must be a valid port number")
				return "", 0, "", false
			}
			port = int(portNum)
		}
		return hostStr, port, cmd.ReceiverID, true
	}

	if cmd.ReceiverID == "" {
		b.publishAckError(cmd, ErrCodeInvalidParameters,
			"either 'host' parameter or receiver_id is required")
		return "", 0, "", false
	}

	if b.registry == nil {
		b.publishAckError(cmd, ErrCodeNotKnown,
			"no registry configured, connect requires a 'host' parameter")
		return "", 0, "", false
	}

	r, err := b.registry.Get(cmd.ReceiverID)
	if err != nil {
		b.publishAckError(cmd, ErrCodeNotKnown,
			fmt.Sprintf("receiver %s not known, run discover first", cmd.ReceiverID))
		return "", 0, "", false
	}

	return r.IPAddress, r.Port, r.UUID, true
}

// executeDisconnect tears down the active session.
func (b *Bridge) executeDisconnect(cmd CommandMessage) {
	if err := b.controller.Disconnect(); err != nil {
		b.publishAckError(cmd, ErrCodeBridgeError,
			fmt.Sprintf("disconnect failed: %v", err))
		return
	}

	b.setActiveReceiver("", "")
	b.health.SetSessionReceiver("")
	b.publishAck(cmd, AckAccepted)
}

// executeSetVolume sends a volume command to the connected receiver.
func (b *Bridge) executeSetVolume(cmd CommandMessage) {
	levelAny, found := cmd.Parameters["level"]
	if !found {
		b.publishAckError(cmd, ErrCodeInvalidParameters,
			"missing 'level' parameter")
		return
	}

	level, isNum := levelAny.(float64)
	if !isNum {
		b.publishAckError(cmd, ErrCodeInvalidParameters,
			"'level' must be a number")
		return
	}

	muted := false
	if mutedAny, hasMuted := cmd.Parameters["muted"]; hasMuted {
		mutedBool, isBool := mutedAny.(bool)
		if !isBool {
			b.publishAckError(cmd, ErrCodeInvalidParameters,
				"'muted' must be a boolean")
			return
		}
		muted = mutedBool
	}

	if err := b.controller.SetVolume(level, muted); err != nil {
		b.publishControllerError(cmd, err)
		return
	}

	b.publishAck(cmd, AckAccepted)
}

// executeGetStatus requests a status report from the connected receiver.
// The resulting RECEIVER_STATUS arrives asynchronously as a VolumeEvent.
func (b *Bridge) executeGetStatus(cmd CommandMessage) {
	if err := b.controller.GetStatus(); err != nil {
		b.publishControllerError(cmd, err)
		return
	}

	b.publishAck(cmd, AckAccepted)
}

// executeDiscover runs an mDNS sweep in the background.
// The sweep can take several seconds, so the command is acknowledged
// immediately and results are published on the discovery topic.
func (b *Bridge) executeDiscover(cmd CommandMessage) {
	if b.discoverer == nil {
		b.publishAckError(cmd, ErrCodeBridgeError, "discovery not configured")
		return
	}

	b.publishAck(cmd, AckAccepted)
	b.spawnSweep()
}

// TriggerDiscovery runs one sweep outside the command path. Used for the
// initial and periodic sweeps. No-op when discovery is not configured.
func (b *Bridge) TriggerDiscovery() {
	if b.discoverer == nil {
		return
	}
	b.spawnSweep()
}

// spawnSweep runs one discovery sweep in a tracked goroutine. Refused once
// Stop has begun, since the command subscription can still deliver a late
// discover while shutdown is waiting on the group.
func (b *Bridge) spawnSweep() {
	b.stopMu.Lock()
	if b.stopping {
		b.stopMu.Unlock()
		return
	}
	b.wg.Add(1)
	b.stopMu.Unlock()

	go func() {
		defer b.wg.Done()
		b.runDiscovery()
	}()
}

// runDiscovery performs one sweep, records sightings, and publishes results.
func (b *Bridge) runDiscovery() {
	start := time.Now()

	devices, err := b.discoverer.Discover(b.ctx)
	if err != nil {
		b.logError("discovery sweep failed", err)
		return
	}

	elapsed := time.Since(start)
	now := time.Now().UTC()

	discovered := make([]DiscoveredReceiver, 0, len(devices))
	for _, d := range devices {
		discovered = append(discovered, DiscoveredReceiver{
			UUID:    d.UUID,
			Name:    d.Name,
			Model:   d.Model,
			Address: d.IPAddress,
			Port:    d.Port,
		})

		if b.registry == nil {
			continue
		}
		sighting := device.Receiver{
			UUID:      d.UUID,
			Name:      d.Name,
			Model:     d.Model,
			IPAddress: d.IPAddress,
			Port:      d.Port,
			LastSeen:  now,
		}
		if sighting.UUID == "" {
			sighting.UUID = d.InstanceName
		}
		if err := b.registry.RecordSighting(b.ctx, sighting); err != nil {
			b.logDebug("sighting not recorded",
				"receiver", d.Name,
				"reason", err.Error())
		}
	}

	if b.registry != nil {
		b.health.SetReceiverCount(b.registry.Count())
	}
	if b.metrics != nil {
		b.metrics.WriteDiscoverySweep(len(discovered), elapsed)
	}

	msg := NewDiscoveryMessage(b.bridgeID, discovered)
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logError("failed to marshal discovery", err)
		return
	}

	if err := b.mqtt.Publish(DiscoveryTopic(), payload, 1, false); err != nil {
		b.logError("failed to publish discovery", err)
		return
	}

	b.logInfo("discovery sweep complete",
		"receivers", len(discovered),
		"elapsed", elapsed.String())
}

// publishControllerError maps a controller error to an ack error code.
func (b *Bridge) publishControllerError(cmd CommandMessage, err error) {
	switch {
	case errors.Is(err, ErrNotConnected):
		b.publishAckError(cmd, ErrCodeNotConnected, "no active receiver session")
	case errors.Is(err, ErrResourceExhausted):
		b.publishAckError(cmd, ErrCodeBridgeError, "resource budget exhausted")
	case errors.Is(err, ErrSendFailed):
		b.publishAckError(cmd, ErrCodeReceiverUnreachable,
			fmt.Sprintf("send failed: %v", err))
	default:
		b.publishAckError(cmd, ErrCodeProtocolError, err.Error())
	}
}

// publishAck publishes a command acknowledgment.
func (b *Bridge) publishAck(cmd CommandMessage, status AckStatus) {
	ack := NewAckMessage(cmd, status)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack", err)
		return
	}

	topic := AckTopic(cmd.ReceiverID)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// publishAckError publishes a failed command acknowledgment.
func (b *Bridge) publishAckError(cmd CommandMessage, code, message string) {
	ack := NewAckError(cmd, code, message)

	payload, err := json.Marshal(ack)
	if err != nil {
		b.logError("failed to marshal ack error", err)
		return
	}

	topic := AckTopic(cmd.ReceiverID)
	if err := b.mqtt.Publish(topic, payload, 1, false); err != nil {
		b.logError("failed to publish ack error", err)
	}

	b.logError("command failed",
		fmt.Errorf("code=%s message=%s", code, message))
}

// setActiveReceiver records the receiver the bridge is connected to.
func (b *Bridge) setActiveReceiver(uuid, address string) {
	b.activeMu.Lock()
	b.active = sessionTarget{uuid: uuid, address: address}
	b.activeMu.Unlock()
}

// activeReceiver returns the current session target.
func (b *Bridge) activeReceiver() (uuid, address string) {
	b.activeMu.RLock()
	defer b.activeMu.RUnlock()
	return b.active.uuid, b.active.address
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	if b.health != nil {
		b.health.SetLogger(logger)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
