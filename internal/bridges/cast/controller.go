package cast

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts and budgets for the control channel.
const (
	// defaultPort is the receiver control-channel port.
	defaultPort = 8009

	// defaultConnectTimeout bounds the TLS handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the per-frame read deadline. A silently dead
	// transport surfaces as consecutive read timeouts.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout bounds a single frame write.
	defaultWriteTimeout = 5 * time.Second

	// defaultHeartbeatInterval is the PING period.
	defaultHeartbeatInterval = 5 * time.Second

	// defaultErrorBudget is the number of consecutive receive errors
	// tolerated before the session is marked failed.
	defaultErrorBudget = 5

	// defaultReadRetryDelay is the backoff after a recoverable frame error.
	defaultReadRetryDelay = 100 * time.Millisecond

	// defaultEventBuffer is the capacity of the event queue.
	defaultEventBuffer = 32

	// defaultSenderID and defaultReceiverID are the logical endpoint names
	// used on every envelope of a session.
	defaultSenderID   = "sender-0"
	defaultReceiverID = "receiver-0"
)

// ConnectionState is the controller's session state.
type ConnectionState int

// Session states. StateDisconnected is both the initial state and the only
// state from which a new Connect is permitted.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the lowercase state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// DialFunc opens the transport to a receiver. Overridable for tests.
type DialFunc func(ctx context.Context, address string) (net.Conn, error)

// ControllerConfig holds tunables for a receiver session. The zero value is
// usable; every field has a default applied by NewController.
type ControllerConfig struct {
	// SenderID and ReceiverID are the logical endpoint names placed on every
	// envelope. Constant for the lifetime of a session.
	SenderID   string
	ReceiverID string

	// Port is the receiver control-channel port. Default: 8009.
	Port int

	// ConnectTimeout bounds the TLS handshake. Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the per-frame read deadline. Default: 30 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds a single frame write. Default: 5 seconds.
	WriteTimeout time.Duration

	// HeartbeatInterval is the PING period. Default: 5 seconds.
	HeartbeatInterval time.Duration

	// ErrorBudget is the number of consecutive receive errors tolerated
	// before the session transitions to StateError. Default: 5.
	ErrorBudget int

	// ReadRetryDelay is the backoff after a recoverable frame error.
	// Default: 100 milliseconds.
	ReadRetryDelay time.Duration

	// MaxFrameSize bounds an envelope body. Default: DefaultMaxFrameSize.
	MaxFrameSize int

	// MaxPayloadSize bounds a control JSON payload. Default:
	// DefaultMaxPayloadSize.
	MaxPayloadSize int

	// MemoryBudget is the heap-in-use size in bytes above which heartbeats
	// and volume commands are skipped instead of risking allocation under
	// pressure. Zero disables the guard.
	MemoryBudget uint64

	// EventBuffer is the event queue capacity. Default: 32.
	EventBuffer int

	// Dial overrides transport establishment (used in tests). When nil, a
	// TLS connection is dialled with certificate verification disabled,
	// since receivers present self-signed certificates.
	Dial DialFunc
}

// heartbeat tracks one running heartbeat supervisor.
type heartbeat struct {
	stop    chan struct{}
	stopped chan struct{}
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// ControllerStats holds operational statistics for a session.
type ControllerStats struct {
	MessagesTx        uint64
	MessagesRx        uint64
	EventsDropped     uint64
	ErrorsTotal       uint64
	LastPong          time.Time
	State             ConnectionState
	VirtualConnection bool
}

// Controller owns one control-channel session to a receiver.
//
// It drives the connection state machine
// (Disconnected → Connecting → Connected → {Disconnected, Error}), the
// virtual-connection handshake, the heartbeat supervisor, and the background
// receive loop. StateError is only exited by Disconnect followed by a fresh
// Connect; there is no automatic retry.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
//   - Outbound frames written from one goroutine are transmitted in call
//     order; inbound envelopes are dispatched in arrival order.
type Controller struct {
	cfg ControllerConfig

	// Session state. The transport handle and connection flags are only
	// mutated while holding mu.
	mu          sync.RWMutex
	state       ConnectionState
	conn        net.Conn
	virtualConn bool
	address     string
	done        *closeOnce

	// writeMu serializes frame writes so concurrent senders cannot
	// interleave partial frames.
	writeMu sync.Mutex

	// requestID is the session request-id counter. Strictly increasing,
	// never reset while the controller lives, never reused.
	requestID atomic.Uint32

	// wg tracks the receive loop.
	wg sync.WaitGroup

	hbMu sync.Mutex
	hb   *heartbeat

	events        chan Event
	eventsDropped atomic.Uint64

	messagesTx  atomic.Uint64
	messagesRx  atomic.Uint64
	errorsTotal atomic.Uint64
	lastPong    atomic.Int64 // Unix timestamp

	// memOK reports whether the memory guard permits an allocation-heavy
	// operation. Replaceable in tests.
	memOK func() bool

	logger   Logger
	loggerMu sync.RWMutex
}

// NewController creates a controller in StateDisconnected.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.SenderID == "" {
		cfg.SenderID = defaultSenderID
	}
	if cfg.ReceiverID == "" {
		cfg.ReceiverID = defaultReceiverID
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ErrorBudget == 0 {
		cfg.ErrorBudget = defaultErrorBudget
	}
	if cfg.ReadRetryDelay == 0 {
		cfg.ReadRetryDelay = defaultReadRetryDelay
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = defaultEventBuffer
	}

	c := &Controller{
		cfg:    cfg,
		state:  StateDisconnected,
		events: make(chan Event, cfg.EventBuffer),
	}
	c.memOK = memoryGuard(cfg.MemoryBudget)
	return c
}

// memoryGuard returns the low-memory predicate for the configured budget.
// With a zero budget the guard always permits the operation.
func memoryGuard(budget uint64) func() bool {
	if budget == 0 {
		return func() bool { return true }
	}
	return func() bool {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return m.HeapAlloc < budget
	}
}

// Connect establishes a session to the receiver at host. A port of zero
// uses the configured port.
//
// Sequence: StateConnecting → TLS handshake → CONNECT message on the
// connection namespace → StateConnected → receive loop + heartbeat → initial
// status request (best-effort). A handshake failure transitions to
// StateError; a CONNECT send failure leaves the session in StateConnecting
// and the caller should Disconnect.
//
// Parameters:
//   - ctx: Context for cancellation of transport establishment
//   - host: Receiver IP address or hostname
//   - port: Control-channel port override, 0 for the configured port
//
// Returns:
//   - error: ErrInvalidState if a session exists, ErrConnectionFailed on
//     handshake failure, send error on handshake-message failure
func (c *Controller) Connect(ctx context.Context, host string, port int) error {
	if host == "" {
		return fmt.Errorf("%w: empty address", ErrConnectionFailed)
	}
	if port <= 0 {
		port = c.cfg.Port
	}

	if err := c.beginConnect(); err != nil {
		return err
	}

	address := net.JoinHostPort(host, strconv.Itoa(port))
	c.logInfo("connecting to receiver", "address", address)

	conn, err := c.dial(ctx, address)
	if err != nil {
		c.setState(StateError)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.address = address
	c.done = newCloseOnce()
	c.mu.Unlock()

	if err := c.sendControl(NamespaceConnection, TypeConnect, 0, nil); err != nil {
		// Session stays in StateConnecting; the caller decides whether to
		// tear down and retry.
		return fmt.Errorf("virtual connect: %w", err)
	}

	c.mu.Lock()
	c.virtualConn = true
	c.mu.Unlock()
	c.setState(StateConnected)
	c.logInfo("virtual connection established", "address", address)

	c.wg.Add(1)
	go c.receiveLoop()

	c.StartHeartbeat()

	if err := c.GetStatus(); err != nil {
		c.logWarn("initial status request failed", "error", err)
	}
	return nil
}

// beginConnect gates Connect on StateDisconnected and enters StateConnecting
// in the same critical section, so a concurrent Connect cannot pass the gate
// while the dial is still in flight.
func (c *Controller) beginConnect() error {
	c.mu.Lock()
	if c.state != StateDisconnected || c.conn != nil {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect requires a disconnected session (state %s)", ErrInvalidState, state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logInfo("connection state changed",
		"from", StateDisconnected.String(), "to", StateConnecting.String())
	c.publish(StateEvent{State: StateConnecting})
	return nil
}

// dial opens the transport, honouring the configured override.
func (c *Controller) dial(ctx context.Context, address string) (net.Conn, error) {
	if c.cfg.Dial != nil {
		return c.cfg.Dial(ctx, address)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			// Receivers present self-signed certificates; the channel is
			// authenticated at the application layer, not by PKI.
			InsecureSkipVerify: true, // #nosec G402
			MinVersion:         tls.VersionTLS12,
		},
	}
	return dialer.DialContext(dialCtx, "tcp", address)
}

// Disconnect tears the session down: stops the heartbeat, sends a
// best-effort CLOSE if the virtual connection is up, waits for the receive
// loop to fully exit, releases the transport, and enters StateDisconnected.
//
// Calling Disconnect on a session that is already fully disconnected is a
// no-op. Safe to call concurrently with an in-flight receive iteration.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected && c.conn == nil {
		c.mu.Unlock()
		return nil
	}
	virtual := c.virtualConn
	c.mu.Unlock()

	c.StopHeartbeat()

	if virtual {
		// Best-effort courtesy to the receiver; failure is not fatal.
		if err := c.sendControl(NamespaceConnection, TypeClose, 0, nil); err != nil {
			c.logWarn("close message failed", "error", err)
		}
	}

	c.mu.Lock()
	done := c.done
	conn := c.conn
	c.virtualConn = false
	c.mu.Unlock()

	if done != nil {
		done.Close()
	}
	if conn != nil {
		// Unblocks any pending read in the receive loop.
		_ = conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.conn = nil
	c.done = nil
	c.mu.Unlock()
	c.setState(StateDisconnected)
	c.logInfo("disconnected from receiver")
	return nil
}

// SetVolume sends a SET_VOLUME command. The level is clamped to [0.0, 1.0]
// before transmission.
//
// Returns ErrNotConnected without sending when the session is not connected,
// and ErrResourceExhausted when the memory guard refuses the send.
func (c *Controller) SetVolume(level float64, muted bool) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if !c.memOK() {
		c.logWarn("skipping volume command under memory pressure")
		return ErrResourceExhausted
	}

	level = clampLevel(level)
	c.logInfo("setting volume", "level", level, "muted", muted)

	extra := map[string]any{
		"volume": map[string]any{
			"level": level,
			"muted": muted,
		},
	}
	return c.sendControl(NamespaceReceiver, TypeSetVolume, 0, extra)
}

// GetStatus requests the receiver status. The reply arrives asynchronously
// as a RECEIVER_STATUS message and is surfaced as a VolumeEvent.
func (c *Controller) GetStatus() error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.sendControl(NamespaceReceiver, TypeGetStatus, 0, nil)
}

// StartHeartbeat launches the heartbeat supervisor. No-op if it is already
// running. Started automatically by Connect.
func (c *Controller) StartHeartbeat() {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	if c.hb != nil {
		return
	}
	hb := &heartbeat{
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	c.hb = hb
	go c.heartbeatLoop(hb)
}

// StopHeartbeat stops the heartbeat supervisor and waits for it to exit.
// No-op if it is not running. Called unconditionally during Disconnect.
func (c *Controller) StopHeartbeat() {
	c.hbMu.Lock()
	hb := c.hb
	c.hb = nil
	c.hbMu.Unlock()
	if hb == nil {
		return
	}
	close(hb.stop)
	<-hb.stopped
}

// heartbeatLoop emits a PING on each tick while the session is healthy.
//
// A send failure is logged but never forces a state transition; liveness
// failure is detected by the receive loop's error counting. Ticks are
// skipped silently when the session is unhealthy and loudly when the memory
// guard reports pressure.
func (c *Controller) heartbeatLoop(hb *heartbeat) {
	defer close(hb.stopped)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hb.stop:
			return
		case <-ticker.C:
			if !c.isHealthy() {
				c.logDebug("skipping heartbeat, session not healthy")
				continue
			}
			if !c.memOK() {
				c.logWarn("skipping heartbeat under memory pressure")
				continue
			}
			if err := c.sendControl(NamespaceHeartbeat, TypePing, 0, nil); err != nil {
				c.logWarn("heartbeat send failed", "error", err)
			}
		}
	}
}

// receiveLoop reads frames from the transport while the session is
// connected, bounded by the consecutive-error budget.
//
// Framing errors (short read, zero-length or oversize frame, malformed body)
// are counted and retried after a short backoff; a decoded envelope resets
// the counter. Budget exhaustion forces StateError and exits the loop — the
// sole automatic failure-detection path for a silently dead transport.
func (c *Controller) receiveLoop() {
	defer c.wg.Done()

	c.mu.RLock()
	conn := c.conn
	done := c.done
	c.mu.RUnlock()
	if conn == nil || done == nil {
		return
	}

	buf := make([]byte, c.cfg.MaxFrameSize)
	r := &router{
		reply: func(namespace, msgType string) error {
			return c.sendControl(namespace, msgType, 0, nil)
		},
		publish:    c.publish,
		onPong:     func() { c.lastPong.Store(time.Now().Unix()) },
		maxPayload: c.cfg.MaxPayloadSize,
		logger:     c.getLogger(),
	}

	consecutive := 0
	for {
		select {
		case <-done.Done():
			return
		default:
		}
		if c.State() != StateConnected {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			c.logError("set read deadline failed", err)
			return
		}

		env, err := ReadEnvelope(conn, buf, c.cfg.MaxFrameSize)
		if err != nil {
			select {
			case <-done.Done():
				return // shutdown unblocked the read
			default:
			}

			consecutive++
			c.errorsTotal.Add(1)
			c.logWarn("frame receive failed",
				"error", err,
				"consecutive_errors", consecutive,
				"budget", c.cfg.ErrorBudget,
			)
			if consecutive >= c.cfg.ErrorBudget {
				c.logError("consecutive-error budget exhausted, marking session failed", nil)
				c.mu.Lock()
				c.virtualConn = false
				c.mu.Unlock()
				c.setState(StateError)
				return
			}

			select {
			case <-done.Done():
				return
			case <-time.After(c.cfg.ReadRetryDelay):
			}
			continue
		}

		consecutive = 0
		c.messagesRx.Add(1)
		c.logDebug("envelope received", "namespace", env.Namespace, "size", len(env.Payload))

		if r.dispatch(env) {
			c.handleRemoteClose(done)
			return
		}
	}
}

// handleRemoteClose reacts to a connection CLOSE from the receiver with an
// immediate transition to StateDisconnected. The transport handle is closed
// here but only released by the next Disconnect call, which also reaps the
// heartbeat supervisor.
func (c *Controller) handleRemoteClose(done *closeOnce) {
	done.Close()
	c.mu.Lock()
	c.virtualConn = false
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.Unlock()
	c.setState(StateDisconnected)
}

// sendControl builds a control payload and transmits it on the given
// namespace. A request id of 0 means "assign the next session id".
func (c *Controller) sendControl(namespace, msgType string, requestID uint32, extra map[string]any) error {
	if requestID == 0 {
		requestID = c.nextRequestID()
	}

	payload, err := buildControlPayload(msgType, requestID, extra)
	if err != nil {
		return err
	}
	if c.cfg.MaxPayloadSize > 0 && len(payload) > c.cfg.MaxPayloadSize {
		return fmt.Errorf("%w: %s payload is %d bytes, limit %d",
			ErrResourceExhausted, msgType, len(payload), c.cfg.MaxPayloadSize)
	}

	return c.sendEnvelope(namespace, string(payload))
}

// sendEnvelope frames and writes one envelope. Writes are serialized so
// messages sent from one goroutine are transmitted in call order.
func (c *Controller) sendEnvelope(namespace, payload string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := EncodeEnvelope(Envelope{
		SourceID:      c.cfg.SenderID,
		DestinationID: c.cfg.ReceiverID,
		Namespace:     namespace,
		Payload:       payload,
	}, c.cfg.MaxFrameSize)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrSendFailed, err)
	}
	if _, err := conn.Write(frame); err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	c.messagesTx.Add(1)
	c.logDebug("envelope sent", "namespace", namespace, "size", len(frame))
	return nil
}

// nextRequestID returns the next session request id. Ids start at 1 and are
// strictly increasing for the lifetime of the controller.
func (c *Controller) nextRequestID() uint32 {
	return c.requestID.Add(1)
}

// setState transitions the session state, forcing the virtual-connection
// flag false on any transition away from StateConnected, and publishes a
// StateEvent when the state actually changed.
func (c *Controller) setState(next ConnectionState) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = next
	if next != StateConnected {
		c.virtualConn = false
	}
	c.mu.Unlock()

	c.logInfo("connection state changed", "from", prev.String(), "to", next.String())
	c.publish(StateEvent{State: next})
}

// publish enqueues an event, dropping it (and counting the drop) when the
// queue is full so protocol goroutines never block on a slow consumer.
func (c *Controller) publish(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.eventsDropped.Add(1)
		c.logWarn("event queue full, dropping event")
	}
}

// Events returns the controller's event stream. The channel is never closed;
// it is valid across reconnects of the same controller.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// State returns the current connection state.
func (c *Controller) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true while the session is in StateConnected.
func (c *Controller) IsConnected() bool {
	return c.State() == StateConnected
}

// isHealthy is the transport-health predicate gating heartbeat emission:
// connected state, transport present, virtual connection established.
func (c *Controller) isHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == StateConnected && c.conn != nil && c.virtualConn
}

// Address returns the receiver address of the current or last session.
func (c *Controller) Address() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.address
}

// Stats returns current operational statistics.
func (c *Controller) Stats() ControllerStats {
	c.mu.RLock()
	state := c.state
	virtual := c.virtualConn
	c.mu.RUnlock()

	var lastPong time.Time
	if ts := c.lastPong.Load(); ts != 0 {
		lastPong = time.Unix(ts, 0)
	}

	return ControllerStats{
		MessagesTx:        c.messagesTx.Load(),
		MessagesRx:        c.messagesRx.Load(),
		EventsDropped:     c.eventsDropped.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
		LastPong:          lastPong,
		State:             state,
		VirtualConnection: virtual,
	}
}

// SetLogger sets the logger for this controller.
func (c *Controller) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Controller) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

func (c *Controller) logDebug(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Controller) logInfo(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Controller) logWarn(msg string, keysAndValues ...any) {
	if logger := c.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Controller) logError(msg string, err error) {
	if logger := c.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}
